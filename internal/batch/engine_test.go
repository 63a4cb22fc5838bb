package batch

import (
	"context"
	"errors"
	"testing"
	"time"

	"nodebulkdelete/internal/node"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestEngine(t *testing.T, s *fakeStore, c *fakeCache, cfg EngineConfig) *Engine {
	return NewEngine(cfg, s, c, zaptest.NewLogger(t))
}

func testFilter() node.Filter {
	return node.Filter{
		ContentType: "article",
		Start:       time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		End:         time.Date(2025, 8, 28, 23, 59, 59, 0, time.UTC),
	}
}

func TestProcess_DeleteCascades(t *testing.T) {
	s := newFakeStore("field_tags", "field_image")
	s.addTable(node.FieldDataTable("field_tags"))
	s.addTable(node.FieldRevisionTable("field_tags"))
	// field_image has only its data table
	s.addTable(node.FieldDataTable("field_image"))
	for i := int64(1); i <= 3; i++ {
		s.addNode(i, 2)
	}
	s.addNode(99, 1)

	c := &fakeCache{}
	e := newTestEngine(t, s, c, EngineConfig{})

	chunk := node.Chunk{Index: 0, Refs: makeRefs(3)}
	res := e.Process(context.Background(), ModeDelete, chunk)

	require.NoError(t, res.Err)
	assert.Equal(t, int64(3), res.Deleted)
	assert.Equal(t, int64(6), res.Details.Revisions)
	assert.Equal(t, int64(9), res.Details.FieldRows)

	assert.Equal(t, 1, s.rows(node.TableNode))
	assert.Equal(t, 1, s.rows(node.TableRevision))
	assert.Equal(t, 1, s.rows(node.FieldDataTable("field_tags")))
	assert.Equal(t, 1, s.rows(node.FieldRevisionTable("field_tags")))
	assert.Equal(t, 1, s.rows(node.FieldDataTable("field_image")))

	assert.Equal(t, []int64{1, 2, 3}, c.invalidated)
}

func TestProcess_VanishedRecordsCountZero(t *testing.T) {
	s := newFakeStore()
	s.addNode(1, 1)
	// 2 and 3 were deleted by someone else after planning

	e := newTestEngine(t, s, &fakeCache{}, EngineConfig{})
	res := e.Process(context.Background(), ModeDelete, node.Chunk{Refs: makeRefs(3)})

	require.NoError(t, res.Err)
	assert.Equal(t, 3, res.Size)
	assert.Equal(t, int64(1), res.Deleted)
}

func TestProcess_FailureRollsBackChunk(t *testing.T) {
	s := newFakeStore()
	for i := int64(1); i <= 3; i++ {
		s.addNode(i, 1)
	}
	s.failIDs[2] = errors.New("constraint failed")

	c := &fakeCache{}
	e := newTestEngine(t, s, c, EngineConfig{Retries: 3, Retriable: func(err error) bool { return errors.Is(err, errBusy) }})
	res := e.Process(context.Background(), ModeDelete, node.Chunk{Refs: makeRefs(3)})

	require.Error(t, res.Err)
	assert.Equal(t, int64(0), res.Deleted)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 3, s.rows(node.TableNode))
	assert.Empty(t, c.invalidated)
}

func TestProcess_RetriesBusy(t *testing.T) {
	s := newFakeStore()
	s.addNode(1, 1)
	s.busyLeft = 2

	e := newTestEngine(t, s, &fakeCache{}, EngineConfig{
		Retries:        3,
		RetryBackoffMs: 1,
		Retriable:      func(err error) bool { return errors.Is(err, errBusy) },
	})
	res := e.Process(context.Background(), ModeDelete, node.Chunk{Refs: makeRefs(1)})

	require.NoError(t, res.Err)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int64(1), res.Deleted)
}

func TestProcess_RetriesExhausted(t *testing.T) {
	s := newFakeStore()
	s.addNode(1, 1)
	s.busyLeft = 5

	e := newTestEngine(t, s, &fakeCache{}, EngineConfig{
		Retries:        2,
		RetryBackoffMs: 1,
		Retriable:      func(err error) bool { return errors.Is(err, errBusy) },
	})
	res := e.Process(context.Background(), ModeDelete, node.Chunk{Refs: makeRefs(1)})

	require.ErrorIs(t, res.Err, errBusy)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 1, s.rows(node.TableNode))
}

func TestProcess_CacheFailureRollsBackChunk(t *testing.T) {
	s := newFakeStore("field_tags")
	s.addNode(1, 2)
	s.addNode(2, 1)

	e := newTestEngine(t, s, &fakeCache{err: errors.New("cache down")}, EngineConfig{})
	res := e.Process(context.Background(), ModeDelete, node.Chunk{Refs: makeRefs(2)})

	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "invalidate cache")
	assert.Equal(t, int64(0), res.Deleted)
	assert.Equal(t, DeleteDetails{}, res.Details)
	assert.Equal(t, 2, s.rows(node.TableNode))
	assert.Equal(t, 3, s.rows(node.TableRevision))

	st := NewState("run", ModeDelete, testFilter(), []node.Chunk{{Refs: makeRefs(2)}}, 20).Apply(res)
	assert.Equal(t, int64(0), st.DeletedCount)
	assert.Equal(t, 1, st.FailedChunks)
}

func TestProcess_SimulateDoesNotMutate(t *testing.T) {
	s := newFakeStore()
	s.addNode(1, 1)

	c := &fakeCache{}
	e := newTestEngine(t, s, c, EngineConfig{})
	res := e.Process(context.Background(), ModeSimulate, node.Chunk{Refs: makeRefs(5)})

	require.NoError(t, res.Err)
	assert.Equal(t, int64(5), res.Deleted)
	assert.Equal(t, 0, s.txCount)
	assert.Equal(t, 1, s.rows(node.TableNode))
	assert.Empty(t, c.invalidated)
}

func TestStep_StateMachineLoop(t *testing.T) {
	s := newFakeStore()
	for i := int64(1); i <= 45; i++ {
		s.addNode(i, 1)
	}
	e := newTestEngine(t, s, &fakeCache{}, EngineConfig{})

	chunks, err := Plan(makeRefs(45), 20)
	require.NoError(t, err)

	st := NewState("run-1", ModeDelete, testFilter(), chunks, 20)
	assert.Equal(t, StatusNotStarted, st.Status)
	assert.Equal(t, int64(45), st.TotalExpected)

	for _, c := range chunks {
		st = e.Step(context.Background(), st, c)
		assert.Equal(t, StatusRunning, st.Status)
		assert.LessOrEqual(t, st.DeletedCount, st.TotalExpected)
	}
	st = st.Finish(true)

	assert.Equal(t, StatusCompleted, st.Status)
	assert.Equal(t, 3, st.ProcessedChunks)
	assert.Equal(t, int64(45), st.DeletedCount)
	assert.Empty(t, st.LastError)
}

func TestState_FinishOutcomes(t *testing.T) {
	chunks, err := Plan(makeRefs(10), 5)
	require.NoError(t, err)
	base := NewState("r", ModeDelete, testFilter(), chunks, 5)

	full := base.Apply(ChunkResult{Index: 0, Size: 5, Deleted: 5}).Apply(ChunkResult{Index: 1, Size: 5, Deleted: 5})
	assert.Equal(t, StatusCompleted, full.Finish(true).Status)

	partial := base.Apply(ChunkResult{Index: 0, Size: 5, Deleted: 5}).
		Apply(ChunkResult{Index: 1, Size: 5, Err: errors.New("boom")})
	finished := partial.Finish(true)
	assert.Equal(t, StatusPartial, finished.Status)
	assert.Equal(t, 1, finished.FailedChunks)
	assert.Contains(t, finished.LastError, "chunk 1: boom")

	assert.Equal(t, StatusFailed, full.Finish(false).Status)
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusRunning.Terminal())
}

func TestState_ApplyDoesNotMutateReceiver(t *testing.T) {
	st := NewState("r", ModeSimulate, testFilter(), []node.Chunk{{Refs: makeRefs(2)}}, 2)
	next := st.Apply(ChunkResult{Size: 2, Deleted: 2})

	assert.Equal(t, 0, st.ProcessedChunks)
	assert.Equal(t, 1, next.ProcessedChunks)
	assert.Equal(t, testFilter(), next.Filter())
}
