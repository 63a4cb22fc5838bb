package checkpoint

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"nodebulkdelete/internal/batch"
	"nodebulkdelete/internal/node"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "checkpoint.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func planFor(t *testing.T, n, size int) []node.Chunk {
	t.Helper()
	refs := make([]node.Ref, n)
	for i := range refs {
		id := int64(100 + i)
		refs[i] = node.Ref{ID: id, Path: node.SystemPath(id)}
	}
	chunks, err := batch.Plan(refs, size)
	require.NoError(t, err)
	return chunks
}

func newRun(t *testing.T, chunks []node.Chunk) batch.State {
	f, err := node.NewFilter("article", "2025-06-01", "2025-08-28")
	require.NoError(t, err)
	st := batch.NewState(NewRunID(), batch.ModeDelete, f, chunks, 20)
	st.ExportPath = "public://deleted_nodes_2025-08-28_10-00-00.csv"
	return st
}

func TestNewRunID(t *testing.T) {
	id := NewRunID()
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.NotEqual(t, id, NewRunID())
}

func TestCreateAndGetRun(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	chunks := planFor(t, 45, 20)
	st := newRun(t, chunks)
	require.NoError(t, s.CreateRun(ctx, st, chunks))

	run, err := s.GetRun(ctx, st.RunID)
	require.NoError(t, err)

	assert.Equal(t, chunks, run.Chunks)
	assert.Empty(t, run.Records)
	assert.Equal(t, batch.StatusNotStarted, run.State.Status)
	assert.Equal(t, int64(45), run.State.TotalExpected)
	assert.Equal(t, 3, run.State.TotalChunks)
	assert.Equal(t, st.ExportPath, run.State.ExportPath)
	assert.True(t, st.RangeStart.Equal(run.State.RangeStart))
	assert.True(t, st.RangeEnd.Equal(run.State.RangeEnd))
	assert.Len(t, run.Pending(), 3)
}

func TestGetRun_NotFound(t *testing.T) {
	_, err := newTestStore(t).GetRun(context.Background(), "missing")
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestSaveChunkAndResume(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	chunks := planFor(t, 45, 20)
	st := newRun(t, chunks)
	require.NoError(t, s.CreateRun(ctx, st, chunks))

	ok := batch.ChunkResult{Index: 0, Size: 20, Deleted: 20, Attempts: 1, Duration: 30 * time.Millisecond}
	st = st.Apply(ok)
	require.NoError(t, s.SaveChunk(ctx, st, ok))

	// committed rows but a failed cache invalidation
	failed := batch.ChunkResult{Index: 1, Size: 20, Deleted: 20, Attempts: 1, Err: errors.New("cache down")}
	st = st.Apply(failed)
	require.NoError(t, s.SaveChunk(ctx, st, failed))

	// interrupted before chunk 2
	st = st.Finish(false)
	st.LastError = "run aborted: context canceled"
	require.NoError(t, s.SaveState(ctx, st))

	run, err := s.GetRun(ctx, st.RunID)
	require.NoError(t, err)
	assert.Equal(t, batch.StatusFailed, run.State.Status)
	assert.Equal(t, "run aborted: context canceled", run.State.LastError)
	require.Len(t, run.Records, 2)
	assert.Equal(t, ChunkFailed, run.Records[1].Status)
	assert.Equal(t, "cache down", run.Records[1].LastError)

	pending := run.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, 1, pending[0].Index)
	assert.Equal(t, 2, pending[1].Index)

	resumed := run.ResumeState()
	assert.Equal(t, batch.StatusRunning, resumed.Status)
	assert.Equal(t, 1, resumed.ProcessedChunks)
	assert.Equal(t, int64(20), resumed.ProcessedCount)
	assert.Equal(t, int64(40), resumed.DeletedCount)
	assert.Equal(t, 0, resumed.FailedChunks)
	assert.Equal(t, int64(45), resumed.TotalExpected)
	assert.Equal(t, st.ExportPath, resumed.ExportPath)
	assert.Empty(t, resumed.LastError)

	// the retry finds the rows gone; committed rows stay counted
	retried := batch.ChunkResult{Index: 1, Size: 20, Deleted: 0, Attempts: 1}
	resumed = resumed.Apply(retried)
	require.NoError(t, s.SaveChunk(ctx, resumed, retried))

	run, err = s.GetRun(ctx, st.RunID)
	require.NoError(t, err)
	assert.Equal(t, ChunkCompleted, run.Records[1].Status)
	assert.Equal(t, int64(20), run.Records[1].Deleted)
	assert.Equal(t, 2, run.Records[1].Attempts)
	assert.Len(t, run.Pending(), 1)
}

func TestSaveState_UnknownRun(t *testing.T) {
	s := newTestStore(t)
	st := newRun(t, planFor(t, 3, 20))

	err := s.SaveState(context.Background(), st)
	require.ErrorIs(t, err, ErrRunNotFound)
}

func TestListRuns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	assert.Empty(t, runs)

	ids := map[string]bool{}
	for i := 0; i < 3; i++ {
		chunks := planFor(t, 5, 2)
		st := newRun(t, chunks)
		require.NoError(t, s.CreateRun(ctx, st, chunks))
		ids[st.RunID] = true
	}

	runs, err = s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	for _, r := range runs {
		assert.True(t, ids[r.RunID])
		assert.Equal(t, "article", r.ContentType)
		assert.Equal(t, int64(5), r.TotalExpected)
	}
}

func TestClosedStore(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "checkpoint.db"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.ListRuns(context.Background())
	assert.Error(t, err)
}
