package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"nodebulkdelete/internal/node"
)

var errBusy = errors.New("database is locked")

// fakeStore is an in-memory Mutator: table -> id -> row count
type fakeStore struct {
	mu      sync.Mutex
	tables  map[string]map[int64]int
	fields  []string
	failIDs map[int64]error
	// busyLeft makes the next N transactions fail with errBusy
	busyLeft int
	txCount  int
}

func newFakeStore(fields ...string) *fakeStore {
	s := &fakeStore{
		tables:  map[string]map[int64]int{node.TableNode: {}, node.TableRevision: {}},
		fields:  fields,
		failIDs: map[int64]error{},
	}
	return s
}

func (s *fakeStore) addTable(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tables[name] == nil {
		s.tables[name] = map[int64]int{}
	}
}

func (s *fakeStore) addNode(id int64, revisions int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[node.TableNode][id] = 1
	s.tables[node.TableRevision][id] = revisions
	for _, f := range s.fields {
		for _, table := range []string{node.FieldDataTable(f), node.FieldRevisionTable(f)} {
			if rows, ok := s.tables[table]; ok {
				rows[id] = 1
			}
		}
	}
}

func (s *fakeStore) rows(table string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.tables[table] {
		total += n
	}
	return total
}

func (s *fakeStore) ReferenceFields(ctx context.Context) ([]string, error) {
	return s.fields, nil
}

func (s *fakeStore) InTx(ctx context.Context, fn func(tx node.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.txCount++
	if s.busyLeft > 0 {
		s.busyLeft--
		return errBusy
	}

	// Work on a copy so a failing fn leaves the tables untouched
	staged := make(map[string]map[int64]int, len(s.tables))
	for name, rows := range s.tables {
		cp := make(map[int64]int, len(rows))
		for id, n := range rows {
			cp[id] = n
		}
		staged[name] = cp
	}

	if err := fn(&fakeTx{store: s, tables: staged}); err != nil {
		return err
	}
	s.tables = staged
	return nil
}

type fakeTx struct {
	store  *fakeStore
	tables map[string]map[int64]int
}

func (t *fakeTx) DeleteByIDs(ctx context.Context, table, column string, ids []int64) (int64, error) {
	rows, ok := t.tables[table]
	if !ok {
		return 0, fmt.Errorf("no such table: %s", table)
	}
	var n int64
	for _, id := range ids {
		if err := t.store.failIDs[id]; err != nil {
			return 0, err
		}
		n += int64(rows[id])
		delete(rows, id)
	}
	return n, nil
}

func (t *fakeTx) TableExists(ctx context.Context, table string) (bool, error) {
	_, ok := t.tables[table]
	return ok, nil
}

type fakeCache struct {
	mu          sync.Mutex
	invalidated []int64
	err         error
}

func (c *fakeCache) Invalidate(ids []int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.invalidated = append(c.invalidated, ids...)
	return nil
}

type fakeCheckpoint struct {
	mu     sync.Mutex
	chunks []ChunkResult
	final  State
	err    error
}

func (c *fakeCheckpoint) SaveChunk(ctx context.Context, st State, res ChunkResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.chunks = append(c.chunks, res)
	return nil
}

func (c *fakeCheckpoint) SaveState(ctx context.Context, st State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.final = st
	return nil
}

type recordingObserver struct {
	states []State
}

func (o *recordingObserver) ChunkDone(st State, res ChunkResult) {
	o.states = append(o.states, st)
}

func makeRefs(n int) []node.Ref {
	refs := make([]node.Ref, n)
	for i := range refs {
		id := int64(i + 1)
		refs[i] = node.Ref{ID: id, Path: node.SystemPath(id)}
	}
	return refs
}
