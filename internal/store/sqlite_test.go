package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"nodebulkdelete/internal/node"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, opts Options) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nodes.db"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func TestQuery_CountAndIDs(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{BypassAccess: true})

	require.NoError(t, s.InsertNode(ctx, NodeRecord{ID: 1, Type: "article", Published: true, Created: day(2025, 5, 31)}, ""))
	require.NoError(t, s.InsertNode(ctx, NodeRecord{ID: 2, Type: "article", Published: true, Created: day(2025, 6, 1)}, ""))
	require.NoError(t, s.InsertNode(ctx, NodeRecord{ID: 3, Type: "article", Published: false, Created: day(2025, 6, 2)}, ""))
	require.NoError(t, s.InsertNode(ctx, NodeRecord{ID: 4, Type: "page", Published: true, Created: day(2025, 6, 2)}, ""))

	f, err := node.NewFilter("article", "2025-06-01", "2025-06-30")
	require.NoError(t, err)

	total, err := s.Count(ctx, node.ForType("article"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	matching, err := s.Count(ctx, node.ForFilter(f))
	require.NoError(t, err)
	assert.Equal(t, int64(2), matching)

	ids, err := s.IDs(ctx, node.ForFilter(f))
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, ids)
}

func TestQuery_InclusiveBounds(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{BypassAccess: true})

	f, err := node.NewFilter("article", "2025-06-01", "2025-06-01")
	require.NoError(t, err)

	require.NoError(t, s.InsertNode(ctx, NodeRecord{ID: 1, Type: "article", Created: f.Start}, ""))
	require.NoError(t, s.InsertNode(ctx, NodeRecord{ID: 2, Type: "article", Created: f.End}, ""))
	require.NoError(t, s.InsertNode(ctx, NodeRecord{ID: 3, Type: "article", Created: f.End.Add(time.Second)}, ""))

	ids, err := s.IDs(ctx, node.ForFilter(f))
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)
}

func TestQuery_AccessCheckHidesUnpublished(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})

	require.NoError(t, s.InsertNode(ctx, NodeRecord{ID: 1, Type: "article", Published: true, Created: day(2025, 6, 1)}, ""))
	require.NoError(t, s.InsertNode(ctx, NodeRecord{ID: 2, Type: "article", Published: false, Created: day(2025, 6, 1)}, ""))

	checked, err := s.Count(ctx, node.ForType("article"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), checked)

	unchecked, err := s.Count(ctx, node.ForType("article").AccessCheck(false))
	require.NoError(t, err)
	assert.Equal(t, int64(2), unchecked)
}

func TestQuery_InPredicate(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{BypassAccess: true})

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, s.InsertNode(ctx, NodeRecord{ID: i, Type: "article", Created: day(2025, 6, 1)}, ""))
	}

	ids, err := s.IDs(ctx, node.NewQuery().Condition("nid", []int64{5, 2, 9}, node.OpIn))
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 5}, ids)

	ids, err = s.IDs(ctx, node.NewQuery().Condition("nid", []int64{}, node.OpIn))
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestQuery_RejectsUnknownColumn(t *testing.T) {
	s := newTestStore(t, Options{})
	_, err := s.Count(context.Background(), node.NewQuery().Condition("title; DROP TABLE node", "x", node.OpEq))
	require.Error(t, err)
}

func TestAliasByPath(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})

	require.NoError(t, s.InsertNode(ctx, NodeRecord{ID: 7, Type: "article", Created: day(2025, 6, 1)}, "/blog/seven"))

	alias, err := s.AliasByPath(ctx, "/node/7")
	require.NoError(t, err)
	assert.Equal(t, "/blog/seven", alias)

	alias, err = s.AliasByPath(ctx, "/node/8")
	require.NoError(t, err)
	assert.Equal(t, "/node/8", alias)
}

func TestInTx_DeleteAndTableExists(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{BypassAccess: true})

	require.NoError(t, s.AddReferenceField(ctx, "field_tags", "entity_reference", false))
	require.NoError(t, s.InsertNode(ctx, NodeRecord{ID: 1, Type: "article", Created: day(2025, 6, 1), Revisions: 2}, ""))
	require.NoError(t, s.SetFieldValue(ctx, "field_tags", 1, 100))

	var deleted int64
	err := s.InTx(ctx, func(tx node.Tx) error {
		exists, err := tx.TableExists(ctx, node.FieldRevisionTable("field_tags"))
		require.NoError(t, err)
		assert.False(t, exists)

		exists, err = tx.TableExists(ctx, node.FieldDataTable("field_tags"))
		require.NoError(t, err)
		assert.True(t, exists)

		deleted, err = tx.DeleteByIDs(ctx, "node", "nid", []int64{1, 2})
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestInTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{BypassAccess: true})
	require.NoError(t, s.InsertNode(ctx, NodeRecord{ID: 1, Type: "article", Created: day(2025, 6, 1)}, ""))

	boom := errors.New("boom")
	err := s.InTx(ctx, func(tx node.Tx) error {
		if _, err := tx.DeleteByIDs(ctx, "node", "nid", []int64{1}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	count, err := s.CountRows(ctx, "node", "nid", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestDeleteByIDs_RejectsBadIdentifier(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})

	err := s.InTx(ctx, func(tx node.Tx) error {
		_, err := tx.DeleteByIDs(ctx, "node; --", "nid", []int64{1})
		return err
	})
	require.Error(t, err)
}

func TestReferenceFields(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})

	require.NoError(t, s.AddReferenceField(ctx, "field_tags", "entity_reference", true))
	require.NoError(t, s.AddReferenceField(ctx, "field_image", "image", true))
	_, err := s.DB().ExecContext(ctx, "INSERT INTO field_storage (field_name, field_type) VALUES ('field_body', 'text_long')")
	require.NoError(t, err)

	fields, err := s.ReferenceFields(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"field_image", "field_tags"}, fields)
}

func TestContentTypes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, Options{})

	require.NoError(t, s.AddContentType(ctx, node.ContentType{ID: "page", Label: "Página"}))
	require.NoError(t, s.AddContentType(ctx, node.ContentType{ID: "article", Label: "Artículo"}))

	types, err := s.ContentTypes(ctx)
	require.NoError(t, err)
	require.Len(t, types, 2)
	assert.Equal(t, "article", types[0].ID)
}

func TestIsBusy(t *testing.T) {
	assert.True(t, IsBusy(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.False(t, IsBusy(errors.New("no such table")))
	assert.False(t, IsBusy(nil))
}
