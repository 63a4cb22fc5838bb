package cache

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"nodebulkdelete/internal/node"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBboltCache(t *testing.T) *BboltCache {
	t.Helper()
	c, err := NewBboltCache(filepath.Join(t.TempDir(), "cache.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestOpenInvalidPath(t *testing.T) {
	_, err := NewBboltCache("/invalid/dir/cache.db", "nodes")
	require.Error(t, err)

	_, err = NewBboltCache("", "nodes")
	require.Error(t, err)
}

func TestBbolt_PutGetInvalidate(t *testing.T) {
	c := newTestBboltCache(t)

	refs := []node.Ref{{ID: 1, Path: "/a"}, {ID: 2, Path: "/b"}, {ID: 3, Path: "/c"}}
	require.NoError(t, c.Put(refs))

	got, ok, err := c.Get(2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, refs[1], got)

	require.NoError(t, c.Invalidate([]int64{1, 2, 99}))

	_, ok, err = c.Get(2)
	require.NoError(t, err)
	assert.False(t, ok)

	count, err := c.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestBbolt_ConcurrentInvalidate(t *testing.T) {
	c := newTestBboltCache(t)

	var refs []node.Ref
	for i := int64(0); i < 200; i++ {
		refs = append(refs, node.Ref{ID: i, Path: fmt.Sprintf("/n/%d", i)})
	}
	require.NoError(t, c.Put(refs))

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(offset int64) {
			defer wg.Done()
			var ids []int64
			for i := offset; i < 200; i += 4 {
				ids = append(ids, i)
			}
			assert.NoError(t, c.Invalidate(ids))
		}(int64(w))
	}
	wg.Wait()

	count, err := c.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestMemory_ConcurrentUse(t *testing.T) {
	m := NewMemory()

	var wg sync.WaitGroup
	for w := int64(0); w < 8; w++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_ = m.Put([]node.Ref{{ID: id}})
			_ = m.Invalidate([]int64{id})
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 0, m.Len())
}

func TestNew(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, c)

	c, err = New(Config{Type: TypeBbolt, Path: filepath.Join(t.TempDir(), "c.db")})
	require.NoError(t, err)
	assert.IsType(t, &BboltCache{}, c)
	require.NoError(t, c.Close())

	_, err = New(Config{Type: "redis"})
	require.Error(t, err)
}
