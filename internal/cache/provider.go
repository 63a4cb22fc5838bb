package cache

import (
	"errors"
	"fmt"
	"sync"

	"nodebulkdelete/internal/node"
)

// Type selects the cache backend
type Type string

const (
	TypeMemory Type = "memory"
	TypeBbolt  Type = "bbolt"
)

var ErrBucketNotFound = errors.New("bucket not found")

// Config holds the cache backend settings
type Config struct {
	Type   Type   `yaml:"type"`
	Path   string `yaml:"path"`
	Bucket string `yaml:"bucket"`
}

// New creates the configured cache
func New(cfg Config) (node.Cache, error) {
	switch cfg.Type {
	case TypeMemory, "":
		return NewMemory(), nil
	case TypeBbolt:
		return NewBboltCache(cfg.Path, cfg.Bucket)
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// Memory is a process-local cache safe for concurrent use
type Memory struct {
	mu      sync.RWMutex
	entries map[int64]node.Ref
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[int64]node.Ref)}
}

func (m *Memory) Put(refs []node.Ref) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ref := range refs {
		m.entries[ref.ID] = ref
	}
	return nil
}

func (m *Memory) Get(id int64) (node.Ref, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ref, ok := m.entries[id]
	return ref, ok, nil
}

func (m *Memory) Invalidate(ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.entries, id)
	}
	return nil
}

// Len returns the number of cached entries
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Memory) Close() error {
	return nil
}
