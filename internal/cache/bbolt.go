package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"nodebulkdelete/internal/node"

	"go.etcd.io/bbolt"
)

const defaultBucket = "nodes"

// BboltCache persists loaded node refs in a bbolt file
type BboltCache struct {
	db     *bbolt.DB
	bucket string
}

// NewBboltCache opens the cache file at path, creating bucket if needed
func NewBboltCache(path, bucket string) (*BboltCache, error) {
	if path == "" {
		return nil, fmt.Errorf("bbolt path is required")
	}
	if bucket == "" {
		bucket = defaultBucket
	}

	db, err := bbolt.Open(path, os.FileMode(0600), nil)
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BboltCache{db: db, bucket: bucket}, nil
}

func key(id int64) []byte {
	return []byte(strconv.FormatInt(id, 10))
}

// Put stores refs in one transaction
func (c *BboltCache) Put(refs []node.Ref) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(c.bucket))
		if b == nil {
			return ErrBucketNotFound
		}
		for _, ref := range refs {
			val, err := json.Marshal(ref)
			if err != nil {
				return err
			}
			if err := b.Put(key(ref.ID), val); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get returns the cached ref for id
func (c *BboltCache) Get(id int64) (node.Ref, bool, error) {
	var ref node.Ref
	found := false
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(c.bucket))
		if b == nil {
			return ErrBucketNotFound
		}
		val := b.Get(key(id))
		if val == nil {
			return nil
		}
		found = true
		return json.Unmarshal(val, &ref)
	})
	return ref, found, err
}

// Invalidate deletes the entries for ids; missing keys are ignored
func (c *BboltCache) Invalidate(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return c.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(c.bucket))
		if b == nil {
			return ErrBucketNotFound
		}
		for _, id := range ids {
			if err := b.Delete(key(id)); err != nil {
				return err
			}
		}
		return nil
	})
}

// Count returns the number of cached entries
func (c *BboltCache) Count() (int64, error) {
	var count int64
	err := c.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(c.bucket))
		if b == nil {
			return ErrBucketNotFound
		}
		count = int64(b.Stats().KeyN)
		return nil
	})
	return count, err
}

func (c *BboltCache) Close() error {
	return c.db.Close()
}
