package node

import "context"

// Finder runs filtered counts and id listings over the record store
type Finder interface {
	Count(ctx context.Context, q Query) (int64, error)
	IDs(ctx context.Context, q Query) ([]int64, error)
	ContentTypes(ctx context.Context) ([]ContentType, error)
}

// AliasResolver maps a system path to its display alias
type AliasResolver interface {
	AliasByPath(ctx context.Context, path string) (string, error)
}

// Tx is the mutation surface available inside one chunk transaction
type Tx interface {
	DeleteByIDs(ctx context.Context, table, column string, ids []int64) (int64, error)
	TableExists(ctx context.Context, table string) (bool, error)
}

// Mutator runs chunk transactions against the record store
type Mutator interface {
	// ReferenceFields lists the reference-type fields defined on the node schema
	ReferenceFields(ctx context.Context) ([]string, error)
	// InTx runs fn in one transaction, committing when fn returns nil
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// Invalidator drops cached entries for deleted nodes
type Invalidator interface {
	Invalidate(ids []int64) error
}

// Cache holds loaded node refs keyed by id
type Cache interface {
	Invalidator
	Put(refs []Ref) error
	Get(id int64) (Ref, bool, error)
	Close() error
}
