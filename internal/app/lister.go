package app

import (
	"context"
	"fmt"

	"nodebulkdelete/internal/node"

	"go.uber.org/zap"
)

// loadBatchSize bounds the IN list of one load query
const loadBatchSize = 500

// NodeLister answers the count display and resolves filters into refs
type NodeLister struct {
	finder        node.Finder
	aliases       node.AliasResolver
	cache         node.Cache
	protectedType string
	logger        *zap.Logger
}

// Counts returns the total nodes of the type and those inside the range.
// Missing or malformed dates only zero the second figure.
func (l *NodeLister) Counts(ctx context.Context, contentType, startDate, endDate string) (node.Counts, error) {
	var counts node.Counts

	f := node.LooseFilter(contentType, startDate, endDate)
	if f.ContentType == "" {
		return counts, nil
	}

	total, err := l.finder.Count(ctx, node.ForType(f.ContentType))
	if err != nil {
		return counts, err
	}
	counts.Total = total

	if !f.HasRange() {
		return counts, nil
	}

	toDelete, err := l.finder.Count(ctx, node.ForFilter(f))
	if err != nil {
		return counts, err
	}
	counts.ToDelete = toDelete

	return counts, nil
}

// ContentTypes lists the selectable content types
func (l *NodeLister) ContentTypes(ctx context.Context) ([]node.ContentType, error) {
	all, err := l.finder.ContentTypes(ctx)
	if err != nil {
		return nil, err
	}

	types := make([]node.ContentType, 0, len(all))
	for _, ct := range all {
		if ct.ID == l.protectedType {
			continue
		}
		types = append(types, ct)
	}
	return types, nil
}

// List returns the refs matching f in query order. The protected type and
// incomplete ranges yield nothing.
func (l *NodeLister) List(ctx context.Context, f node.Filter) ([]node.Ref, error) {
	if l.isProtected(f.ContentType) {
		l.logger.Info("Refusing to list protected content type", zap.String("content_type", f.ContentType))
		return nil, nil
	}
	if f.ContentType == "" || !f.HasRange() {
		return nil, nil
	}

	ids, err := l.finder.IDs(ctx, node.ForFilter(f))
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	refs, err := l.load(ctx, ids)
	if err != nil {
		return nil, err
	}

	l.logger.Info("Nodes listed",
		zap.String("content_type", f.ContentType),
		zap.Time("start", f.Start),
		zap.Time("end", f.End),
		zap.Int("count", len(refs)),
	)
	return refs, nil
}

func (l *NodeLister) isProtected(contentType string) bool {
	return l.protectedType != "" && contentType == l.protectedType
}

// load resolves ids into refs against the store, in query order. Paths always
// come from the alias table so the audit export never records a stale alias;
// the cache is refreshed with what was resolved. Ids that no longer exist are
// dropped.
func (l *NodeLister) load(ctx context.Context, ids []int64) ([]node.Ref, error) {
	found := make(map[int64]node.Ref, len(ids))

	for start := 0; start < len(ids); start += loadBatchSize {
		end := start + loadBatchSize
		if end > len(ids) {
			end = len(ids)
		}

		existing, err := l.finder.IDs(ctx, node.NewQuery().Condition(node.ColumnID, ids[start:end], node.OpIn))
		if err != nil {
			return nil, fmt.Errorf("failed to load nodes: %w", err)
		}

		loaded := make([]node.Ref, 0, len(existing))
		for _, id := range existing {
			alias, err := l.aliases.AliasByPath(ctx, node.SystemPath(id))
			if err != nil {
				return nil, fmt.Errorf("failed to resolve alias of node %d: %w", id, err)
			}
			ref := node.Ref{ID: id, Path: alias}
			found[id] = ref
			loaded = append(loaded, ref)
		}

		if err := l.cache.Put(loaded); err != nil {
			l.logger.Warn("Failed to refresh cache", zap.Int("refs", len(loaded)), zap.Error(err))
		}
	}

	refs := make([]node.Ref, 0, len(ids))
	for _, id := range ids {
		if ref, ok := found[id]; ok {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}
