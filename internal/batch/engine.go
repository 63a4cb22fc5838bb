package batch

import (
	"context"
	"fmt"
	"math"
	"time"

	"nodebulkdelete/internal/node"

	"go.uber.org/zap"
)

// EngineConfig tunes chunk retries
type EngineConfig struct {
	Retries        int
	RetryBackoffMs int
	// Retriable classifies errors worth another attempt; nil never retries
	Retriable func(error) bool
}

// Engine executes the per-chunk delete and simulate protocols.
// It holds no run state and is safe for concurrent use.
type Engine struct {
	config  EngineConfig
	mutator node.Mutator
	cache   node.Invalidator
	logger  *zap.Logger
}

// NewEngine creates an engine over the given ports
func NewEngine(config EngineConfig, mutator node.Mutator, cache node.Invalidator, logger *zap.Logger) *Engine {
	if config.Retries < 1 {
		config.Retries = 1
	}
	return &Engine{
		config:  config,
		mutator: mutator,
		cache:   cache,
		logger:  logger,
	}
}

// Step processes one chunk and returns the next state
func (e *Engine) Step(ctx context.Context, st State, chunk node.Chunk) State {
	return st.Apply(e.Process(ctx, st.Mode, chunk))
}

// Process runs one chunk in mode. Failures are captured in the result.
func (e *Engine) Process(ctx context.Context, mode Mode, chunk node.Chunk) ChunkResult {
	startTime := time.Now()
	res := ChunkResult{Index: chunk.Index, Size: chunk.Len()}

	if mode == ModeSimulate {
		// Simulation trusts the plan-time listing
		res.Deleted = int64(chunk.Len())
		res.Attempts = 1
		res.Duration = time.Since(startTime)
		e.logger.Debug("Chunk simulated",
			zap.Int("chunk", chunk.Index),
			zap.Int("size", chunk.Len()),
		)
		return res
	}

	var lastErr error
	succeeded := false
	for attempt := 1; attempt <= e.config.Retries; attempt++ {
		res.Attempts = attempt

		deleted, details, err := e.deleteChunk(ctx, chunk)
		if err == nil {
			succeeded = true
			res.Deleted = deleted
			res.Details = details
			res.Duration = time.Since(startTime)
			e.logger.Info("Chunk deleted",
				zap.Int("chunk", chunk.Index),
				zap.Int("size", chunk.Len()),
				zap.Int64("deleted", deleted),
				zap.Int64("revisions", details.Revisions),
				zap.Int64("field_rows", details.FieldRows),
				zap.Duration("duration", res.Duration),
			)
			break
		}

		lastErr = err
		e.logger.Warn("Chunk attempt failed",
			zap.Int("chunk", chunk.Index),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if e.config.Retriable == nil || !e.config.Retriable(err) || ctx.Err() != nil {
			break
		}
		if attempt < e.config.Retries {
			time.Sleep(e.backoff(attempt))
		}
	}

	if !succeeded {
		res.Err = lastErr
		res.Duration = time.Since(startTime)
		e.logger.Error("Chunk failed",
			zap.Int("chunk", chunk.Index),
			zap.Int("size", chunk.Len()),
			zap.Error(lastErr),
		)
	}
	return res
}

// deleteChunk removes the core rows, revisions and reference field rows of
// chunk and invalidates their cache entries in one transaction. It returns the
// number of core rows removed.
func (e *Engine) deleteChunk(ctx context.Context, chunk node.Chunk) (int64, DeleteDetails, error) {
	ids := chunk.IDs()
	if len(ids) == 0 {
		return 0, DeleteDetails{}, nil
	}

	fields, err := e.mutator.ReferenceFields(ctx)
	if err != nil {
		return 0, DeleteDetails{}, fmt.Errorf("failed to load reference fields: %w", err)
	}

	var deleted int64
	var details DeleteDetails
	err = e.mutator.InTx(ctx, func(tx node.Tx) error {
		// The transaction may be replayed; start from zero each time
		deleted, details = 0, DeleteDetails{}

		n, err := tx.DeleteByIDs(ctx, node.TableNode, node.ColumnID, ids)
		if err != nil {
			return err
		}
		deleted = n

		n, err = tx.DeleteByIDs(ctx, node.TableRevision, node.ColumnID, ids)
		if err != nil {
			return err
		}
		details.Revisions = n

		for _, field := range fields {
			for _, table := range []string{node.FieldDataTable(field), node.FieldRevisionTable(field)} {
				exists, err := tx.TableExists(ctx, table)
				if err != nil {
					return err
				}
				if !exists {
					continue
				}
				n, err := tx.DeleteByIDs(ctx, table, node.ColumnEntityID, ids)
				if err != nil {
					return err
				}
				details.FieldRows += n
			}
		}

		// Invalidation belongs to the chunk: if it fails the deletes roll back
		if e.cache != nil {
			if err := e.cache.Invalidate(ids); err != nil {
				return fmt.Errorf("failed to invalidate cache: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, DeleteDetails{}, err
	}
	return deleted, details, nil
}

func (e *Engine) backoff(attempt int) time.Duration {
	base := time.Duration(e.config.RetryBackoffMs) * time.Millisecond
	return base * time.Duration(math.Pow(2, float64(attempt-1)))
}
