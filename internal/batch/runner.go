package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"nodebulkdelete/internal/node"
	"nodebulkdelete/internal/worker"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrAborted marks a run stopped before all chunks were issued
var ErrAborted = errors.New("run aborted")

// Checkpointer persists the state after every applied chunk
type Checkpointer interface {
	SaveChunk(ctx context.Context, st State, res ChunkResult) error
	SaveState(ctx context.Context, st State) error
}

// Observer is told about every applied chunk. Calls are serialized.
type Observer interface {
	ChunkDone(st State, res ChunkResult)
}

// RunnerConfig tunes the scheduler harness
type RunnerConfig struct {
	Workers         int
	ChunksPerSecond float64
}

// Runner is the cooperative scheduler: it issues one chunk per engine call,
// applies results serially to the state and stops issuing on cancellation.
type Runner struct {
	engine     *Engine
	config     RunnerConfig
	checkpoint Checkpointer
	observers  []Observer
	logger     *zap.Logger
}

// NewRunner creates a runner; checkpoint may be nil
func NewRunner(engine *Engine, config RunnerConfig, checkpoint Checkpointer, logger *zap.Logger, observers ...Observer) *Runner {
	return &Runner{
		engine:     engine,
		config:     config,
		checkpoint: checkpoint,
		observers:  observers,
		logger:     logger,
	}
}

// Run processes chunks starting from st and returns the terminal state.
// A non-nil error means the run was aborted and the state is FAILED.
func (r *Runner) Run(ctx context.Context, st State, chunks []node.Chunk) (State, error) {
	if st.Status.Terminal() {
		return st, fmt.Errorf("run %s already finished with status %s", st.RunID, st.Status)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	logger := r.logger.With(zap.String("run_id", st.RunID), zap.String("mode", string(st.Mode)))
	logger.Info("Starting run",
		zap.String("content_type", st.ContentType),
		zap.Int("chunks", len(chunks)),
		zap.Int64("total_expected", st.TotalExpected),
		zap.Int("workers", r.config.Workers),
	)

	var limiter *rate.Limiter
	if r.config.ChunksPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(r.config.ChunksPerSecond), 1)
	}

	// Chunks are never cancelled midway; cancellation only stops issuing new ones
	chunkCtx := context.WithoutCancel(ctx)

	mode := st.Mode
	pool := worker.NewPool(r.config.Workers, func(_ context.Context, chunk node.Chunk) ChunkResult {
		return r.engine.Process(chunkCtx, mode, chunk)
	}, logger)

	jobs := make(chan node.Chunk)
	results := make(chan ChunkResult, pool.Size())

	var wg sync.WaitGroup
	pool.Start(ctx, jobs, results, &wg)

	feedErr := make(chan error, 1)
	go func() {
		defer close(jobs)
		feedErr <- r.feed(ctx, chunks, jobs, limiter)
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var runErr error
	for res := range results {
		st = st.Apply(res)

		if r.checkpoint != nil {
			if err := r.checkpoint.SaveChunk(chunkCtx, st, res); err != nil && runErr == nil {
				runErr = fmt.Errorf("failed to save checkpoint for chunk %d: %w", res.Index, err)
				logger.Error("Checkpoint write failed, stopping run", zap.Error(err))
				cancel()
			}
		}
		for _, obs := range r.observers {
			obs.ChunkDone(st, res)
		}
	}

	if err := <-feedErr; err != nil && runErr == nil {
		runErr = fmt.Errorf("%w: %v", ErrAborted, err)
	}
	if runErr == nil && !st.Done() {
		runErr = fmt.Errorf("%w: %d of %d chunks processed", ErrAborted, st.ProcessedChunks, st.TotalChunks)
	}

	st = st.Finish(runErr == nil)
	if runErr != nil {
		st.LastError = runErr.Error()
	}

	if r.checkpoint != nil {
		if err := r.checkpoint.SaveState(chunkCtx, st); err != nil {
			logger.Error("Failed to save final run state", zap.Error(err))
		}
	}

	logger.Info("Run finished",
		zap.String("status", string(st.Status)),
		zap.Int("processed_chunks", st.ProcessedChunks),
		zap.Int("failed_chunks", st.FailedChunks),
		zap.Int64("deleted", st.DeletedCount),
		zap.Int64("total_expected", st.TotalExpected),
		zap.Duration("elapsed", st.Elapsed),
	)

	return st, runErr
}

// feed issues chunks until exhausted or cancelled
func (r *Runner) feed(ctx context.Context, chunks []node.Chunk, jobs chan<- node.Chunk, limiter *rate.Limiter) error {
	for _, chunk := range chunks {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
		}

		select {
		case jobs <- chunk:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
