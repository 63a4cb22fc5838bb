package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Handler processes one job and produces its result
type Handler[J, R any] func(ctx context.Context, job J) R

// Pool runs a fixed number of workers over a job channel
type Pool[J, R any] struct {
	size    int
	handler Handler[J, R]
	logger  *zap.Logger
}

// NewPool creates a new worker pool; sizes below one are raised to one
func NewPool[J, R any](size int, handler Handler[J, R], logger *zap.Logger) *Pool[J, R] {
	if size < 1 {
		size = 1
	}
	return &Pool[J, R]{
		size:    size,
		handler: handler,
		logger:  logger,
	}
}

// Size returns the number of workers
func (p *Pool[J, R]) Size() int {
	return p.size
}

// Start starts the workers. Each result is sent on results; workers exit when
// jobs is closed or ctx is cancelled. A job already picked up always runs to
// completion and delivers its result.
func (p *Pool[J, R]) Start(ctx context.Context, jobs <-chan J, results chan<- R, wg *sync.WaitGroup) {
	for i := 0; i < p.size; i++ {
		wg.Add(1)
		go p.worker(ctx, i, jobs, results, wg)
	}
}

func (p *Pool[J, R]) worker(ctx context.Context, id int, jobs <-chan J, results chan<- R, wg *sync.WaitGroup) {
	defer wg.Done()

	logger := p.logger.With(zap.Int("worker_id", id))
	logger.Debug("Worker started")

	for {
		// Prefer stopping over picking up more work once cancelled
		if ctx.Err() != nil {
			logger.Debug("Worker stopped - context cancelled")
			return
		}

		select {
		case job, ok := <-jobs:
			if !ok {
				logger.Debug("Worker finished - no more jobs")
				return
			}

			results <- p.handler(ctx, job)

		case <-ctx.Done():
			logger.Debug("Worker stopped - context cancelled")
			return
		}
	}
}
