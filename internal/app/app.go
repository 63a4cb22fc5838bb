package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"nodebulkdelete/internal/batch"
	"nodebulkdelete/internal/cache"
	"nodebulkdelete/internal/checkpoint"
	"nodebulkdelete/internal/config"
	"nodebulkdelete/internal/export"
	"nodebulkdelete/internal/metrics"
	"nodebulkdelete/internal/node"
	"nodebulkdelete/internal/progress"
	"nodebulkdelete/internal/report"
	"nodebulkdelete/internal/storage"
	"nodebulkdelete/internal/store"

	"go.uber.org/zap"
)

// Records is the record store surface the service needs
type Records interface {
	node.Finder
	node.AliasResolver
	node.Mutator
	Close() error
}

// Input holds the raw form values
type Input struct {
	ContentType string
	StartDate   string
	EndDate     string
}

// Outcome is what an action reports back to the operator
type Outcome struct {
	Message report.Message
	State   batch.State
	Export  export.Result
}

// Service represents the bulk delete application
type Service struct {
	cfg      *config.Config
	logger   *zap.Logger
	records  Records
	cache    node.Cache
	lister   *NodeLister
	exporter *export.Exporter
	runs     checkpoint.Store
	metrics  *metrics.Collector
	engine   *batch.Engine
	newRunID func() string
}

// New creates a new service instance from cfg
func New(cfg *config.Config, logger *zap.Logger) (*Service, error) {
	records, err := store.Open(cfg.Database.Path, store.Options{BypassAccess: cfg.Database.BypassAccess})
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}

	entityCache, err := cache.New(cfg.Cache)
	if err != nil {
		records.Close()
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}

	var opts []export.Option
	if cfg.Export.S3.Enabled() {
		client, err := storage.NewMinIOClient(cfg.Export.S3)
		if err != nil {
			records.Close()
			entityCache.Close()
			return nil, fmt.Errorf("failed to create export mirror client: %w", err)
		}
		opts = append(opts, export.WithMirror(client, cfg.Export.S3))
	}
	exporter := export.New(cfg.Export, logger, opts...)

	runs, err := checkpoint.NewSQLiteStore(cfg.Checkpoint)
	if err != nil {
		records.Close()
		entityCache.Close()
		return nil, fmt.Errorf("failed to create checkpoint store: %w", err)
	}

	svc := newService(cfg, records, entityCache, exporter, runs, logger)

	if cfg.MetricsAddr != "" {
		go func() {
			if err := svc.metrics.StartServer(cfg.MetricsAddr); err != nil {
				logger.Error("Failed to start metrics server", zap.String("addr", cfg.MetricsAddr), zap.Error(err))
			}
		}()
	}

	return svc, nil
}

func newService(cfg *config.Config, records Records, entityCache node.Cache, exporter *export.Exporter, runs checkpoint.Store, logger *zap.Logger) *Service {
	engine := batch.NewEngine(batch.EngineConfig{
		Retries:        cfg.Batch.Retries,
		RetryBackoffMs: cfg.Batch.RetryBackoffMs,
		Retriable:      store.IsBusy,
	}, records, entityCache, logger)

	return &Service{
		cfg:     cfg,
		logger:  logger,
		records: records,
		cache:   entityCache,
		lister: &NodeLister{
			finder:        records,
			aliases:       records,
			cache:         entityCache,
			protectedType: cfg.ProtectedType,
			logger:        logger,
		},
		exporter: exporter,
		runs:     runs,
		metrics:  metrics.New(),
		engine:   engine,
		newRunID: checkpoint.NewRunID,
	}
}

// ContentTypes lists the content types offered for deletion
func (s *Service) ContentTypes(ctx context.Context) ([]node.ContentType, error) {
	return s.lister.ContentTypes(ctx)
}

// Counts computes the live count display
func (s *Service) Counts(ctx context.Context, in Input) (node.Counts, error) {
	return s.lister.Counts(ctx, in.ContentType, in.StartDate, in.EndDate)
}

// List returns the nodes an action on f would touch
func (s *Service) List(ctx context.Context, f node.Filter) ([]node.Ref, error) {
	return s.lister.List(ctx, f)
}

// Simulate reports what Delete would remove without touching the store
func (s *Service) Simulate(ctx context.Context, in Input) (Outcome, error) {
	return s.execute(ctx, batch.ModeSimulate, in)
}

// Delete removes the matching nodes in checkpointed chunks
func (s *Service) Delete(ctx context.Context, in Input) (Outcome, error) {
	return s.execute(ctx, batch.ModeDelete, in)
}

func (s *Service) execute(ctx context.Context, mode batch.Mode, in Input) (Outcome, error) {
	f, err := node.NewFilter(in.ContentType, in.StartDate, in.EndDate)
	if err != nil {
		return Outcome{Message: report.Validation()}, err
	}

	refs, err := s.lister.List(ctx, f)
	if err != nil {
		return Outcome{}, err
	}
	if len(refs) == 0 {
		return Outcome{Message: report.NothingFound(mode)}, nil
	}

	prefix := export.PrefixDeleted
	if mode == batch.ModeSimulate {
		prefix = export.PrefixDryRun
	}
	exp := s.exporter.Export(ctx, refs, prefix)

	size := batch.ChunkSize(mode, s.cfg.Batch.SimulateChunkSize, s.cfg.Batch.DeleteChunkSize)
	chunks, err := batch.Plan(refs, size)
	if err != nil {
		return Outcome{}, err
	}

	st := batch.NewState(s.newRunID(), mode, f, chunks, size)
	st.ExportPath = exp.Path

	var cp batch.Checkpointer
	if mode == batch.ModeDelete {
		if err := s.runs.CreateRun(ctx, st, chunks); err != nil {
			return Outcome{Export: exp}, fmt.Errorf("failed to store run plan: %w", err)
		}
		cp = s.runs
	}

	st = s.run(ctx, st, chunks, cp)
	return Outcome{Message: report.Summary(st, exp), State: st, Export: exp}, nil
}

// Resume continues a stored delete run from its first unfinished chunk
func (s *Service) Resume(ctx context.Context, runID string) (Outcome, error) {
	stored, err := s.runs.GetRun(ctx, runID)
	if err != nil {
		return Outcome{}, err
	}
	if stored.State.Mode != batch.ModeDelete {
		return Outcome{}, fmt.Errorf("run %s is a %s run and cannot be resumed", runID, stored.State.Mode)
	}
	if stored.State.Status == batch.StatusCompleted {
		return Outcome{}, fmt.Errorf("run %s already completed", runID)
	}

	pending := stored.Pending()
	st := stored.ResumeState()

	s.logger.Info("Resuming run",
		zap.String("run_id", runID),
		zap.String("previous_status", string(stored.State.Status)),
		zap.Int("pending_chunks", len(pending)),
		zap.Int("completed_chunks", st.ProcessedChunks),
	)

	exp := export.Result{Path: st.ExportPath}
	st = s.run(ctx, st, pending, s.runs)
	return Outcome{Message: report.Summary(st, exp), State: st, Export: exp}, nil
}

// Runs lists the stored delete runs, newest first
func (s *Service) Runs(ctx context.Context) ([]batch.State, error) {
	return s.runs.ListRuns(ctx)
}

// run drives chunks through the runner with metrics and the optional display
func (s *Service) run(ctx context.Context, st batch.State, chunks []node.Chunk, cp batch.Checkpointer) batch.State {
	runner := batch.NewRunner(s.engine, batch.RunnerConfig{
		Workers:         s.cfg.Batch.Workers,
		ChunksPerSecond: s.cfg.Batch.ChunksPerSecond,
	}, cp, s.logger, s.metrics)

	s.metrics.Begin(st, s.cfg.Batch.Workers)
	defer s.metrics.End()

	var display *progress.Display
	if s.cfg.ShowProgress && progress.IsTerminalSupported() {
		title := "Eliminación de nodos"
		if st.Mode == batch.ModeSimulate {
			title = "Simulación de eliminación"
		}
		display = progress.NewDisplay(s.metrics.GetProgressTracker(), 2*time.Second, os.Stdout, title)
		display.Start()
	}

	st, err := runner.Run(ctx, st, chunks)

	if display != nil {
		display.Stop()
	}

	if err != nil {
		level := zap.ErrorLevel
		if errors.Is(err, batch.ErrAborted) {
			level = zap.WarnLevel
		}
		s.logger.Log(level, "Run did not finish", zap.String("run_id", st.RunID), zap.Error(err))
	}
	return st
}

// Close cleans up resources
func (s *Service) Close() error {
	var errs []error
	if s.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, s.metrics.Shutdown(ctx))
		cancel()
	}
	if s.runs != nil {
		errs = append(errs, s.runs.Close())
	}
	if s.cache != nil {
		errs = append(errs, s.cache.Close())
	}
	if s.records != nil {
		errs = append(errs, s.records.Close())
	}
	return errors.Join(errs...)
}
