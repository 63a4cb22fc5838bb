package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"nodebulkdelete/internal/batch"
	"nodebulkdelete/internal/progress"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects and exposes run metrics. It is a batch.Observer.
type Collector struct {
	registry        *prometheus.Registry
	chunksTotal     *prometheus.CounterVec
	nodesTotal      *prometheus.CounterVec
	inflightWorkers prometheus.Gauge
	duration        prometheus.Histogram
	progressTracker *progress.Tracker

	mu     sync.Mutex
	server *http.Server
	closed bool
}

// New creates a new metrics collector with its own registry
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		chunksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bulkdelete_chunks_total",
				Help: "Total number of chunks processed",
			},
			[]string{"mode", "status"},
		),
		nodesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bulkdelete_nodes_total",
				Help: "Total number of nodes deleted, or that would be deleted in a simulation",
			},
			[]string{"mode"},
		),
		inflightWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bulkdelete_workers",
				Help: "Number of chunk workers of the current run",
			},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "bulkdelete_chunk_duration_seconds",
				Help:    "Time taken to process a chunk",
				Buckets: prometheus.DefBuckets,
			},
		),
		progressTracker: progress.NewTracker(),
	}

	c.registry.MustRegister(c.chunksTotal, c.nodesTotal, c.inflightWorkers, c.duration)

	return c
}

// Begin prepares progress tracking for st, which may be a resumed state
func (c *Collector) Begin(st batch.State, workers int) {
	c.progressTracker.SetTotal(int64(st.TotalChunks), st.TotalExpected)
	c.progressTracker.Restore(int64(st.ProcessedChunks), st.ProcessedCount, st.DeletedCount)
	c.inflightWorkers.Set(float64(workers))
}

// ChunkDone records an applied chunk
func (c *Collector) ChunkDone(st batch.State, res batch.ChunkResult) {
	status := "completed"
	if res.Failed() {
		status = "failed"
	}

	c.chunksTotal.WithLabelValues(string(st.Mode), status).Inc()
	c.nodesTotal.WithLabelValues(string(st.Mode)).Add(float64(res.Deleted))
	c.ObserveDuration(res.Duration)
	c.progressTracker.AddChunk(int64(res.Size), res.Deleted, res.Failed())
}

// End clears the worker gauge
func (c *Collector) End() {
	c.inflightWorkers.Set(0)
}

// ObserveDuration observes chunk duration
func (c *Collector) ObserveDuration(duration time.Duration) {
	c.duration.Observe(duration.Seconds())
}

// Handler serves the collector's registry
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the collector's registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// StartServer listens on addr and serves /metrics until Shutdown
func (c *Collector) StartServer(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return c.Serve(listener)
}

// Serve serves /metrics on listener. It blocks until Shutdown and returns nil
// when stopped that way.
func (c *Collector) Serve(listener net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return listener.Close()
	}
	c.server = server
	c.mu.Unlock()

	if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the metrics server. A server started afterwards exits at once.
func (c *Collector) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	server := c.server
	c.mu.Unlock()

	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

// GetProgressTracker returns the progress tracker
func (c *Collector) GetProgressTracker() *progress.Tracker {
	return c.progressTracker
}
