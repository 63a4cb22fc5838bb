package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"nodebulkdelete/internal/node"
	"nodebulkdelete/internal/storage"

	"go.uber.org/zap"
)

const (
	// TimestampLayout is appended to the prefix of every export file
	TimestampLayout = "2006-01-02_15-04-05"

	PrefixDryRun  = "dry_run_nodes"
	PrefixDeleted = "deleted_nodes"

	DefaultScheme = "public://"
)

// Header is the fixed first row of every export
var Header = []string{"Node ID", "Path"}

// Config holds exporter settings
type Config struct {
	Dir    string         `yaml:"dir"`
	Scheme string         `yaml:"scheme"`
	S3     storage.Config `yaml:"s3"`
}

// Result describes the outcome of one export
type Result struct {
	Path        string    `json:"path"`
	File        string    `json:"file"`
	RecordCount int       `json:"record_count"`
	Mirrored    bool      `json:"mirrored"`
	Err         error     `json:"-"`
	ExportedAt  time.Time `json:"exported_at"`
}

// OK reports whether the export file was written
func (r Result) OK() bool {
	return r.Err == nil && r.Path != ""
}

// Exporter writes audit listings of affected nodes
type Exporter struct {
	dir    string
	scheme string
	mirror storage.Client
	s3     storage.Config
	now    func() time.Time
	logger *zap.Logger
}

// Option customizes an Exporter
type Option func(*Exporter)

// WithMirror uploads every written export to an S3-compatible bucket
func WithMirror(client storage.Client, cfg storage.Config) Option {
	return func(e *Exporter) {
		e.mirror = client
		e.s3 = cfg
	}
}

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) {
		e.now = now
	}
}

// New creates an exporter writing into cfg.Dir
func New(cfg Config, logger *zap.Logger, opts ...Option) *Exporter {
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = DefaultScheme
	}
	e := &Exporter{
		dir:    cfg.Dir,
		scheme: scheme,
		now:    time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FileName returns the export name for prefix at t
func FileName(prefix string, t time.Time) string {
	return fmt.Sprintf("%s_%s.csv", prefix, t.Format(TimestampLayout))
}

// Export writes refs to {prefix}_{timestamp}.csv. Failures are reported in the
// result and never returned as a Go error: callers keep going without the file.
func (e *Exporter) Export(ctx context.Context, refs []node.Ref, prefix string) Result {
	now := e.now()
	name := FileName(prefix, now)
	result := Result{ExportedAt: now}

	data, err := encode(refs)
	if err != nil {
		result.Err = fmt.Errorf("failed to encode export: %w", err)
		e.logger.Error("Failed to encode export", zap.String("file", name), zap.Error(err))
		return result
	}

	file := filepath.Join(e.dir, name)
	if err := e.write(file, data); err != nil {
		result.Err = err
		e.logger.Error("Failed to write export file", zap.String("file", file), zap.Error(err))
		return result
	}

	result.File = file
	result.Path = e.scheme + name
	result.RecordCount = len(refs)

	e.logger.Info("Export file written",
		zap.String("path", result.Path),
		zap.Int("records", len(refs)),
	)

	if e.mirror != nil {
		result.Mirrored = e.upload(ctx, name, data)
	}

	return result
}

func encode(refs []node.Ref) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(Header); err != nil {
		return nil, err
	}
	for _, ref := range refs {
		if err := w.Write([]string{strconv.FormatInt(ref.ID, 10), ref.Path}); err != nil {
			return nil, err
		}
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

func (e *Exporter) write(file string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(file), 0755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to open export file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("failed to write export file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync export file: %w", err)
	}
	return f.Close()
}

// upload mirrors the export; failure only costs the remote copy
func (e *Exporter) upload(ctx context.Context, name string, data []byte) bool {
	key := path.Join(e.s3.Prefix, name)
	err := e.mirror.PutObject(ctx, e.s3.Bucket, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{
		ContentType: "text/csv",
	})
	if err != nil {
		e.logger.Warn("Failed to mirror export file",
			zap.String("bucket", e.s3.Bucket),
			zap.String("key", key),
			zap.Error(err),
		)
		return false
	}

	info, err := e.mirror.HeadObject(ctx, e.s3.Bucket, key)
	if err != nil || info.Size != int64(len(data)) {
		e.logger.Warn("Mirrored export file could not be verified",
			zap.String("bucket", e.s3.Bucket),
			zap.String("key", key),
			zap.Int64("remote_size", info.Size),
			zap.Int("local_size", len(data)),
			zap.Error(err),
		)
		return false
	}

	e.logger.Info("Export file mirrored", zap.String("bucket", e.s3.Bucket), zap.String("key", key))
	return true
}
