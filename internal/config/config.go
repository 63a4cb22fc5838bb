package config

import (
	"fmt"
	"os"

	"nodebulkdelete/internal/batch"
	"nodebulkdelete/internal/cache"
	"nodebulkdelete/internal/export"
	"nodebulkdelete/internal/logger"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// DefaultProtectedType is the content type the tool never offers or deletes
const DefaultProtectedType = "noticia"

// Config represents the application configuration
type Config struct {
	Database      Database      `yaml:"database"`
	Cache         cache.Config  `yaml:"cache"`
	Export        export.Config `yaml:"export"`
	Batch         Batch         `yaml:"batch"`
	Checkpoint    string        `yaml:"checkpoint"`
	ProtectedType string        `yaml:"protected_type"`
	MetricsAddr   string        `yaml:"metrics_addr"`
	LogLevel      string        `yaml:"log_level"`
	ShowProgress  bool          `yaml:"show_progress"`
}

// Database represents the record store configuration
type Database struct {
	Path         string `yaml:"path"`
	BypassAccess bool   `yaml:"bypass_access"`
}

// Batch represents chunked execution settings
type Batch struct {
	SimulateChunkSize int     `yaml:"simulate_chunk_size"`
	DeleteChunkSize   int     `yaml:"delete_chunk_size"`
	Workers           int     `yaml:"workers"`
	Retries           int     `yaml:"retries"`
	RetryBackoffMs    int     `yaml:"retry_backoff_ms"`
	ChunksPerSecond   float64 `yaml:"chunks_per_second"`
}

// Default returns the configuration used before any file or flag is applied
func Default() *Config {
	return &Config{
		Database: Database{Path: "./nodes.db"},
		Cache:    cache.Config{Type: cache.TypeMemory, Bucket: "nodes"},
		Export:   export.Config{Dir: "./files", Scheme: export.DefaultScheme},
		Batch: Batch{
			SimulateChunkSize: batch.DefaultSimulateChunkSize,
			DeleteChunkSize:   batch.DefaultDeleteChunkSize,
			Workers:           1,
			Retries:           3,
			RetryBackoffMs:    200,
		},
		Checkpoint:    "./runs.db",
		ProtectedType: DefaultProtectedType,
		LogLevel:      "info",
		ShowProgress:  true,
	}
}

// Load loads configuration from file and command line flags
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	cfg := Default()

	// Load from YAML file if provided
	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Override with command line flags
	if flags != nil {
		if err := loadFromFlags(cfg, flags); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// RegisterFlags declares the flags loadFromFlags understands
func RegisterFlags(flags *pflag.FlagSet) {
	d := Default()

	flags.String("db", d.Database.Path, "Node record database file")
	flags.Bool("bypass-access", false, "Let access-checked queries see unpublished nodes")
	flags.String("cache-type", string(d.Cache.Type), "Entity cache backend (memory/bbolt)")
	flags.String("cache-path", "", "bbolt cache file")
	flags.String("export-dir", d.Export.Dir, "Directory for CSV audit exports")
	flags.String("export-bucket", "", "S3 bucket mirroring CSV exports")
	flags.Int("simulate-chunk-size", d.Batch.SimulateChunkSize, "Nodes per chunk in simulations")
	flags.Int("delete-chunk-size", d.Batch.DeleteChunkSize, "Nodes per chunk in deletions")
	flags.Int("workers", d.Batch.Workers, "Number of concurrent chunk workers")
	flags.Int("retries", d.Batch.Retries, "Maximum attempts per chunk")
	flags.Int("retry-backoff-ms", d.Batch.RetryBackoffMs, "Initial retry backoff in milliseconds")
	flags.Float64("chunks-per-second", 0, "Chunk issue rate limit (0 = unlimited)")
	flags.String("checkpoint", d.Checkpoint, "Checkpoint database file")
	flags.String("protected-type", d.ProtectedType, "Content type that is never deleted")
	flags.String("metrics-addr", "", "Address for the /metrics endpoint (empty disables)")
	flags.String("log-level", d.LogLevel, "Log level (debug/info/warn/error)")
	flags.Bool("show-progress", d.ShowProgress, "Show progress display")
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	if flags.Changed("db") {
		cfg.Database.Path, _ = flags.GetString("db")
	}
	if flags.Changed("bypass-access") {
		cfg.Database.BypassAccess, _ = flags.GetBool("bypass-access")
	}

	if flags.Changed("cache-type") {
		t, _ := flags.GetString("cache-type")
		cfg.Cache.Type = cache.Type(t)
	}
	if flags.Changed("cache-path") {
		cfg.Cache.Path, _ = flags.GetString("cache-path")
	}

	if flags.Changed("export-dir") {
		cfg.Export.Dir, _ = flags.GetString("export-dir")
	}
	if flags.Changed("export-bucket") {
		cfg.Export.S3.Bucket, _ = flags.GetString("export-bucket")
	}

	if flags.Changed("simulate-chunk-size") {
		cfg.Batch.SimulateChunkSize, _ = flags.GetInt("simulate-chunk-size")
	}
	if flags.Changed("delete-chunk-size") {
		cfg.Batch.DeleteChunkSize, _ = flags.GetInt("delete-chunk-size")
	}
	if flags.Changed("workers") {
		cfg.Batch.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("retries") {
		cfg.Batch.Retries, _ = flags.GetInt("retries")
	}
	if flags.Changed("retry-backoff-ms") {
		cfg.Batch.RetryBackoffMs, _ = flags.GetInt("retry-backoff-ms")
	}
	if flags.Changed("chunks-per-second") {
		cfg.Batch.ChunksPerSecond, _ = flags.GetFloat64("chunks-per-second")
	}

	if flags.Changed("checkpoint") {
		cfg.Checkpoint, _ = flags.GetString("checkpoint")
	}
	if flags.Changed("protected-type") {
		cfg.ProtectedType, _ = flags.GetString("protected-type")
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr, _ = flags.GetString("metrics-addr")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("show-progress") {
		cfg.ShowProgress, _ = flags.GetBool("show-progress")
	}

	return nil
}

func (c *Config) validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Checkpoint == "" {
		return fmt.Errorf("checkpoint path is required")
	}

	switch c.Cache.Type {
	case cache.TypeMemory, "":
	case cache.TypeBbolt:
		if c.Cache.Path == "" {
			return fmt.Errorf("cache path is required for the bbolt cache")
		}
	default:
		return fmt.Errorf("unsupported cache type: %s", c.Cache.Type)
	}

	if c.Export.Dir == "" {
		return fmt.Errorf("export directory is required")
	}
	if s3 := c.Export.S3; (s3.Endpoint != "") != (s3.Bucket != "") {
		return fmt.Errorf("export mirror needs both endpoint and bucket")
	}

	if c.Batch.SimulateChunkSize <= 0 || c.Batch.DeleteChunkSize <= 0 {
		return fmt.Errorf("chunk sizes must be positive")
	}
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.Batch.Retries <= 0 {
		return fmt.Errorf("retries must be at least 1")
	}
	if c.Batch.RetryBackoffMs < 0 || c.Batch.ChunksPerSecond < 0 {
		return fmt.Errorf("retry backoff and chunk rate cannot be negative")
	}

	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return err
	}

	return nil
}
