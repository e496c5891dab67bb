// Package config provides configuration for the polyquery engine and CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	DriverMongo     = "mongo"
	DriverCassandra = "cassandra"
	DriverMemory    = "memory"
)

// Config holds the configuration of the engine.
type Config struct {
	// Stores lists the backing stores in priority order. The order is the
	// tie-break when a filter field is owned by more than one store.
	Stores []StoreConfig `json:"stores" yaml:"stores"`

	// DefaultTrialCount is the number of trials per mode when a benchmark
	// request does not specify one (>= 1)
	DefaultTrialCount int `json:"default_trial_count" yaml:"default_trial_count"`

	// JoinCardinalityHint presizes the hash join index (0 = unknown)
	JoinCardinalityHint int `json:"join_cardinality_hint" yaml:"join_cardinality_hint"`

	// JoinKey is the preferred shared key for cross-store requests
	JoinKey string `json:"join_key" yaml:"join_key"`

	// Benchmark configuration
	Benchmark BenchmarkConfig `json:"benchmark" yaml:"benchmark"`

	// Schema discovery configuration
	Schema SchemaConfig `json:"schema" yaml:"schema"`

	// Log configuration
	Log LogConfig `json:"log" yaml:"log"`

	// History configuration
	History HistoryConfig `json:"history" yaml:"history"`

	// Report export configuration
	Report ReportConfig `json:"report" yaml:"report"`

	// Metrics configuration
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`

	// Advisor configuration
	Advisor AdvisorConfig `json:"advisor" yaml:"advisor"`
}

// StoreConfig describes one backing store.
type StoreConfig struct {
	// ID is the store identifier used in plans and errors
	ID string `json:"id" yaml:"id"`

	// Kind is the data model: document or column
	Kind string `json:"kind" yaml:"kind"`

	// Driver selects the client: mongo, cassandra or memory.
	// Defaults to mongo for document stores and cassandra for column stores.
	Driver string `json:"driver" yaml:"driver"`

	// URI is the connection string (mongo)
	URI string `json:"uri" yaml:"uri"`

	// Database is the database name (mongo)
	Database string `json:"database" yaml:"database"`

	// Hosts lists the contact points (cassandra)
	Hosts []string `json:"hosts" yaml:"hosts"`

	// Port is the native protocol port (cassandra)
	Port int `json:"port" yaml:"port"`

	// Keyspace is the keyspace to introspect and query (cassandra)
	Keyspace string `json:"keyspace" yaml:"keyspace"`

	// Consistency is the read consistency level (cassandra)
	Consistency string `json:"consistency" yaml:"consistency"`

	// Fixture is a JSON file with entities and rows (memory)
	Fixture string `json:"fixture" yaml:"fixture"`

	// Timeout bounds connection setup and individual queries
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// ScanLatency adds a fixed delay to every secondary scan (memory).
	// It makes the in-memory demo behave like a store where scans cost I/O.
	ScanLatency time.Duration `json:"scan_latency" yaml:"scan_latency"`

	// PartitionKeys overrides discovered partition keys per entity
	PartitionKeys map[string][]string `json:"partition_keys" yaml:"partition_keys"`

	// Variants maps a logical entity to its physical variants in
	// preference order. Entities not listed are grouped by the
	// "<logical>_by_<field>" naming convention.
	Variants map[string][]string `json:"variants" yaml:"variants"`
}

// BenchmarkConfig holds timing harness configuration.
type BenchmarkConfig struct {
	// Workers bounds concurrent trials; 0 or 1 runs trials sequentially
	Workers int `json:"workers" yaml:"workers"`

	// CacheWarmup runs and discards one untimed trial before timing
	CacheWarmup bool `json:"cache_warmup" yaml:"cache_warmup"`

	// TrialInterval is the minimum spacing between trial starts
	TrialInterval time.Duration `json:"trial_interval" yaml:"trial_interval"`

	// TrialTimeout bounds a single trial (0 = no limit)
	TrialTimeout time.Duration `json:"trial_timeout" yaml:"trial_timeout"`
}

// SchemaConfig holds schema discovery configuration.
type SchemaConfig struct {
	// SampleSize is the number of documents sampled per collection
	SampleSize int `json:"sample_size" yaml:"sample_size"`

	// MaxDepth is the deepest nested document path surveyed
	MaxDepth int `json:"max_depth" yaml:"max_depth"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `json:"level" yaml:"level"`

	// Format is text or json
	Format string `json:"format" yaml:"format"`
}

// HistoryConfig holds benchmark history configuration.
type HistoryConfig struct {
	// Path is the SQLite database path; empty disables history
	Path string `json:"path" yaml:"path"`
}

// ReportConfig holds benchmark report export configuration.
type ReportConfig struct {
	// Enabled turns on report export after each benchmark
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Format is json or csv
	Format string `json:"format" yaml:"format"`

	// Prefix is prepended to report object paths
	Prefix string `json:"prefix" yaml:"prefix"`

	// Storage is the report destination
	Storage StorageConfig `json:"storage" yaml:"storage"`
}

// MetricsConfig holds Prometheus exposition configuration.
type MetricsConfig struct {
	// Addr is the listen address of the /metrics endpoint; empty disables it
	Addr string `json:"addr" yaml:"addr"`
}

// AdvisorConfig holds denormalization advisor configuration.
type AdvisorConfig struct {
	// ScanThreshold is the number of scans of a field before a variant
	// keyed by it is suggested
	ScanThreshold int64 `json:"scan_threshold" yaml:"scan_threshold"`

	// MaxSuggestions bounds the suggestions returned
	MaxSuggestions int `json:"max_suggestions" yaml:"max_suggestions"`

	// Window is how long filter statistics are kept
	Window time.Duration `json:"window" yaml:"window"`
}

// StorageConfig holds storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// UsePathStyle enables path-style addressing
	UsePathStyle bool `json:"use_path_style" yaml:"use_path_style"`
}

// DefaultConfig returns the default configuration for local development.
// It carries no stores; callers add them from a file or flags.
func DefaultConfig() *Config {
	return &Config{
		DefaultTrialCount: 10,
		Benchmark: BenchmarkConfig{
			Workers: 1,
		},
		Schema: SchemaConfig{
			SampleSize: 100,
			MaxDepth:   2,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Advisor: AdvisorConfig{
			ScanThreshold:  10,
			MaxSuggestions: 5,
			Window:         time.Hour,
		},
		Report: ReportConfig{
			Format: "json",
			Prefix: "reports",
			Storage: StorageConfig{
				Type: "local",
				Path: "./data/polyquery/reports",
			},
		},
	}
}

// Resolve fills per-store defaults that depend on other fields.
func (c *Config) Resolve() {
	for i := range c.Stores {
		s := &c.Stores[i]
		if s.Driver == "" {
			switch s.Kind {
			case "document":
				s.Driver = DriverMongo
			case "column":
				s.Driver = DriverCassandra
			}
		}
		if s.Timeout == 0 {
			s.Timeout = 10 * time.Second
		}
		if s.Driver == DriverCassandra {
			if s.Port == 0 {
				s.Port = 9042
			}
			if s.Consistency == "" {
				s.Consistency = "ONE"
			}
		}
	}
}

// Store returns the configuration of the store with the given ID.
func (c *Config) Store(id string) (StoreConfig, bool) {
	for _, s := range c.Stores {
		if s.ID == id {
			return s, true
		}
	}
	return StoreConfig{}, false
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if len(c.Stores) == 0 {
		return fmt.Errorf("at least one store is required")
	}

	seen := make(map[string]bool, len(c.Stores))
	for i, s := range c.Stores {
		if s.ID == "" {
			return fmt.Errorf("stores[%d].id is required", i)
		}
		if seen[s.ID] {
			return fmt.Errorf("duplicate store id: %s", s.ID)
		}
		seen[s.ID] = true

		if s.Kind != "document" && s.Kind != "column" {
			return fmt.Errorf("store %s: invalid kind %q (must be document or column)", s.ID, s.Kind)
		}
		switch s.Driver {
		case DriverMongo:
			if s.Kind != "document" {
				return fmt.Errorf("store %s: mongo driver requires kind document", s.ID)
			}
			if s.URI == "" || s.Database == "" {
				return fmt.Errorf("store %s: uri and database are required for mongo", s.ID)
			}
		case DriverCassandra:
			if s.Kind != "column" {
				return fmt.Errorf("store %s: cassandra driver requires kind column", s.ID)
			}
			if len(s.Hosts) == 0 || s.Keyspace == "" {
				return fmt.Errorf("store %s: hosts and keyspace are required for cassandra", s.ID)
			}
		case DriverMemory:
			if s.ScanLatency < 0 {
				return fmt.Errorf("store %s: scan_latency must be >= 0", s.ID)
			}
		default:
			return fmt.Errorf("store %s: invalid driver %q (must be mongo, cassandra, or memory)", s.ID, s.Driver)
		}
	}

	if c.DefaultTrialCount < 1 {
		return fmt.Errorf("default_trial_count must be >= 1, got %d", c.DefaultTrialCount)
	}
	if c.JoinCardinalityHint < 0 {
		return fmt.Errorf("join_cardinality_hint must be >= 0, got %d", c.JoinCardinalityHint)
	}
	if c.Benchmark.Workers < 0 {
		return fmt.Errorf("benchmark.workers must be >= 0, got %d", c.Benchmark.Workers)
	}
	if c.Schema.SampleSize < 1 {
		return fmt.Errorf("schema.sample_size must be >= 1, got %d", c.Schema.SampleSize)
	}
	if c.Schema.MaxDepth < 1 {
		return fmt.Errorf("schema.max_depth must be >= 1, got %d", c.Schema.MaxDepth)
	}

	if c.Advisor.ScanThreshold < 1 {
		return fmt.Errorf("advisor.scan_threshold must be >= 1, got %d", c.Advisor.ScanThreshold)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Log.Format)
	}

	if c.Report.Enabled {
		if c.Report.Format != "json" && c.Report.Format != "csv" {
			return fmt.Errorf("invalid report format: %s (must be json or csv)", c.Report.Format)
		}
		if c.Report.Storage.Type != "local" && c.Report.Storage.Type != "s3" {
			return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Report.Storage.Type)
		}
		if c.Report.Storage.Type == "s3" && c.Report.Storage.S3.Bucket == "" {
			return fmt.Errorf("s3.bucket is required when storage type is s3")
		}
	}

	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadDotEnv loads a .env file into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the POLYQUERY_ prefix. Per-store settings use
// POLYQUERY_STORE_<ID>_<SETTING> with the store ID upper-cased.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("POLYQUERY_DEFAULT_TRIAL_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DefaultTrialCount = n
		}
	}
	if v := os.Getenv("POLYQUERY_JOIN_CARDINALITY_HINT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.JoinCardinalityHint = n
		}
	}
	if v := os.Getenv("POLYQUERY_JOIN_KEY"); v != "" {
		cfg.JoinKey = v
	}

	// Benchmark configuration
	if v := os.Getenv("POLYQUERY_BENCHMARK_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Benchmark.Workers = n
		}
	}
	if v := os.Getenv("POLYQUERY_BENCHMARK_CACHE_WARMUP"); v != "" {
		cfg.Benchmark.CacheWarmup = v == "true" || v == "1"
	}
	if v := os.Getenv("POLYQUERY_BENCHMARK_TRIAL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Benchmark.TrialInterval = d
		}
	}
	if v := os.Getenv("POLYQUERY_BENCHMARK_TRIAL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Benchmark.TrialTimeout = d
		}
	}

	// Log configuration
	if v := os.Getenv("POLYQUERY_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("POLYQUERY_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	if v := os.Getenv("POLYQUERY_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}
	if v := os.Getenv("POLYQUERY_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}

	// Report configuration
	if v := os.Getenv("POLYQUERY_REPORT_ENABLED"); v != "" {
		cfg.Report.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("POLYQUERY_REPORT_FORMAT"); v != "" {
		cfg.Report.Format = v
	}
	if v := os.Getenv("POLYQUERY_STORAGE_TYPE"); v != "" {
		cfg.Report.Storage.Type = v
	}
	if v := os.Getenv("POLYQUERY_STORAGE_PATH"); v != "" {
		cfg.Report.Storage.Path = v
	}
	if v := os.Getenv("POLYQUERY_S3_BUCKET"); v != "" {
		cfg.Report.Storage.S3.Bucket = v
	}
	if v := os.Getenv("POLYQUERY_S3_REGION"); v != "" {
		cfg.Report.Storage.S3.Region = v
	}
	if v := os.Getenv("POLYQUERY_S3_ENDPOINT"); v != "" {
		cfg.Report.Storage.S3.Endpoint = v
	}

	// Store connection overrides
	for i := range cfg.Stores {
		s := &cfg.Stores[i]
		prefix := "POLYQUERY_STORE_" + envName(s.ID) + "_"
		if v := os.Getenv(prefix + "URI"); v != "" {
			s.URI = v
		}
		if v := os.Getenv(prefix + "HOSTS"); v != "" {
			s.Hosts = strings.Split(v, ",")
		}
		if v := os.Getenv(prefix + "KEYSPACE"); v != "" {
			s.Keyspace = v
		}
		if v := os.Getenv(prefix + "DATABASE"); v != "" {
			s.Database = v
		}
	}
}

func envName(id string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'a' && r <= 'z' {
			return r - 'a' + 'A'
		}
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return '_'
	}, id)
}

// EnsureDirectories creates the local directories the configuration needs.
func (c *Config) EnsureDirectories() error {
	var dirs []string
	if c.History.Path != "" {
		dirs = append(dirs, filepath.Dir(c.History.Path))
	}
	if c.Report.Enabled && c.Report.Storage.Type == "local" {
		dirs = append(dirs, c.Report.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
