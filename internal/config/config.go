// Package config provides configuration for the quarry query runner.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	qerrors "github.com/quarrydb/quarry/internal/errors"
)

// SourceFormat names where table data is read from.
type SourceFormat string

const (
	FormatMemory  SourceFormat = "memory"
	FormatSQLite  SourceFormat = "sqlite"
	FormatParquet SourceFormat = "parquet"
	FormatArrow   SourceFormat = "arrow"
	FormatSegment SourceFormat = "segment"
)

// Config holds the configuration of one quarry run.
type Config struct {
	// Engine configuration
	Engine EngineConfig `json:"engine" yaml:"engine"`

	// Source configuration
	Source SourceConfig `json:"source" yaml:"source"`

	// Storage configuration
	Storage StorageConfig `json:"storage" yaml:"storage"`

	// Output configuration
	Output OutputConfig `json:"output" yaml:"output"`
}

// EngineConfig holds execution settings.
type EngineConfig struct {
	// BatchSize is the number of rows per batch produced by sources and
	// blocking operators
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// MaxGroups bounds the distinct groups of a hash aggregate (0 = unbounded)
	MaxGroups int `json:"max_groups" yaml:"max_groups"`

	// Verbose logs plans and per-operator statistics
	Verbose bool `json:"verbose" yaml:"verbose"`

	// Timeout cancels the query after this long (0 = no timeout)
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// SourceConfig holds table source settings.
type SourceConfig struct {
	// Format is the source format: memory, sqlite, parquet, arrow, segment
	Format SourceFormat `json:"format" yaml:"format"`

	// Path is the SQLite database file, or the directory holding one
	// subdirectory of parquet, arrow or segment files per table
	Path string `json:"path" yaml:"path"`

	// Tables maps logical table names to physical names
	Tables map[string]string `json:"tables" yaml:"tables"`

	// Codec is the segment compression codec: none, snappy, lz4
	Codec string `json:"codec" yaml:"codec"`
}

// StorageConfig holds object storage settings. Segment sources read from
// it and segment exports upload to it.
type StorageConfig struct {
	// Type is the storage type: none, local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// CacheDir holds downloaded segments
	CacheDir string `json:"cache_dir" yaml:"cache_dir"`

	// CacheMaxBytes bounds the segment cache (0 = unbounded)
	CacheMaxBytes int64 `json:"cache_max_bytes" yaml:"cache_max_bytes"`

	// Concurrency is the number of parallel segment downloads
	Concurrency int `json:"concurrency" yaml:"concurrency"`

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

// OutputConfig holds result rendering settings.
type OutputConfig struct {
	// Format is the result format: table, csv, json
	Format string `json:"format" yaml:"format"`

	// Stats prints per-operator statistics after the result
	Stats bool `json:"stats" yaml:"stats"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			BatchSize: 4096,
		},
		Source: SourceConfig{
			Format: FormatMemory,
			Codec:  "snappy",
		},
		Storage: StorageConfig{
			Type:        "none",
			Concurrency: 8,
		},
		Output: OutputConfig{
			Format: "table",
		},
	}
}

// TableName returns the physical name of a logical table.
func (c *Config) TableName(logical string) string {
	if name, ok := c.Source.Tables[logical]; ok && name != "" {
		return name
	}
	return logical
}

// Resolve fills paths derived from other settings.
func (c *Config) Resolve() {
	if c.Storage.CacheDir == "" && c.Storage.Type != "none" {
		c.Storage.CacheDir = filepath.Join(os.TempDir(), "quarry-cache")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Engine.BatchSize <= 0 {
		return invalid("engine.batch_size must be positive, got %d", c.Engine.BatchSize)
	}
	if c.Engine.MaxGroups < 0 {
		return invalid("engine.max_groups must not be negative, got %d", c.Engine.MaxGroups)
	}
	if c.Engine.Timeout < 0 {
		return invalid("engine.timeout must not be negative, got %s", c.Engine.Timeout)
	}

	switch c.Source.Format {
	case FormatMemory:
	case FormatSQLite, FormatParquet, FormatArrow:
		if c.Source.Path == "" {
			return invalid("source.path is required for %s sources", c.Source.Format)
		}
	case FormatSegment:
		if c.Source.Path == "" && c.Storage.Type == "none" {
			return invalid("segment sources need source.path or a storage type")
		}
	default:
		return invalid("invalid source format: %s (must be memory, sqlite, parquet, arrow or segment)", c.Source.Format)
	}

	switch c.Source.Codec {
	case "", "none", "snappy", "lz4":
	default:
		return invalid("invalid codec: %s (must be none, snappy, or lz4)", c.Source.Codec)
	}

	switch c.Storage.Type {
	case "none":
	case "local":
		if c.Storage.Path == "" {
			return invalid("storage.path is required when storage type is local")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return invalid("s3.bucket is required when storage type is s3")
		}
	default:
		return invalid("invalid storage type: %s (must be none, local, or s3)", c.Storage.Type)
	}
	if c.Storage.CacheMaxBytes < 0 {
		return invalid("storage.cache_max_bytes must not be negative, got %d", c.Storage.CacheMaxBytes)
	}
	if c.Storage.Concurrency <= 0 {
		return invalid("storage.concurrency must be positive, got %d", c.Storage.Concurrency)
	}

	switch c.Output.Format {
	case "table", "csv", "json":
	default:
		return invalid("invalid output format: %s (must be table, csv, or json)", c.Output.Format)
	}
	return nil
}

// Load builds the configuration in precedence order: defaults, the
// optional config file, then environment variables. envFile, when set, is
// loaded into the environment first; a missing envFile is ignored.
func Load(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, qerrors.Wrap(qerrors.ErrCategoryConfig, qerrors.CodeInvalidConfig,
				"failed to load env file", err)
		}
	}

	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := LoadFromEnv(cfg); err != nil {
		return nil, err
	}
	cfg.Resolve()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.ErrCategoryConfig, qerrors.CodeInvalidConfig,
			"failed to read config file", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, qerrors.Wrap(qerrors.ErrCategoryConfig, qerrors.CodeInvalidConfig,
				"failed to parse YAML config", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, qerrors.Wrap(qerrors.ErrCategoryConfig, qerrors.CodeInvalidConfig,
				"failed to parse JSON config", err)
		}
	default:
		return nil, invalid("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv overrides cfg from environment variables.
// Environment variables use the QUARRY_ prefix.
func LoadFromEnv(cfg *Config) error {
	// Engine configuration
	if err := envInt("QUARRY_BATCH_SIZE", &cfg.Engine.BatchSize); err != nil {
		return err
	}
	if err := envInt("QUARRY_MAX_GROUPS", &cfg.Engine.MaxGroups); err != nil {
		return err
	}
	if err := envBool("QUARRY_VERBOSE", &cfg.Engine.Verbose); err != nil {
		return err
	}
	if v := os.Getenv("QUARRY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return invalid("QUARRY_TIMEOUT: %v", err)
		}
		cfg.Engine.Timeout = d
	}

	// Source configuration
	if v := os.Getenv("QUARRY_SOURCE_FORMAT"); v != "" {
		cfg.Source.Format = SourceFormat(v)
	}
	if v := os.Getenv("QUARRY_SOURCE_PATH"); v != "" {
		cfg.Source.Path = v
	}
	if v := os.Getenv("QUARRY_SOURCE_CODEC"); v != "" {
		cfg.Source.Codec = v
	}

	// Storage configuration
	if v := os.Getenv("QUARRY_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("QUARRY_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("QUARRY_CACHE_DIR"); v != "" {
		cfg.Storage.CacheDir = v
	}
	if v := os.Getenv("QUARRY_CACHE_MAX_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return invalid("QUARRY_CACHE_MAX_BYTES: %q is not an integer", v)
		}
		cfg.Storage.CacheMaxBytes = n
	}
	if err := envInt("QUARRY_FETCH_CONCURRENCY", &cfg.Storage.Concurrency); err != nil {
		return err
	}
	if v := os.Getenv("QUARRY_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("QUARRY_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("QUARRY_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
	if err := envBool("QUARRY_S3_PATH_STYLE", &cfg.Storage.S3.UsePathStyle); err != nil {
		return err
	}

	// Output configuration
	if v := os.Getenv("QUARRY_OUTPUT_FORMAT"); v != "" {
		cfg.Output.Format = v
	}
	return envBool("QUARRY_STATS", &cfg.Output.Stats)
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return invalid("%s: %q is not an integer", key, v)
	}
	*dst = n
	return nil
}

func envBool(key string, dst *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return invalid("%s: %q is not a boolean", key, v)
	}
	*dst = b
	return nil
}

func invalid(format string, args ...interface{}) error {
	return qerrors.NewConfigError(fmt.Sprintf(format, args...))
}
