// Package config holds the explicit configuration value passed to every
// circlereports constructor. Values come from defaults, an optional YAML file
// and CIRCLEREPORTS_* environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Storage drivers.
const (
	StorageFilesystem = "fs"
	StorageMemory     = "memory"
	StorageSQLite     = "sqlite"
	StoragePostgres   = "postgres"
	StorageBadger     = "badger"
)

// Config is the complete configuration.
type Config struct {
	// DataDir anchors every relative default path.
	DataDir string  `yaml:"data_dir" validate:"required"`
	Storage Storage `yaml:"storage"`
	Blob    Blob    `yaml:"blob"`
	Backup  Backup  `yaml:"backup"`
	Report  Report  `yaml:"report"`
	Log     Log     `yaml:"log"`
	Metrics Metrics `yaml:"metrics"`
}

// Storage selects and configures the persistence driver.
type Storage struct {
	Driver      string `yaml:"driver" validate:"oneof=fs memory sqlite postgres badger"`
	RecordsDir  string `yaml:"records_dir"`
	HistoryDir  string `yaml:"history_dir"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
	BadgerPath  string `yaml:"badger_path"`
}

// Blob configures the archive store used for backups.
type Blob struct {
	Driver string `yaml:"driver" validate:"oneof=fs s3 memory"`
	Root   string `yaml:"root"`
	S3     S3     `yaml:"s3"`
}

// S3 configures an S3 or MinIO bucket.
type S3 struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint" validate:"omitempty,url"`
	PathStyle bool   `yaml:"path_style"`
}

// Backup configures archive retention.
type Backup struct {
	// Retain is the number of archives kept after a backup; 0 keeps all.
	Retain int `yaml:"retain" validate:"gte=0"`
}

// Report configures extraction.
type Report struct {
	// Concurrency bounds parallel per-record loading.
	Concurrency int `yaml:"concurrency" validate:"gte=1,lte=64"`
}

// Log configures the process logger.
type Log struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

// Metrics selects the metrics recorder and optional trace output.
type Metrics struct {
	Driver    string `yaml:"driver" validate:"oneof=none expvar prometheus"`
	TraceFile string `yaml:"trace_file"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir: ".",
		Storage: Storage{Driver: StorageFilesystem},
		Blob:    Blob{Driver: "fs"},
		Backup:  Backup{Retain: 5},
		Report:  Report{Concurrency: 4},
		Log:     Log{Level: "info", Format: "text"},
		Metrics: Metrics{Driver: "expvar"},
	}
}

// Load builds a configuration from defaults, the YAML file at path (skipped
// when path is empty or the file does not exist) and the process environment.
func Load(path string) (Config, error) {
	return LoadWith(path, os.LookupEnv)
}

// LoadWith is Load with environment variables read through lookup.
func LoadWith(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := cfg.ApplyEnv(lookup); err != nil {
		return Config{}, err
	}
	cfg.resolvePaths()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overlays CIRCLEREPORTS_* variables read through lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	str("CIRCLEREPORTS_DATA_DIR", &c.DataDir)
	str("CIRCLEREPORTS_STORAGE_DRIVER", &c.Storage.Driver)
	str("CIRCLEREPORTS_RECORDS_DIR", &c.Storage.RecordsDir)
	str("CIRCLEREPORTS_HISTORY_DIR", &c.Storage.HistoryDir)
	str("CIRCLEREPORTS_SQLITE_PATH", &c.Storage.SQLitePath)
	str("CIRCLEREPORTS_POSTGRES_DSN", &c.Storage.PostgresDSN)
	str("CIRCLEREPORTS_BADGER_PATH", &c.Storage.BadgerPath)
	str("CIRCLEREPORTS_BLOB_DRIVER", &c.Blob.Driver)
	str("CIRCLEREPORTS_BLOB_FS_ROOT", &c.Blob.Root)
	str("CIRCLEREPORTS_BLOB_S3_BUCKET", &c.Blob.S3.Bucket)
	str("CIRCLEREPORTS_BLOB_S3_REGION", &c.Blob.S3.Region)
	str("CIRCLEREPORTS_BLOB_S3_ENDPOINT", &c.Blob.S3.Endpoint)
	str("CIRCLEREPORTS_LOG_LEVEL", &c.Log.Level)
	str("CIRCLEREPORTS_LOG_FORMAT", &c.Log.Format)
	str("CIRCLEREPORTS_METRICS", &c.Metrics.Driver)
	str("CIRCLEREPORTS_TRACE_FILE", &c.Metrics.TraceFile)
	if v, ok := lookup("CIRCLEREPORTS_BLOB_S3_PATH_STYLE"); ok && v != "" {
		c.Blob.S3.PathStyle = strings.EqualFold(v, "true")
	}
	if v, ok := lookup("CIRCLEREPORTS_BACKUP_RETAIN"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CIRCLEREPORTS_BACKUP_RETAIN: %w", err)
		}
		c.Backup.Retain = n
	}
	if v, ok := lookup("CIRCLEREPORTS_REPORT_CONCURRENCY"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CIRCLEREPORTS_REPORT_CONCURRENCY: %w", err)
		}
		c.Report.Concurrency = n
	}
	return nil
}

func (c *Config) resolvePaths() {
	join := func(dst *string, def string) {
		if *dst == "" {
			*dst = filepath.Join(c.DataDir, def)
		}
	}
	join(&c.Storage.RecordsDir, "profiles")
	join(&c.Storage.HistoryDir, "history")
	join(&c.Storage.SQLitePath, "circlereports.db")
	join(&c.Storage.BadgerPath, "badger")
	join(&c.Blob.Root, "backups")
}

var configValidate = validator.New()

// Validate checks enumerated values and driver-specific requirements.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Blob.Driver == "s3" && c.Blob.S3.Bucket == "" {
		return errors.New("invalid config: blob.s3.bucket required for s3 driver")
	}
	if c.Storage.Driver == StoragePostgres && c.Storage.PostgresDSN == "" {
		return errors.New("invalid config: storage.postgres_dsn required for postgres driver")
	}
	return nil
}

// SlogLevel maps the configured log level onto slog.
func (l Log) SlogLevel() slog.Level {
	switch l.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger returns a stderr logger using the configured level and format.
func (l Log) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: l.SlogLevel()}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
