// Package config loads runtime settings from an optional YAML file, then
// TASKLANE_* environment overrides, and validates the result.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sandeepkv93/tasklane/internal/storage"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("config: invalid")

type Config struct {
	Log       LogConfig       `yaml:"log"`
	Storage   StorageConfig   `yaml:"storage"`
	HTTP      HTTPConfig      `yaml:"http"`
	Migration MigrationConfig `yaml:"migration"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=text json"`
}

type StorageConfig struct {
	Driver string       `yaml:"driver" validate:"oneof=sqlite badger"`
	SQLite SQLiteConfig `yaml:"sqlite"`
	Badger BadgerConfig `yaml:"badger"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type BadgerConfig struct {
	Path       string `yaml:"path"`
	InMemory   bool   `yaml:"in_memory"`
	MaxRetries int    `yaml:"max_retries" validate:"gte=1,lte=1000"`
}

type HTTPConfig struct {
	Address        string        `yaml:"address" validate:"required,hostname_port"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`
}

type MigrationConfig struct {
	Concurrency int `yaml:"concurrency" validate:"gte=1,lte=64"`
}

type SchedulerConfig struct {
	Buffer int `yaml:"buffer" validate:"gte=1"`
}

type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

func DefaultConfig() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Storage: StorageConfig{
			Driver: storage.DriverSQLite,
			SQLite: SQLiteConfig{Path: "tasklane.db"},
			Badger: BadgerConfig{Path: "tasklane.badger", MaxRetries: 32},
		},
		HTTP:      HTTPConfig{Address: "127.0.0.1:8080", RequestTimeout: 10 * time.Second},
		Migration: MigrationConfig{Concurrency: 4},
		Scheduler: SchedulerConfig{Buffer: 64},
	}
}

// Load reads path when it is non-empty, applies environment overrides and
// validates. Unknown YAML keys are rejected.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if cfg, err = Parse(data, cfg); err != nil {
			return Config{}, err
		}
	}
	cfg = FromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Parse decodes YAML over base.
func Parse(data []byte, base Config) (Config, error) {
	cfg := base
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return cfg, nil
}

func FromEnv(base Config) Config {
	cfg := base
	if v, ok := getEnvString("TASKLANE_LOG_LEVEL"); ok {
		cfg.Log.Level = strings.ToLower(v)
	}
	if v, ok := getEnvString("TASKLANE_LOG_FORMAT"); ok {
		cfg.Log.Format = strings.ToLower(v)
	}
	if v, ok := getEnvString("TASKLANE_STORAGE_DRIVER"); ok {
		cfg.Storage.Driver = strings.ToLower(v)
	}
	if v, ok := getEnvString("TASKLANE_SQLITE_PATH"); ok {
		cfg.Storage.SQLite.Path = v
	}
	if v, ok := getEnvString("TASKLANE_BADGER_PATH"); ok {
		cfg.Storage.Badger.Path = v
	}
	if v, ok := getEnvBool("TASKLANE_BADGER_IN_MEMORY"); ok {
		cfg.Storage.Badger.InMemory = v
	}
	if v, ok := getEnvInt("TASKLANE_BADGER_MAX_RETRIES"); ok && v > 0 {
		cfg.Storage.Badger.MaxRetries = v
	}
	if v, ok := getEnvString("TASKLANE_HTTP_ADDRESS"); ok {
		cfg.HTTP.Address = v
	}
	if v, ok := getEnvString("TASKLANE_HTTP_REQUEST_TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.HTTP.RequestTimeout = d
		}
	}
	if v, ok := getEnvInt("TASKLANE_MIGRATION_CONCURRENCY"); ok && v > 0 {
		cfg.Migration.Concurrency = v
	}
	if v, ok := getEnvInt("TASKLANE_SCHEDULER_BUFFER"); ok && v > 0 {
		cfg.Scheduler.Buffer = v
	}
	if v, ok := getEnvBool("TASKLANE_TRACING_ENABLED"); ok {
		cfg.Tracing.Enabled = v
	}
	return cfg
}

var validate = validator.New()

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	switch c.Storage.Driver {
	case storage.DriverSQLite:
		if strings.TrimSpace(c.Storage.SQLite.Path) == "" {
			return fmt.Errorf("%w: storage.sqlite.path is required", ErrInvalidConfig)
		}
	case storage.DriverBadger:
		if !c.Storage.Badger.InMemory && strings.TrimSpace(c.Storage.Badger.Path) == "" {
			return fmt.Errorf("%w: storage.badger.path is required unless in_memory", ErrInvalidConfig)
		}
	}
	return nil
}

// StoreOptions translates the storage section for storage.Open.
func (c Config) StoreOptions(logger *slog.Logger) storage.Options {
	opts := storage.Options{Driver: c.Storage.Driver, Logger: logger}
	switch c.Storage.Driver {
	case storage.DriverBadger:
		opts.BadgerMaxRetries = c.Storage.Badger.MaxRetries
		if !c.Storage.Badger.InMemory {
			opts.Path = c.Storage.Badger.Path
		}
	default:
		opts.Path = c.Storage.SQLite.Path
	}
	return opts
}

func getEnvString(name string) (string, bool) {
	raw := strings.TrimSpace(os.Getenv(name))
	return raw, raw != ""
}

func getEnvInt(name string) (int, bool) {
	raw, ok := getEnvString(name)
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func getEnvBool(name string) (bool, bool) {
	raw, ok := getEnvString(name)
	if !ok {
		return false, false
	}
	switch strings.ToLower(raw) {
	case "1", "true", "yes", "y", "on":
		return true, true
	case "0", "false", "no", "n", "off":
		return false, true
	default:
		return false, false
	}
}
