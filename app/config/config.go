// Package config extends the core bot configuration with storage and sweeper settings.
package config

import (
	"fmt"
	"strings"
	"time"

	coreconfig "github.com/m3rciful/leakbot/core/config"
	coredatabase "github.com/m3rciful/leakbot/core/database"
)

// Storage drivers.
const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

const (
	DefaultStorageDir          = "./db"
	DefaultSweepIntervalSecs   = 20
	DefaultSweepMaxAttempts    = 10
	DefaultRetryInitialSeconds = 20
	DefaultRetryMaxSeconds     = 3600
	DefaultRetryJitter         = 0.2
)

// StorageConfig selects the backend store.
type StorageConfig struct {
	Driver string `yaml:"driver" envconfig:"DRIVER"`
	Dir    string `yaml:"dir" envconfig:"DIR"`
	// PersistOffset stores the update offset next to the data; nil means true.
	PersistOffset *bool `yaml:"persist_offset" envconfig:"PERSIST_OFFSET"`

	// SeedFile is a JSON array of leaks loaded into the memory store at startup.
	SeedFile string `yaml:"seed_file" envconfig:"SEED_FILE"`
}

// OffsetPersisted reports whether the update offset survives restarts.
func (s StorageConfig) OffsetPersisted() bool {
	return s.PersistOffset == nil || *s.PersistOffset
}

// SweeperConfig tunes the notification sweeper.
type SweeperConfig struct {
	IntervalSeconds int `yaml:"interval_seconds" envconfig:"INTERVAL_SECONDS"`
	// MaxAttempts caps failed sends per leak before it is dead-lettered; 0 retries forever, nil means the default.
	MaxAttempts         *int    `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS"`
	RetryInitialSeconds int     `yaml:"retry_initial_seconds" envconfig:"RETRY_INITIAL_SECONDS"`
	RetryMaxSeconds     int     `yaml:"retry_max_seconds" envconfig:"RETRY_MAX_SECONDS"`
	RetryJitter         float64 `yaml:"retry_jitter" envconfig:"RETRY_JITTER"`
}

// Interval returns the pause between sweeps.
func (s SweeperConfig) Interval() time.Duration {
	return time.Duration(s.IntervalSeconds) * time.Second
}

// Attempts returns the effective attempt cap.
func (s SweeperConfig) Attempts() int {
	if s.MaxAttempts == nil {
		return DefaultSweepMaxAttempts
	}
	return *s.MaxAttempts
}

// Config is the full application configuration.
type Config struct {
	coreconfig.Config `yaml:",inline"`

	Storage  StorageConfig       `yaml:"storage" envconfig:"STORAGE"`
	Database coredatabase.Config `yaml:"database" envconfig:"DATABASE"`
	Sweeper  SweeperConfig       `yaml:"sweeper" envconfig:"SWEEPER"`
}

// CoreConfig exposes the embedded core configuration.
func (c *Config) CoreConfig() *coreconfig.Config {
	if c == nil {
		return nil
	}
	return &c.Config
}

// Load reads the YAML file at path (optional) and the environment, then validates the result.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := coreconfig.Decode(path, &cfg); err != nil {
		return nil, err
	}
	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates the configuration and fills defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if err := coreconfig.Normalize(&cfg.Config); err != nil {
		return err
	}

	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverFile
	}
	switch cfg.Storage.Driver {
	case DriverFile:
		cfg.Storage.Dir = strings.TrimSpace(cfg.Storage.Dir)
		if cfg.Storage.Dir == "" {
			cfg.Storage.Dir = DefaultStorageDir
		}
	case DriverPostgres:
		if strings.TrimSpace(cfg.Database.Host) == "" || strings.TrimSpace(cfg.Database.Name) == "" {
			return fmt.Errorf("database.host and database.name are required for the postgres storage driver")
		}
		if cfg.Database.Port == "" {
			cfg.Database.Port = "5432"
		}
		if cfg.Database.SSLMode == "" {
			cfg.Database.SSLMode = "disable"
		}
	case DriverMemory:
	default:
		return fmt.Errorf("invalid storage.driver %q; allowed: file, postgres, memory", cfg.Storage.Driver)
	}

	cfg.Storage.SeedFile = strings.TrimSpace(cfg.Storage.SeedFile)
	if cfg.Storage.SeedFile != "" && cfg.Storage.Driver != DriverMemory {
		return fmt.Errorf("storage.seed_file is only supported by the memory storage driver")
	}

	sw := &cfg.Sweeper
	if sw.IntervalSeconds < 0 {
		return fmt.Errorf("sweeper.interval_seconds must be >= 0")
	}
	if sw.IntervalSeconds == 0 {
		sw.IntervalSeconds = DefaultSweepIntervalSecs
	}
	if sw.MaxAttempts != nil && *sw.MaxAttempts < 0 {
		return fmt.Errorf("sweeper.max_attempts must be >= 0")
	}
	if sw.RetryInitialSeconds <= 0 {
		sw.RetryInitialSeconds = DefaultRetryInitialSeconds
	}
	if sw.RetryMaxSeconds <= 0 {
		sw.RetryMaxSeconds = DefaultRetryMaxSeconds
	}
	if sw.RetryMaxSeconds < sw.RetryInitialSeconds {
		return fmt.Errorf("sweeper.retry_max_seconds must be >= sweeper.retry_initial_seconds")
	}
	if sw.RetryJitter < 0 || sw.RetryJitter >= 1 {
		return fmt.Errorf("sweeper.retry_jitter must be in [0, 1)")
	}
	if sw.RetryJitter == 0 {
		sw.RetryJitter = DefaultRetryJitter
	}
	return nil
}
