package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultAPIURL is the public Telegram Bot API endpoint.
	DefaultAPIURL = "https://api.telegram.org"
	// DefaultLongPollTimeoutSeconds is the getUpdates long-poll timeout used when none is configured.
	DefaultLongPollTimeoutSeconds = 20
	// DefaultPollIntervalMS is the pause between two polling rounds.
	DefaultPollIntervalMS = 1000
	// DefaultRetryDelayMS is the pause after a failed getUpdates call.
	DefaultRetryDelayMS = 1000
)

// TelegramConfig holds Telegram bot related settings that are common for all bots.
type TelegramConfig struct {
	Token   string `yaml:"token" envconfig:"BOT_TOKEN"`
	APIURL  string `yaml:"api_url" envconfig:"API_URL"`
	AdminID int64  `yaml:"admin_id" envconfig:"ADMIN_ID"`
	// LongPollTimeoutSeconds defines long polling timeout; 0 -> default
	LongPollTimeoutSeconds int `yaml:"longpoll_timeout_seconds" envconfig:"LONGPOLL_TIMEOUT_SECONDS"`
	PollIntervalMS         int `yaml:"poll_interval_ms" envconfig:"POLL_INTERVAL_MS"`
	RetryDelayMS           int `yaml:"retry_delay_ms" envconfig:"RETRY_DELAY_MS"`
}

// LoggingConfig defines logging related configuration.
type LoggingConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL"`
	Format      string `yaml:"format" envconfig:"FORMAT"`
	KeysOrder   string `yaml:"keys_order" envconfig:"KEYS_ORDER"`
	DebugSample string `yaml:"debug_sample" envconfig:"DEBUG_SAMPLE"`
	Dir         string `yaml:"dir" envconfig:"DIR"`
	BotFile     string `yaml:"bot_file" envconfig:"BOT_FILE"`
	// MaxSizeMB and MaxBackups control rotation of the file sink.
	MaxSizeMB  int `yaml:"max_size_mb" envconfig:"MAX_SIZE_MB"`
	MaxBackups int `yaml:"max_backups" envconfig:"MAX_BACKUPS"`
	// Profile indicates environment profile such as "debug" or "prod".
	Profile string `yaml:"profile" envconfig:"PROFILE"`
}

const (
	// UpdateCallback identifies callback updates for rate limit exclusions.
	UpdateCallback = "callback"
	// UpdateMessage identifies message updates for rate limit exclusions.
	UpdateMessage = "message"
	// UpdateInlineQuery identifies inline query updates for rate limit exclusions.
	UpdateInlineQuery = "inline_query"
)

// RateLimitConfig holds settings for inbound rate limiting.
// ExcludeUpdates accepts update types to bypass limiting:
// - "callback": Telegram callback button presses
// - "message": standard text messages
// - "inline_query": inline query updates
type RateLimitConfig struct {
	IntervalMS     int      `yaml:"interval_ms" envconfig:"INTERVAL_MS"`
	ExcludeUpdates []string `yaml:"exclude_updates" envconfig:"EXCLUDE_UPDATES"`
}

// MetricsConfig controls the prometheus listener. An empty Listen disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen" envconfig:"LISTEN"`
}

// Config aggregates the configuration that belongs to the reusable core.
type Config struct {
	Telegram  TelegramConfig  `yaml:"telegram" envconfig:"TELEGRAM"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOG"`
	RateLimit RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	Metrics   MetricsConfig   `yaml:"metrics" envconfig:"METRICS"`
}

// Decode reads the YAML file at path into target and overlays environment variables.
// An empty path skips the file and reads the environment only.
func Decode(path string, target any) error {
	if strings.TrimSpace(path) != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, target); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}
	if err := envconfig.Process("", target); err != nil {
		return fmt.Errorf("failed to process env: %w", err)
	}
	return nil
}

// Load reads configuration from a YAML file and environment variables.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := Decode(path, &cfg); err != nil {
		return nil, err
	}
	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize performs basic validation of required configuration fields and adjusts defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram token is required")
	}
	cfg.Telegram.Token = strings.TrimSpace(cfg.Telegram.Token)

	cfg.Telegram.APIURL = strings.TrimRight(strings.TrimSpace(cfg.Telegram.APIURL), "/")
	if cfg.Telegram.APIURL == "" {
		cfg.Telegram.APIURL = DefaultAPIURL
	}

	if cfg.Telegram.LongPollTimeoutSeconds < 0 {
		return fmt.Errorf("telegram.longpoll_timeout_seconds must be >= 0")
	}
	if cfg.Telegram.LongPollTimeoutSeconds == 0 {
		cfg.Telegram.LongPollTimeoutSeconds = DefaultLongPollTimeoutSeconds
	}
	if cfg.Telegram.PollIntervalMS < 0 {
		return fmt.Errorf("telegram.poll_interval_ms must be >= 0")
	}
	if cfg.Telegram.PollIntervalMS == 0 {
		cfg.Telegram.PollIntervalMS = DefaultPollIntervalMS
	}
	if cfg.Telegram.RetryDelayMS < 0 {
		return fmt.Errorf("telegram.retry_delay_ms must be >= 0")
	}
	if cfg.Telegram.RetryDelayMS == 0 {
		cfg.Telegram.RetryDelayMS = DefaultRetryDelayMS
	}

	if cfg.Logging.MaxSizeMB <= 0 {
		cfg.Logging.MaxSizeMB = 50
	}
	if cfg.Logging.MaxBackups < 0 {
		cfg.Logging.MaxBackups = 0
	} else if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 5
	}

	allowed := map[string]struct{}{
		UpdateCallback:    {},
		UpdateMessage:     {},
		UpdateInlineQuery: {},
	}
	for i, v := range cfg.RateLimit.ExcludeUpdates {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := allowed[key]; !ok {
			return fmt.Errorf("invalid rate_limit.exclude_updates value %q; allowed: callback, message, inline_query", v)
		}
		cfg.RateLimit.ExcludeUpdates[i] = key
	}
	cfg.Metrics.Listen = strings.TrimSpace(cfg.Metrics.Listen)
	return nil
}
