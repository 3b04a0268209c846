package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppConfigFromYAMLAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
telegram:
  token: "file-token"
  admin_id: 77
storage:
  driver: postgres
  persist_offset: false
database:
  host: db
  name: leakbot
  user: bot
sweeper:
  interval_seconds: 3600
  max_attempts: 0
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("DATABASE_PASSWORD", "secret")
	t.Setenv("SWEEPER_RETRY_MAX_SECONDS", "600")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.CoreConfig().Telegram.Token != "file-token" || cfg.Telegram.AdminID != 77 {
		t.Fatalf("telegram config not decoded: %+v", cfg.Telegram)
	}
	if cfg.Storage.Driver != DriverPostgres || cfg.Storage.OffsetPersisted() {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Database.Password != "secret" || cfg.Database.Port != "5432" || cfg.Database.SSLMode != "disable" {
		t.Fatalf("database = %+v", cfg.Database)
	}
	if cfg.Sweeper.Attempts() != 0 {
		t.Fatalf("attempts = %d, want explicit 0", cfg.Sweeper.Attempts())
	}
	if cfg.Sweeper.IntervalSeconds != 3600 || cfg.Sweeper.RetryMaxSeconds != 600 {
		t.Fatalf("sweeper = %+v", cfg.Sweeper)
	}
}

func TestLoadEnvOnlyDefaults(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "env-token")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Driver != DriverFile || cfg.Storage.Dir != DefaultStorageDir || !cfg.Storage.OffsetPersisted() {
		t.Fatalf("storage defaults = %+v", cfg.Storage)
	}
	if cfg.Sweeper.IntervalSeconds != DefaultSweepIntervalSecs || cfg.Sweeper.Attempts() != DefaultSweepMaxAttempts {
		t.Fatalf("sweeper defaults = %+v", cfg.Sweeper)
	}
	if cfg.Sweeper.RetryInitialSeconds != DefaultRetryInitialSeconds || cfg.Sweeper.RetryJitter != DefaultRetryJitter {
		t.Fatalf("retry defaults = %+v", cfg.Sweeper)
	}
}

func TestNormalizeRejectsBadValues(t *testing.T) {
	neg := -1
	cases := []Config{
		{Storage: StorageConfig{Driver: "redis"}},
		{Storage: StorageConfig{Driver: DriverPostgres}},
		{Sweeper: SweeperConfig{MaxAttempts: &neg}},
		{Sweeper: SweeperConfig{RetryInitialSeconds: 100, RetryMaxSeconds: 10}},
		{Sweeper: SweeperConfig{RetryJitter: 1.5}},
		{Storage: StorageConfig{Driver: DriverFile, SeedFile: "leaks.json"}},
	}
	for i, cfg := range cases {
		cfg.Telegram.Token = "t"
		if err := Normalize(&cfg); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}
