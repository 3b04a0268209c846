package cmd

import (
	"context"
	"errors"
	"testing"

	coreconfig "github.com/m3rciful/leakbot/core/config"
	coretelegram "github.com/m3rciful/leakbot/core/telegram"
)

type stubConfig struct{ core *coreconfig.Config }

func (s stubConfig) CoreConfig() *coreconfig.Config { return s.core }

type stubApp struct{ opts coretelegram.RunOptions }

func (a stubApp) TelegramRunOptions() (coretelegram.RunOptions, error) { return a.opts, nil }

func TestRunEnvOnlyConfigAddsMetricsWorker(t *testing.T) {
	t.Setenv("LEAKBOT_TEST_CONFIG", "")
	var gotPath = "unset"
	var gotOpts coretelegram.RunOptions

	err := Run(Options{
		ConfigEnvVar: "LEAKBOT_TEST_CONFIG",
		LoadConfig: func(path string) (ConfigCarrier, error) {
			gotPath = path
			return stubConfig{core: &coreconfig.Config{Metrics: coreconfig.MetricsConfig{Listen: "127.0.0.1:0"}}}, nil
		},
		Bootstrap: func(ConfigCarrier) (TelegramApp, error) {
			return stubApp{}, nil
		},
		ShutdownLogger: func() error { return nil },
		RunTelegram: func(ctx context.Context, opts coretelegram.RunOptions) error {
			gotOpts = opts
			return nil
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if gotPath != "" {
		t.Fatalf("config path = %q, want empty", gotPath)
	}
	if len(gotOpts.Workers) != 1 || gotOpts.Workers[0].Name != "metrics" {
		t.Fatalf("workers = %+v, want metrics worker", gotOpts.Workers)
	}
	if gotOpts.OnStart == nil || gotOpts.OnStop == nil {
		t.Fatal("lifecycle hooks not installed")
	}
}

func TestRunBootstrapError(t *testing.T) {
	boom := errors.New("boom")
	err := Run(Options{
		LoadConfig: func(string) (ConfigCarrier, error) {
			return stubConfig{core: &coreconfig.Config{}}, nil
		},
		Bootstrap:      func(ConfigCarrier) (TelegramApp, error) { return nil, boom },
		ShutdownLogger: func() error { return nil },
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want bootstrap error", err)
	}
}

func TestRunRequiresLoader(t *testing.T) {
	if err := Run(Options{}); err == nil {
		t.Fatal("expected error without LoadConfig")
	}
}
