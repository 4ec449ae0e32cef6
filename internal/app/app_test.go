package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"pwdemo/internal/config"
	"pwdemo/internal/db"
	"pwdemo/internal/seed"
	"pwdemo/internal/webhook"
)

func testConfig(driver, path string) *config.Config {
	return &config.Config{
		Port: 3099,
		Webhook: config.WebhookConfig{
			URL:     "https://hooks.test/in",
			Enabled: true,
			Timeout: time.Second,
			Source:  webhook.SourceEnv,
		},
		Database: config.DatabaseConfig{Driver: driver, Path: path},
		Log:      config.LogConfig{Level: "info", Format: "text"},
	}
}

func TestBuildWiresComponents(t *testing.T) {
	for _, driver := range []string{db.DriverMemory, db.DriverSQLite} {
		t.Run(driver, func(t *testing.T) {
			cfg := testConfig(driver, filepath.Join(t.TempDir(), "protocols.db"))
			a, err := Build(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
			if err != nil {
				t.Fatalf("build: %v", err)
			}
			defer a.Close()
			if a.Store.Kind() != driver {
				t.Fatalf("expected %s store, got %s", driver, a.Store.Kind())
			}
			if got := a.Dispatcher.Config(); got.URL != "https://hooks.test/in" || got.Source != webhook.SourceEnv {
				t.Fatalf("dispatcher not configured from settings: %+v", got)
			}
			if a.Engine.Metrics != a.Metrics || a.Engine.Notifier != a.Dispatcher {
				t.Fatalf("engine not wired to shared metrics and dispatcher")
			}
			n, err := a.Engine.Remaining(context.Background(), "u1")
			if err != nil || n != 3 {
				t.Fatalf("expected seeded store with 3 open for u1, got %d (%v)", n, err)
			}
		})
	}
}

func TestOpenStoreUnknownDriver(t *testing.T) {
	data, err := seed.Default()
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := OpenStore(context.Background(), db.Config{Driver: "mysql"}, data); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
