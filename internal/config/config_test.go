package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"pwdemo/internal/db"
	"pwdemo/internal/webhook"
)

// clearEnv unsets every variable Load consults for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range append([]string{
		"PORT", "DATABASE_URL",
		EnvPrefix + "_PORT", EnvPrefix + "_WEBHOOK_URL", EnvPrefix + "_DATABASE_URL",
		EnvPrefix + "_DATABASE_DRIVER", EnvPrefix + "_WEBHOOK_ENABLED", EnvPrefix + "_LOG_LEVEL",
	}, webhookURLEnv...) {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(viper.New(), writeConfig(t, `{}`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 3099 || cfg.Webhook.URL != "" || !cfg.Webhook.Enabled {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.Webhook.Timeout != 10*time.Second || cfg.Webhook.Source != webhook.SourceFile {
		t.Fatalf("unexpected webhook defaults: %+v", cfg.Webhook)
	}
	if cfg.Database.Driver != db.DriverMemory || cfg.Addr() != ":3099" {
		t.Fatalf("unexpected database defaults: %+v", cfg.Database)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `{"port": 4000, "webhook": {"url": "https://file.test/hook", "enabled": false, "timeout": "3s"}}`)

	cfg, err := Load(viper.New(), path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 4000 || cfg.Webhook.URL != "https://file.test/hook" || cfg.Webhook.Enabled {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.Webhook.Timeout != 3*time.Second || cfg.Webhook.Source != webhook.SourceFile {
		t.Fatalf("unexpected webhook config: %+v", cfg.Webhook)
	}

	t.Setenv("WEBHOOK_URL", "  https://env.test/hook  ")
	t.Setenv("PORT", "5000")
	cfg, err = Load(viper.New(), path)
	if err != nil {
		t.Fatalf("load with env: %v", err)
	}
	if cfg.Webhook.URL != "https://env.test/hook" || cfg.Webhook.Source != webhook.SourceEnv {
		t.Fatalf("env should override the file: %+v", cfg.Webhook)
	}
	if cfg.Port != 5000 {
		t.Fatalf("PORT should override the file, got %d", cfg.Port)
	}
}

func TestLoadWebhookEnvOrder(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEBHOOK_URL", "https://third.test")
	t.Setenv("LOCAL_WEBHOOK_URL", "https://second.test")
	cfg, err := Load(viper.New(), writeConfig(t, `{}`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Webhook.URL != "https://second.test" {
		t.Fatalf("expected LOCAL_WEBHOOK_URL to win over WEBHOOK_URL, got %s", cfg.Webhook.URL)
	}
}

func TestLoadDatabaseURLSelectsPostgres(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://demo@localhost/protocols")
	cfg, err := Load(viper.New(), writeConfig(t, `{}`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.Driver != db.DriverPostgres || cfg.DB().DSN != "postgres://demo@localhost/protocols" {
		t.Fatalf("expected postgres driver, got %+v", cfg.Database)
	}
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)
	cases := []struct {
		name string
		body string
		want string
	}{
		{"bad driver", `{"database": {"driver": "mysql"}}`, "database.driver"},
		{"bad port", `{"port": 70000}`, "config.port"},
		{"bad timeout", `{"webhook": {"timeout": "0s"}}`, "timeout"},
		{"postgres without url", `{"database": {"driver": "postgres"}}`, "database.url"},
		{"bad level", `{"log": {"level": "loud"}}`, "log.level"},
		{"malformed", `{"port": `, "read config"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(viper.New(), writeConfig(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}

	if _, err := Load(viper.New(), filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("an explicit missing config file should fail")
	}
}

func TestNewLogger(t *testing.T) {
	var buf strings.Builder
	logger := LogConfig{Level: "warn", Format: "json"}.NewLogger(&buf)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"msg":"shown"`) {
		t.Fatalf("unexpected log output: %s", out)
	}
}
