package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"pwdemo/internal/db"
	"pwdemo/internal/webhook"
)

// DefaultPath is the optional config file read from the working directory.
const DefaultPath = "config.json"

const EnvPrefix = "PWDEMO"

// Environment variables that may carry the webhook URL, first non-empty wins.
var webhookURLEnv = []string{"local_webhook_url", "LOCAL_WEBHOOK_URL", "WEBHOOK_URL"}

// Config models config.json after environment overrides.
type Config struct {
	Port     int            `mapstructure:"port"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
}

type WebhookConfig struct {
	URL     string        `mapstructure:"url"`
	Enabled bool          `mapstructure:"enabled"`
	Timeout time.Duration `mapstructure:"timeout"`
	// Source names the layer that supplied URL: env or config.json.
	Source string `mapstructure:"-"`
}

type DatabaseConfig struct {
	// Driver is memory, sqlite or postgres. Empty selects postgres when URL is
	// set and memory otherwise.
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	URL    string `mapstructure:"url"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers the built-in defaults, the lowest precedence layer.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", 3099)
	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.enabled", true)
	v.SetDefault("webhook.timeout", "10s")
	v.SetDefault("database.driver", "")
	v.SetDefault("database.path", "data/protocols.db")
	v.SetDefault("database.url", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load resolves configuration with precedence defaults < config file < env.
// A missing file is only an error when the path was given explicitly.
// Flags bound to v by the caller sit above env.
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("port", EnvPrefix+"_PORT", "PORT")
	_ = v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL", "DATABASE_URL")
	_ = v.BindEnv(append([]string{"webhook.url", EnvPrefix + "_WEBHOOK_URL"}, webhookURLEnv...)...)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Webhook.URL = strings.TrimSpace(cfg.Webhook.URL)
	cfg.Webhook.Source = webhook.SourceFile
	if webhookURLFromEnv() {
		cfg.Webhook.Source = webhook.SourceEnv
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = db.DriverMemory
		if cfg.Database.URL != "" {
			cfg.Database.Driver = db.DriverPostgres
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func webhookURLFromEnv() bool {
	names := append([]string{EnvPrefix + "_WEBHOOK_URL"}, webhookURLEnv...)
	for _, name := range names {
		if strings.TrimSpace(os.Getenv(name)) != "" {
			return true
		}
	}
	return false
}

// Validate ensures the config is usable.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config.port must be between 1 and 65535, got %d", c.Port)
	}
	if c.Webhook.Timeout <= 0 {
		return fmt.Errorf("config.webhook.timeout must be positive")
	}
	switch c.Database.Driver {
	case db.DriverMemory:
	case db.DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("config.database.path is required for sqlite")
		}
	case db.DriverPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("config.database.url (or DATABASE_URL) is required for postgres")
		}
	default:
		return fmt.Errorf("config.database.driver must be memory, sqlite or postgres, got %q", c.Database.Driver)
	}
	if _, ok := parseLevel(c.Log.Level); !ok {
		return fmt.Errorf("config.log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config.log.format must be text or json")
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// DB returns the relational connection settings.
func (c *Config) DB() db.Config {
	return db.Config{Driver: c.Database.Driver, Path: c.Database.Path, DSN: c.Database.URL}
}

// NewLogger builds the process logger from the log settings.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.Level)
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(raw string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, true
	case "", "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}
