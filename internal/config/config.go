// Package config loads inboxctl settings from a TOML file, a .env file and
// INBOX_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Storage drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverMemory   = "memory"
)

// Config is the full inboxctl configuration.
type Config struct {
	API   APIConfig   `toml:"api"`
	Store StoreConfig `toml:"store"`
	Redis RedisConfig `toml:"redis"`
	Sync  SyncConfig  `toml:"sync"`
	Log   LogConfig   `toml:"log"`
}

// APIConfig locates the remote inbox.
type APIConfig struct {
	BaseURL   string        `toml:"base_url" env:"INBOX_API_URL"`
	User      string        `toml:"user" env:"INBOX_USER"`
	Token     string        `toml:"token" env:"INBOX_TOKEN"`
	ChannelID string        `toml:"channel_id" env:"INBOX_CHANNEL_ID"`
	Timeout   time.Duration `toml:"timeout" env:"INBOX_API_TIMEOUT"`
	RateLimit float64       `toml:"rate_limit" env:"INBOX_API_RATE_LIMIT"`
}

// StoreConfig selects the repository backend.
type StoreConfig struct {
	Driver   string `toml:"driver" env:"INBOX_STORE_DRIVER"`
	DSN      string `toml:"dsn" env:"INBOX_STORE_DSN"`
	Database string `toml:"database" env:"INBOX_STORE_DATABASE"`
}

// RedisConfig enables the shared cursor and the Redis event transport.
type RedisConfig struct {
	Addr      string        `toml:"addr" env:"INBOX_REDIS_ADDR"`
	Password  string        `toml:"password" env:"INBOX_REDIS_PASSWORD"`
	DB        int           `toml:"db" env:"INBOX_REDIS_DB"`
	CursorTTL time.Duration `toml:"cursor_ttl" env:"INBOX_REDIS_CURSOR_TTL"`
}

// SyncConfig tunes sync cycles and the watch schedule.
type SyncConfig struct {
	Schedule   string        `toml:"schedule" env:"INBOX_SYNC_SCHEDULE"`
	Timeout    time.Duration `toml:"timeout" env:"INBOX_SYNC_TIMEOUT"`
	MaxRetries int           `toml:"max_retries" env:"INBOX_SYNC_MAX_RETRIES"`
	StateSync  bool          `toml:"state_sync" env:"INBOX_SYNC_STATE"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `toml:"level" env:"INBOX_LOG_LEVEL"`
	Format string `toml:"format" env:"INBOX_LOG_FORMAT"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		API: APIConfig{
			Timeout:   30 * time.Second,
			RateLimit: 10,
		},
		Store: StoreConfig{
			Driver: DriverSQLite,
			DSN:    "inbox.db",
		},
		Sync: SyncConfig{
			Schedule:   "@every 5m",
			Timeout:    time.Minute,
			MaxRetries: 3,
			StateSync:  true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds a Config from defaults, the TOML file at path (skipped when
// path is empty), the dotenv files and the environment. Missing dotenv files
// are ignored.
func Load(path string, dotenv ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config: unknown keys in %s: %v", path, undecoded)
		}
	}

	if len(dotenv) == 0 {
		dotenv = []string{".env"}
	}
	for _, f := range dotenv {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings every command needs.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case DriverSQLite, DriverPostgres, DriverMongo:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store.driver %q", c.Store.Driver))
	}

	if c.API.BaseURL != "" {
		u, err := url.Parse(c.API.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("api.base_url %q must be an absolute URL", c.API.BaseURL))
		}
	}
	if c.Sync.MaxRetries < 0 {
		errs = append(errs, errors.New("sync.max_retries must not be negative"))
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// HasRemote reports whether enough is configured to talk to the server.
func (c *Config) HasRemote() bool {
	return c.API.BaseURL != "" && c.API.User != ""
}

// Logger builds the logger described by c.Log, writing to stderr.
func (c *Config) Logger() *slog.Logger {
	level, _ := parseLevel(c.Log.Level)
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("unknown log.level %q", s)
	}
	return l, nil
}
