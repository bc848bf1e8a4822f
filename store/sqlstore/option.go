package sqlstore

import (
	"log/slog"
	"time"
)

// Default configuration values.
const (
	DefaultTimeout         = 10 * time.Second
	DefaultMigrationsTable = "inbox_schema_migrations"

	// maxBatchIDs bounds the ids bound into a single IN clause. SQLite
	// limits host parameters per statement.
	maxBatchIDs = 500
)

// options holds SQL store configuration.
type options struct {
	timeout         time.Duration
	migrationsTable string
	logger          *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		timeout:         DefaultTimeout,
		migrationsTable: DefaultMigrationsTable,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a SQL store.
type Option func(*options)

// WithTimeout sets the operation timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithMigrationsTable sets the table that records the applied schema version.
func WithMigrationsTable(name string) Option {
	return func(o *options) {
		if name != "" {
			o.migrationsTable = name
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}
