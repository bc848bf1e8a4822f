package mongo

import (
	"log/slog"
	"time"
)

// Default configuration values.
const (
	DefaultDatabase        = "inbox"
	DefaultCollection      = "messages"
	DefaultStateCollection = "inbox_state"
	DefaultTimeout         = 10 * time.Second
)

// options holds MongoDB store configuration.
type options struct {
	database        string
	collection      string
	stateCollection string
	timeout         time.Duration
	logger          *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		database:        DefaultDatabase,
		collection:      DefaultCollection,
		stateCollection: DefaultStateCollection,
		timeout:         DefaultTimeout,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a MongoDB store.
type Option func(*options)

// WithDatabase sets the database name.
func WithDatabase(name string) Option {
	return func(o *options) {
		if name != "" {
			o.database = name
		}
	}
}

// WithCollection sets the message collection name.
func WithCollection(name string) Option {
	return func(o *options) {
		if name != "" {
			o.collection = name
		}
	}
}

// WithStateCollection sets the collection holding the list cursor.
func WithStateCollection(name string) Option {
	return func(o *options) {
		if name != "" {
			o.stateCollection = name
		}
	}
}

// WithTimeout sets the operation timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
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
