package scheduler

import (
	"log/slog"
	"time"
)

// DefaultTimeout bounds a single scheduled sync cycle.
const DefaultTimeout = 2 * time.Minute

type options struct {
	timeout    time.Duration
	runOnStart bool
	location   *time.Location
	logger     *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		timeout:  DefaultTimeout,
		location: time.UTC,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a Scheduler.
type Option func(*options)

// WithTimeout bounds each sync cycle.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithRunOnStart runs every job once when Run starts.
func WithRunOnStart(enabled bool) Option {
	return func(o *options) {
		o.runOnStart = enabled
	}
}

// WithLocation sets the time zone schedules are evaluated in. Default UTC.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.location = loc
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
