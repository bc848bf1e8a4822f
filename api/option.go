package api

import (
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Default configuration values.
const (
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = rate.Limit(10) // requests per second
	DefaultRateBurst = 20
)

// Option configures a Client.
type Option func(*options)

type options struct {
	userID     string
	token      string
	channelID  string
	httpClient *http.Client
	timeout    time.Duration
	rateLimit  rate.Limit
	rateBurst  int
	tracing    bool
	logger     *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		timeout:   DefaultTimeout,
		rateLimit: DefaultRateLimit,
		rateBurst: DefaultRateBurst,
		tracing:   true,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithCredentials sets the inbox user and its password for basic auth.
func WithCredentials(userID, token string) Option {
	return func(o *options) {
		o.userID = userID
		o.token = token
	}
}

// WithChannelID sets the device channel sent with every request.
func WithChannelID(id string) Option {
	return func(o *options) {
		o.channelID = id
	}
}

// WithHTTPClient sets the underlying HTTP client. Its transport is wrapped
// for tracing unless WithTracing(false) is given.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.httpClient = c
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
// Ignored when WithHTTPClient is used.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithRateLimit paces outgoing requests. A limit of rate.Inf disables pacing.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(o *options) {
		if limit > 0 && burst > 0 {
			o.rateLimit = limit
			o.rateBurst = burst
		}
	}
}

// WithTracing enables or disables OpenTelemetry spans for HTTP requests.
// Default is enabled; spans go to the global tracer provider.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracing = enabled
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
