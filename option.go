package inbox

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/event/v3/transport"
	"github.com/rbaliyan/inbox/retry"
	"github.com/rbaliyan/inbox/store"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Default configuration values.
const (
	DefaultSyncTimeout     = 60 * time.Second // bound on one sync cycle
	MinSyncTimeout         = 1 * time.Second
	DefaultShutdownTimeout = 30 * time.Second // default graceful shutdown timeout
	MinShutdownTimeout     = 1 * time.Second  // minimum shutdown timeout
)

// options holds inbox configuration.
type options struct {
	repository store.Repository
	cursors    store.CursorStore // defaults to repository
	transport  Transport
	logger     *slog.Logger
	now        func() time.Time

	// Sync behaviour
	syncTimeout   time.Duration
	retryPolicy   retry.Policy
	autoRetry     bool // schedule a refresh with backoff after a transient failure
	expiryRefresh bool // refresh when the next message expires
	stateSync     bool // report local edits to the server right after they are made

	// Shutdown
	shutdownTimeout time.Duration

	// OpenTelemetry
	tracingEnabled bool
	metricsEnabled bool
	serviceName    string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider

	// Event handling
	eventTransport        transport.Transport     // Event transport (optional, uses noop if nil)
	redisClient           redis.UniversalClient   // Redis client for event transport (optional)
	onEventPublishFailure EventPublishFailureFunc // Callback for event publish failures (always set)
}

// EventPublishFailureFunc is called when an event fails to publish.
type EventPublishFailureFunc func(eventName string, err error)

// safeEventPublishFailure calls the event failure callback with panic recovery.
func (o *options) safeEventPublishFailure(eventName string, err error) {
	if o.onEventPublishFailure == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic in event publish failure handler",
				"event", eventName,
				"original_error", err,
				"panic", r,
			)
		}
	}()
	o.onEventPublishFailure(eventName, err)
}

// newOptions creates options with defaults and applies provided options.
func newOptions(opts ...Option) *options {
	o := &options{
		logger:          slog.Default(),
		now:             time.Now,
		syncTimeout:     DefaultSyncTimeout,
		retryPolicy:     retry.DefaultPolicy(),
		autoRetry:       true,
		expiryRefresh:   true,
		stateSync:       true,
		shutdownTimeout: DefaultShutdownTimeout,
		serviceName:     "inbox",
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.cursors == nil && o.repository != nil {
		o.cursors = o.repository
	}

	if o.onEventPublishFailure == nil {
		o.onEventPublishFailure = func(eventName string, err error) {
			o.logger.Error("failed to publish event", "event", eventName, "error", err)
		}
	}

	return o
}

// Option configures an inbox.
type Option func(*options)

// --- Core Options ---

// WithRepository sets the persistent repository (required).
func WithRepository(r store.Repository) Option {
	return func(o *options) {
		if r != nil {
			o.repository = r
		}
	}
}

// WithCursorStore keeps the list watermark somewhere other than the
// repository, for example store/redis when several processes share it.
func WithCursorStore(c store.CursorStore) Option {
	return func(o *options) {
		if c != nil {
			o.cursors = c
		}
	}
}

// WithTransport sets the remote transport. Without one, refreshes fail
// and the inbox works purely offline.
func WithTransport(t Transport) Option {
	return func(o *options) {
		if t != nil {
			o.transport = t
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

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// --- Sync Options ---

// WithSyncTimeout bounds a single sync cycle.
// Default is 60 seconds. Minimum is 1 second.
func WithSyncTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= MinSyncTimeout {
			o.syncTimeout = d
		}
	}
}

// WithRetryPolicy sets the backoff used to reschedule a refresh after a
// transient failure.
func WithRetryPolicy(p retry.Policy) Option {
	return func(o *options) {
		o.retryPolicy = p
	}
}

// WithAutoRetry enables or disables rescheduling after transient failures.
// Default is enabled.
func WithAutoRetry(enabled bool) Option {
	return func(o *options) {
		o.autoRetry = enabled
	}
}

// WithExpiryRefresh enables or disables the refresh that runs when the
// earliest message expiry passes. Default is enabled.
func WithExpiryRefresh(enabled bool) Option {
	return func(o *options) {
		o.expiryRefresh = enabled
	}
}

// WithStateSync controls whether local read and delete edits are reported
// to the server immediately. When disabled they are reported by the next
// sync cycle. Default is enabled.
func WithStateSync(enabled bool) Option {
	return func(o *options) {
		o.stateSync = enabled
	}
}

// WithShutdownTimeout sets the maximum time Close waits for queued work.
// Default is 30 seconds. Minimum is 1 second.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= MinShutdownTimeout {
			o.shutdownTimeout = d
		}
	}
}

// --- OTel Options ---

// WithTracing enables or disables OpenTelemetry tracing.
// Default is disabled.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
	}
}

// WithMetrics enables or disables OpenTelemetry metrics.
// Default is disabled.
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.metricsEnabled = enabled
	}
}

// WithOTel enables both OpenTelemetry tracing and metrics.
func WithOTel(enabled bool) Option {
	return func(o *options) {
		o.tracingEnabled = enabled
		o.metricsEnabled = enabled
	}
}

// WithServiceName sets the name used for the event bus.
// Default is "inbox".
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.serviceName = name
		}
	}
}

// WithTracerProvider sets a custom OpenTelemetry tracer provider.
// Default uses the global tracer provider from otel.GetTracerProvider().
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets a custom OpenTelemetry meter provider.
// Default uses the global meter provider from otel.GetMeterProvider().
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.meterProvider = mp
		}
	}
}

// --- Event Options ---

// WithEventTransport sets a custom event transport.
// Takes precedence over WithRedisClient.
func WithEventTransport(t transport.Transport) Option {
	return func(o *options) {
		if t != nil {
			o.eventTransport = t
		}
	}
}

// WithRedisClient publishes inbox events over Redis Streams.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) {
		if client != nil {
			o.redisClient = client
		}
	}
}

// WithEventPublishFailureHandler is called whenever an event fails to publish.
// The default handler logs the failure.
func WithEventPublishFailureHandler(fn EventPublishFailureFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.onEventPublishFailure = fn
		}
	}
}
