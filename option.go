package mailstore

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/event/v3/transport"
	"github.com/rbaliyan/mailstore/events"
	"github.com/rbaliyan/mailstore/mapper"
	"github.com/rbaliyan/mailstore/store"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Defaults of the service options.
const (
	DefaultShutdownTimeout = 30 * time.Second
	MinShutdownTimeout     = time.Second

	DefaultMaxConcurrentMutations = 64 // in-flight mutations per service

	DefaultMaxMessageSize = 50 * 1024 * 1024 // 50 MB
	DefaultMaxUserFlags   = 64               // keywords per message

	DefaultBatchSize = 100 // iterator page size
	MaxBatchSize     = 1000
)

// telemetryOptions configures OpenTelemetry.
type telemetryOptions struct {
	tracing        bool
	metrics        bool
	tracerProvider trace.TracerProvider // otel.GetTracerProvider() when nil
	meterProvider  metric.MeterProvider // otel.GetMeterProvider() when nil
}

// busOptions configures the event bus committed events are published on.
type busOptions struct {
	transport   transport.Transport   // takes precedence over redisClient
	redisClient redis.UniversalClient // Redis Streams transport
	onFailure   EventPublishFailureFunc
}

type options struct {
	store     store.Store
	sequences store.SequenceStore // replaces the store's counters when set
	quotas    store.QuotaStore    // replaces the store's quota counters when set
	mapper    mapper.Mapper       // derived from the store when nil
	logger    *slog.Logger
	name      string

	listeners    *events.Registry
	deadLetters  events.DeadLetters
	codecs       *events.CodecRegistry
	quotaUpdater bool
	plugins      []Plugin

	maxMessageSize         int64
	maxUserFlags           int
	maxConcurrentMutations int
	shutdownTimeout        time.Duration

	telemetry telemetryOptions
	bus       busOptions
}

// EventPublishFailureFunc is called when an event cannot be published on the
// bus. eventType is the event tag, such as "message.added".
type EventPublishFailureFunc func(eventType string, err error)

// safeEventPublishFailure runs the failure callback. A panicking callback is
// logged and does not reach the mutation that triggered the event.
func (o *options) safeEventPublishFailure(eventType string, err error) {
	if o.bus.onFailure == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic in event publish failure handler",
				"event", eventType,
				"original_error", err,
				"panic", r,
			)
		}
	}()
	o.bus.onFailure(eventType, err)
}

func newOptions(opts ...Option) *options {
	o := &options{
		logger:                 slog.Default(),
		name:                   "mailstore",
		quotaUpdater:           true,
		maxMessageSize:         DefaultMaxMessageSize,
		maxUserFlags:           DefaultMaxUserFlags,
		maxConcurrentMutations: DefaultMaxConcurrentMutations,
		shutdownTimeout:        DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.bus.onFailure == nil {
		logger := o.logger
		o.bus.onFailure = func(eventType string, err error) {
			logger.Error("failed to publish event", "event", eventType, "error", err)
		}
	}
	return o
}

// Option configures a Service.
type Option func(*options)

// WithStore sets the storage backend. Required.
func WithStore(s store.Store) Option {
	return func(o *options) {
		if s != nil {
			o.store = s
		}
	}
}

// WithSequenceStore keeps UID/ModSeq counters in a separate backend, for
// example a Redis counter store in front of a Mongo message store.
func WithSequenceStore(s store.SequenceStore) Option {
	return func(o *options) {
		if s != nil {
			o.sequences = s
		}
	}
}

// WithQuotaStore keeps quota counters in a separate backend.
func WithQuotaStore(q store.QuotaStore) Option {
	return func(o *options) {
		if q != nil {
			o.quotas = q
		}
	}
}

// WithMapper sets the transaction strategy. By default a Transactional
// mapper is used when the store implements store.TxBeginner, otherwise a
// NonTransactional one.
func WithMapper(m mapper.Mapper) Option {
	return func(o *options) {
		if m != nil {
			o.mapper = m
		}
	}
}

// WithLogger sets the logger. Default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithListeners sets the listener registry. By default the service creates
// its own.
func WithListeners(r *events.Registry) Option {
	return func(o *options) {
		if r != nil {
			o.listeners = r
		}
	}
}

// WithDeadLetters sets where events a listener could not handle are parked.
// Ignored when WithListeners is used.
func WithDeadLetters(dl events.DeadLetters) Option {
	return func(o *options) {
		if dl != nil {
			o.deadLetters = dl
		}
	}
}

// WithCodecRegistry sets the registry used to encode events for the bus.
// Default is events.DefaultCodecRegistry().
func WithCodecRegistry(r *events.CodecRegistry) Option {
	return func(o *options) {
		if r != nil {
			o.codecs = r
		}
	}
}

// WithQuotaUpdater enables or disables the built-in listener maintaining
// per-user message count and size counters. Default is enabled.
func WithQuotaUpdater(enabled bool) Option {
	return func(o *options) {
		o.quotaUpdater = enabled
	}
}

// WithPlugin registers a plugin. Plugins are initialized in registration
// order and closed in reverse.
func WithPlugin(p Plugin) Option {
	return WithPlugins(p)
}

// WithPlugins registers several plugins.
func WithPlugins(plugins ...Plugin) Option {
	return func(o *options) {
		for _, p := range plugins {
			if p != nil {
				o.plugins = append(o.plugins, p)
			}
		}
	}
}

// WithTracing turns span creation for mutations on or off. Default is off.
func WithTracing(enabled bool) Option {
	return func(o *options) {
		o.telemetry.tracing = enabled
	}
}

// WithMetrics turns mutation, allocation and listener metrics on or off.
// Default is off.
func WithMetrics(enabled bool) Option {
	return func(o *options) {
		o.telemetry.metrics = enabled
	}
}

// WithOTel sets tracing and metrics together.
func WithOTel(enabled bool) Option {
	return func(o *options) {
		o.telemetry.tracing = enabled
		o.telemetry.metrics = enabled
	}
}

// WithTracerProvider sets the tracer provider used when tracing is on.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.telemetry.tracerProvider = tp
		}
	}
}

// WithMeterProvider sets the meter provider used when metrics are on.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) {
		if mp != nil {
			o.telemetry.meterProvider = mp
		}
	}
}

// WithServiceName names the service on the event bus. Default is
// "mailstore".
func WithServiceName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithMaxMessageSize sets the largest accepted message in bytes.
// Default is 50 MB.
func WithMaxMessageSize(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxMessageSize = n
		}
	}
}

// WithMaxUserFlags sets how many keywords a message may carry.
// Default is 64.
func WithMaxUserFlags(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxUserFlags = n
		}
	}
}

// WithMaxConcurrentMutations bounds the mutations running at once.
// Default is 64.
func WithMaxConcurrentMutations(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrentMutations = n
		}
	}
}

// WithShutdownTimeout bounds how long Close waits for in-flight mutations.
// Default is 30 seconds; values under one second are ignored.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= MinShutdownTimeout {
			o.shutdownTimeout = d
		}
	}
}

// WithEventTransport sets the transport committed events are published on.
// Without it and without WithRedisClient events stay in process.
//
//	t, _ := redis.New(client)
//	svc, _ := mailstore.NewService(mailstore.WithEventTransport(t))
func WithEventTransport(t transport.Transport) Option {
	return func(o *options) {
		if t != nil {
			o.bus.transport = t
		}
	}
}

// WithRedisClient publishes committed events to Redis Streams through the
// given client. Ignored when WithEventTransport is used.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(o *options) {
		if client != nil {
			o.bus.redisClient = client
		}
	}
}

// WithEventPublishFailureHandler sets a callback for events that could not
// be published. By default they are logged.
func WithEventPublishFailureHandler(fn EventPublishFailureFunc) Option {
	return func(o *options) {
		if fn != nil {
			o.bus.onFailure = fn
		}
	}
}
