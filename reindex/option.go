package reindex

import (
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Default configuration values.
const (
	DefaultConcurrency = 1   // mailboxes indexed in parallel by ReIndexAll
	DefaultBatchSize   = 100 // messages fetched per page
)

type options struct {
	logger         *slog.Logger
	concurrency    int
	batchSize      int
	tracerProvider trace.TracerProvider
}

func newOptions(opts ...Option) *options {
	o := &options{
		logger:         slog.Default(),
		concurrency:    DefaultConcurrency,
		batchSize:      DefaultBatchSize,
		tracerProvider: otel.GetTracerProvider(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a ReIndexer.
type Option func(*options)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithConcurrency sets how many mailboxes ReIndexAll indexes in parallel.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithBatchSize sets the message page size.
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithTracerProvider sets the tracer provider used for reindex spans.
// Default is otel.GetTracerProvider().
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) {
		if tp != nil {
			o.tracerProvider = tp
		}
	}
}
