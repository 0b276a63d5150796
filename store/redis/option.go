package redis

import (
	"log/slog"
	"time"

	"github.com/rbaliyan/mailstore/events"
)

// Default configuration values.
const (
	DefaultKeyPrefix = "mailstore"
	DefaultTimeout   = 5 * time.Second
)

// options holds Redis store configuration.
type options struct {
	prefix  string
	timeout time.Duration
	codecs  *events.CodecRegistry
	logger  *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		prefix:  DefaultKeyPrefix,
		timeout: DefaultTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.codecs == nil {
		o.codecs = events.DefaultCodecRegistry()
	}
	return o
}

// Option configures a Redis store.
type Option func(*options)

// WithKeyPrefix sets the prefix of every key.
func WithKeyPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
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

// WithCodecRegistry sets the registry used to serialize dead-lettered events.
func WithCodecRegistry(r *events.CodecRegistry) Option {
	return func(o *options) {
		if r != nil {
			o.codecs = r
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
