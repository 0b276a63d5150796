package postgres

import (
	"log/slog"
	"time"
)

// Default configuration values.
const (
	DefaultMailboxTable = "mailboxes"
	DefaultMessageTable = "messages"
	DefaultQuotaTable   = "quotas"
	DefaultTimeout      = 10 * time.Second
)

// options holds PostgreSQL store configuration.
type options struct {
	mailboxTable string
	messageTable string
	quotaTable   string
	timeout      time.Duration
	logger       *slog.Logger
}

func newOptions(opts ...Option) *options {
	o := &options{
		mailboxTable: DefaultMailboxTable,
		messageTable: DefaultMessageTable,
		quotaTable:   DefaultQuotaTable,
		timeout:      DefaultTimeout,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Option configures a PostgreSQL store.
type Option func(*options)

// WithTablePrefix prefixes every table name, e.g. "imap_" gives
// imap_mailboxes, imap_messages and imap_quotas.
func WithTablePrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.mailboxTable = prefix + DefaultMailboxTable
			o.messageTable = prefix + DefaultMessageTable
			o.quotaTable = prefix + DefaultQuotaTable
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
