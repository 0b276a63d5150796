// Package copier copies every mailbox and message from one service to
// another, e.g. when migrating between backends.
//
// Copying is idempotent per mailbox (existing mailboxes are reused) but not
// per message: running a copy twice appends every message twice.
package copier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rbaliyan/mailstore"
	"github.com/rbaliyan/mailstore/retry"
	"github.com/rbaliyan/mailstore/store"
)

// Default configuration values.
const (
	DefaultBatchSize      = 100
	DefaultAppendRetries  = 3
	DefaultInitialBackoff = 50 * time.Millisecond
)

type options struct {
	logger    *slog.Logger
	batchSize int
	retry     retry.Config
	query     store.MailboxQuery
}

// Option configures a Copier.
type Option func(*options)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithBatchSize sets the message page size read from the source.
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithRetry sets the retry policy applied to each append. The policy's
// IsRetryable defaults to mailstore.IsRetryableError.
func WithRetry(cfg retry.Config) Option {
	return func(o *options) {
		if cfg.IsRetryable == nil {
			cfg.IsRetryable = mailstore.IsRetryableError
		}
		o.retry = cfg
	}
}

// WithQuery restricts the copy to matching source mailboxes.
func WithQuery(q store.MailboxQuery) Option {
	return func(o *options) {
		o.query = q
	}
}

// Result is the aggregate outcome of a copy.
type Result int

const (
	Completed Result = iota
	Partial
	Failed
)

func (r Result) String() string {
	switch r {
	case Completed:
		return "completed"
	case Partial:
		return "partial"
	default:
		return "failed"
	}
}

// MailboxFailure records a mailbox that could not be copied completely.
type MailboxFailure struct {
	Path   store.MailboxPath
	Copied int64 // messages appended before the failure
	Err    error
}

func (f *MailboxFailure) Error() string {
	return fmt.Sprintf("copier: mailbox %s after %d messages: %v", f.Path, f.Copied, f.Err)
}

func (f *MailboxFailure) Unwrap() error {
	return f.Err
}

// Report summarizes a copy.
type Report struct {
	Result            Result
	MailboxesCreated  int
	MailboxesExisting int
	MessagesCopied    int64
	Failures          []*MailboxFailure
}

// Copier copies mailboxes between services.
type Copier struct {
	opts *options
}

// New creates a Copier.
func New(opts ...Option) *Copier {
	o := &options{
		logger:    slog.Default(),
		batchSize: DefaultBatchSize,
		retry: retry.Config{
			MaxRetries:     DefaultAppendRetries,
			InitialBackoff: DefaultInitialBackoff,
			IsRetryable:    mailstore.IsRetryableError,
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Copier{opts: o}
}

// CopyMailboxes copies every source mailbox into dst under the same path.
// A mailbox that fails is recorded and the copy moves on. The returned error
// is non-nil only when the source listing fails or ctx is done.
func (c *Copier) CopyMailboxes(ctx context.Context, src, dst mailstore.Service) (*Report, error) {
	it, err := src.MailboxPaths(ctx, c.opts.query)
	if err != nil {
		return &Report{Result: Failed}, fmt.Errorf("copier: list source mailboxes: %w", err)
	}

	report := &Report{}
	var listErr error
	for {
		ok, err := it.Next(ctx)
		if err != nil {
			listErr = err
			break
		}
		if !ok {
			break
		}
		path, err := it.Path()
		if err != nil {
			listErr = err
			break
		}

		copied, err := c.copyMailbox(ctx, src, dst, path, report)
		report.MessagesCopied += copied
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				listErr = ctxErr
				break
			}
			c.opts.logger.Error("copier: mailbox failed", "path", path.String(), "copied", copied, "error", err)
			report.Failures = append(report.Failures, &MailboxFailure{Path: path, Copied: copied, Err: err})
		}
	}

	touched := report.MailboxesCreated + report.MailboxesExisting
	switch {
	case listErr != nil && touched == 0:
		report.Result = Failed
	case listErr != nil:
		report.Result = Partial
	case len(report.Failures) == 0:
		report.Result = Completed
	case len(report.Failures) >= touched:
		report.Result = Failed
	default:
		report.Result = Partial
	}

	if listErr != nil {
		return report, fmt.Errorf("copier: %w", listErr)
	}
	c.opts.logger.Info("copy finished",
		"result", report.Result.String(),
		"created", report.MailboxesCreated,
		"existing", report.MailboxesExisting,
		"messages", report.MessagesCopied)
	return report, nil
}

// copyMailbox creates path in dst and re-appends every source message.
func (c *Copier) copyMailbox(ctx context.Context, src, dst mailstore.Service, path store.MailboxPath, report *Report) (int64, error) {
	from, err := src.GetMailbox(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("load source: %w", err)
	}

	_, err = dst.CreateMailbox(ctx, path)
	switch {
	case err == nil:
		report.MailboxesCreated++
	case errors.Is(err, store.ErrMailboxExists):
		report.MailboxesExisting++
	default:
		return 0, fmt.Errorf("create destination: %w", err)
	}

	it, err := src.Messages(ctx, from.ID, mailstore.StreamOptions{BatchSize: c.opts.batchSize})
	if err != nil {
		return 0, err
	}

	var copied int64
	for {
		ok, err := it.Next(ctx)
		if err != nil {
			return copied, err
		}
		if !ok {
			return copied, nil
		}
		msg, err := it.Message()
		if err != nil {
			return copied, err
		}

		req := mailstore.AppendRequest{
			Body:         msg.Body,
			Size:         msg.Size,
			Flags:        msg.Flags,
			InternalDate: msg.InternalDate,
			MessageID:    msg.MessageID,
		}
		err = retry.Do(ctx, c.opts.retry, func(ctx context.Context) error {
			_, err := dst.Append(ctx, path, req)
			return err
		})
		if err != nil {
			return copied, fmt.Errorf("append uid %d: %w", msg.UID, err)
		}
		copied++
	}
}
