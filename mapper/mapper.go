// Package mapper wraps storage work in begin/commit/rollback semantics.
//
// Two strategies exist:
//
//   - NonTransactional runs work directly. Partial writes stay in place when
//     work fails midway; callers reconcile through reindexing.
//   - Transactional begins a backend transaction, commits on success and
//     rolls back exactly once on failure.
//
// Work receives a context carrying the transaction (see store.ContextWithTx);
// store calls made with that context join it. Nested Execute calls on a
// context with a live transaction join it instead of beginning a new one.
package mapper

import (
	"context"
	"log/slog"
)

// Work is a unit of storage work.
type Work func(ctx context.Context) error

// Mapper executes storage work.
type Mapper interface {
	// Execute runs work. When work fails, its error is returned unchanged.
	Execute(ctx context.Context, work Work) error

	// EndRequest releases request-scoped resources. Safe to call repeatedly.
	EndRequest(ctx context.Context)
}

// Option configures a mapper.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger used to report rollback failures.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func newOptions(opts ...Option) *options {
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Compile-time checks
var (
	_ Mapper = (*NonTransactional)(nil)
	_ Mapper = (*Transactional)(nil)
)

// NonTransactional runs work without begin/commit/rollback.
type NonTransactional struct{}

// NewNonTransactional returns a mapper for backends without transactions.
func NewNonTransactional() *NonTransactional {
	return &NonTransactional{}
}

// Execute runs work and returns its error as is.
func (NonTransactional) Execute(ctx context.Context, work Work) error {
	return work(ctx)
}

// EndRequest is a no-op.
func (NonTransactional) EndRequest(context.Context) {}

// Execute runs work through m and returns its result.
func Execute[T any](ctx context.Context, m Mapper, work func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := m.Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = work(ctx)
		return err
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// Result is the outcome of an asynchronous execution.
type Result[T any] struct {
	Value T
	Err   error
}

// ExecuteAsync runs work through m on a new goroutine. The returned channel
// receives exactly one Result and is then closed.
func ExecuteAsync[T any](ctx context.Context, m Mapper, work func(ctx context.Context) (T, error)) <-chan Result[T] {
	ch := make(chan Result[T], 1)
	go func() {
		defer close(ch)
		v, err := Execute(ctx, m, work)
		ch <- Result[T]{Value: v, Err: err}
	}()
	return ch
}
