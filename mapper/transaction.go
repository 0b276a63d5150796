package mapper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rbaliyan/mailstore/store"
)

// ErrIllegalTransition is returned when a transaction is driven into a state
// its current state does not allow.
var ErrIllegalTransition = errors.New("mapper: illegal transaction state transition")

// State is the lifecycle state of a Transaction.
type State int

// Transaction states.
const (
	StateIdle State = iota
	StateInTransaction
	StateCommitted
	StateRolledBack
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInTransaction:
		return "in-transaction"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled-back"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// CommitError reports a failed commit. No rollback is attempted after a
// failed commit.
type CommitError struct {
	Err error
}

func (e *CommitError) Error() string {
	return "mapper: commit: " + e.Err.Error()
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// Transaction tracks one backend transaction and its after-commit hooks.
type Transaction struct {
	mu    sync.Mutex
	state State
	tx    store.Tx
	hooks []func(context.Context)
}

// State returns the current state.
func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transaction) transition(from, to State) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != from {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, t.state, to)
	}
	t.state = to
	return nil
}

// Begin starts the backend transaction.
func (t *Transaction) Begin(ctx context.Context, b store.TxBeginner) error {
	if err := t.transition(StateIdle, StateInTransaction); err != nil {
		return err
	}
	tx, err := b.BeginTx(ctx)
	if err != nil {
		t.mu.Lock()
		t.state = StateIdle
		t.mu.Unlock()
		return err
	}
	t.tx = tx
	return nil
}

// Commit commits the backend transaction.
func (t *Transaction) Commit(ctx context.Context) error {
	if err := t.transition(StateInTransaction, StateCommitted); err != nil {
		return err
	}
	return t.tx.Commit(ctx)
}

// Rollback aborts the backend transaction and drops pending hooks.
func (t *Transaction) Rollback(ctx context.Context) error {
	if err := t.transition(StateInTransaction, StateRolledBack); err != nil {
		return err
	}
	t.mu.Lock()
	t.hooks = nil
	t.mu.Unlock()
	return t.tx.Rollback(ctx)
}

func (t *Transaction) addHook(fn func(context.Context)) {
	t.mu.Lock()
	t.hooks = append(t.hooks, fn)
	t.mu.Unlock()
}

func (t *Transaction) runHooks(ctx context.Context) {
	t.mu.Lock()
	hooks := t.hooks
	t.hooks = nil
	t.mu.Unlock()
	for _, fn := range hooks {
		fn(ctx)
	}
}

type transactionKey struct{}

// TransactionFromContext returns the live transaction carried by ctx.
func TransactionFromContext(ctx context.Context) (*Transaction, bool) {
	t, ok := ctx.Value(transactionKey{}).(*Transaction)
	if !ok || t.State() != StateInTransaction {
		return nil, false
	}
	return t, true
}

// AfterCommit runs fn after the transaction carried by ctx commits, or
// immediately when ctx carries none. Hooks of a rolled back transaction
// never run.
func AfterCommit(ctx context.Context, fn func(context.Context)) {
	if t, ok := TransactionFromContext(ctx); ok {
		t.addHook(fn)
		return
	}
	fn(ctx)
}

// Transactional executes work inside a backend transaction.
type Transactional struct {
	beginner store.TxBeginner
	logger   *slog.Logger
}

// NewTransactional returns a mapper driving transactions of b.
func NewTransactional(b store.TxBeginner, opts ...Option) *Transactional {
	o := newOptions(opts...)
	return &Transactional{beginner: b, logger: o.logger}
}

// Execute begins a transaction, runs work and commits. If work fails or
// panics the transaction is rolled back once and the original error (or
// panic) is propagated. A rollback failure is logged and never replaces the
// original error. A failed commit is returned as *CommitError.
func (m *Transactional) Execute(ctx context.Context, work Work) error {
	if _, ok := TransactionFromContext(ctx); ok {
		return work(ctx)
	}

	t := &Transaction{}
	if err := t.Begin(ctx, m.beginner); err != nil {
		return fmt.Errorf("mapper: begin: %w", err)
	}
	txCtx := store.ContextWithTx(context.WithValue(ctx, transactionKey{}, t), t.tx)

	defer func() {
		if r := recover(); r != nil {
			m.rollback(ctx, t, fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	if err := work(txCtx); err != nil {
		m.rollback(ctx, t, err)
		return err
	}

	if err := t.Commit(ctx); err != nil {
		return &CommitError{Err: err}
	}
	t.runHooks(ctx)
	return nil
}

func (m *Transactional) rollback(ctx context.Context, t *Transaction, cause error) {
	if err := t.Rollback(context.WithoutCancel(ctx)); err != nil {
		m.logger.Error("rollback failed", "error", err, "cause", cause)
	}
}

// EndRequest forwards to the backend when it holds request-scoped resources.
func (m *Transactional) EndRequest(ctx context.Context) {
	if rs, ok := m.beginner.(store.RequestScoped); ok {
		rs.EndRequest(ctx)
	}
}
