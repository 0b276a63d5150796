// Package sequence allocates per-mailbox UIDs and ModSeqs.
//
// The allocator is a thin guard around a store.SequenceStore. The backend
// performs the atomic increment; the allocator makes sure a number is only
// handed out once the backend confirmed it, that allocation never joins an
// ambient transaction, and that a misbehaving backend cannot hand out the
// same number twice to this process.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rbaliyan/mailstore/store"
)

// ErrSequenceRegression is returned when the backend answers with a value
// that is not strictly greater than one already issued for the mailbox.
var ErrSequenceRegression = errors.New("sequence: backend returned non-increasing value")

// Kind names the counter an allocation targets.
type Kind string

// Counter kinds.
const (
	KindUID    Kind = "uid"
	KindModSeq Kind = "modseq"
)

// AllocationError reports a failed allocation. No number was granted.
type AllocationError struct {
	MailboxID store.MailboxID
	Kind      Kind
	Err       error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("sequence: allocate %s for mailbox %s: %v", e.Kind, e.MailboxID, e.Err)
}

func (e *AllocationError) Unwrap() error {
	return e.Err
}

// Allocator hands out strictly increasing UIDs and ModSeqs per mailbox.
// Allocations for one mailbox are serialized within an Allocator; the
// backend's atomic increment covers other processes.
type Allocator struct {
	store  store.SequenceStore
	logger *slog.Logger

	mu     sync.Mutex
	guards map[store.MailboxID]*guard
}

// guard remembers the highest values this allocator issued for a mailbox.
type guard struct {
	mu     sync.Mutex
	uid    store.UID
	modSeq store.ModSeq
}

// Option configures an Allocator.
type Option func(*Allocator)

// WithLogger sets the logger used to report regressions.
func WithLogger(l *slog.Logger) Option {
	return func(a *Allocator) {
		if l != nil {
			a.logger = l
		}
	}
}

// New creates an allocator backed by s.
func New(s store.SequenceStore, opts ...Option) *Allocator {
	a := &Allocator{
		store:  s,
		logger: slog.Default(),
		guards: make(map[store.MailboxID]*guard),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Allocator) guardFor(id store.MailboxID) *guard {
	a.mu.Lock()
	defer a.mu.Unlock()
	g, ok := a.guards[id]
	if !ok {
		g = &guard{}
		a.guards[id] = g
	}
	return g
}

// AllocateUID returns the next UID of the mailbox. The number is burned
// even if the caller's subsequent write is rolled back.
func (a *Allocator) AllocateUID(ctx context.Context, id store.MailboxID) (store.UID, error) {
	g := a.guardFor(id)
	g.mu.Lock()
	defer g.mu.Unlock()

	uid, err := a.store.NextUID(store.WithoutTx(ctx), id)
	if err != nil {
		return 0, &AllocationError{MailboxID: id, Kind: KindUID, Err: err}
	}
	if uid == 0 || uid <= g.uid {
		a.logger.Error("uid regression", "mailbox_id", id, "issued", g.uid, "returned", uid)
		return 0, &AllocationError{MailboxID: id, Kind: KindUID, Err: ErrSequenceRegression}
	}
	g.uid = uid
	return uid, nil
}

// AllocateModSeq returns the next ModSeq of the mailbox.
func (a *Allocator) AllocateModSeq(ctx context.Context, id store.MailboxID) (store.ModSeq, error) {
	g := a.guardFor(id)
	g.mu.Lock()
	defer g.mu.Unlock()

	ms, err := a.store.NextModSeq(store.WithoutTx(ctx), id)
	if err != nil {
		return 0, &AllocationError{MailboxID: id, Kind: KindModSeq, Err: err}
	}
	if ms == 0 || ms <= g.modSeq {
		a.logger.Error("modseq regression", "mailbox_id", id, "issued", g.modSeq, "returned", ms)
		return 0, &AllocationError{MailboxID: id, Kind: KindModSeq, Err: ErrSequenceRegression}
	}
	g.modSeq = ms
	return ms, nil
}

// LastUID returns the last UID the backend allocated for the mailbox.
func (a *Allocator) LastUID(ctx context.Context, id store.MailboxID) (store.UID, error) {
	return a.store.LastUID(store.WithoutTx(ctx), id)
}

// HighestModSeq returns the last ModSeq the backend allocated for the mailbox.
func (a *Allocator) HighestModSeq(ctx context.Context, id store.MailboxID) (store.ModSeq, error) {
	return a.store.HighestModSeq(store.WithoutTx(ctx), id)
}

// Forget drops the guard state of a deleted mailbox.
func (a *Allocator) Forget(id store.MailboxID) {
	a.mu.Lock()
	delete(a.guards, id)
	a.mu.Unlock()
}
