package memory

import (
	"context"
	"math"

	"github.com/rbaliyan/mailstore/store"
)

// NextUID increments the mailbox's last UID under the mailbox lock.
func (s *Store) NextUID(_ context.Context, id store.MailboxID) (store.UID, error) {
	e, err := s.entry(id)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.lastUID == math.MaxUint32 {
		return 0, store.ErrCounterOverflow
	}
	e.lastUID++
	return e.lastUID, nil
}

// NextModSeq increments the mailbox's highest ModSeq under the mailbox lock.
func (s *Store) NextModSeq(_ context.Context, id store.MailboxID) (store.ModSeq, error) {
	e, err := s.entry(id)
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.highestModSeq++
	return e.highestModSeq, nil
}

// LastUID returns the last allocated UID.
func (s *Store) LastUID(_ context.Context, id store.MailboxID) (store.UID, error) {
	e, err := s.entry(id)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastUID, nil
}

// HighestModSeq returns the last allocated ModSeq.
func (s *Store) HighestModSeq(_ context.Context, id store.MailboxID) (store.ModSeq, error) {
	e, err := s.entry(id)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.highestModSeq, nil
}

// DropSequences is a no-op: counters live in the mailbox entry and are
// removed with it.
func (s *Store) DropSequences(_ context.Context, _ store.MailboxID) error {
	return s.checkConnected()
}
