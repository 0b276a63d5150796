package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/rbaliyan/mailstore/store"
)

// NextUID increments the mailbox's last UID with UPDATE ... RETURNING.
// Allocation always runs on the pool so the number survives a rollback of
// the caller's transaction.
func (s *Store) NextUID(ctx context.Context, id store.MailboxID) (store.UID, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	if !validID(id) {
		return 0, store.ErrMailboxNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`UPDATE %s SET last_uid = last_uid + 1
		WHERE id = $1 AND last_uid < $2 RETURNING last_uid`, s.opts.mailboxTable)

	var uid int64
	err := s.db.QueryRowContext(ctx, query, string(id), int64(math.MaxUint32)).Scan(&uid)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.GetMailbox(ctx, id); getErr != nil {
			return 0, getErr
		}
		return 0, store.ErrCounterOverflow
	}
	if err != nil {
		return 0, fmt.Errorf("next uid: %w", err)
	}
	return store.UID(uid), nil
}

// NextModSeq increments the mailbox's highest ModSeq with UPDATE ... RETURNING.
func (s *Store) NextModSeq(ctx context.Context, id store.MailboxID) (store.ModSeq, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}
	if !validID(id) {
		return 0, store.ErrMailboxNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`UPDATE %s SET highest_modseq = highest_modseq + 1
		WHERE id = $1 RETURNING highest_modseq`, s.opts.mailboxTable)

	var ms int64
	err := s.db.QueryRowContext(ctx, query, string(id)).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrMailboxNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("next modseq: %w", err)
	}
	return store.ModSeq(ms), nil
}

// LastUID returns the last allocated UID.
func (s *Store) LastUID(ctx context.Context, id store.MailboxID) (store.UID, error) {
	mb, err := s.GetMailbox(ctx, id)
	if err != nil {
		return 0, err
	}
	return mb.LastUID, nil
}

// HighestModSeq returns the last allocated ModSeq.
func (s *Store) HighestModSeq(ctx context.Context, id store.MailboxID) (store.ModSeq, error) {
	mb, err := s.GetMailbox(ctx, id)
	if err != nil {
		return 0, err
	}
	return mb.HighestModSeq, nil
}

// DropSequences is a no-op: counters are columns of the mailbox row and are
// removed with it.
func (s *Store) DropSequences(context.Context, store.MailboxID) error {
	return s.checkConnected()
}
