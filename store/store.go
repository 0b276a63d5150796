// Package store provides interfaces and types for mailbox storage.
// Implementations are in store/memory, store/postgres, store/mongo and
// store/redis subpackages.
//
// # Architectural Principle: Atomic Counters, No Distributed Locks
//
// Several sessions may append to the same mailbox at the same time. The only
// state that needs atomic cross-request mutation is the pair of per-mailbox
// counters (last UID, highest ModSeq). Everything else is owned by whichever
// mutation is currently executing.
//
// Backends therefore never take an external lock. Instead:
//
//  1. Counters use the database-native increment-and-return primitive:
//     PostgreSQL's UPDATE ... RETURNING, MongoDB's findOneAndUpdate with $inc,
//     Redis HINCRBY. Two concurrent callers can never observe the same value.
//
//  2. Uniqueness of (mailbox, uid) is enforced by a unique constraint, so a
//     buggy caller reusing a UID gets ErrDuplicateEntry instead of silently
//     overwriting a message.
//
//  3. Multi-row writes (expunge of many UIDs, mailbox delete cascade, move)
//     run inside a backend transaction when the backend has one. Backends
//     without transactions are driven by a non-transactional mapper and
//     tolerate partial failure.
//
// Example - allocating a UID:
//
//	// WRONG: read-then-write race
//	mb, _ := s.GetMailbox(ctx, id)
//	uid := mb.LastUID + 1
//	s.SetLastUID(ctx, id, uid)
//
//	// CORRECT: atomic increment-and-return
//	uid, err := s.NextUID(ctx, id)
//
// Sequence numbers are allowed to have gaps (a failed write burns the number)
// but never duplicates or reordering.
package store

import (
	"context"
)

// Store is the storage interface for the mailbox core.
//
// All operations must be safe for concurrent use. Operations that receive a
// context carrying a transaction (see ContextWithTx) must run inside that
// transaction when the backend supports one.
type Store interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close(ctx context.Context) error

	// Per-mailbox UID/ModSeq counters
	SequenceStore

	// Mailbox metadata
	MailboxStore

	// Messages
	MessageStore

	// Running quota counters
	QuotaStore
}

// SequenceStore issues strictly increasing UID and ModSeq values scoped per
// mailbox.
//
// Concurrency: every Next* call is an atomic read-increment-return against the
// persisted counter. Implementations must never reuse a value, even after all
// messages of the mailbox were removed.
//
// Next* calls ignore any transaction carried by ctx: an allocated number is
// burned, never rolled back.
type SequenceStore interface {
	// NextUID increments the mailbox's last UID and returns the new value.
	// Returns ErrMailboxNotFound if the backend tracks mailbox existence and
	// the mailbox is unknown.
	NextUID(ctx context.Context, id MailboxID) (UID, error)

	// NextModSeq increments the mailbox's highest ModSeq and returns the new value.
	NextModSeq(ctx context.Context, id MailboxID) (ModSeq, error)

	// LastUID returns the last allocated UID (0 if none).
	LastUID(ctx context.Context, id MailboxID) (UID, error)

	// HighestModSeq returns the last allocated ModSeq (0 if none).
	HighestModSeq(ctx context.Context, id MailboxID) (ModSeq, error)

	// DropSequences removes the counters of a deleted mailbox.
	// Mailbox IDs are never reused, so dropping counters cannot cause reuse.
	DropSequences(ctx context.Context, id MailboxID) error
}

// MailboxStore provides mailbox metadata operations.
type MailboxStore interface {
	// CreateMailbox persists a new mailbox. The ID is assigned when empty.
	// Returns ErrMailboxExists if a mailbox with the same path exists.
	CreateMailbox(ctx context.Context, mb *Mailbox) (*Mailbox, error)

	// GetMailbox retrieves a mailbox by ID.
	// Returns ErrMailboxNotFound if the mailbox doesn't exist.
	GetMailbox(ctx context.Context, id MailboxID) (*Mailbox, error)

	// FindMailboxByPath retrieves a mailbox by path.
	// Returns ErrMailboxNotFound if the mailbox doesn't exist.
	FindMailboxByPath(ctx context.Context, path MailboxPath) (*Mailbox, error)

	// ListMailboxes returns up to limit mailboxes matching the query whose
	// path sorts strictly after the cursor, ordered by path.
	// An empty cursor starts from the beginning.
	ListMailboxes(ctx context.Context, query MailboxQuery, cursor string, limit int) ([]*Mailbox, error)

	// RenameMailbox changes the path of a mailbox.
	// Returns ErrMailboxExists if the target path is taken.
	RenameMailbox(ctx context.Context, id MailboxID, newPath MailboxPath) error

	// UpdateUIDValidity persists a repaired UidValidity.
	UpdateUIDValidity(ctx context.Context, id MailboxID, v UIDValidity) error

	// DeleteMailbox removes the mailbox and all of its messages.
	DeleteMailbox(ctx context.Context, id MailboxID) error
}

// MessageStore provides message operations. Messages are addressed by
// (mailbox, uid).
type MessageStore interface {
	// AddMessage persists a message whose UID and ModSeq were already allocated.
	// Returns ErrDuplicateEntry if the UID is already used in the mailbox.
	AddMessage(ctx context.Context, msg *Message) error

	// GetMessage retrieves a message.
	// Returns ErrMessageNotFound if the message doesn't exist.
	GetMessage(ctx context.Context, id MailboxID, uid UID) (*Message, error)

	// UpdateFlags replaces the flags of a message and stamps it with modSeq.
	UpdateFlags(ctx context.Context, id MailboxID, uid UID, flags Flags, modSeq ModSeq) error

	// DeleteMessage removes a message.
	// Returns ErrMessageNotFound if the message doesn't exist.
	DeleteMessage(ctx context.Context, id MailboxID, uid UID) error

	// ListMessages returns up to limit messages with UID strictly greater
	// than after, ordered by UID.
	ListMessages(ctx context.Context, id MailboxID, after UID, limit int) ([]*Message, error)

	// ListDeleted returns the UIDs of messages carrying the \Deleted flag.
	ListDeleted(ctx context.Context, id MailboxID) ([]UID, error)
}

// QuotaStore maintains running usage counters.
//
// The delete semantics are backend dependent: a deleted counter returns to
// the absent state, and whether a later increase starts from zero or resumes
// an earlier value is decided by the backend. Callers must not assume delete
// zeroes future increments.
type QuotaStore interface {
	// IncreaseQuota adds delta (may be negative) to the counter.
	IncreaseQuota(ctx context.Context, key QuotaKey, delta int64) error

	// GetQuota returns the current value and whether the counter exists.
	GetQuota(ctx context.Context, key QuotaKey) (int64, bool, error)

	// DeleteQuota removes the counter.
	DeleteQuota(ctx context.Context, key QuotaKey) error
}

// SearchIndex is the external search index kept in sync by listeners and
// rebuilt by the reindexer.
type SearchIndex interface {
	// Add indexes (or re-indexes) a message.
	Add(ctx context.Context, mb *Mailbox, msg *Message) error

	// UpdateFlags updates the indexed flags of a message.
	UpdateFlags(ctx context.Context, id MailboxID, uid UID, flags Flags, modSeq ModSeq) error

	// Delete removes the given UIDs from the index.
	Delete(ctx context.Context, id MailboxID, uids ...UID) error

	// DeleteAll removes every indexed message of a mailbox.
	DeleteAll(ctx context.Context, id MailboxID) error

	// Get returns the indexed entry of a message.
	// Returns ErrMessageNotFound when the message is not indexed.
	Get(ctx context.Context, id MailboxID, uid UID) (*IndexedMessage, error)
}

// IndexedMessage is what a SearchIndex holds for a message.
type IndexedMessage struct {
	MailboxID MailboxID
	UID       UID
	ModSeq    ModSeq
	Flags     Flags
	Size      int64
}

// RequestScoped is an optional interface for backends holding request-scoped
// resources that must be released at the end of a logical request.
type RequestScoped interface {
	EndRequest(ctx context.Context)
}
