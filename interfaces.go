package mailstore

import (
	"context"
	"time"

	"github.com/rbaliyan/event/v3"
	"github.com/rbaliyan/mailstore/events"
	"github.com/rbaliyan/mailstore/store"
)

// Type aliases for commonly used store types.
// These allow users to work with the mailstore package without importing store directly.
type (
	MailboxPath     = store.MailboxPath
	UID             = store.UID
	ModSeq          = store.ModSeq
	Flags           = store.Flags
	FlagsUpdateMode = store.FlagsUpdateMode
)

// Re-exported flag update modes.
const (
	FlagsReplace = store.FlagsReplace
	FlagsAdd     = store.FlagsAdd
	FlagsRemove  = store.FlagsRemove
)

// Service is the mailbox mutation engine. Every mutation allocates its
// sequence numbers, runs its storage write through the configured mapper,
// and dispatches the resulting event to listeners after commit.
type Service interface {
	// IsConnected returns true if the service is connected and ready.
	IsConnected() bool
	// Connect establishes connections to storage backends.
	Connect(ctx context.Context) error
	// Close waits for in-flight mutations and closes all connections.
	Close(ctx context.Context) error

	MailboxManager
	MessageMutator
	MessageReader
	SequenceProvider
	QuotaManager

	// RunInTransaction runs fn in one mapper execution. Mutations called
	// with the context passed to fn join the same transaction, and their
	// events are dispatched only after it commits.
	RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	// EndRequest releases request-scoped backend resources.
	EndRequest(ctx context.Context)

	// Listeners returns the registry events are dispatched to.
	Listeners() *events.Registry
	// BusEvent returns the event-bus event every dispatched event is
	// published on, encoded as an envelope.
	BusEvent() event.Event[events.Envelope]
}

// MailboxManager provides mailbox lifecycle operations.
type MailboxManager interface {
	// CreateMailbox creates a mailbox and any missing parent.
	CreateMailbox(ctx context.Context, path store.MailboxPath) (*store.Mailbox, error)
	// GetMailbox loads a mailbox by path, repairing an invalid UidValidity.
	GetMailbox(ctx context.Context, path store.MailboxPath) (*store.Mailbox, error)
	// GetMailboxByID loads a mailbox by ID, repairing an invalid UidValidity.
	GetMailboxByID(ctx context.Context, id store.MailboxID) (*store.Mailbox, error)
	// RenameMailbox moves a mailbox and its children to a new path.
	RenameMailbox(ctx context.Context, from, to store.MailboxPath) error
	// DeleteMailbox removes a mailbox, its messages and its counters.
	DeleteMailbox(ctx context.Context, path store.MailboxPath) error
	// MailboxPaths lazily iterates the paths of matching mailboxes.
	MailboxPaths(ctx context.Context, query store.MailboxQuery) (PathIterator, error)
}

// MessageMutator provides message mutations.
type MessageMutator interface {
	// Append stores a new message with a freshly allocated UID and ModSeq.
	Append(ctx context.Context, path store.MailboxPath, req AppendRequest) (*AppendResult, error)
	// UpdateFlags changes the flags of a message and bumps its ModSeq.
	// An update leaving the flags unchanged allocates nothing.
	UpdateFlags(ctx context.Context, path store.MailboxPath, uid store.UID, flags store.Flags, mode store.FlagsUpdateMode) (*FlagsUpdate, error)
	// Expunge removes messages flagged \Deleted. With no UIDs every such
	// message is removed; otherwise only the listed ones. Returns the
	// removed UIDs.
	Expunge(ctx context.Context, path store.MailboxPath, uids ...store.UID) ([]store.UID, error)
	// Move moves a message to another mailbox under a new UID.
	Move(ctx context.Context, from, to store.MailboxPath, uid store.UID) (*MoveResult, error)
}

// MessageReader provides message retrieval.
type MessageReader interface {
	GetMessage(ctx context.Context, path store.MailboxPath, uid store.UID) (*store.Message, error)
	// Messages lazily iterates the messages of a mailbox by ascending UID.
	Messages(ctx context.Context, id store.MailboxID, opts StreamOptions) (MessageIterator, error)
}

// SequenceProvider exposes raw sequence allocation.
type SequenceProvider interface {
	AllocateUID(ctx context.Context, id store.MailboxID) (store.UID, error)
	AllocateModSeq(ctx context.Context, id store.MailboxID) (store.ModSeq, error)
}

// QuotaManager reads and resets running usage counters.
type QuotaManager interface {
	CurrentQuota(ctx context.Context, key store.QuotaKey) (int64, bool, error)
	DeleteQuota(ctx context.Context, key store.QuotaKey) error
}

// AppendRequest describes a message to append.
type AppendRequest struct {
	// Body is the raw message.
	Body []byte
	// Size overrides len(Body) when the body is stored elsewhere.
	Size int64
	// Flags are set on the new message. \Recent is always added.
	Flags store.Flags
	// InternalDate defaults to now.
	InternalDate time.Time
	// MessageID defaults to a new UUID.
	MessageID string
}

// AppendResult describes an appended message.
type AppendResult struct {
	MailboxID   store.MailboxID
	UIDValidity store.UIDValidity
	UID         store.UID
	ModSeq      store.ModSeq
	Size        int64
	MessageID   string
}

// FlagsUpdate describes the outcome of a flag update.
type FlagsUpdate struct {
	UID      store.UID
	ModSeq   store.ModSeq
	OldFlags store.Flags
	NewFlags store.Flags
	// Changed is false when the update was a no-op.
	Changed bool
}

// MoveResult describes a moved message.
type MoveResult struct {
	FromMailboxID store.MailboxID
	FromUID       store.UID
	ToMailboxID   store.MailboxID
	ToUIDValidity store.UIDValidity
	ToUID         store.UID
	ModSeq        store.ModSeq
}
