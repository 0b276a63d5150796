// Package events defines the domain events emitted by mailbox mutations, a
// tagged-union codec for them, and the listener registry that delivers them.
//
// Events are dispatched after the mutation that produced them committed.
// Delivery is best-effort: a failing listener is retried, then parked in a
// dead-letter store, and never affects other listeners or the mutation.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/mailstore/store"
)

// Type is the tag identifying an event variant.
type Type string

// Event types.
const (
	TypeMailboxAdded   Type = "mailbox.added"
	TypeMailboxRenamed Type = "mailbox.renamed"
	TypeMailboxDeleted Type = "mailbox.deleted"
	TypeMessageAdded   Type = "message.added"
	TypeFlagsUpdated   Type = "message.flags_updated"
	TypeExpunged       Type = "message.expunged"
)

// Event is implemented by every event variant.
type Event interface {
	Type() Type
	Meta() Base
}

// Base carries the fields shared by every event.
type Base struct {
	EventID   string            `json:"event_id"`
	MailboxID store.MailboxID   `json:"mailbox_id"`
	Path      store.MailboxPath `json:"path"`
	Time      time.Time         `json:"time"`
}

// Meta returns the shared fields.
func (b Base) Meta() Base { return b }

// NewBase fills the shared fields for an event about mb.
func NewBase(mb *store.Mailbox) Base {
	return Base{
		EventID:   uuid.New().String(),
		MailboxID: mb.ID,
		Path:      mb.Path,
		Time:      time.Now().UTC(),
	}
}

// MailboxAdded is emitted when a mailbox is created.
type MailboxAdded struct {
	Base
	UIDValidity store.UIDValidity `json:"uid_validity"`
}

func (*MailboxAdded) Type() Type { return TypeMailboxAdded }

// MailboxRenamed is emitted when a mailbox path changes. Base.Path holds the
// old path.
type MailboxRenamed struct {
	Base
	NewPath store.MailboxPath `json:"new_path"`
}

func (*MailboxRenamed) Type() Type { return TypeMailboxRenamed }

// MailboxDeleted is emitted when a mailbox and its messages are removed.
type MailboxDeleted struct {
	Base
	MessageCount int64 `json:"message_count"`
	TotalSize    int64 `json:"total_size"`
}

func (*MailboxDeleted) Type() Type { return TypeMailboxDeleted }

// MessageAdded is emitted when a message is appended to a mailbox.
type MessageAdded struct {
	Base
	UID       store.UID    `json:"uid"`
	ModSeq    store.ModSeq `json:"modseq"`
	Flags     store.Flags  `json:"flags"`
	Size      int64        `json:"size"`
	MessageID string       `json:"message_id,omitempty"`
}

func (*MessageAdded) Type() Type { return TypeMessageAdded }

// FlagsChange describes the flag change of one message.
type FlagsChange struct {
	UID      store.UID    `json:"uid"`
	ModSeq   store.ModSeq `json:"modseq"`
	OldFlags store.Flags  `json:"old_flags"`
	NewFlags store.Flags  `json:"new_flags"`
}

// FlagsUpdated is emitted when message flags change.
type FlagsUpdated struct {
	Base
	Changes []FlagsChange `json:"changes"`
}

func (*FlagsUpdated) Type() Type { return TypeFlagsUpdated }

// ExpungedMessage describes one removed message.
type ExpungedMessage struct {
	UID  store.UID `json:"uid"`
	Size int64     `json:"size"`
}

// Expunged is emitted when messages are removed from a mailbox.
type Expunged struct {
	Base
	Messages []ExpungedMessage `json:"messages"`
}

func (*Expunged) Type() Type { return TypeExpunged }

// UIDs returns the UIDs of the expunged messages.
func (e *Expunged) UIDs() []store.UID {
	uids := make([]store.UID, len(e.Messages))
	for i, m := range e.Messages {
		uids[i] = m.UID
	}
	return uids
}
