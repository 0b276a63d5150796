package store

import (
	"crypto/rand"
	"encoding/binary"
	"strings"
	"time"
)

// MailboxID is an opaque mailbox identifier assigned by the backend.
type MailboxID string

// String returns the ID as a string.
func (id MailboxID) String() string {
	return string(id)
}

// Namespaces.
const (
	NamespacePrivate = "#private"
	NamespaceShared  = "#shared"

	// InboxName is the case-insensitive name of a user's inbox.
	InboxName = "INBOX"

	// PathDelimiter separates hierarchy levels inside a mailbox name.
	PathDelimiter = "."
)

// MailboxPath identifies a mailbox by namespace, owner and hierarchical name.
type MailboxPath struct {
	Namespace string `json:"namespace" bson:"namespace"`
	User      string `json:"user" bson:"user"`
	Name      string `json:"name" bson:"name"`
}

// NewPath returns a private-namespace path for the given user.
func NewPath(user, name string) MailboxPath {
	return MailboxPath{Namespace: NamespacePrivate, User: user, Name: name}
}

// Inbox returns the inbox path of a user.
func Inbox(user string) MailboxPath {
	return NewPath(user, InboxName)
}

// String renders the path as namespace:user:name.
func (p MailboxPath) String() string {
	return p.Namespace + ":" + p.User + ":" + p.Name
}

// IsInbox reports whether the path is the user's inbox.
func (p MailboxPath) IsInbox() bool {
	return strings.EqualFold(p.Name, InboxName)
}

// Child returns the path of a direct child mailbox.
func (p MailboxPath) Child(name string) MailboxPath {
	return MailboxPath{Namespace: p.Namespace, User: p.User, Name: p.Name + PathDelimiter + name}
}

// IsValid reports whether the path can be used to create a mailbox.
func (p MailboxPath) IsValid() bool {
	if p.Namespace == "" || p.Name == "" {
		return false
	}
	if strings.HasPrefix(p.Name, PathDelimiter) || strings.HasSuffix(p.Name, PathDelimiter) {
		return false
	}
	return !strings.Contains(p.Name, PathDelimiter+PathDelimiter)
}

// UIDValidity must change whenever UIDs can no longer be trusted by a client.
// Zero is never a valid value.
type UIDValidity uint32

// maxUIDValidity keeps generated values positive for clients that parse them
// as signed 32-bit integers.
const maxUIDValidity = 1<<31 - 1

// IsValid reports whether v may be handed out to clients.
func (v UIDValidity) IsValid() bool {
	return v > 0 && v <= maxUIDValidity
}

// GenerateUIDValidity returns a random valid UIDValidity.
func GenerateUIDValidity() UIDValidity {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand never fails on supported platforms; fall back to the clock.
		return UIDValidity(time.Now().UnixNano()%maxUIDValidity) + 1
	}
	return UIDValidity(binary.BigEndian.Uint32(b[:])%maxUIDValidity) + 1
}

// Mailbox is the persisted metadata of a mailbox.
//
// LastUID and HighestModSeq are snapshots of the sequence counters taken when
// the mailbox was loaded. They never decrease.
type Mailbox struct {
	ID            MailboxID
	Path          MailboxPath
	UIDValidity   UIDValidity
	LastUID       UID
	HighestModSeq ModSeq
	CreatedAt     time.Time
}

// Clone returns a copy of the mailbox.
func (m *Mailbox) Clone() *Mailbox {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

// MailboxQuery selects mailboxes. Empty fields match everything.
type MailboxQuery struct {
	Namespace string
	User      string
	// NamePrefix matches mailboxes whose name starts with the prefix.
	NamePrefix string
}

// Matches reports whether the path satisfies the query.
func (q MailboxQuery) Matches(p MailboxPath) bool {
	if q.Namespace != "" && q.Namespace != p.Namespace {
		return false
	}
	if q.User != "" && q.User != p.User {
		return false
	}
	return strings.HasPrefix(p.Name, q.NamePrefix)
}
