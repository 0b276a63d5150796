package store

import (
	"slices"
	"strings"
	"time"
)

// UID is a per-mailbox unique, monotonically increasing message identifier.
type UID uint32

// ModSeq is a per-mailbox modification sequence bumped on every metadata change.
type ModSeq uint64

// SystemFlag is a bitmask of the IMAP system flags.
type SystemFlag uint8

// System flags.
const (
	FlagAnswered SystemFlag = 1 << iota
	FlagDeleted
	FlagDraft
	FlagFlagged
	FlagRecent
	FlagSeen
)

var systemFlagNames = []struct {
	flag SystemFlag
	name string
}{
	{FlagAnswered, `\Answered`},
	{FlagDeleted, `\Deleted`},
	{FlagDraft, `\Draft`},
	{FlagFlagged, `\Flagged`},
	{FlagRecent, `\Recent`},
	{FlagSeen, `\Seen`},
}

// Flags is the flag set of a message: system flags plus user keywords.
type Flags struct {
	System SystemFlag `json:"system" bson:"system"`
	User   []string   `json:"user,omitempty" bson:"user,omitempty"`
}

// NewFlags builds a flag set from system flags and keywords.
func NewFlags(system SystemFlag, user ...string) Flags {
	f := Flags{System: system}
	for _, u := range user {
		f = f.withUser(u)
	}
	return f
}

// Has reports whether all of the given system flags are set.
func (f Flags) Has(flag SystemFlag) bool {
	return f.System&flag == flag
}

// HasUser reports whether the keyword is set (case-insensitive).
func (f Flags) HasUser(keyword string) bool {
	return slices.ContainsFunc(f.User, func(u string) bool { return strings.EqualFold(u, keyword) })
}

func (f Flags) withUser(keyword string) Flags {
	if keyword == "" || f.HasUser(keyword) {
		return f
	}
	f.User = append(slices.Clone(f.User), keyword)
	return f
}

// Clone returns a deep copy.
func (f Flags) Clone() Flags {
	return Flags{System: f.System, User: slices.Clone(f.User)}
}

// Equal reports whether both sets contain the same flags.
func (f Flags) Equal(other Flags) bool {
	if f.System != other.System || len(f.User) != len(other.User) {
		return false
	}
	for _, u := range f.User {
		if !other.HasUser(u) {
			return false
		}
	}
	return true
}

// Names returns the IMAP representation of every flag in the set.
func (f Flags) Names() []string {
	var names []string
	for _, sf := range systemFlagNames {
		if f.Has(sf.flag) {
			names = append(names, sf.name)
		}
	}
	return append(names, f.User...)
}

// FlagsUpdateMode selects how a flag update combines with the current flags.
type FlagsUpdateMode int

// Flag update modes.
const (
	FlagsReplace FlagsUpdateMode = iota
	FlagsAdd
	FlagsRemove
)

// String returns the mode name.
func (m FlagsUpdateMode) String() string {
	switch m {
	case FlagsReplace:
		return "replace"
	case FlagsAdd:
		return "add"
	case FlagsRemove:
		return "remove"
	default:
		return "unknown"
	}
}

// Apply returns the result of updating f with delta in the given mode.
func (f Flags) Apply(mode FlagsUpdateMode, delta Flags) Flags {
	switch mode {
	case FlagsAdd:
		out := f.Clone()
		out.System |= delta.System
		for _, u := range delta.User {
			out = out.withUser(u)
		}
		return out
	case FlagsRemove:
		out := Flags{System: f.System &^ delta.System}
		for _, u := range f.User {
			if !delta.HasUser(u) {
				out.User = append(out.User, u)
			}
		}
		return out
	default:
		return delta.Clone()
	}
}

// Message is a message stored in exactly one mailbox.
type Message struct {
	MailboxID MailboxID
	// UID is immutable once assigned and unique within the mailbox.
	UID UID
	// ModSeq is updated whenever flags change.
	ModSeq       ModSeq
	Flags        Flags
	InternalDate time.Time
	Size         int64
	// Body is the raw RFC 5322 content. Blob storage is external to this module.
	Body []byte
	// MessageID is a global identifier shared by copies of the same content.
	MessageID string
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	c := *m
	c.Flags = m.Flags.Clone()
	c.Body = slices.Clone(m.Body)
	return &c
}
