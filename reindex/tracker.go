package reindex

import (
	"context"
	"sync"

	"github.com/rbaliyan/mailstore/events"
	"github.com/rbaliyan/mailstore/store"
)

// pathTracker follows renames and deletions observed while a full run walks
// the mailbox list.
type pathTracker struct {
	mu      sync.Mutex
	renamed map[store.MailboxPath]store.MailboxPath
	deleted map[store.MailboxPath]bool
}

func newPathTracker() *pathTracker {
	return &pathTracker{
		renamed: make(map[store.MailboxPath]store.MailboxPath),
		deleted: make(map[store.MailboxPath]bool),
	}
}

func (t *pathTracker) Event(_ context.Context, ev events.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch e := ev.(type) {
	case *events.MailboxRenamed:
		t.renamed[e.Path] = e.NewPath
		delete(t.deleted, e.NewPath)
	case *events.MailboxDeleted:
		t.deleted[e.Path] = true
	case *events.MailboxAdded:
		delete(t.deleted, e.Path)
		delete(t.renamed, e.Path)
	}
	return nil
}

// resolve returns the current path of p, or false when it was deleted.
func (t *pathTracker) resolve(p store.MailboxPath) (store.MailboxPath, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen := map[store.MailboxPath]bool{p: true}
	for {
		next, ok := t.renamed[p]
		if !ok || seen[next] {
			break
		}
		seen[next] = true
		p = next
	}
	return p, !t.deleted[p]
}

// messageChange is the most relevant event observed for one UID.
type messageChange struct {
	deleted bool
	flags   store.Flags
	modSeq  store.ModSeq
}

// messageTracker records flag updates and expunges that race a mailbox pass.
// A deletion beats any flag update; among flag updates the highest ModSeq wins.
type messageTracker struct {
	mu      sync.Mutex
	changes map[store.UID]*messageChange
}

func newMessageTracker() *messageTracker {
	return &messageTracker{changes: make(map[store.UID]*messageChange)}
}

func (t *messageTracker) Event(_ context.Context, ev events.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch e := ev.(type) {
	case *events.Expunged:
		for _, m := range e.Messages {
			t.changes[m.UID] = &messageChange{deleted: true}
		}
	case *events.FlagsUpdated:
		for _, c := range e.Changes {
			cur, ok := t.changes[c.UID]
			if ok && (cur.deleted || cur.modSeq >= c.ModSeq) {
				continue
			}
			t.changes[c.UID] = &messageChange{flags: c.NewFlags.Clone(), modSeq: c.ModSeq}
		}
	}
	return nil
}

func (t *messageTracker) relevant(uid store.UID) (messageChange, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.changes[uid]
	if !ok {
		return messageChange{}, false
	}
	return *c, true
}
