package memory

import (
	"context"
	"sync"

	"github.com/rbaliyan/mailstore/store"
)

// Index is an in-memory store.SearchIndex.
type Index struct {
	mu      sync.RWMutex
	entries map[store.MailboxID]map[store.UID]*store.IndexedMessage
}

// NewIndex creates an empty search index.
func NewIndex() *Index {
	return &Index{entries: make(map[store.MailboxID]map[store.UID]*store.IndexedMessage)}
}

// Add indexes or re-indexes a message.
func (x *Index) Add(_ context.Context, mb *store.Mailbox, msg *store.Message) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	byUID, ok := x.entries[mb.ID]
	if !ok {
		byUID = make(map[store.UID]*store.IndexedMessage)
		x.entries[mb.ID] = byUID
	}
	byUID[msg.UID] = &store.IndexedMessage{
		MailboxID: mb.ID,
		UID:       msg.UID,
		ModSeq:    msg.ModSeq,
		Flags:     msg.Flags.Clone(),
		Size:      msg.Size,
	}
	return nil
}

// UpdateFlags updates the indexed flags of a message.
func (x *Index) UpdateFlags(_ context.Context, id store.MailboxID, uid store.UID, flags store.Flags, modSeq store.ModSeq) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	e, ok := x.entries[id][uid]
	if !ok {
		return store.ErrMessageNotFound
	}
	updated := *e
	updated.Flags = flags.Clone()
	updated.ModSeq = modSeq
	x.entries[id][uid] = &updated
	return nil
}

// Delete removes the given UIDs. Unknown UIDs are ignored.
func (x *Index) Delete(_ context.Context, id store.MailboxID, uids ...store.UID) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	byUID := x.entries[id]
	for _, uid := range uids {
		delete(byUID, uid)
	}
	return nil
}

// DeleteAll removes every entry of a mailbox.
func (x *Index) DeleteAll(_ context.Context, id store.MailboxID) error {
	x.mu.Lock()
	delete(x.entries, id)
	x.mu.Unlock()
	return nil
}

// Get returns a copy of the indexed entry.
func (x *Index) Get(_ context.Context, id store.MailboxID, uid store.UID) (*store.IndexedMessage, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	e, ok := x.entries[id][uid]
	if !ok {
		return nil, store.ErrMessageNotFound
	}
	c := *e
	c.Flags = e.Flags.Clone()
	return &c, nil
}

// Count returns the number of indexed messages of a mailbox.
func (x *Index) Count(id store.MailboxID) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries[id])
}
