package memory

import (
	"context"

	"github.com/rbaliyan/mailstore/store"
)

// AddMessage stores a copy of msg.
func (s *Store) AddMessage(_ context.Context, msg *store.Message) error {
	e, err := s.entry(msg.MailboxID)
	if err != nil {
		return err
	}
	if msg.UID == 0 {
		return store.ErrInvalidID
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.messages[msg.UID]; exists {
		return store.ErrDuplicateEntry
	}
	e.messages[msg.UID] = msg.Clone()
	return nil
}

// GetMessage returns a copy of a message.
func (s *Store) GetMessage(_ context.Context, id store.MailboxID, uid store.UID) (*store.Message, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	m, ok := e.messages[uid]
	if !ok {
		return nil, store.ErrMessageNotFound
	}
	return m.Clone(), nil
}

// UpdateFlags replaces the flags of a message.
func (s *Store) UpdateFlags(_ context.Context, id store.MailboxID, uid store.UID, flags store.Flags, modSeq store.ModSeq) error {
	e, err := s.entry(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	orig, ok := e.messages[uid]
	if !ok {
		return store.ErrMessageNotFound
	}

	// Copy-on-write so readers holding a clone never observe a partial update.
	m := orig.Clone()
	m.Flags = flags.Clone()
	m.ModSeq = modSeq
	e.messages[uid] = m
	return nil
}

// DeleteMessage removes a message.
func (s *Store) DeleteMessage(_ context.Context, id store.MailboxID, uid store.UID) error {
	e, err := s.entry(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.messages[uid]; !ok {
		return store.ErrMessageNotFound
	}
	delete(e.messages, uid)
	return nil
}

// ListMessages returns messages with UID greater than after, ordered by UID.
func (s *Store) ListMessages(_ context.Context, id store.MailboxID, after store.UID, limit int) ([]*store.Message, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	uids := sortedUIDs(e.messages, func(m *store.Message) bool { return m.UID > after })
	if limit > 0 && len(uids) > limit {
		uids = uids[:limit]
	}

	result := make([]*store.Message, len(uids))
	for i, uid := range uids {
		result[i] = e.messages[uid].Clone()
	}
	return result, nil
}

// ListDeleted returns the UIDs of messages flagged \Deleted.
func (s *Store) ListDeleted(_ context.Context, id store.MailboxID) ([]store.UID, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return sortedUIDs(e.messages, func(m *store.Message) bool { return m.Flags.Has(store.FlagDeleted) }), nil
}
