// Package memory provides an in-memory Store implementation for testing.
// This store is not suitable for production use - data is not persisted.
//
// The memory store has no transactions; drive it with mapper.NonTransactional.
package memory

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/mailstore/store"
)

// Compile-time checks
var (
	_ store.Store       = (*Store)(nil)
	_ store.SearchIndex = (*Index)(nil)
)

// Store implements store.Store with in-memory storage.
// Thread-safe for concurrent use. Not suitable for production.
type Store struct {
	mu        sync.RWMutex
	mailboxes map[store.MailboxID]*mailboxEntry
	byPath    map[store.MailboxPath]store.MailboxID

	quotaMu sync.Mutex
	quotas  map[store.QuotaKey]int64

	connected int32
}

// mailboxEntry holds a mailbox, its counters and its messages.
// The entry mutex serializes counter increments and message mutations.
type mailboxEntry struct {
	mu            sync.Mutex
	mailbox       store.Mailbox
	lastUID       store.UID
	highestModSeq store.ModSeq
	messages      map[store.UID]*store.Message
}

// snapshot returns a copy of the mailbox with current counters.
// Caller must hold e.mu.
func (e *mailboxEntry) snapshot() *store.Mailbox {
	mb := e.mailbox
	mb.LastUID = e.lastUID
	mb.HighestModSeq = e.highestModSeq
	return &mb
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		mailboxes: make(map[store.MailboxID]*mailboxEntry),
		byPath:    make(map[store.MailboxPath]store.MailboxID),
		quotas:    make(map[store.QuotaKey]int64),
	}
}

// Connect marks the store as connected.
func (s *Store) Connect(_ context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}
	return nil
}

// Close marks the store as disconnected.
func (s *Store) Close(_ context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// entry returns the entry for a mailbox ID.
func (s *Store) entry(id store.MailboxID) (*mailboxEntry, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, store.ErrInvalidID
	}
	s.mu.RLock()
	e, ok := s.mailboxes[id]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrMailboxNotFound
	}
	return e, nil
}

// =============================================================================
// Mailbox Operations
// =============================================================================

// CreateMailbox persists a new mailbox.
func (s *Store) CreateMailbox(_ context.Context, mb *store.Mailbox) (*store.Mailbox, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if !mb.Path.IsValid() {
		return nil, store.ErrInvalidPath
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byPath[mb.Path]; exists {
		return nil, store.ErrMailboxExists
	}

	e := &mailboxEntry{
		mailbox:  *mb,
		messages: make(map[store.UID]*store.Message),
	}
	if e.mailbox.ID == "" {
		e.mailbox.ID = store.MailboxID(uuid.New().String())
	}
	if e.mailbox.CreatedAt.IsZero() {
		e.mailbox.CreatedAt = time.Now().UTC()
	}
	e.mailbox.LastUID = 0
	e.mailbox.HighestModSeq = 0

	s.mailboxes[e.mailbox.ID] = e
	s.byPath[mb.Path] = e.mailbox.ID

	return e.snapshot(), nil
}

// GetMailbox retrieves a mailbox by ID.
func (s *Store) GetMailbox(_ context.Context, id store.MailboxID) (*store.Mailbox, error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot(), nil
}

// FindMailboxByPath retrieves a mailbox by path.
func (s *Store) FindMailboxByPath(ctx context.Context, path store.MailboxPath) (*store.Mailbox, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	id, ok := s.byPath[path]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrMailboxNotFound
	}
	return s.GetMailbox(ctx, id)
}

// ListMailboxes returns mailboxes ordered by path, after the cursor.
func (s *Store) ListMailboxes(_ context.Context, query store.MailboxQuery, cursor string, limit int) ([]*store.Mailbox, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	entries := make([]*mailboxEntry, 0, len(s.mailboxes))
	for _, e := range s.mailboxes {
		if query.Matches(e.mailbox.Path) && e.mailbox.Path.String() > cursor {
			entries = append(entries, e)
		}
	}
	s.mu.RUnlock()

	sortEntriesByPath(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	result := make([]*store.Mailbox, len(entries))
	for i, e := range entries {
		e.mu.Lock()
		result[i] = e.snapshot()
		e.mu.Unlock()
	}
	return result, nil
}

// RenameMailbox changes the path of a mailbox.
func (s *Store) RenameMailbox(_ context.Context, id store.MailboxID, newPath store.MailboxPath) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if !newPath.IsValid() {
		return store.ErrInvalidPath
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.mailboxes[id]
	if !ok {
		return store.ErrMailboxNotFound
	}
	if _, taken := s.byPath[newPath]; taken {
		return store.ErrMailboxExists
	}

	e.mu.Lock()
	oldPath := e.mailbox.Path
	e.mailbox.Path = newPath
	e.mu.Unlock()

	delete(s.byPath, oldPath)
	s.byPath[newPath] = id
	return nil
}

// UpdateUIDValidity persists a repaired UidValidity.
func (s *Store) UpdateUIDValidity(_ context.Context, id store.MailboxID, v store.UIDValidity) error {
	e, err := s.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.mailbox.UIDValidity = v
	e.mu.Unlock()
	return nil
}

// DeleteMailbox removes the mailbox, its messages and its counters.
func (s *Store) DeleteMailbox(_ context.Context, id store.MailboxID) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.mailboxes[id]
	if !ok {
		return store.ErrMailboxNotFound
	}
	delete(s.mailboxes, id)
	delete(s.byPath, e.mailbox.Path)
	return nil
}

// SetUIDValidityForTest overwrites a mailbox's UidValidity without
// validation, to simulate legacy data.
func (s *Store) SetUIDValidityForTest(id store.MailboxID, v store.UIDValidity) {
	s.mu.RLock()
	e, ok := s.mailboxes[id]
	s.mu.RUnlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.mailbox.UIDValidity = v
	e.mu.Unlock()
}
