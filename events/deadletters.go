package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DeadLetter is an event a listener could not handle.
type DeadLetter struct {
	ID       string
	Listener string
	Event    Event
	Error    string
	FailedAt time.Time
}

// DeadLetters stores undeliverable events for later redelivery.
type DeadLetters interface {
	// Store parks a letter. The ID is assigned when empty.
	Store(ctx context.Context, dl DeadLetter) error

	// List returns the letters of a listener, oldest first.
	List(ctx context.Context, listener string) ([]DeadLetter, error)

	// Remove deletes a letter.
	Remove(ctx context.Context, id string) error
}

// MemoryDeadLetters keeps dead letters in process memory.
type MemoryDeadLetters struct {
	mu      sync.Mutex
	letters []DeadLetter
}

var _ DeadLetters = (*MemoryDeadLetters)(nil)

// NewMemoryDeadLetters creates an empty in-memory dead-letter store.
func NewMemoryDeadLetters() *MemoryDeadLetters {
	return &MemoryDeadLetters{}
}

func (m *MemoryDeadLetters) Store(_ context.Context, dl DeadLetter) error {
	if dl.ID == "" {
		dl.ID = uuid.New().String()
	}
	m.mu.Lock()
	m.letters = append(m.letters, dl)
	m.mu.Unlock()
	return nil
}

func (m *MemoryDeadLetters) List(_ context.Context, listener string) ([]DeadLetter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []DeadLetter
	for _, dl := range m.letters {
		if dl.Listener == listener {
			out = append(out, dl)
		}
	}
	return out, nil
}

func (m *MemoryDeadLetters) Remove(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, dl := range m.letters {
		if dl.ID == id {
			m.letters = append(m.letters[:i], m.letters[i+1:]...)
			return nil
		}
	}
	return nil
}
