package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rbaliyan/mailstore/retry"
	"github.com/rbaliyan/mailstore/store"
)

// Listener receives dispatched events.
type Listener interface {
	Event(ctx context.Context, ev Event) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, ev Event) error

// Event calls f.
func (f ListenerFunc) Event(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// ListenerError reports a listener that failed to handle an event after all
// retries.
type ListenerError struct {
	Listener  string
	EventType Type
	EventID   string
	Err       error
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("events: listener %q failed on %s (%s): %v", e.Listener, e.EventType, e.EventID, e.Err)
}

func (e *ListenerError) Unwrap() error {
	return e.Err
}

// errListenerPanic marks a recovered listener panic.
var errListenerPanic = errors.New("events: listener panicked")

type registration struct {
	id       uint64
	name     string
	listener Listener
}

// Registration is the handle of a registered listener.
type Registration struct {
	once       sync.Once
	unregister func()
}

// Unregister removes the listener. Safe to call more than once.
func (r *Registration) Unregister() {
	r.once.Do(r.unregister)
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger.
func WithRegistryLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithRetry sets the redelivery policy applied to each failing listener.
func WithRetry(cfg retry.Config) RegistryOption {
	return func(r *Registry) {
		r.retry = cfg
	}
}

// WithDeadLetters sets where undeliverable events are parked.
func WithDeadLetters(dl DeadLetters) RegistryOption {
	return func(r *Registry) {
		if dl != nil {
			r.deadLetters = dl
		}
	}
}

// Default redelivery policy.
const (
	DefaultListenerRetries = 2
	DefaultListenerBackoff = 10 * time.Millisecond
)

// Registry holds listeners and delivers events to them. Listeners are either
// global (every event) or scoped to one mailbox. Registration is explicit and
// always returns a handle to undo it.
type Registry struct {
	mu        sync.RWMutex
	nextID    uint64
	global    map[uint64]registration
	byMailbox map[store.MailboxID]map[uint64]registration

	logger      *slog.Logger
	retry       retry.Config
	deadLetters DeadLetters
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		global:    make(map[uint64]registration),
		byMailbox: make(map[store.MailboxID]map[uint64]registration),
		logger:    slog.Default(),
		retry: retry.Config{
			MaxRetries:     DefaultListenerRetries,
			InitialBackoff: DefaultListenerBackoff,
			MaxBackoff:     10 * DefaultListenerBackoff,
			Multiplier:     2,
		},
		deadLetters: NewMemoryDeadLetters(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterGlobal registers a listener receiving every event.
func (r *Registry) RegisterGlobal(name string, l Listener) *Registration {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.global[id] = registration{id: id, name: name, listener: l}

	return &Registration{unregister: func() {
		r.mu.Lock()
		delete(r.global, id)
		r.mu.Unlock()
	}}
}

// RegisterMailbox registers a listener receiving only events of one mailbox.
// The scope follows the mailbox across renames.
func (r *Registry) RegisterMailbox(mailboxID store.MailboxID, name string, l Listener) *Registration {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	scoped, ok := r.byMailbox[mailboxID]
	if !ok {
		scoped = make(map[uint64]registration)
		r.byMailbox[mailboxID] = scoped
	}
	scoped[id] = registration{id: id, name: name, listener: l}

	return &Registration{unregister: func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.byMailbox[mailboxID], id)
		if len(r.byMailbox[mailboxID]) == 0 {
			delete(r.byMailbox, mailboxID)
		}
	}}
}

// Len returns the number of registered listeners.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := len(r.global)
	for _, scoped := range r.byMailbox {
		n += len(scoped)
	}
	return n
}

// listenersFor returns the listeners of an event in registration order.
func (r *Registry) listenersFor(id store.MailboxID) []registration {
	r.mu.RLock()
	regs := make([]registration, 0, len(r.global)+len(r.byMailbox[id]))
	for _, reg := range r.global {
		regs = append(regs, reg)
	}
	for _, reg := range r.byMailbox[id] {
		regs = append(regs, reg)
	}
	r.mu.RUnlock()

	sort.Slice(regs, func(i, j int) bool { return regs[i].id < regs[j].id })
	return regs
}

// Dispatch delivers ev to every matching listener in registration order.
// A failing listener is retried, then its event is parked in the dead-letter
// store; delivery continues with the next listener. The returned error joins
// every *ListenerError and is informational only.
func (r *Registry) Dispatch(ctx context.Context, ev Event) error {
	var errs []error
	for _, reg := range r.listenersFor(ev.Meta().MailboxID) {
		if err := r.deliver(ctx, reg, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) deliver(ctx context.Context, reg registration, ev Event) error {
	cfg := r.retry
	cfg.OnRetry = func(attempt int, err error) {
		r.logger.Warn("listener failed, retrying",
			"listener", reg.name, "event_type", ev.Type(), "attempt", attempt, "error", err)
	}

	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		return safeCall(ctx, reg.listener, ev)
	})
	if err == nil {
		return nil
	}

	meta := ev.Meta()
	lerr := &ListenerError{Listener: reg.name, EventType: ev.Type(), EventID: meta.EventID, Err: err}
	r.logger.Error("listener failed",
		"listener", reg.name, "event_type", ev.Type(), "mailbox_id", meta.MailboxID,
		"attempts", retry.Attempts(err), "error", err)

	dl := DeadLetter{Listener: reg.name, Event: ev, Error: err.Error(), FailedAt: time.Now().UTC()}
	if dlErr := r.deadLetters.Store(context.WithoutCancel(ctx), dl); dlErr != nil {
		r.logger.Error("failed to store dead letter", "listener", reg.name, "error", dlErr)
	}
	return lerr
}

// safeCall invokes the listener, turning a panic into an error.
func safeCall(ctx context.Context, l Listener, ev Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = retry.MarkNotRetryable(fmt.Errorf("%w: %v", errListenerPanic, p))
		}
	}()
	return l.Event(ctx, ev)
}

// DeadLetters returns the dead-letter store.
func (r *Registry) DeadLetters() DeadLetters {
	return r.deadLetters
}

// Redeliver retries every dead letter parked for the named listener, which
// must currently be registered. Letters delivered successfully are removed.
// Returns the number of redelivered events.
func (r *Registry) Redeliver(ctx context.Context, name string) (int, error) {
	var target Listener
	r.mu.RLock()
	for _, reg := range r.global {
		if reg.name == name {
			target = reg.listener
		}
	}
	for _, scoped := range r.byMailbox {
		for _, reg := range scoped {
			if reg.name == name {
				target = reg.listener
			}
		}
	}
	r.mu.RUnlock()
	if target == nil {
		return 0, fmt.Errorf("events: no listener named %q", name)
	}

	letters, err := r.deadLetters.List(ctx, name)
	if err != nil {
		return 0, err
	}

	var (
		delivered int
		errs      []error
	)
	for _, dl := range letters {
		if err := safeCall(ctx, target, dl.Event); err != nil {
			errs = append(errs, &ListenerError{Listener: name, EventType: dl.Event.Type(), EventID: dl.Event.Meta().EventID, Err: err})
			continue
		}
		if err := r.deadLetters.Remove(ctx, dl.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		delivered++
	}
	return delivered, errors.Join(errs...)
}
