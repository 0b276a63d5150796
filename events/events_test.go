package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rbaliyan/mailstore/retry"
	"github.com/rbaliyan/mailstore/store"
)

func testMailbox() *store.Mailbox {
	return &store.Mailbox{ID: "mb1", Path: store.Inbox("alice"), UIDValidity: 9}
}

func fastRetry() RegistryOption {
	return WithRetry(retry.Config{MaxRetries: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond})
}

func TestCodecRegistry_RoundTrip(t *testing.T) {
	mb := testMailbox()
	events := []Event{
		&MailboxAdded{Base: NewBase(mb), UIDValidity: 9},
		&MailboxRenamed{Base: NewBase(mb), NewPath: store.NewPath("alice", "Old")},
		&MessageAdded{Base: NewBase(mb), UID: 3, ModSeq: 4, Flags: store.NewFlags(store.FlagSeen, "work"), Size: 120},
		&FlagsUpdated{Base: NewBase(mb), Changes: []FlagsChange{{UID: 3, ModSeq: 5, NewFlags: store.NewFlags(store.FlagFlagged)}}},
		&Expunged{Base: NewBase(mb), Messages: []ExpungedMessage{{UID: 3, Size: 120}}},
		&MailboxDeleted{Base: NewBase(mb), MessageCount: 2, TotalSize: 240},
	}

	for _, codec := range []Codec{JSON, Base64JSON} {
		r := NewCodecRegistry(codec)
		RegisterBuiltins(r)
		for _, ev := range events {
			t.Run(codec.ContentType()+"/"+string(ev.Type()), func(t *testing.T) {
				env, err := r.Encode(ev)
				if err != nil {
					t.Fatalf("encode: %v", err)
				}
				if env.Type != ev.Type() || env.ContentType != codec.ContentType() {
					t.Errorf("unexpected envelope header: %+v", env)
				}
				got, err := r.Decode(env)
				if err != nil {
					t.Fatalf("decode: %v", err)
				}
				if got.Type() != ev.Type() || got.Meta().EventID != ev.Meta().EventID {
					t.Errorf("decoded %+v, want %+v", got, ev)
				}
			})
		}
	}
}

func TestCodecRegistry_DecodedFields(t *testing.T) {
	r := DefaultCodecRegistry()
	in := &MessageAdded{Base: NewBase(testMailbox()), UID: 3, ModSeq: 4, Flags: store.NewFlags(store.FlagSeen, "work"), Size: 120}
	env, _ := r.Encode(in)
	out, err := r.Decode(env)
	if err != nil {
		t.Fatal(err)
	}
	added, ok := out.(*MessageAdded)
	if !ok {
		t.Fatalf("expected *MessageAdded, got %T", out)
	}
	if added.UID != 3 || added.ModSeq != 4 || !added.Flags.Equal(in.Flags) || added.Path != in.Path {
		t.Errorf("fields lost: %+v", added)
	}
}

func TestCodecRegistry_Errors(t *testing.T) {
	r := DefaultCodecRegistry()

	_, err := r.Decode(Envelope{Type: "nope", ContentType: JSON.ContentType(), Payload: "{}"})
	if !errors.Is(err, ErrUnknownEventType) {
		t.Errorf("expected ErrUnknownEventType, got %v", err)
	}
	_, err = r.Decode(Envelope{Type: TypeExpunged, ContentType: "text/x-unknown", Payload: "{}"})
	if !errors.Is(err, ErrUnsupportedContentType) {
		t.Errorf("expected ErrUnsupportedContentType, got %v", err)
	}
	_, err = r.Decode(Envelope{Type: TypeExpunged, ContentType: JSON.ContentType(), Payload: "{broken"})
	if !errors.Is(err, ErrDecoding) {
		t.Errorf("expected ErrDecoding, got %v", err)
	}

	empty := NewCodecRegistry(JSON)
	if _, err := empty.Encode(&Expunged{}); !errors.Is(err, ErrUnknownEventType) {
		t.Errorf("expected ErrUnknownEventType on encode, got %v", err)
	}
}

func TestRegistry_DispatchScopes(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry()

	var global, scoped, other int32
	r.RegisterGlobal("global", ListenerFunc(func(context.Context, Event) error {
		atomic.AddInt32(&global, 1)
		return nil
	}))
	reg := r.RegisterMailbox("mb1", "scoped", ListenerFunc(func(context.Context, Event) error {
		atomic.AddInt32(&scoped, 1)
		return nil
	}))
	r.RegisterMailbox("mb2", "other", ListenerFunc(func(context.Context, Event) error {
		atomic.AddInt32(&other, 1)
		return nil
	}))

	ev := &MessageAdded{Base: NewBase(testMailbox()), UID: 1}
	if err := r.Dispatch(ctx, ev); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if global != 1 || scoped != 1 || other != 0 {
		t.Errorf("unexpected deliveries global=%d scoped=%d other=%d", global, scoped, other)
	}

	reg.Unregister()
	reg.Unregister()
	_ = r.Dispatch(ctx, ev)
	if scoped != 1 {
		t.Errorf("unregistered listener still called: %d", scoped)
	}
	if r.Len() != 2 {
		t.Errorf("expected 2 listeners left, got %d", r.Len())
	}
}

func TestRegistry_FailingListenerDoesNotBlockOthers(t *testing.T) {
	ctx := context.Background()
	dl := NewMemoryDeadLetters()
	r := NewRegistry(fastRetry(), WithDeadLetters(dl))

	var calls, after int32
	r.RegisterGlobal("broken", ListenerFunc(func(context.Context, Event) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("index down")
	}))
	r.RegisterGlobal("panicky", ListenerFunc(func(context.Context, Event) error {
		panic("boom")
	}))
	r.RegisterGlobal("healthy", ListenerFunc(func(context.Context, Event) error {
		atomic.AddInt32(&after, 1)
		return nil
	}))

	err := r.Dispatch(ctx, &Expunged{Base: NewBase(testMailbox())})

	var lerr *ListenerError
	if !errors.As(err, &lerr) {
		t.Fatalf("expected ListenerError, got %v", err)
	}
	if after != 1 {
		t.Error("healthy listener should still be called")
	}
	if calls != 2 {
		t.Errorf("expected 1 retry (2 calls), got %d", calls)
	}

	letters, _ := dl.List(ctx, "broken")
	if len(letters) != 1 || letters[0].Event.Type() != TypeExpunged {
		t.Errorf("expected one dead letter for broken listener, got %+v", letters)
	}
	panicked, _ := dl.List(ctx, "panicky")
	if len(panicked) != 1 {
		t.Errorf("expected panicking listener to be dead-lettered, got %d", len(panicked))
	}
}

func TestRegistry_Redeliver(t *testing.T) {
	ctx := context.Background()
	r := NewRegistry(fastRetry())

	var healthy atomic.Bool
	var received int32
	r.RegisterGlobal("flaky", ListenerFunc(func(context.Context, Event) error {
		if !healthy.Load() {
			return errors.New("not yet")
		}
		atomic.AddInt32(&received, 1)
		return nil
	}))

	_ = r.Dispatch(ctx, &MessageAdded{Base: NewBase(testMailbox()), UID: 1})
	_ = r.Dispatch(ctx, &MessageAdded{Base: NewBase(testMailbox()), UID: 2})

	healthy.Store(true)
	n, err := r.Redeliver(ctx, "flaky")
	if err != nil {
		t.Fatalf("redeliver: %v", err)
	}
	if n != 2 || received != 2 {
		t.Errorf("expected 2 redelivered, got n=%d received=%d", n, received)
	}
	left, _ := r.DeadLetters().List(ctx, "flaky")
	if len(left) != 0 {
		t.Errorf("expected dead letters drained, got %d", len(left))
	}

	if _, err := r.Redeliver(ctx, "unknown"); err == nil {
		t.Error("expected error for unknown listener")
	}
}
