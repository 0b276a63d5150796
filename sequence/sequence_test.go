package sequence

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rbaliyan/mailstore/store"
	"github.com/rbaliyan/mailstore/store/memory"
)

func setup(t *testing.T) (*memory.Store, store.MailboxID) {
	t.Helper()
	ctx := context.Background()
	s := memory.New()
	if err := s.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	mb, err := s.CreateMailbox(ctx, &store.Mailbox{Path: store.Inbox("alice"), UIDValidity: 1})
	if err != nil {
		t.Fatal(err)
	}
	return s, mb.ID
}

// stuckStore returns the same UID forever.
type stuckStore struct {
	*memory.Store
}

func (stuckStore) NextUID(context.Context, store.MailboxID) (store.UID, error) {
	return 7, nil
}

// failingStore fails every allocation.
type failingStore struct {
	*memory.Store
	err error
}

func (f failingStore) NextModSeq(context.Context, store.MailboxID) (store.ModSeq, error) {
	return 0, f.err
}

func TestAllocator_Increasing(t *testing.T) {
	ctx := context.Background()
	s, id := setup(t)
	a := New(s)

	var prev store.UID
	for i := 0; i < 10; i++ {
		uid, err := a.AllocateUID(ctx, id)
		if err != nil {
			t.Fatalf("allocate: %v", err)
		}
		if uid <= prev {
			t.Fatalf("uid %d not greater than %d", uid, prev)
		}
		prev = uid
	}

	last, err := a.LastUID(ctx, id)
	if err != nil || last != prev {
		t.Errorf("expected last uid %d, got %d (%v)", prev, last, err)
	}
}

func TestAllocator_Concurrent(t *testing.T) {
	ctx := context.Background()
	s, id := setup(t)
	a := New(s)

	const n = 200
	results := make(chan store.ModSeq, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ms, err := a.AllocateModSeq(ctx, id)
			if err != nil {
				t.Errorf("allocate: %v", err)
				return
			}
			results <- ms
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[store.ModSeq]bool)
	for ms := range results {
		if seen[ms] {
			t.Errorf("duplicate modseq %d", ms)
		}
		seen[ms] = true
	}
	if len(seen) != n {
		t.Errorf("expected %d values, got %d", n, len(seen))
	}
}

func TestAllocator_Regression(t *testing.T) {
	ctx := context.Background()
	s, id := setup(t)
	a := New(stuckStore{s})

	if _, err := a.AllocateUID(ctx, id); err != nil {
		t.Fatalf("first allocation: %v", err)
	}
	_, err := a.AllocateUID(ctx, id)
	if !errors.Is(err, ErrSequenceRegression) {
		t.Fatalf("expected ErrSequenceRegression, got %v", err)
	}
	var allocErr *AllocationError
	if !errors.As(err, &allocErr) || allocErr.Kind != KindUID || allocErr.MailboxID != id {
		t.Errorf("unexpected error shape: %#v", err)
	}

	a.Forget(id)
	if _, err := a.AllocateUID(ctx, id); err != nil {
		t.Errorf("after Forget the guard should be reset, got %v", err)
	}
}

func TestAllocator_BackendFailure(t *testing.T) {
	ctx := context.Background()
	s, id := setup(t)
	boom := errors.New("boom")
	a := New(failingStore{Store: s, err: boom})

	ms, err := a.AllocateModSeq(ctx, id)
	if ms != 0 {
		t.Errorf("no number may be granted on failure, got %d", ms)
	}
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped backend error, got %v", err)
	}
}

func TestAllocator_UnknownMailbox(t *testing.T) {
	s, _ := setup(t)
	_, err := New(s).AllocateUID(context.Background(), "missing")
	if !errors.Is(err, store.ErrMailboxNotFound) {
		t.Errorf("expected ErrMailboxNotFound, got %v", err)
	}
}
