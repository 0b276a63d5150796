package memory

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rbaliyan/mailstore/store"
	"github.com/rbaliyan/mailstore/store/storetest"
)

func newConnected(t *testing.T) *Store {
	t.Helper()
	s := New()
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return s
}

func mustCreate(t *testing.T, s *Store, path store.MailboxPath) *store.Mailbox {
	t.Helper()
	mb, err := s.CreateMailbox(context.Background(), &store.Mailbox{Path: path, UIDValidity: 42})
	if err != nil {
		t.Fatalf("create mailbox %s: %v", path, err)
	}
	return mb
}

func TestStore_NotConnected(t *testing.T) {
	s := New()
	_, err := s.NextUID(context.Background(), "x")
	if !errors.Is(err, store.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if err := s.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Connect(context.Background()); !errors.Is(err, store.ErrAlreadyConnected) {
		t.Errorf("expected ErrAlreadyConnected, got %v", err)
	}
}

func TestStore_CreateMailbox(t *testing.T) {
	ctx := context.Background()
	s := newConnected(t)

	mb := mustCreate(t, s, store.Inbox("alice"))
	if mb.ID == "" {
		t.Fatal("expected ID to be assigned")
	}
	if mb.LastUID != 0 || mb.HighestModSeq != 0 {
		t.Errorf("expected zero counters, got %d/%d", mb.LastUID, mb.HighestModSeq)
	}

	_, err := s.CreateMailbox(ctx, &store.Mailbox{Path: store.Inbox("alice")})
	if !errors.Is(err, store.ErrMailboxExists) {
		t.Errorf("expected ErrMailboxExists, got %v", err)
	}

	_, err = s.CreateMailbox(ctx, &store.Mailbox{Path: store.NewPath("alice", "a..b")})
	if !errors.Is(err, store.ErrInvalidPath) {
		t.Errorf("expected ErrInvalidPath, got %v", err)
	}

	got, err := s.FindMailboxByPath(ctx, store.Inbox("alice"))
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.ID != mb.ID {
		t.Errorf("expected %s, got %s", mb.ID, got.ID)
	}
}

func TestStore_Sequences(t *testing.T) {
	ctx := context.Background()
	s := newConnected(t)
	mb := mustCreate(t, s, store.Inbox("alice"))

	for want := store.UID(1); want <= 3; want++ {
		got, err := s.NextUID(ctx, mb.ID)
		if err != nil {
			t.Fatalf("next uid: %v", err)
		}
		if got != want {
			t.Errorf("expected uid %d, got %d", want, got)
		}
	}

	ms, err := s.NextModSeq(ctx, mb.ID)
	if err != nil || ms != 1 {
		t.Errorf("expected modseq 1, got %d (%v)", ms, err)
	}

	got, _ := s.GetMailbox(ctx, mb.ID)
	if got.LastUID != 3 || got.HighestModSeq != 1 {
		t.Errorf("expected counters 3/1, got %d/%d", got.LastUID, got.HighestModSeq)
	}

	if _, err := s.NextUID(ctx, "missing"); !errors.Is(err, store.ErrMailboxNotFound) {
		t.Errorf("expected ErrMailboxNotFound, got %v", err)
	}
}

func TestStore_ConcurrentNextUID(t *testing.T) {
	ctx := context.Background()
	s := newConnected(t)
	mb := mustCreate(t, s, store.Inbox("alice"))

	const workers = 20
	const perWorker = 50

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[store.UID]bool)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				uid, err := s.NextUID(ctx, mb.ID)
				if err != nil {
					t.Errorf("next uid: %v", err)
					return
				}
				mu.Lock()
				if seen[uid] {
					t.Errorf("duplicate uid %d", uid)
				}
				seen[uid] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker {
		t.Errorf("expected %d distinct uids, got %d", workers*perWorker, len(seen))
	}
	last, _ := s.LastUID(ctx, mb.ID)
	if last != workers*perWorker {
		t.Errorf("expected last uid %d, got %d", workers*perWorker, last)
	}
}

func TestStore_Messages(t *testing.T) {
	ctx := context.Background()
	s := newConnected(t)
	mb := mustCreate(t, s, store.Inbox("alice"))

	for uid := store.UID(1); uid <= 5; uid++ {
		flags := store.NewFlags(store.FlagSeen)
		if uid%2 == 0 {
			flags = store.NewFlags(store.FlagDeleted)
		}
		err := s.AddMessage(ctx, &store.Message{MailboxID: mb.ID, UID: uid, ModSeq: store.ModSeq(uid), Flags: flags, Size: 10})
		if err != nil {
			t.Fatalf("add %d: %v", uid, err)
		}
	}

	err := s.AddMessage(ctx, &store.Message{MailboxID: mb.ID, UID: 3})
	if !errors.Is(err, store.ErrDuplicateEntry) {
		t.Errorf("expected ErrDuplicateEntry, got %v", err)
	}

	page, err := s.ListMessages(ctx, mb.ID, 2, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].UID != 3 || page[1].UID != 4 {
		t.Errorf("unexpected page: %+v", page)
	}

	deleted, err := s.ListDeleted(ctx, mb.ID)
	if err != nil {
		t.Fatalf("list deleted: %v", err)
	}
	if len(deleted) != 2 || deleted[0] != 2 || deleted[1] != 4 {
		t.Errorf("expected [2 4], got %v", deleted)
	}

	if err := s.UpdateFlags(ctx, mb.ID, 1, store.NewFlags(store.FlagFlagged), 9); err != nil {
		t.Fatalf("update flags: %v", err)
	}
	m, _ := s.GetMessage(ctx, mb.ID, 1)
	if !m.Flags.Has(store.FlagFlagged) || m.ModSeq != 9 {
		t.Errorf("flags not updated: %+v", m)
	}

	if err := s.DeleteMessage(ctx, mb.ID, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetMessage(ctx, mb.ID, 1); !errors.Is(err, store.ErrMessageNotFound) {
		t.Errorf("expected ErrMessageNotFound, got %v", err)
	}
	if !store.IsNotFound(store.ErrMessageNotFound) {
		t.Error("ErrMessageNotFound should unwrap to ErrNotFound")
	}
}

func TestStore_RenameAndList(t *testing.T) {
	ctx := context.Background()
	s := newConnected(t)
	inbox := mustCreate(t, s, store.Inbox("alice"))
	mustCreate(t, s, store.NewPath("alice", "Archive"))
	mustCreate(t, s, store.NewPath("bob", "INBOX"))

	if err := s.RenameMailbox(ctx, inbox.ID, store.NewPath("alice", "Archive")); !errors.Is(err, store.ErrMailboxExists) {
		t.Errorf("expected ErrMailboxExists, got %v", err)
	}
	if err := s.RenameMailbox(ctx, inbox.ID, store.NewPath("alice", "Old")); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, err := s.FindMailboxByPath(ctx, store.Inbox("alice")); !errors.Is(err, store.ErrMailboxNotFound) {
		t.Errorf("old path should be gone, got %v", err)
	}

	all, err := s.ListMailboxes(ctx, store.MailboxQuery{User: "alice"}, "", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 || all[0].Path.Name != "Archive" || all[1].Path.Name != "Old" {
		t.Errorf("unexpected list: %+v", all)
	}

	page, _ := s.ListMailboxes(ctx, store.MailboxQuery{}, all[0].Path.String(), 1)
	if len(page) != 1 || page[0].Path.Name != "Old" {
		t.Errorf("unexpected page after cursor: %+v", page)
	}
}

func TestStore_DeleteMailboxCascades(t *testing.T) {
	ctx := context.Background()
	s := newConnected(t)
	mb := mustCreate(t, s, store.Inbox("alice"))
	_ = s.AddMessage(ctx, &store.Message{MailboxID: mb.ID, UID: 1})

	if err := s.DeleteMailbox(ctx, mb.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetMessage(ctx, mb.ID, 1); !errors.Is(err, store.ErrMailboxNotFound) {
		t.Errorf("expected ErrMailboxNotFound, got %v", err)
	}

	// Recreating the path yields a new mailbox with fresh counters.
	again := mustCreate(t, s, store.Inbox("alice"))
	if again.ID == mb.ID {
		t.Error("mailbox IDs must not be reused")
	}
}

func TestStore_Quota(t *testing.T) {
	ctx := context.Background()
	s := newConnected(t)
	count, _ := store.MailboxQuotaKeys("alice")

	if _, ok, _ := s.GetQuota(ctx, count); ok {
		t.Fatal("counter should be absent")
	}
	_ = s.IncreaseQuota(ctx, count, 5)
	_ = s.IncreaseQuota(ctx, count, -2)
	if v, ok, _ := s.GetQuota(ctx, count); !ok || v != 3 {
		t.Errorf("expected 3, got %d (%v)", v, ok)
	}

	if err := s.DeleteQuota(ctx, count); err != nil {
		t.Fatalf("delete quota: %v", err)
	}
	if _, ok, _ := s.GetQuota(ctx, count); ok {
		t.Error("counter should be absent after delete")
	}
	_ = s.IncreaseQuota(ctx, count, 100)
	if v, _, _ := s.GetQuota(ctx, count); v != 100 {
		t.Errorf("expected 100 after delete then +100, got %d", v)
	}
}

func TestIndex(t *testing.T) {
	ctx := context.Background()
	idx := NewIndex()
	mb := &store.Mailbox{ID: "mb1"}

	_ = idx.Add(ctx, mb, &store.Message{UID: 1, ModSeq: 1, Flags: store.NewFlags(store.FlagSeen)})
	_ = idx.Add(ctx, mb, &store.Message{UID: 2, ModSeq: 2})

	if err := idx.UpdateFlags(ctx, "mb1", 1, store.NewFlags(store.FlagFlagged), 3); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := idx.Get(ctx, "mb1", 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Flags.Has(store.FlagFlagged) || got.ModSeq != 3 {
		t.Errorf("unexpected entry: %+v", got)
	}

	_ = idx.Delete(ctx, "mb1", 2)
	if idx.Count("mb1") != 1 {
		t.Errorf("expected 1 entry, got %d", idx.Count("mb1"))
	}
	_ = idx.DeleteAll(ctx, "mb1")
	if _, err := idx.Get(ctx, "mb1", 1); !errors.Is(err, store.ErrMessageNotFound) {
		t.Errorf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return newConnected(t) })
}
