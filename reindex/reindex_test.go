package reindex

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rbaliyan/mailstore"
	"github.com/rbaliyan/mailstore/events"
	"github.com/rbaliyan/mailstore/store"
	"github.com/rbaliyan/mailstore/store/memory"
)

// hookIndex runs onAdd before delegating to the in-memory index.
type hookIndex struct {
	*memory.Index
	mu    sync.Mutex
	onAdd func(ctx context.Context, mb *store.Mailbox, msg *store.Message) error
}

func (h *hookIndex) Add(ctx context.Context, mb *store.Mailbox, msg *store.Message) error {
	h.mu.Lock()
	hook := h.onAdd
	h.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, mb, msg); err != nil {
			return err
		}
	}
	return h.Index.Add(ctx, mb, msg)
}

func (h *hookIndex) setHook(fn func(ctx context.Context, mb *store.Mailbox, msg *store.Message) error) {
	h.mu.Lock()
	h.onAdd = fn
	h.mu.Unlock()
}

func setup(t *testing.T) (mailstore.Service, *hookIndex) {
	t.Helper()
	svc, err := mailstore.NewService(mailstore.WithStore(memory.New()))
	if err != nil {
		t.Fatal(err)
	}
	if err := svc.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = svc.Close(context.Background()) })
	return svc, &hookIndex{Index: memory.NewIndex()}
}

func fill(t *testing.T, svc mailstore.Service, path store.MailboxPath, n int) *store.Mailbox {
	t.Helper()
	ctx := context.Background()
	mb, err := svc.CreateMailbox(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		if _, err := svc.Append(ctx, path, mailstore.AppendRequest{Body: []byte("Subject: x\r\n\r\nbody")}); err != nil {
			t.Fatal(err)
		}
	}
	return mb
}

func TestReIndexAll(t *testing.T) {
	svc, idx := setup(t)
	a := fill(t, svc, store.NewPath("alice", "A"), 3)
	b := fill(t, svc, store.NewPath("bob", "B"), 2)
	baseline := svc.Listeners().Len()

	report, err := New(svc, idx, WithConcurrency(2)).ReIndexAll(context.Background(), RunningOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Result != Completed || report.MailboxesIndexed != 2 || report.MessagesIndexed != 5 {
		t.Errorf("unexpected report: %+v", report)
	}
	if idx.Count(a.ID) != 3 || idx.Count(b.ID) != 2 {
		t.Errorf("unexpected index contents: %d/%d", idx.Count(a.ID), idx.Count(b.ID))
	}
	if svc.Listeners().Len() != baseline {
		t.Errorf("listeners leaked: %d, want %d", svc.Listeners().Len(), baseline)
	}
}

func TestReIndexAll_MailboxDeletedMidScan(t *testing.T) {
	ctx := context.Background()
	svc, idx := setup(t)
	a := fill(t, svc, store.NewPath("alice", "A"), 2)
	fill(t, svc, store.NewPath("alice", "B"), 2)
	c := fill(t, svc, store.NewPath("alice", "C"), 1)

	var once sync.Once
	idx.setHook(func(ctx context.Context, mb *store.Mailbox, _ *store.Message) error {
		var err error
		once.Do(func() { err = svc.DeleteMailbox(ctx, store.NewPath("alice", "B")) })
		return err
	})

	report, err := New(svc, idx).ReIndexAll(ctx, RunningOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Result != Completed || report.MailboxesIndexed != 2 || report.MailboxesSkipped != 1 {
		t.Errorf("deleted mailbox should be skipped: %+v", report)
	}
	if idx.Count(a.ID) != 2 || idx.Count(c.ID) != 1 {
		t.Errorf("remaining mailboxes not indexed: %d/%d", idx.Count(a.ID), idx.Count(c.ID))
	}
}

func TestReIndexAll_FollowsRename(t *testing.T) {
	ctx := context.Background()
	svc, idx := setup(t)
	fill(t, svc, store.NewPath("alice", "A"), 1)
	b := fill(t, svc, store.NewPath("alice", "B"), 2)

	var once sync.Once
	idx.setHook(func(ctx context.Context, _ *store.Mailbox, _ *store.Message) error {
		var err error
		once.Do(func() { err = svc.RenameMailbox(ctx, store.NewPath("alice", "B"), store.NewPath("alice", "Renamed")) })
		return err
	})

	report, err := New(svc, idx).ReIndexAll(ctx, RunningOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if report.MailboxesIndexed != 2 || report.MailboxesSkipped != 0 {
		t.Errorf("renamed mailbox should be indexed under its new path: %+v", report)
	}
	if idx.Count(b.ID) != 2 {
		t.Errorf("expected 2 indexed messages in renamed mailbox, got %d", idx.Count(b.ID))
	}
}

func TestPathTracker(t *testing.T) {
	ctx := context.Background()
	a := store.NewPath("alice", "A")
	b := store.NewPath("alice", "B")
	base := func(p store.MailboxPath) events.Base { return events.Base{Path: p} }

	t.Run("rename then recreate", func(t *testing.T) {
		tr := newPathTracker()
		tr.Event(ctx, &events.MailboxRenamed{Base: base(a), NewPath: b})
		if got, ok := tr.resolve(a); !ok || got != b {
			t.Fatalf("expected A to resolve to B, got %v alive=%v", got, ok)
		}
		tr.Event(ctx, &events.MailboxAdded{Base: base(a)})
		if got, ok := tr.resolve(a); !ok || got != a {
			t.Errorf("a mailbox recreated at A must resolve to itself, got %v alive=%v", got, ok)
		}
		if got, _ := tr.resolve(b); got != b {
			t.Errorf("B should be unaffected, got %v", got)
		}
	})

	t.Run("delete then recreate", func(t *testing.T) {
		tr := newPathTracker()
		tr.Event(ctx, &events.MailboxDeleted{Base: base(a)})
		if _, ok := tr.resolve(a); ok {
			t.Fatal("deleted mailbox should not resolve")
		}
		tr.Event(ctx, &events.MailboxAdded{Base: base(a)})
		if _, ok := tr.resolve(a); !ok {
			t.Error("recreated mailbox should resolve")
		}
	})
}

func TestReIndexAll_FailingMailboxContinues(t *testing.T) {
	ctx := context.Background()
	svc, idx := setup(t)
	a := fill(t, svc, store.NewPath("alice", "A"), 2)
	b := fill(t, svc, store.NewPath("alice", "B"), 2)

	boom := errors.New("index unavailable")
	idx.setHook(func(_ context.Context, mb *store.Mailbox, _ *store.Message) error {
		if mb.ID == a.ID {
			return boom
		}
		return nil
	})

	r := New(svc, idx)
	report, err := r.ReIndexAll(ctx, RunningOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Result != Partial || len(report.Failures) != 1 {
		t.Fatalf("expected partial result with one failure, got %+v", report)
	}
	f := report.Failures[0]
	if f.MailboxID != a.ID || !errors.Is(f, boom) {
		t.Errorf("unexpected failure: %v", f)
	}
	if idx.Count(b.ID) != 2 {
		t.Errorf("healthy mailbox should be indexed, got %d", idx.Count(b.ID))
	}

	idx.setHook(nil)
	retried, err := r.ReIndexFailures(ctx, report.Failures, RunningOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if retried.Result != Completed || retried.MailboxesIndexed != 1 || idx.Count(a.ID) != 2 {
		t.Errorf("retry should index the failed mailbox: %+v", retried)
	}
}

func TestReIndexMailbox_DeletionBeatsFlagsUpdate(t *testing.T) {
	ctx := context.Background()
	svc, idx := setup(t)
	path := store.Inbox("alice")
	mb := fill(t, svc, path, 3)

	var once sync.Once
	idx.setHook(func(ctx context.Context, _ *store.Mailbox, msg *store.Message) error {
		var err error
		once.Do(func() {
			if _, err = svc.UpdateFlags(ctx, path, 2, store.NewFlags(store.FlagDeleted), store.FlagsAdd); err != nil {
				return
			}
			_, err = svc.Expunge(ctx, path, 2)
		})
		return err
	})

	report, err := New(svc, idx).ReIndexMailbox(ctx, path, RunningOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if report.Result != Completed || report.MessagesRemoved != 1 || report.MessagesIndexed != 2 {
		t.Errorf("unexpected report: %+v", report)
	}
	if _, err := idx.Get(ctx, mb.ID, 2); !errors.Is(err, store.ErrMessageNotFound) {
		t.Errorf("expunged message must not be indexed, got %v", err)
	}
}

func TestReIndexMailbox_LatestFlagsWin(t *testing.T) {
	ctx := context.Background()
	svc, idx := setup(t)
	path := store.Inbox("alice")
	mb := fill(t, svc, path, 2)

	var once sync.Once
	idx.setHook(func(ctx context.Context, _ *store.Mailbox, _ *store.Message) error {
		var err error
		once.Do(func() {
			if _, err = svc.UpdateFlags(ctx, path, 2, store.NewFlags(store.FlagFlagged), store.FlagsAdd); err != nil {
				return
			}
			_, err = svc.UpdateFlags(ctx, path, 2, store.NewFlags(store.FlagSeen), store.FlagsAdd)
		})
		return err
	})

	if _, err := New(svc, idx).ReIndexMailbox(ctx, path, RunningOptions{}); err != nil {
		t.Fatal(err)
	}
	got, err := idx.Get(ctx, mb.ID, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Flags.Has(store.FlagSeen | store.FlagFlagged) {
		t.Errorf("latest flags not applied: %v", got.Flags.Names())
	}
	stored, _ := svc.GetMessage(ctx, path, 2)
	if got.ModSeq != stored.ModSeq {
		t.Errorf("indexed modseq %d, stored %d", got.ModSeq, stored.ModSeq)
	}
}

func TestReIndexMailbox_MessageFailureAborts(t *testing.T) {
	ctx := context.Background()
	svc, idx := setup(t)
	path := store.Inbox("alice")
	mb := fill(t, svc, path, 3)
	baseline := svc.Listeners().Len()

	boom := errors.New("bad document")
	idx.setHook(func(_ context.Context, _ *store.Mailbox, msg *store.Message) error {
		if msg.UID == 2 {
			return boom
		}
		return nil
	})

	report, err := New(svc, idx).ReIndexMailbox(ctx, path, RunningOptions{})
	var f *MailboxFailure
	if !errors.As(err, &f) || !errors.Is(err, boom) || f.MailboxID != mb.ID {
		t.Fatalf("expected MailboxFailure wrapping cause, got %v", err)
	}
	if report.Result != Failed {
		t.Errorf("expected failed result, got %s", report.Result)
	}
	if idx.Count(mb.ID) != 1 {
		t.Errorf("pass should stop at the failing message, indexed %d", idx.Count(mb.ID))
	}
	if svc.Listeners().Len() != baseline {
		t.Errorf("scoped listener not unregistered after failure")
	}
}

func TestReIndexMailbox_UnknownPath(t *testing.T) {
	svc, idx := setup(t)
	report, err := New(svc, idx).ReIndexMailbox(context.Background(), store.Inbox("nobody"), RunningOptions{})
	if !errors.Is(err, store.ErrMailboxNotFound) {
		t.Errorf("expected ErrMailboxNotFound, got %v", err)
	}
	if report.Result != Failed {
		t.Errorf("expected failed result, got %s", report.Result)
	}
}

func TestReIndex_FixOutdated(t *testing.T) {
	ctx := context.Background()
	svc, idx := setup(t)
	path := store.Inbox("alice")
	fill(t, svc, path, 3)
	r := New(svc, idx)

	if _, err := r.ReIndexAll(ctx, RunningOptions{}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.UpdateFlags(ctx, path, 1, store.NewFlags(store.FlagSeen), store.FlagsAdd); err != nil {
		t.Fatal(err)
	}

	report, err := r.ReIndexAll(ctx, RunningOptions{Mode: FixOutdated, MessagesPerSecond: 1000})
	if err != nil {
		t.Fatal(err)
	}
	if report.MessagesIndexed != 1 || report.MessagesUnchanged != 2 {
		t.Errorf("only the outdated message should be re-indexed: %+v", report)
	}
}

func TestReIndexMessage(t *testing.T) {
	ctx := context.Background()
	svc, idx := setup(t)
	path := store.Inbox("alice")
	mb := fill(t, svc, path, 1)
	r := New(svc, idx)

	if err := r.ReIndexMessage(ctx, path, 1); err != nil {
		t.Fatal(err)
	}
	if idx.Count(mb.ID) != 1 {
		t.Fatal("message should be indexed")
	}

	if _, err := svc.UpdateFlags(ctx, path, 1, store.NewFlags(store.FlagDeleted), store.FlagsAdd); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Expunge(ctx, path); err != nil {
		t.Fatal(err)
	}
	if err := r.ReIndexMessage(ctx, path, 1); err != nil {
		t.Fatal(err)
	}
	if idx.Count(mb.ID) != 0 {
		t.Error("missing message should be removed from the index")
	}
}

func TestReportResult(t *testing.T) {
	tests := []struct {
		name    string
		done    int
		failed  int
		aborted bool
		want    Result
	}{
		{"empty", 0, 0, false, Completed},
		{"all good", 2, 0, false, Completed},
		{"some failed", 2, 1, false, Partial},
		{"all failed", 0, 2, false, Failed},
		{"aborted after progress", 1, 0, true, Partial},
		{"aborted immediately", 0, 0, true, Failed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &reportBuilder{}
			for i := 0; i < tt.done; i++ {
				b.mailboxDone(passStats{indexed: 1})
			}
			for i := 0; i < tt.failed; i++ {
				b.mailboxFailed(&MailboxFailure{Err: errors.New("x")})
			}
			if got := b.build(tt.aborted).Result; got != tt.want {
				t.Errorf("got %s, want %s", got, tt.want)
			}
		})
	}
}
