// Package storetest holds behavioural checks shared by every store backend.
//
// Backend test files call Run (full stores), RunSequences or RunQuota with a
// factory returning a connected, empty store.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/mailstore/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a connected store with no data. Cleanup is registered on t.
type Factory func(t *testing.T) store.Store

// MailboxFactory creates a mailbox known to a sequence store and returns its ID.
type MailboxFactory func(t *testing.T) store.MailboxID

// Run runs every check against a full store.
func Run(t *testing.T, newStore Factory) {
	t.Run("Mailboxes", func(t *testing.T) { testMailboxes(t, newStore(t)) })
	t.Run("ListMailboxes", func(t *testing.T) { testListMailboxes(t, newStore(t)) })
	t.Run("Messages", func(t *testing.T) { testMessages(t, newStore(t)) })
	t.Run("DeleteCascades", func(t *testing.T) { testDeleteCascades(t, newStore(t)) })
	t.Run("Transaction", func(t *testing.T) { testTransaction(t, newStore(t)) })
	t.Run("Sequences", func(t *testing.T) {
		s := newStore(t)
		RunSequences(t, s, func(t *testing.T) store.MailboxID {
			return createMailbox(t, s, store.NewPath("seq", uniqueName())).ID
		})
	})
	t.Run("Quota", func(t *testing.T) { RunQuota(t, newStore(t)) })
}

// RunSequences checks counter monotonicity and uniqueness under concurrency.
func RunSequences(t *testing.T, s store.SequenceStore, newMailbox MailboxFactory) {
	ctx := context.Background()

	t.Run("Increasing", func(t *testing.T) {
		id := newMailbox(t)
		for want := store.UID(1); want <= 5; want++ {
			uid, err := s.NextUID(ctx, id)
			require.NoError(t, err)
			require.Equal(t, want, uid)
		}
		ms1, err := s.NextModSeq(ctx, id)
		require.NoError(t, err)
		ms2, err := s.NextModSeq(ctx, id)
		require.NoError(t, err)
		assert.Greater(t, ms2, ms1, "modseq must increase")

		last, err := s.LastUID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, store.UID(5), last)
		highest, err := s.HighestModSeq(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, ms2, highest)
	})

	t.Run("Independent", func(t *testing.T) {
		a, b := newMailbox(t), newMailbox(t)
		_, _ = s.NextUID(ctx, a)
		_, _ = s.NextUID(ctx, a)
		uid, err := s.NextUID(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, store.UID(1), uid, "counters must be per mailbox")
	})

	t.Run("Concurrent", func(t *testing.T) {
		id := newMailbox(t)
		const n = 50
		var (
			mu   sync.Mutex
			seen = make(map[store.UID]bool)
			wg   sync.WaitGroup
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				uid, err := s.NextUID(ctx, id)
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				assert.False(t, seen[uid], "duplicate uid %d", uid)
				seen[uid] = true
				mu.Unlock()
			}()
		}
		wg.Wait()
		assert.Len(t, seen, n)
	})

	t.Run("IgnoresTransaction", func(t *testing.T) {
		tb, ok := s.(store.TxBeginner)
		if !ok {
			t.Skip("backend has no transactions")
		}
		id := newMailbox(t)
		tx, err := tb.BeginTx(ctx)
		require.NoError(t, err)
		_, err = s.NextUID(store.ContextWithTx(ctx, tx), id)
		require.NoError(t, err)
		_ = tx.Rollback(ctx)

		uid, err := s.NextUID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, store.UID(2), uid, "allocated number must survive rollback")
	})
}

// RunQuota checks quota counter semantics.
func RunQuota(t *testing.T, q store.QuotaStore) {
	ctx := context.Background()
	count, size := store.MailboxQuotaKeys(uniqueName())

	_, ok, err := q.GetQuota(ctx, count)
	require.NoError(t, err)
	require.False(t, ok, "counter should start absent")

	require.NoError(t, q.IncreaseQuota(ctx, count, 2))
	require.NoError(t, q.IncreaseQuota(ctx, count, -1))
	require.NoError(t, q.IncreaseQuota(ctx, size, 300))

	v, ok, err := q.GetQuota(ctx, count)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(1), v)
	v, _, err = q.GetQuota(ctx, size)
	require.NoError(t, err)
	assert.Equal(t, int64(300), v)

	require.NoError(t, q.DeleteQuota(ctx, count))
	_, ok, err = q.GetQuota(ctx, count)
	require.NoError(t, err)
	assert.False(t, ok, "deleted counter should be absent")
	assert.NoError(t, q.DeleteQuota(ctx, count), "deleting an absent counter should succeed")

	require.NoError(t, q.IncreaseQuota(ctx, count, 100))
	require.NoError(t, q.IncreaseQuota(ctx, count, -100))
	v, ok, err = q.GetQuota(ctx, count)
	require.NoError(t, err)
	assert.True(t, ok, "a counter brought back to zero still exists")
	assert.Zero(t, v)

	require.NoError(t, q.IncreaseQuota(ctx, count, 100))
	require.NoError(t, q.DeleteQuota(ctx, count))
	require.NoError(t, q.IncreaseQuota(ctx, count, 100))
	v, ok, err = q.GetQuota(ctx, count)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(100), v, "an increase after delete starts from zero")
}

func testMailboxes(t *testing.T, s store.Store) {
	ctx := context.Background()
	path := store.Inbox(uniqueName())
	mb := createMailbox(t, s, path)
	require.NotEmpty(t, mb.ID)
	assert.Zero(t, mb.LastUID)
	assert.Zero(t, mb.HighestModSeq)

	_, err := s.CreateMailbox(ctx, &store.Mailbox{Path: path, UIDValidity: 1})
	assert.ErrorIs(t, err, store.ErrMailboxExists)
	_, err = s.CreateMailbox(ctx, &store.Mailbox{Path: store.NewPath("x", ".bad"), UIDValidity: 1})
	assert.ErrorIs(t, err, store.ErrInvalidPath)

	got, err := s.FindMailboxByPath(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, mb.ID, got.ID)
	assert.Equal(t, mb.UIDValidity, got.UIDValidity)
	_, err = s.FindMailboxByPath(ctx, store.NewPath(path.User, "nope"))
	assert.ErrorIs(t, err, store.ErrMailboxNotFound)

	require.NoError(t, s.UpdateUIDValidity(ctx, mb.ID, 77))
	renamed := store.NewPath(path.User, "Renamed")
	require.NoError(t, s.RenameMailbox(ctx, mb.ID, renamed))
	got, err = s.GetMailbox(ctx, mb.ID)
	require.NoError(t, err)
	assert.Equal(t, renamed, got.Path)
	assert.Equal(t, store.UIDValidity(77), got.UIDValidity)

	other := createMailbox(t, s, store.NewPath(path.User, "Other"))
	assert.ErrorIs(t, s.RenameMailbox(ctx, other.ID, renamed), store.ErrMailboxExists,
		"rename onto a taken path")
}

func testListMailboxes(t *testing.T, s store.Store) {
	ctx := context.Background()
	user := uniqueName()
	for _, name := range []string{"INBOX", "Work", "Work.Reports", "Work.Archive", "Zeta"} {
		createMailbox(t, s, store.NewPath(user, name))
	}

	q := store.MailboxQuery{Namespace: store.NamespacePrivate, User: user, NamePrefix: "Work."}
	got, err := s.ListMailboxes(ctx, q, "", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"Work.Archive", "Work.Reports"}, names(got))

	var all []*store.Mailbox
	cursor := ""
	for {
		page, err := s.ListMailboxes(ctx, store.MailboxQuery{User: user}, cursor, 2)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		cursor = page[len(page)-1].Path.String()
	}
	require.Len(t, all, 5, "mailboxes across pages: %v", names(all))
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].Path.String(), all[i].Path.String(), "pages out of order: %v", names(all))
	}
}

func testMessages(t *testing.T, s store.Store) {
	ctx := context.Background()
	mb := createMailbox(t, s, store.Inbox(uniqueName()))
	date := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for uid := store.UID(1); uid <= 3; uid++ {
		msg := &store.Message{
			MailboxID:    mb.ID,
			UID:          uid,
			ModSeq:       store.ModSeq(uid),
			Flags:        store.NewFlags(store.FlagRecent, "work"),
			InternalDate: date,
			Size:         int64(100 * uid),
			Body:         []byte("Subject: hi\r\n\r\nbody"),
			MessageID:    "mid-" + uniqueName(),
		}
		require.NoError(t, s.AddMessage(ctx, msg), "add uid %d", uid)
	}
	err := s.AddMessage(ctx, &store.Message{MailboxID: mb.ID, UID: 2, ModSeq: 9, InternalDate: date})
	assert.ErrorIs(t, err, store.ErrDuplicateEntry, "reused uid")

	msg, err := s.GetMessage(ctx, mb.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(200), msg.Size)
	assert.True(t, msg.Flags.Equal(store.NewFlags(store.FlagRecent, "work")), "flags: %v", msg.Flags.Names())
	assert.True(t, msg.InternalDate.Equal(date))
	_, err = s.GetMessage(ctx, mb.ID, 99)
	assert.ErrorIs(t, err, store.ErrMessageNotFound)

	flags := store.NewFlags(store.FlagDeleted | store.FlagSeen)
	require.NoError(t, s.UpdateFlags(ctx, mb.ID, 2, flags, 10))
	assert.ErrorIs(t, s.UpdateFlags(ctx, mb.ID, 99, flags, 11), store.ErrMessageNotFound)
	msg, err = s.GetMessage(ctx, mb.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, store.ModSeq(10), msg.ModSeq)
	assert.True(t, msg.Flags.Equal(flags), "flags: %v", msg.Flags.Names())

	deleted, err := s.ListDeleted(ctx, mb.ID)
	require.NoError(t, err)
	assert.Equal(t, []store.UID{2}, deleted)

	page, err := s.ListMessages(ctx, mb.ID, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, store.UID(2), page[0].UID)

	require.NoError(t, s.DeleteMessage(ctx, mb.ID, 2))
	assert.ErrorIs(t, s.DeleteMessage(ctx, mb.ID, 2), store.ErrMessageNotFound, "second delete")
	rest, err := s.ListMessages(ctx, mb.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, rest, 2)
	assert.Equal(t, store.UID(1), rest[0].UID)
	assert.Equal(t, store.UID(3), rest[1].UID)
}

func testDeleteCascades(t *testing.T, s store.Store) {
	ctx := context.Background()
	mb := createMailbox(t, s, store.Inbox(uniqueName()))
	require.NoError(t, s.AddMessage(ctx, &store.Message{MailboxID: mb.ID, UID: 1, ModSeq: 1, InternalDate: time.Now().UTC()}))
	require.NoError(t, s.DeleteMailbox(ctx, mb.ID))

	_, err := s.GetMailbox(ctx, mb.ID)
	assert.ErrorIs(t, err, store.ErrMailboxNotFound)
	_, err = s.GetMessage(ctx, mb.ID, 1)
	assert.True(t, store.IsNotFound(err), "messages should be removed with the mailbox, got %v", err)
	assert.ErrorIs(t, s.DeleteMailbox(ctx, mb.ID), store.ErrMailboxNotFound, "second delete")
}

func testTransaction(t *testing.T, s store.Store) {
	tb, ok := s.(store.TxBeginner)
	if !ok {
		t.Skip("backend has no transactions")
	}
	ctx := context.Background()
	mb := createMailbox(t, s, store.Inbox(uniqueName()))

	tx, err := tb.BeginTx(ctx)
	require.NoError(t, err)
	txCtx := store.ContextWithTx(ctx, tx)
	require.NoError(t, s.AddMessage(txCtx, &store.Message{MailboxID: mb.ID, UID: 1, ModSeq: 1, InternalDate: time.Now().UTC()}))
	require.NoError(t, tx.Rollback(ctx))
	_, err = s.GetMessage(ctx, mb.ID, 1)
	assert.ErrorIs(t, err, store.ErrMessageNotFound, "rolled back write is visible")

	tx, err = tb.BeginTx(ctx)
	require.NoError(t, err)
	txCtx = store.ContextWithTx(ctx, tx)
	require.NoError(t, s.AddMessage(txCtx, &store.Message{MailboxID: mb.ID, UID: 2, ModSeq: 2, InternalDate: time.Now().UTC()}))
	require.NoError(t, tx.Commit(ctx))
	_, err = s.GetMessage(ctx, mb.ID, 2)
	assert.NoError(t, err, "committed write missing")
}

func createMailbox(t *testing.T, s store.MailboxStore, path store.MailboxPath) *store.Mailbox {
	t.Helper()
	mb, err := s.CreateMailbox(context.Background(), &store.Mailbox{Path: path, UIDValidity: store.GenerateUIDValidity()})
	require.NoError(t, err, "create mailbox %s", path)
	return mb
}

func names(mbs []*store.Mailbox) []string {
	out := make([]string, len(mbs))
	for i, mb := range mbs {
		out[i] = mb.Path.Name
	}
	return out
}

// uniqueName keeps runs against shared databases from colliding.
func uniqueName() string {
	return uuid.NewString()
}
