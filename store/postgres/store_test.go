package postgres

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rbaliyan/mailstore/store"
	"github.com/rbaliyan/mailstore/store/storetest"
)

// newTestStore connects to MAILSTORE_POSTGRES_DSN. Every run uses its own
// table prefix so data never leaks between runs.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("MAILSTORE_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MAILSTORE_POSTGRES_DSN not set")
	}
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	s := New(db, WithTablePrefix("t"+strings.ReplaceAll(uuid.NewString()[:8], "-", "")+"_"))
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		for _, table := range []string{s.opts.messageTable, s.opts.mailboxTable, s.opts.quotaTable} {
			_, _ = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table)
		}
		_ = s.Close(ctx)
	})
	return s
}

func TestStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return newTestStore(t) })
}

func TestStore_NotConnected(t *testing.T) {
	s := New(nil)
	if _, err := s.NextUID(context.Background(), "x"); !errors.Is(err, store.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if err := s.Connect(context.Background()); err == nil {
		t.Error("connect without db should fail")
	}
	if s.checkConnected() == nil {
		t.Error("failed connect must leave the store disconnected")
	}
}

func TestOptions(t *testing.T) {
	o := newOptions(WithTablePrefix("imap_"), WithTimeout(-1))
	if o.mailboxTable != "imap_mailboxes" || o.messageTable != "imap_messages" || o.quotaTable != "imap_quotas" {
		t.Errorf("unexpected tables: %+v", o)
	}
	if o.timeout != DefaultTimeout {
		t.Errorf("negative timeout should be ignored, got %v", o.timeout)
	}
}

func TestStore_InvalidIDIsNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.GetMailbox(context.Background(), "not-a-uuid"); !errors.Is(err, store.ErrMailboxNotFound) {
		t.Errorf("expected ErrMailboxNotFound, got %v", err)
	}
}
