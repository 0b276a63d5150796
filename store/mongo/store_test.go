package mongo

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rbaliyan/mailstore/store"
	"github.com/rbaliyan/mailstore/store/storetest"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// newTestStore connects to MAILSTORE_MONGO_URI using a throwaway database.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("MAILSTORE_MONGO_URI")
	if uri == "" {
		t.Skip("MAILSTORE_MONGO_URI not set")
	}
	client, err := mongo.Connect(mongoopts.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("connect client: %v", err)
	}

	dbName := "mailstore_test_" + strings.ReplaceAll(uuid.NewString()[:8], "-", "")
	s := New(client, WithDatabase(dbName))
	if err := s.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		_ = s.Close(ctx)
		_ = client.Database(dbName).Drop(ctx)
		_ = client.Disconnect(ctx)
	})
	return s
}

func TestStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return newTestStore(t) })
}

func TestStore_NotConnected(t *testing.T) {
	s := New(nil)
	if _, err := s.NextModSeq(context.Background(), "x"); !errors.Is(err, store.ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
	if err := s.Connect(context.Background()); err == nil {
		t.Error("connect without client should fail")
	}
	if s.checkConnected() == nil {
		t.Error("failed connect must leave the store disconnected")
	}
}

func TestEscapeRegex(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Work", "Work"},
		{"Work.", `Work\.`},
		{"a+b(c)", `a\+b\(c\)`},
	}
	for _, tt := range tests {
		if got := escapeRegex(tt.in); got != tt.want {
			t.Errorf("escapeRegex(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestOptions(t *testing.T) {
	o := newOptions(WithCollectionPrefix("imap_"), WithDatabase(""))
	if o.database != DefaultDatabase {
		t.Errorf("empty database name should be ignored, got %q", o.database)
	}
	if o.mailboxCollection != "imap_mailboxes" || o.quotaCollection != "imap_quotas" {
		t.Errorf("unexpected collections: %+v", o)
	}
}
