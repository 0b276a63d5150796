// Package mongo provides a MongoDB implementation of store.Store.
//
// Sequence counters are fields of the mailbox document, advanced with
// findOneAndUpdate and $inc. Transactions use client sessions and require a
// replica set or sharded cluster.
package mongo

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync/atomic"

	"github.com/rbaliyan/mailstore/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// Compile-time checks
var (
	_ store.Store      = (*Store)(nil)
	_ store.TxBeginner = (*Store)(nil)
)

// regexMetaChars matches regex metacharacters that need escaping.
var regexMetaChars = regexp.MustCompile(`[\\^$.|?*+()[\]{}]`)

// escapeRegex escapes regex metacharacters in a string to prevent regex injection.
func escapeRegex(s string) string {
	return regexMetaChars.ReplaceAllString(s, `\$0`)
}

// Store implements store.Store using MongoDB.
type Store struct {
	client    *mongo.Client
	db        *mongo.Database
	mailboxes *mongo.Collection
	messages  *mongo.Collection
	quotas    *mongo.Collection
	opts      *options
	connected int32
	logger    *slog.Logger
}

// New creates a new MongoDB store with the provided client.
// Call Connect() to initialize the collections and indexes.
func New(client *mongo.Client, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		client: client,
		opts:   o,
		logger: o.logger,
	}
}

// Connect initializes the database, collections and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}

	if s.client == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("mongo: client is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.client.Ping(ctx, nil); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("mongo ping: %w", err)
	}

	s.db = s.client.Database(s.opts.database)
	s.mailboxes = s.db.Collection(s.opts.mailboxCollection)
	s.messages = s.db.Collection(s.opts.messageCollection)
	s.quotas = s.db.Collection(s.opts.quotaCollection)

	if err := s.ensureIndexes(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("ensure indexes: %w", err)
	}

	s.logger.Info("connected to MongoDB", "database", s.opts.database)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the MongoDB client.
func (s *Store) Close(ctx context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// ensureIndexes creates required indexes.
func (s *Store) ensureIndexes(ctx context.Context) error {
	mailboxIndexes := []mongo.IndexModel{
		// One mailbox per path
		{
			Keys: bson.D{
				bson.E{Key: "path.namespace", Value: 1},
				bson.E{Key: "path.user", Value: 1},
				bson.E{Key: "path.name", Value: 1},
			},
			Options: mongoopts.Index().SetUnique(true),
		},
		// Cursor paging
		{Keys: bson.D{bson.E{Key: "path_key", Value: 1}}},
	}
	if _, err := s.mailboxes.Indexes().CreateMany(ctx, mailboxIndexes); err != nil {
		return err
	}

	messageIndexes := []mongo.IndexModel{
		// UIDs are unique per mailbox
		{
			Keys: bson.D{
				bson.E{Key: "mailbox_id", Value: 1},
				bson.E{Key: "uid", Value: 1},
			},
			Options: mongoopts.Index().SetUnique(true),
		},
		{Keys: bson.D{bson.E{Key: "message_id", Value: 1}}},
	}
	if _, err := s.messages.Indexes().CreateMany(ctx, messageIndexes); err != nil {
		return err
	}
	return nil
}

// checkConnected returns error if not connected.
func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

// =============================================================================
// Transactions
// =============================================================================

// sessionTx adapts a client session running a transaction to store.Tx.
type sessionTx struct {
	sess *mongo.Session
}

func (t *sessionTx) Commit(ctx context.Context) error {
	defer t.sess.EndSession(ctx)
	if err := t.sess.CommitTransaction(ctx); err != nil {
		return fmt.Errorf("%w: %w", store.ErrTransactionFailed, err)
	}
	return nil
}

func (t *sessionTx) Rollback(ctx context.Context) error {
	defer t.sess.EndSession(ctx)
	return t.sess.AbortTransaction(ctx)
}

// BeginTx starts a session and a transaction on it.
func (s *Store) BeginTx(ctx context.Context) (store.Tx, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	sess, err := s.client.StartSession()
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	if err := sess.StartTransaction(); err != nil {
		sess.EndSession(ctx)
		return nil, fmt.Errorf("start transaction: %w", err)
	}
	return &sessionTx{sess: sess}, nil
}

// opContext binds the session of the transaction carried by ctx, if any, and
// applies the operation timeout.
func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	if tx, ok := store.TxFromContext(ctx); ok {
		if st, ok := tx.(*sessionTx); ok {
			return mongo.NewSessionContext(ctx, st.sess), cancel
		}
	}
	return ctx, cancel
}
