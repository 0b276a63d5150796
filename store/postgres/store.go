// Package postgres provides a PostgreSQL implementation of store.Store.
//
// Sequence counters live on the mailbox row and are advanced with
// UPDATE ... RETURNING. Writes join the transaction carried by the context
// (see store.ContextWithTx); BeginTx makes the store usable with a
// transactional mapper.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rbaliyan/mailstore/store"
)

// Compile-time checks
var (
	_ store.Store      = (*Store)(nil)
	_ store.TxBeginner = (*Store)(nil)
)

// uniqueViolation is the SQLSTATE of a unique constraint failure.
const uniqueViolation = "23505"

// Store implements store.Store using PostgreSQL.
type Store struct {
	db        *sqlx.DB
	opts      *options
	connected int32
	logger    *slog.Logger
}

// New creates a new PostgreSQL store with the provided database connection.
// Call Connect() to initialize the schema and indexes.
func New(db *sqlx.DB, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		db:     db,
		opts:   o,
		logger: o.logger,
	}
}

// NewFromDB creates a new PostgreSQL store from a standard sql.DB connection.
// This wraps the sql.DB with sqlx for enhanced functionality.
func NewFromDB(db *sql.DB, opts ...Option) *Store {
	return New(sqlx.NewDb(db, "postgres"), opts...)
}

// Connect initializes the schema and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}

	if s.db == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres: db is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres ping: %w", err)
	}

	if err := s.ensureSchema(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("ensure schema: %w", err)
	}

	s.logger.Info("connected to PostgreSQL", "mailbox_table", s.opts.mailboxTable, "message_table", s.opts.messageTable)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the database connection.
func (s *Store) Close(ctx context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// ensureSchema creates the required tables and indexes.
func (s *Store) ensureSchema(ctx context.Context) error {
	tables := []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY,
			namespace VARCHAR(255) NOT NULL,
			user_name VARCHAR(255) NOT NULL,
			name TEXT NOT NULL,
			uid_validity BIGINT NOT NULL,
			last_uid BIGINT NOT NULL DEFAULT 0,
			highest_modseq BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (namespace, user_name, name)
		)`, s.opts.mailboxTable),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			mailbox_id UUID NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
			uid BIGINT NOT NULL,
			modseq BIGINT NOT NULL,
			system_flags SMALLINT NOT NULL DEFAULT 0,
			user_flags TEXT[] NOT NULL DEFAULT '{}',
			internal_date TIMESTAMPTZ NOT NULL,
			size BIGINT NOT NULL,
			body BYTEA,
			message_id VARCHAR(255) NOT NULL DEFAULT '',
			PRIMARY KEY (mailbox_id, uid)
		)`, s.opts.messageTable, s.opts.mailboxTable),
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			component VARCHAR(64) NOT NULL,
			identifier VARCHAR(255) NOT NULL,
			type VARCHAR(32) NOT NULL,
			value BIGINT NOT NULL,
			PRIMARY KEY (component, identifier, type)
		)`, s.opts.quotaTable),
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	indexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_user ON %s(namespace, user_name, name)`, s.opts.mailboxTable, s.opts.mailboxTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_deleted ON %s(mailbox_id, uid) WHERE system_flags & %d <> 0`,
			s.opts.messageTable, s.opts.messageTable, store.FlagDeleted),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_message_id ON %s(message_id)`, s.opts.messageTable, s.opts.messageTable),
	}
	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			s.logger.Warn("failed to create index", "error", err, "sql", idx)
		}
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

// pgTx adapts *sqlx.Tx to store.Tx.
type pgTx struct {
	tx *sqlx.Tx
}

func (t *pgTx) Commit(context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrTransactionFailed, err)
	}
	return nil
}

func (t *pgTx) Rollback(context.Context) error {
	return t.tx.Rollback()
}

// BeginTx starts a transaction. Pass it to store.ContextWithTx so that store
// operations join it.
func (s *Store) BeginTx(ctx context.Context) (store.Tx, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

// conn returns the transaction carried by ctx, or the pool.
func (s *Store) conn(ctx context.Context) sqlx.ExtContext {
	if tx, ok := store.TxFromContext(ctx); ok {
		if pt, ok := tx.(*pgTx); ok {
			return pt.tx
		}
	}
	return s.db
}

// isUniqueViolation reports whether err is a unique constraint failure.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// foreignKeyViolation is the SQLSTATE of a foreign key failure.
const foreignKeyViolation = "23503"

// isForeignKeyViolation reports whether err references a missing row.
func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation
}
