package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rbaliyan/mailstore/store"
)

// mailboxRow is the database representation of a mailbox.
type mailboxRow struct {
	ID            string    `db:"id"`
	Namespace     string    `db:"namespace"`
	User          string    `db:"user_name"`
	Name          string    `db:"name"`
	UIDValidity   int64     `db:"uid_validity"`
	LastUID       int64     `db:"last_uid"`
	HighestModSeq int64     `db:"highest_modseq"`
	CreatedAt     time.Time `db:"created_at"`
}

func (r *mailboxRow) toMailbox() *store.Mailbox {
	return &store.Mailbox{
		ID:            store.MailboxID(r.ID),
		Path:          store.MailboxPath{Namespace: r.Namespace, User: r.User, Name: r.Name},
		UIDValidity:   store.UIDValidity(r.UIDValidity),
		LastUID:       store.UID(r.LastUID),
		HighestModSeq: store.ModSeq(r.HighestModSeq),
		CreatedAt:     r.CreatedAt,
	}
}

const mailboxColumns = `id, namespace, user_name, name, uid_validity, last_uid, highest_modseq, created_at`

// pathOrder orders mailboxes by their rendered path using byte comparison,
// matching MailboxPath.String ordering.
const pathOrder = `(namespace || ':' || user_name || ':' || name) COLLATE "C"`

// validID reports whether id can be a mailbox key.
func validID(id store.MailboxID) bool {
	_, err := uuid.Parse(string(id))
	return err == nil
}

// CreateMailbox persists a new mailbox.
func (s *Store) CreateMailbox(ctx context.Context, mb *store.Mailbox) (*store.Mailbox, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if !mb.Path.IsValid() {
		return nil, store.ErrInvalidPath
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	row := mailboxRow{
		ID:          string(mb.ID),
		Namespace:   mb.Path.Namespace,
		User:        mb.Path.User,
		Name:        mb.Path.Name,
		UIDValidity: int64(mb.UIDValidity),
		CreatedAt:   mb.CreatedAt,
	}
	if row.ID == "" {
		row.ID = uuid.New().String()
	} else if !validID(mb.ID) {
		return nil, store.ErrInvalidID
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, namespace, user_name, name, uid_validity, created_at)
		VALUES (:id, :namespace, :user_name, :name, :uid_validity, :created_at)`, s.opts.mailboxTable)
	if _, err := sqlx.NamedExecContext(ctx, s.conn(ctx), query, row); err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrMailboxExists
		}
		return nil, fmt.Errorf("insert mailbox: %w", err)
	}
	return row.toMailbox(), nil
}

// GetMailbox retrieves a mailbox by ID.
func (s *Store) GetMailbox(ctx context.Context, id store.MailboxID) (*store.Mailbox, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if !validID(id) {
		return nil, store.ErrMailboxNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var row mailboxRow
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, mailboxColumns, s.opts.mailboxTable)
	if err := sqlx.GetContext(ctx, s.conn(ctx), &row, query, string(id)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrMailboxNotFound
		}
		return nil, fmt.Errorf("get mailbox: %w", err)
	}
	return row.toMailbox(), nil
}

// FindMailboxByPath retrieves a mailbox by path.
func (s *Store) FindMailboxByPath(ctx context.Context, path store.MailboxPath) (*store.Mailbox, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var row mailboxRow
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE namespace = $1 AND user_name = $2 AND name = $3`,
		mailboxColumns, s.opts.mailboxTable)
	if err := sqlx.GetContext(ctx, s.conn(ctx), &row, query, path.Namespace, path.User, path.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrMailboxNotFound
		}
		return nil, fmt.Errorf("find mailbox: %w", err)
	}
	return row.toMailbox(), nil
}

// ListMailboxes returns mailboxes ordered by path, after the cursor.
func (s *Store) ListMailboxes(ctx context.Context, query store.MailboxQuery, cursor string, limit int) ([]*store.Mailbox, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	q := fmt.Sprintf(`SELECT %s FROM %s
		WHERE ($1 = '' OR namespace = $1)
		  AND ($2 = '' OR user_name = $2)
		  AND left(name, length($3)) = $3
		  AND %s > $4
		ORDER BY %s`, mailboxColumns, s.opts.mailboxTable, pathOrder, pathOrder)
	args := []any{query.Namespace, query.User, query.NamePrefix, cursor}
	if limit > 0 {
		q += ` LIMIT $5`
		args = append(args, limit)
	}

	var rows []mailboxRow
	if err := sqlx.SelectContext(ctx, s.conn(ctx), &rows, q, args...); err != nil {
		return nil, fmt.Errorf("list mailboxes: %w", err)
	}

	result := make([]*store.Mailbox, len(rows))
	for i := range rows {
		result[i] = rows[i].toMailbox()
	}
	return result, nil
}

// RenameMailbox changes the path of a mailbox.
func (s *Store) RenameMailbox(ctx context.Context, id store.MailboxID, newPath store.MailboxPath) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if !newPath.IsValid() {
		return store.ErrInvalidPath
	}
	if !validID(id) {
		return store.ErrMailboxNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`UPDATE %s SET namespace = $2, user_name = $3, name = $4 WHERE id = $1`, s.opts.mailboxTable)
	res, err := s.conn(ctx).ExecContext(ctx, query, string(id), newPath.Namespace, newPath.User, newPath.Name)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrMailboxExists
		}
		return fmt.Errorf("rename mailbox: %w", err)
	}
	return expectOne(res, store.ErrMailboxNotFound)
}

// UpdateUIDValidity persists a repaired UidValidity.
func (s *Store) UpdateUIDValidity(ctx context.Context, id store.MailboxID, v store.UIDValidity) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if !validID(id) {
		return store.ErrMailboxNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`UPDATE %s SET uid_validity = $2 WHERE id = $1`, s.opts.mailboxTable)
	res, err := s.conn(ctx).ExecContext(ctx, query, string(id), int64(v))
	if err != nil {
		return fmt.Errorf("update uid validity: %w", err)
	}
	return expectOne(res, store.ErrMailboxNotFound)
}

// DeleteMailbox removes the mailbox. Messages go with it through the
// ON DELETE CASCADE foreign key.
func (s *Store) DeleteMailbox(ctx context.Context, id store.MailboxID) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if !validID(id) {
		return store.ErrMailboxNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.opts.mailboxTable)
	res, err := s.conn(ctx).ExecContext(ctx, query, string(id))
	if err != nil {
		return fmt.Errorf("delete mailbox: %w", err)
	}
	return expectOne(res, store.ErrMailboxNotFound)
}

// expectOne returns notFound when the statement touched no row.
func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
