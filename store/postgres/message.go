package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rbaliyan/mailstore/store"
)

// messageRow is the database representation of a message.
type messageRow struct {
	MailboxID    string         `db:"mailbox_id"`
	UID          int64          `db:"uid"`
	ModSeq       int64          `db:"modseq"`
	SystemFlags  int16          `db:"system_flags"`
	UserFlags    pq.StringArray `db:"user_flags"`
	InternalDate time.Time      `db:"internal_date"`
	Size         int64          `db:"size"`
	Body         []byte         `db:"body"`
	MessageID    string         `db:"message_id"`
}

func newMessageRow(msg *store.Message) messageRow {
	user := pq.StringArray(msg.Flags.User)
	if user == nil {
		user = pq.StringArray{}
	}
	return messageRow{
		MailboxID:    string(msg.MailboxID),
		UID:          int64(msg.UID),
		ModSeq:       int64(msg.ModSeq),
		SystemFlags:  int16(msg.Flags.System),
		UserFlags:    user,
		InternalDate: msg.InternalDate,
		Size:         msg.Size,
		Body:         msg.Body,
		MessageID:    msg.MessageID,
	}
}

func (r *messageRow) toMessage() *store.Message {
	var user []string
	if len(r.UserFlags) > 0 {
		user = []string(r.UserFlags)
	}
	return &store.Message{
		MailboxID:    store.MailboxID(r.MailboxID),
		UID:          store.UID(r.UID),
		ModSeq:       store.ModSeq(r.ModSeq),
		Flags:        store.Flags{System: store.SystemFlag(r.SystemFlags), User: user},
		InternalDate: r.InternalDate,
		Size:         r.Size,
		Body:         r.Body,
		MessageID:    r.MessageID,
	}
}

const messageColumns = `mailbox_id, uid, modseq, system_flags, user_flags, internal_date, size, body, message_id`

// AddMessage inserts a message. The (mailbox_id, uid) primary key rejects
// reused UIDs.
func (s *Store) AddMessage(ctx context.Context, msg *store.Message) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if !validID(msg.MailboxID) {
		return store.ErrMailboxNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	row := newMessageRow(msg)
	if row.InternalDate.IsZero() {
		row.InternalDate = time.Now().UTC()
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES
		(:mailbox_id, :uid, :modseq, :system_flags, :user_flags, :internal_date, :size, :body, :message_id)`,
		s.opts.messageTable, messageColumns)
	if _, err := sqlx.NamedExecContext(ctx, s.conn(ctx), query, row); err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateEntry
		}
		if isForeignKeyViolation(err) {
			return store.ErrMailboxNotFound
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// GetMessage retrieves a message.
func (s *Store) GetMessage(ctx context.Context, id store.MailboxID, uid store.UID) (*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if !validID(id) {
		return nil, store.ErrMessageNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	var row messageRow
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE mailbox_id = $1 AND uid = $2`, messageColumns, s.opts.messageTable)
	if err := sqlx.GetContext(ctx, s.conn(ctx), &row, query, string(id), int64(uid)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrMessageNotFound
		}
		return nil, fmt.Errorf("get message: %w", err)
	}
	return row.toMessage(), nil
}

// UpdateFlags replaces the flags of a message and stamps it with modSeq.
func (s *Store) UpdateFlags(ctx context.Context, id store.MailboxID, uid store.UID, flags store.Flags, modSeq store.ModSeq) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if !validID(id) {
		return store.ErrMessageNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	user := flags.User
	if user == nil {
		user = []string{}
	}
	query := fmt.Sprintf(`UPDATE %s SET system_flags = $3, user_flags = $4, modseq = $5
		WHERE mailbox_id = $1 AND uid = $2`, s.opts.messageTable)
	res, err := s.conn(ctx).ExecContext(ctx, query, string(id), int64(uid),
		int16(flags.System), pq.Array(user), int64(modSeq))
	if err != nil {
		return fmt.Errorf("update flags: %w", err)
	}
	return expectOne(res, store.ErrMessageNotFound)
}

// DeleteMessage removes a message.
func (s *Store) DeleteMessage(ctx context.Context, id store.MailboxID, uid store.UID) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if !validID(id) {
		return store.ErrMessageNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE mailbox_id = $1 AND uid = $2`, s.opts.messageTable)
	res, err := s.conn(ctx).ExecContext(ctx, query, string(id), int64(uid))
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return expectOne(res, store.ErrMessageNotFound)
}

// ListMessages returns messages with UID greater than after, ordered by UID.
func (s *Store) ListMessages(ctx context.Context, id store.MailboxID, after store.UID, limit int) ([]*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if !validID(id) {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE mailbox_id = $1 AND uid > $2 ORDER BY uid`,
		messageColumns, s.opts.messageTable)
	args := []any{string(id), int64(after)}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	var rows []messageRow
	if err := sqlx.SelectContext(ctx, s.conn(ctx), &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	result := make([]*store.Message, len(rows))
	for i := range rows {
		result[i] = rows[i].toMessage()
	}
	return result, nil
}

// ListDeleted returns the UIDs of messages carrying \Deleted, ascending.
func (s *Store) ListDeleted(ctx context.Context, id store.MailboxID) ([]store.UID, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if !validID(id) {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT uid FROM %s WHERE mailbox_id = $1 AND system_flags & $2 <> 0 ORDER BY uid`,
		s.opts.messageTable)
	var raw []int64
	if err := sqlx.SelectContext(ctx, s.conn(ctx), &raw, query, string(id), int16(store.FlagDeleted)); err != nil {
		return nil, fmt.Errorf("list deleted: %w", err)
	}
	uids := make([]store.UID, len(raw))
	for i, v := range raw {
		uids[i] = store.UID(v)
	}
	return uids, nil
}
