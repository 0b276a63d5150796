package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rbaliyan/mailstore/store"
)

// IncreaseQuota adds delta to the counter with an upsert.
func (s *Store) IncreaseQuota(ctx context.Context, key store.QuotaKey, delta int64) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`INSERT INTO %s (component, identifier, type, value) VALUES ($1, $2, $3, $4)
		ON CONFLICT (component, identifier, type) DO UPDATE SET value = %s.value + EXCLUDED.value`,
		s.opts.quotaTable, s.opts.quotaTable)
	if _, err := s.conn(ctx).ExecContext(ctx, query, key.Component, key.Identifier, string(key.Type), delta); err != nil {
		return fmt.Errorf("increase quota: %w", err)
	}
	return nil
}

// GetQuota returns the counter value and whether it exists.
func (s *Store) GetQuota(ctx context.Context, key store.QuotaKey) (int64, bool, error) {
	if err := s.checkConnected(); err != nil {
		return 0, false, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT value FROM %s WHERE component = $1 AND identifier = $2 AND type = $3`, s.opts.quotaTable)
	var v int64
	err := s.conn(ctx).QueryRowxContext(ctx, query, key.Component, key.Identifier, string(key.Type)).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get quota: %w", err)
	}
	return v, true, nil
}

// DeleteQuota removes the counter. A later increase starts from zero.
func (s *Store) DeleteQuota(ctx context.Context, key store.QuotaKey) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE component = $1 AND identifier = $2 AND type = $3`, s.opts.quotaTable)
	if _, err := s.conn(ctx).ExecContext(ctx, query, key.Component, key.Identifier, string(key.Type)); err != nil {
		return fmt.Errorf("delete quota: %w", err)
	}
	return nil
}
