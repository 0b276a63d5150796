package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/rbaliyan/mailstore/store"
	goredis "github.com/redis/go-redis/v9"
)

func (s *Store) quotaKey() string {
	return s.key("quota")
}

// IncreaseQuota adds delta to the counter with HINCRBY.
func (s *Store) IncreaseQuota(ctx context.Context, key store.QuotaKey, delta int64) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.client.HIncrBy(ctx, s.quotaKey(), key.String(), delta).Err(); err != nil {
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

	v, err := s.client.HGet(ctx, s.quotaKey(), key.String()).Int64()
	if errors.Is(err, goredis.Nil) {
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

	if err := s.client.HDel(ctx, s.quotaKey(), key.String()).Err(); err != nil {
		return fmt.Errorf("delete quota: %w", err)
	}
	return nil
}
