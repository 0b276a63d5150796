package memory

import (
	"context"

	"github.com/rbaliyan/mailstore/store"
)

// IncreaseQuota adds delta to the counter, creating it at zero when absent.
func (s *Store) IncreaseQuota(_ context.Context, key store.QuotaKey, delta int64) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	s.quotaMu.Lock()
	s.quotas[key] += delta
	s.quotaMu.Unlock()
	return nil
}

// GetQuota returns the counter value and whether it exists.
func (s *Store) GetQuota(_ context.Context, key store.QuotaKey) (int64, bool, error) {
	if err := s.checkConnected(); err != nil {
		return 0, false, err
	}
	s.quotaMu.Lock()
	defer s.quotaMu.Unlock()
	v, ok := s.quotas[key]
	return v, ok, nil
}

// DeleteQuota removes the counter. A later increase starts from zero.
func (s *Store) DeleteQuota(_ context.Context, key store.QuotaKey) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	s.quotaMu.Lock()
	delete(s.quotas, key)
	s.quotaMu.Unlock()
	return nil
}
