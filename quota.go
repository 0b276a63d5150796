package mailstore

import (
	"context"
	"errors"
	"maps"
	"sync"

	"github.com/rbaliyan/mailstore/events"
	"github.com/rbaliyan/mailstore/store"
)

// QuotaListenerName is the registry name of the built-in quota updater.
const QuotaListenerName = "quota"

// quotaUpdater keeps per-user message count and size counters in step with
// committed mutations. Keys already applied for an event that failed part
// way are remembered by event ID and skipped when the event is retried or
// redelivered.
type quotaUpdater struct {
	quotas store.QuotaStore

	mu      sync.Mutex
	partial map[string]map[store.QuotaKey]bool
}

func newQuotaUpdater(quotas store.QuotaStore) *quotaUpdater {
	return &quotaUpdater{quotas: quotas, partial: make(map[string]map[store.QuotaKey]bool)}
}

func (q *quotaUpdater) Event(ctx context.Context, ev events.Event) error {
	meta := ev.Meta()
	user := meta.Path.User
	switch e := ev.(type) {
	case *events.MessageAdded:
		return q.apply(ctx, meta.EventID, user, 1, e.Size)
	case *events.Expunged:
		var size int64
		for _, m := range e.Messages {
			size += m.Size
		}
		return q.apply(ctx, meta.EventID, user, -int64(len(e.Messages)), -size)
	case *events.MailboxDeleted:
		return q.apply(ctx, meta.EventID, user, -e.MessageCount, -e.TotalSize)
	}
	return nil
}

func (q *quotaUpdater) apply(ctx context.Context, eventID, user string, count, size int64) error {
	countKey, sizeKey := store.MailboxQuotaKeys(user)
	deltas := []struct {
		key   store.QuotaKey
		delta int64
	}{{countKey, count}, {sizeKey, size}}

	q.mu.Lock()
	done := maps.Clone(q.partial[eventID])
	q.mu.Unlock()

	var errs []error
	for _, d := range deltas {
		if d.delta == 0 || done[d.key] {
			continue
		}
		if err := q.quotas.IncreaseQuota(ctx, d.key, d.delta); err != nil {
			errs = append(errs, err)
			continue
		}
		if done == nil {
			done = make(map[store.QuotaKey]bool, len(deltas))
		}
		done[d.key] = true
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if len(errs) == 0 {
		delete(q.partial, eventID)
		return nil
	}
	if len(done) > 0 {
		q.partial[eventID] = done
	}
	return errors.Join(errs...)
}

// CurrentQuota returns a usage counter and whether it exists.
func (s *service) CurrentQuota(ctx context.Context, key store.QuotaKey) (int64, bool, error) {
	if err := s.checkConnected(); err != nil {
		return 0, false, err
	}
	v, ok, err := s.quotas.GetQuota(ctx, key)
	if err != nil {
		return 0, false, translate(err)
	}
	return v, ok, nil
}

// DeleteQuota removes a usage counter. Whether a later increase starts from
// zero depends on the backend.
func (s *service) DeleteQuota(ctx context.Context, key store.QuotaKey) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if err := s.quotas.DeleteQuota(ctx, key); err != nil {
		return translate(err)
	}
	s.logger.Info("quota counter deleted", "key", key.String())
	return nil
}
