// Package redis provides Redis-backed sequence counters, quota counters and
// dead letters.
//
// It does not store mailboxes or messages. Plug it into a service next to a
// full store with mailstore.WithSequenceStore and mailstore.WithQuotaStore
// when counters should live in Redis:
//
//	counters := redis.New(client)
//	svc, err := mailstore.NewService(
//	    mailstore.WithStore(pg),
//	    mailstore.WithSequenceStore(counters),
//	    mailstore.WithQuotaStore(counters),
//	)
//
// Counters are hash fields advanced with HINCRBY, so concurrent callers never
// observe the same value. Redis has no knowledge of mailboxes: allocation for
// an unknown mailbox starts a fresh counter.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/rbaliyan/mailstore/store"
	goredis "github.com/redis/go-redis/v9"
)

// Compile-time checks
var (
	_ store.SequenceStore = (*Store)(nil)
	_ store.QuotaStore    = (*Store)(nil)
)

// Store keeps counters in Redis.
type Store struct {
	client    goredis.UniversalClient
	opts      *options
	connected int32
	logger    *slog.Logger
}

// New creates a Redis store. Call Connect() before use.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		client: client,
		opts:   o,
		logger: o.logger,
	}
}

// Connect verifies the server is reachable.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}
	if s.client == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("redis: client is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("redis ping: %w", err)
	}
	s.logger.Info("connected to Redis", "prefix", s.opts.prefix)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the client.
func (s *Store) Close(context.Context) error {
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}

func (s *Store) key(parts ...string) string {
	k := s.opts.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}
