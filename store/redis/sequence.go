package redis

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rbaliyan/mailstore/store"
	goredis "github.com/redis/go-redis/v9"
)

// Hash fields of a mailbox's sequence key.
const (
	fieldUID    = "uid"
	fieldModSeq = "modseq"
)

// nextUIDScript increments the UID unless it would leave the 32-bit range.
var nextUIDScript = goredis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], ARGV[1]) or '0')
if cur >= tonumber(ARGV[2]) then
  return -1
end
return redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
`)

func (s *Store) seqKey(id store.MailboxID) string {
	return s.key("seq", string(id))
}

// NextUID increments the mailbox's last UID.
func (s *Store) NextUID(ctx context.Context, id store.MailboxID) (store.UID, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	v, err := nextUIDScript.Run(ctx, s.client, []string{s.seqKey(id)}, fieldUID, int64(math.MaxUint32)).Int64()
	if err != nil {
		return 0, fmt.Errorf("next uid: %w", err)
	}
	if v < 0 {
		return 0, store.ErrCounterOverflow
	}
	return store.UID(v), nil
}

// NextModSeq increments the mailbox's highest ModSeq.
func (s *Store) NextModSeq(ctx context.Context, id store.MailboxID) (store.ModSeq, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	v, err := s.client.HIncrBy(ctx, s.seqKey(id), fieldModSeq, 1).Result()
	if err != nil {
		return 0, fmt.Errorf("next modseq: %w", err)
	}
	return store.ModSeq(v), nil
}

// LastUID returns the last allocated UID.
func (s *Store) LastUID(ctx context.Context, id store.MailboxID) (store.UID, error) {
	v, err := s.field(ctx, id, fieldUID)
	return store.UID(v), err
}

// HighestModSeq returns the last allocated ModSeq.
func (s *Store) HighestModSeq(ctx context.Context, id store.MailboxID) (store.ModSeq, error) {
	v, err := s.field(ctx, id, fieldModSeq)
	return store.ModSeq(v), err
}

func (s *Store) field(ctx context.Context, id store.MailboxID, field string) (int64, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	v, err := s.client.HGet(ctx, s.seqKey(id), field).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", field, err)
	}
	return v, nil
}

// DropSequences removes the counters of a deleted mailbox.
func (s *Store) DropSequences(ctx context.Context, id store.MailboxID) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.client.Del(ctx, s.seqKey(id)).Err(); err != nil {
		return fmt.Errorf("drop sequences: %w", err)
	}
	return nil
}
