package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/mailstore/events"
	goredis "github.com/redis/go-redis/v9"
)

var _ events.DeadLetters = (*Store)(nil)

// deadLetterRecord is the stored form of a dead letter. Events travel as
// codec envelopes so any registered event type survives a restart.
type deadLetterRecord struct {
	ID       string          `json:"id"`
	Listener string          `json:"listener"`
	Envelope events.Envelope `json:"envelope"`
	Error    string          `json:"error"`
	FailedAt time.Time       `json:"failed_at"`
}

func (s *Store) deadLetterKey(listener string) string {
	return s.key("dl", listener)
}

func (s *Store) deadLetterIndexKey() string {
	return s.key("dl-index")
}

// Store parks a dead letter in the listener's hash.
func (s *Store) Store(ctx context.Context, dl events.DeadLetter) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if dl.ID == "" {
		dl.ID = uuid.New().String()
	}

	env, err := s.opts.codecs.Encode(dl.Event)
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}
	data, err := json.Marshal(deadLetterRecord{
		ID:       dl.ID,
		Listener: dl.Listener,
		Envelope: env,
		Error:    dl.Error,
		FailedAt: dl.FailedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	_, err = s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.HSet(ctx, s.deadLetterKey(dl.Listener), dl.ID, data)
		p.HSet(ctx, s.deadLetterIndexKey(), dl.ID, dl.Listener)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store dead letter: %w", err)
	}
	return nil
}

// List returns the letters of a listener, oldest first. Letters whose event
// can no longer be decoded are skipped and logged.
func (s *Store) List(ctx context.Context, listener string) ([]events.DeadLetter, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	raw, err := s.client.HGetAll(ctx, s.deadLetterKey(listener)).Result()
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}

	out := make([]events.DeadLetter, 0, len(raw))
	for id, data := range raw {
		var rec deadLetterRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			s.logger.Warn("skipping unreadable dead letter", "id", id, "error", err)
			continue
		}
		ev, err := s.opts.codecs.Decode(rec.Envelope)
		if err != nil {
			s.logger.Warn("skipping undecodable dead letter", "id", id, "type", rec.Envelope.Type, "error", err)
			continue
		}
		out = append(out, events.DeadLetter{
			ID:       rec.ID,
			Listener: rec.Listener,
			Event:    ev,
			Error:    rec.Error,
			FailedAt: rec.FailedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FailedAt.Before(out[j].FailedAt) })
	return out, nil
}

// Remove deletes a letter. Unknown IDs are ignored.
func (s *Store) Remove(ctx context.Context, id string) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	listener, err := s.client.HGet(ctx, s.deadLetterIndexKey(), id).Result()
	if errors.Is(err, goredis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find dead letter: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.HDel(ctx, s.deadLetterKey(listener), id)
		p.HDel(ctx, s.deadLetterIndexKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("remove dead letter: %w", err)
	}
	return nil
}
