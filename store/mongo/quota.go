package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/rbaliyan/mailstore/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// IncreaseQuota adds delta to the counter, creating it when absent.
func (s *Store) IncreaseQuota(ctx context.Context, key store.QuotaKey, delta int64) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	_, err := s.quotas.UpdateOne(ctx,
		bson.M{"_id": key.String()},
		bson.M{"$inc": bson.M{"value": delta}},
		mongoopts.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("increase quota: %w", err)
	}
	return nil
}

// GetQuota returns the counter value and whether it exists.
func (s *Store) GetQuota(ctx context.Context, key store.QuotaKey) (int64, bool, error) {
	if err := s.checkConnected(); err != nil {
		return 0, false, err
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var doc struct {
		Value int64 `bson:"value"`
	}
	err := s.quotas.FindOne(ctx, bson.M{"_id": key.String()}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get quota: %w", err)
	}
	return doc.Value, true, nil
}

// DeleteQuota removes the counter. A later increase starts from zero.
func (s *Store) DeleteQuota(ctx context.Context, key store.QuotaKey) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if _, err := s.quotas.DeleteOne(ctx, bson.M{"_id": key.String()}); err != nil {
		return fmt.Errorf("delete quota: %w", err)
	}
	return nil
}
