package mongo

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rbaliyan/mailstore/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// counterDoc receives the incremented counters.
type counterDoc struct {
	LastUID       int64 `bson:"last_uid"`
	HighestModSeq int64 `bson:"highest_modseq"`
}

// increment runs findOneAndUpdate with $inc outside of any session so the
// number survives a rollback of the caller's transaction.
func (s *Store) increment(ctx context.Context, filter bson.M, field string) (*counterDoc, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	opts := mongoopts.FindOneAndUpdate().
		SetReturnDocument(mongoopts.After).
		SetProjection(bson.M{"last_uid": 1, "highest_modseq": 1})

	var doc counterDoc
	err := s.mailboxes.FindOneAndUpdate(ctx, filter, bson.M{"$inc": bson.M{field: 1}}, opts).Decode(&doc)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// NextUID increments the mailbox's last UID.
func (s *Store) NextUID(ctx context.Context, id store.MailboxID) (store.UID, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	filter := bson.M{"_id": string(id), "last_uid": bson.M{"$lt": int64(math.MaxUint32)}}
	doc, err := s.increment(ctx, filter, "last_uid")
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, getErr := s.GetMailbox(store.WithoutTx(ctx), id); getErr != nil {
			return 0, getErr
		}
		return 0, store.ErrCounterOverflow
	}
	if err != nil {
		return 0, fmt.Errorf("next uid: %w", err)
	}
	return store.UID(doc.LastUID), nil
}

// NextModSeq increments the mailbox's highest ModSeq.
func (s *Store) NextModSeq(ctx context.Context, id store.MailboxID) (store.ModSeq, error) {
	if err := s.checkConnected(); err != nil {
		return 0, err
	}

	doc, err := s.increment(ctx, bson.M{"_id": string(id)}, "highest_modseq")
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, store.ErrMailboxNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("next modseq: %w", err)
	}
	return store.ModSeq(doc.HighestModSeq), nil
}

// LastUID returns the last allocated UID.
func (s *Store) LastUID(ctx context.Context, id store.MailboxID) (store.UID, error) {
	mb, err := s.GetMailbox(ctx, id)
	if err != nil {
		return 0, err
	}
	return mb.LastUID, nil
}

// HighestModSeq returns the last allocated ModSeq.
func (s *Store) HighestModSeq(ctx context.Context, id store.MailboxID) (store.ModSeq, error) {
	mb, err := s.GetMailbox(ctx, id)
	if err != nil {
		return 0, err
	}
	return mb.HighestModSeq, nil
}

// DropSequences is a no-op: counters are fields of the mailbox document.
func (s *Store) DropSequences(context.Context, store.MailboxID) error {
	return s.checkConnected()
}
