package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rbaliyan/mailstore/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// messageDoc is the MongoDB representation of a message.
type messageDoc struct {
	MailboxID    string    `bson:"mailbox_id"`
	UID          int64     `bson:"uid"`
	ModSeq       int64     `bson:"modseq"`
	SystemFlags  int32     `bson:"system_flags"`
	UserFlags    []string  `bson:"user_flags,omitempty"`
	InternalDate time.Time `bson:"internal_date"`
	Size         int64     `bson:"size"`
	Body         []byte    `bson:"body,omitempty"`
	MessageID    string    `bson:"message_id"`
}

func newMessageDoc(msg *store.Message) messageDoc {
	return messageDoc{
		MailboxID:    string(msg.MailboxID),
		UID:          int64(msg.UID),
		ModSeq:       int64(msg.ModSeq),
		SystemFlags:  int32(msg.Flags.System),
		UserFlags:    msg.Flags.User,
		InternalDate: msg.InternalDate,
		Size:         msg.Size,
		Body:         msg.Body,
		MessageID:    msg.MessageID,
	}
}

func (d *messageDoc) toMessage() *store.Message {
	return &store.Message{
		MailboxID:    store.MailboxID(d.MailboxID),
		UID:          store.UID(d.UID),
		ModSeq:       store.ModSeq(d.ModSeq),
		Flags:        store.Flags{System: store.SystemFlag(d.SystemFlags), User: d.UserFlags},
		InternalDate: d.InternalDate.UTC(),
		Size:         d.Size,
		Body:         d.Body,
		MessageID:    d.MessageID,
	}
}

func messageFilter(id store.MailboxID, uid store.UID) bson.M {
	return bson.M{"mailbox_id": string(id), "uid": int64(uid)}
}

// AddMessage inserts a message. The unique (mailbox_id, uid) index rejects
// reused UIDs.
func (s *Store) AddMessage(ctx context.Context, msg *store.Message) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	doc := newMessageDoc(msg)
	if doc.InternalDate.IsZero() {
		doc.InternalDate = time.Now().UTC()
	}
	if _, err := s.messages.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrDuplicateEntry
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

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var doc messageDoc
	if err := s.messages.FindOne(ctx, messageFilter(id, uid)).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrMessageNotFound
		}
		return nil, fmt.Errorf("find message: %w", err)
	}
	return doc.toMessage(), nil
}

// UpdateFlags replaces the flags of a message and stamps it with modSeq.
func (s *Store) UpdateFlags(ctx context.Context, id store.MailboxID, uid store.UID, flags store.Flags, modSeq store.ModSeq) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	update := bson.M{"$set": bson.M{
		"system_flags": int32(flags.System),
		"user_flags":   flags.User,
		"modseq":       int64(modSeq),
	}}
	result, err := s.messages.UpdateOne(ctx, messageFilter(id, uid), update)
	if err != nil {
		return fmt.Errorf("update flags: %w", err)
	}
	if result.MatchedCount == 0 {
		return store.ErrMessageNotFound
	}
	return nil
}

// DeleteMessage removes a message.
func (s *Store) DeleteMessage(ctx context.Context, id store.MailboxID, uid store.UID) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	result, err := s.messages.DeleteOne(ctx, messageFilter(id, uid))
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if result.DeletedCount == 0 {
		return store.ErrMessageNotFound
	}
	return nil
}

// ListMessages returns messages with UID greater than after, ordered by UID.
func (s *Store) ListMessages(ctx context.Context, id store.MailboxID, after store.UID, limit int) ([]*store.Message, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	findOpts := mongoopts.Find().SetSort(bson.D{bson.E{Key: "uid", Value: 1}})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}
	filter := bson.M{"mailbox_id": string(id), "uid": bson.M{"$gt": int64(after)}}

	cur, err := s.messages.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}

	result := make([]*store.Message, len(docs))
	for i := range docs {
		result[i] = docs[i].toMessage()
	}
	return result, nil
}

// ListDeleted returns the UIDs of messages carrying \Deleted, ascending.
func (s *Store) ListDeleted(ctx context.Context, id store.MailboxID) ([]store.UID, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	filter := bson.M{
		"mailbox_id":   string(id),
		"system_flags": bson.M{"$bitsAnySet": int32(store.FlagDeleted)},
	}
	findOpts := mongoopts.Find().
		SetSort(bson.D{bson.E{Key: "uid", Value: 1}}).
		SetProjection(bson.M{"uid": 1})

	cur, err := s.messages.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("list deleted: %w", err)
	}
	var docs []struct {
		UID int64 `bson:"uid"`
	}
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode deleted: %w", err)
	}

	uids := make([]store.UID, len(docs))
	for i, d := range docs {
		uids[i] = store.UID(d.UID)
	}
	return uids, nil
}
