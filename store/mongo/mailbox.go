package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/mailstore/store"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	mongoopts "go.mongodb.org/mongo-driver/v2/mongo/options"
)

// mailboxDoc is the MongoDB representation of a mailbox.
type mailboxDoc struct {
	ID            string            `bson:"_id"`
	Path          store.MailboxPath `bson:"path"`
	PathKey       string            `bson:"path_key"`
	UIDValidity   int64             `bson:"uid_validity"`
	LastUID       int64             `bson:"last_uid"`
	HighestModSeq int64             `bson:"highest_modseq"`
	CreatedAt     time.Time         `bson:"created_at"`
}

func (d *mailboxDoc) toMailbox() *store.Mailbox {
	return &store.Mailbox{
		ID:            store.MailboxID(d.ID),
		Path:          d.Path,
		UIDValidity:   store.UIDValidity(d.UIDValidity),
		LastUID:       store.UID(d.LastUID),
		HighestModSeq: store.ModSeq(d.HighestModSeq),
		CreatedAt:     d.CreatedAt,
	}
}

// CreateMailbox persists a new mailbox.
func (s *Store) CreateMailbox(ctx context.Context, mb *store.Mailbox) (*store.Mailbox, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if !mb.Path.IsValid() {
		return nil, store.ErrInvalidPath
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	doc := mailboxDoc{
		ID:          string(mb.ID),
		Path:        mb.Path,
		PathKey:     mb.Path.String(),
		UIDValidity: int64(mb.UIDValidity),
		CreatedAt:   mb.CreatedAt,
	}
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	if _, err := s.mailboxes.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, store.ErrMailboxExists
		}
		return nil, fmt.Errorf("insert mailbox: %w", err)
	}
	return doc.toMailbox(), nil
}

// GetMailbox retrieves a mailbox by ID.
func (s *Store) GetMailbox(ctx context.Context, id store.MailboxID) (*store.Mailbox, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	return s.findMailbox(ctx, bson.M{"_id": string(id)})
}

// FindMailboxByPath retrieves a mailbox by path.
func (s *Store) FindMailboxByPath(ctx context.Context, path store.MailboxPath) (*store.Mailbox, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	return s.findMailbox(ctx, bson.M{
		"path.namespace": path.Namespace,
		"path.user":      path.User,
		"path.name":      path.Name,
	})
}

func (s *Store) findMailbox(ctx context.Context, filter bson.M) (*store.Mailbox, error) {
	var doc mailboxDoc
	if err := s.mailboxes.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrMailboxNotFound
		}
		return nil, fmt.Errorf("find mailbox: %w", err)
	}
	return doc.toMailbox(), nil
}

// ListMailboxes returns mailboxes ordered by path, after the cursor.
func (s *Store) ListMailboxes(ctx context.Context, query store.MailboxQuery, cursor string, limit int) ([]*store.Mailbox, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	filter := bson.M{"path_key": bson.M{"$gt": cursor}}
	if query.Namespace != "" {
		filter["path.namespace"] = query.Namespace
	}
	if query.User != "" {
		filter["path.user"] = query.User
	}
	if query.NamePrefix != "" {
		filter["path.name"] = bson.M{"$regex": "^" + escapeRegex(query.NamePrefix)}
	}

	findOpts := mongoopts.Find().SetSort(bson.D{bson.E{Key: "path_key", Value: 1}})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}

	cur, err := s.mailboxes.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("list mailboxes: %w", err)
	}
	var docs []mailboxDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode mailboxes: %w", err)
	}

	result := make([]*store.Mailbox, len(docs))
	for i := range docs {
		result[i] = docs[i].toMailbox()
	}
	return result, nil
}

// RenameMailbox changes the path of a mailbox.
func (s *Store) RenameMailbox(ctx context.Context, id store.MailboxID, newPath store.MailboxPath) error {
	if err := s.checkConnected(); err != nil {
		return err
	}
	if !newPath.IsValid() {
		return store.ErrInvalidPath
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	update := bson.M{"$set": bson.M{"path": newPath, "path_key": newPath.String()}}
	result, err := s.mailboxes.UpdateOne(ctx, bson.M{"_id": string(id)}, update)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrMailboxExists
		}
		return fmt.Errorf("rename mailbox: %w", err)
	}
	if result.MatchedCount == 0 {
		return store.ErrMailboxNotFound
	}
	return nil
}

// UpdateUIDValidity persists a repaired UidValidity.
func (s *Store) UpdateUIDValidity(ctx context.Context, id store.MailboxID, v store.UIDValidity) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	result, err := s.mailboxes.UpdateOne(ctx, bson.M{"_id": string(id)}, bson.M{"$set": bson.M{"uid_validity": int64(v)}})
	if err != nil {
		return fmt.Errorf("update uid validity: %w", err)
	}
	if result.MatchedCount == 0 {
		return store.ErrMailboxNotFound
	}
	return nil
}

// DeleteMailbox removes the mailbox document and its messages. Inside a
// transaction both deletes commit together.
func (s *Store) DeleteMailbox(ctx context.Context, id store.MailboxID) error {
	if err := s.checkConnected(); err != nil {
		return err
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	result, err := s.mailboxes.DeleteOne(ctx, bson.M{"_id": string(id)})
	if err != nil {
		return fmt.Errorf("delete mailbox: %w", err)
	}
	if result.DeletedCount == 0 {
		return store.ErrMailboxNotFound
	}
	if _, err := s.messages.DeleteMany(ctx, bson.M{"mailbox_id": string(id)}); err != nil {
		return fmt.Errorf("delete mailbox messages: %w", err)
	}
	return nil
}
