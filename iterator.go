package mailstore

import (
	"context"
	"errors"

	"github.com/rbaliyan/mailstore/store"
)

// ErrIteratorOutOfBounds is returned when the current item is read without a
// successful Next().
var ErrIteratorOutOfBounds = errors.New("mailstore: iterator out of bounds - call Next() first")

// PathIterator provides lazy, cursor-paginated access to mailbox paths.
//
// Ownership: PathIterator holds no resources requiring cleanup.
// There is no Close method; simply stop calling Next() when done.
//
// Thread Safety: PathIterator is NOT safe for concurrent use.
//
// Example:
//
//	it, _ := svc.MailboxPaths(ctx, store.MailboxQuery{User: "alice"})
//	for {
//	    ok, err := it.Next(ctx)
//	    if err != nil || !ok {
//	        break
//	    }
//	    path, _ := it.Path()
//	    // process path
//	}
type PathIterator interface {
	// Next advances to the next path.
	// Returns (true, nil) if there is a path available, (false, nil) when
	// iteration is done and (false, error) on failure.
	Next(ctx context.Context) (bool, error)

	// Path returns the current path.
	// Returns ErrIteratorOutOfBounds if called before Next() or after iteration ends.
	Path() (store.MailboxPath, error)
}

// MessageIterator provides lazy access to the messages of one mailbox in
// ascending UID order. Pagination is keyed on the last returned UID, so
// messages expunged during iteration are skipped without shifting the cursor.
//
// Thread Safety: MessageIterator is NOT safe for concurrent use.
type MessageIterator interface {
	// Next advances to the next message.
	Next(ctx context.Context) (bool, error)

	// Message returns the current message.
	// Returns ErrIteratorOutOfBounds if called before Next() or after iteration ends.
	Message() (*store.Message, error)
}

// StreamOptions configures streaming behavior.
type StreamOptions struct {
	// BatchSize is the number of items fetched per batch.
	// Default: 100, maximum: 1000.
	BatchSize int

	// AfterUID starts the message stream after the given UID.
	AfterUID store.UID
}

func (o StreamOptions) batchSize() int {
	switch {
	case o.BatchSize <= 0:
		return DefaultBatchSize
	case o.BatchSize > MaxBatchSize:
		return MaxBatchSize
	default:
		return o.BatchSize
	}
}

// batchIterator provides shared cursor-based batch fetching logic.
// fetch advances its own cursor.
type batchIterator[T any] struct {
	svc       *service
	fetch     func(ctx context.Context) ([]T, error)
	batchSize int
	batch     []T
	batchIdx  int
	done      bool
	fetched   bool
}

func (it *batchIterator[T]) Next(ctx context.Context) (bool, error) {
	if it.done {
		return false, nil
	}

	// Verify service is still connected on each iteration
	if err := it.svc.checkConnected(); err != nil {
		it.done = true
		return false, err
	}

	if it.batchIdx >= len(it.batch) {
		// A short batch means the results are exhausted
		if it.fetched && len(it.batch) < it.batchSize {
			it.done = true
			return false, nil
		}

		items, err := it.fetch(ctx)
		if err != nil {
			it.done = true
			return false, err
		}
		it.batch = items
		it.batchIdx = 0
		it.fetched = true

		if len(it.batch) == 0 {
			it.done = true
			return false, nil
		}
	}

	it.batchIdx++
	return true, nil
}

func (it *batchIterator[T]) current() (T, error) {
	if it.batchIdx <= 0 || it.batchIdx > len(it.batch) {
		var zero T
		return zero, ErrIteratorOutOfBounds
	}
	return it.batch[it.batchIdx-1], nil
}

// mailboxIterator iterates mailboxes ordered by path.
type mailboxIterator struct {
	batchIterator[*store.Mailbox]
}

func (it *mailboxIterator) Path() (store.MailboxPath, error) {
	mb, err := it.current()
	if err != nil {
		return store.MailboxPath{}, err
	}
	return mb.Path, nil
}

// Mailbox returns the current mailbox, or nil before Next().
func (it *mailboxIterator) Mailbox() *store.Mailbox {
	mb, _ := it.current()
	return mb
}

func (s *service) mailboxes(ctx context.Context, query store.MailboxQuery) (*mailboxIterator, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	it := &mailboxIterator{}
	it.svc = s
	it.batchSize = DefaultBatchSize
	var cursor string
	it.fetch = func(ctx context.Context) ([]*store.Mailbox, error) {
		page, err := s.store.ListMailboxes(ctx, query, cursor, it.batchSize)
		if err != nil {
			return nil, translate(err)
		}
		if len(page) > 0 {
			cursor = page[len(page)-1].Path.String()
		}
		return page, nil
	}
	return it, nil
}

// MailboxPaths returns a lazy iterator over the paths of matching mailboxes.
func (s *service) MailboxPaths(ctx context.Context, query store.MailboxQuery) (PathIterator, error) {
	return s.mailboxes(ctx, query)
}

// messageIterator iterates the messages of one mailbox by UID.
type messageIterator struct {
	batchIterator[*store.Message]
}

func (it *messageIterator) Message() (*store.Message, error) {
	return it.current()
}

// Messages returns a lazy iterator over the messages of a mailbox.
func (s *service) Messages(ctx context.Context, id store.MailboxID, opts StreamOptions) (MessageIterator, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if _, err := s.store.GetMailbox(ctx, id); err != nil {
		return nil, translate(err)
	}

	it := &messageIterator{}
	it.svc = s
	it.batchSize = opts.batchSize()
	after := opts.AfterUID
	it.fetch = func(ctx context.Context) ([]*store.Message, error) {
		page, err := s.store.ListMessages(ctx, id, after, it.batchSize)
		if err != nil {
			return nil, translate(err)
		}
		if len(page) > 0 {
			after = page[len(page)-1].UID
		}
		return page, nil
	}
	return it, nil
}

// GetMessage loads one message.
func (s *service) GetMessage(ctx context.Context, path store.MailboxPath, uid store.UID) (*store.Message, error) {
	if uid == 0 {
		return nil, ErrInvalidUID
	}
	mb, err := s.GetMailbox(ctx, path)
	if err != nil {
		return nil, err
	}
	msg, err := s.store.GetMessage(ctx, mb.ID, uid)
	if err != nil {
		return nil, translate(err)
	}
	return msg, nil
}
