package mailstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rbaliyan/mailstore/events"
	"github.com/rbaliyan/mailstore/mapper"
	"github.com/rbaliyan/mailstore/store"
)

// CreateMailbox creates a mailbox with a fresh UidValidity. Missing parents
// are created first; parents that already exist are left alone.
func (s *service) CreateMailbox(ctx context.Context, path store.MailboxPath) (*store.Mailbox, error) {
	if !path.IsValid() {
		return nil, ErrInvalidPath
	}

	var created *store.Mailbox
	err := s.mutate(ctx, "create_mailbox", path, func(ctx context.Context) error {
		for _, parent := range parentPaths(path) {
			_, err := s.store.FindMailboxByPath(ctx, parent)
			if err == nil {
				continue
			}
			if !errors.Is(err, store.ErrMailboxNotFound) {
				return translate(err)
			}
			if _, err := s.createOne(ctx, parent); err != nil && !errors.Is(err, ErrMailboxExists) {
				return err
			}
		}

		mb, err := s.createOne(ctx, path)
		if err != nil {
			return err
		}
		created = mb
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("mailbox created", "mailbox_id", created.ID, "path", path.String())
	return created, nil
}

func (s *service) createOne(ctx context.Context, path store.MailboxPath) (*store.Mailbox, error) {
	mb, err := s.store.CreateMailbox(ctx, &store.Mailbox{
		Path:        path,
		UIDValidity: store.GenerateUIDValidity(),
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return nil, translate(err)
	}
	s.emit(ctx, &events.MailboxAdded{Base: events.NewBase(mb), UIDValidity: mb.UIDValidity})
	return mb, nil
}

// parentPaths returns the ancestors of path, outermost first.
func parentPaths(path store.MailboxPath) []store.MailboxPath {
	parts := strings.Split(path.Name, store.PathDelimiter)
	parents := make([]store.MailboxPath, 0, len(parts)-1)
	for i := 1; i < len(parts); i++ {
		parents = append(parents, store.MailboxPath{
			Namespace: path.Namespace,
			User:      path.User,
			Name:      strings.Join(parts[:i], store.PathDelimiter),
		})
	}
	return parents
}

// GetMailbox loads a mailbox by path.
func (s *service) GetMailbox(ctx context.Context, path store.MailboxPath) (*store.Mailbox, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	return s.loadMailbox(ctx, path)
}

// loadMailbox resolves a path inside a running mutation.
func (s *service) loadMailbox(ctx context.Context, path store.MailboxPath) (*store.Mailbox, error) {
	mb, err := s.store.FindMailboxByPath(ctx, path)
	if err != nil {
		return nil, translate(err)
	}
	return s.repairUIDValidity(ctx, mb)
}

// GetMailboxByID loads a mailbox by ID.
func (s *service) GetMailboxByID(ctx context.Context, id store.MailboxID) (*store.Mailbox, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	mb, err := s.store.GetMailbox(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	return s.repairUIDValidity(ctx, mb)
}

// repairUIDValidity replaces an invalid UidValidity with a generated one and
// persists it outside any running transaction, as sequence allocation does.
// A failed write fails the read; the invalid value is never handed out.
func (s *service) repairUIDValidity(ctx context.Context, mb *store.Mailbox) (*store.Mailbox, error) {
	if mb.UIDValidity.IsValid() {
		return mb, nil
	}
	v := store.GenerateUIDValidity()
	if err := s.store.UpdateUIDValidity(store.WithoutTx(ctx), mb.ID, v); err != nil {
		return nil, fmt.Errorf("mailstore: repair uid validity of %s: %w", mb.Path, translate(err))
	}
	s.logger.Warn("repaired invalid uid validity",
		"mailbox_id", mb.ID, "path", mb.Path.String(), "old", mb.UIDValidity, "new", v)
	mb.UIDValidity = v
	return mb, nil
}

// RenameMailbox moves a mailbox and its children to a new path. Renaming an
// inbox to another name of the same user is allowed; moving it to another
// user is not.
func (s *service) RenameMailbox(ctx context.Context, from, to store.MailboxPath) error {
	if !to.IsValid() {
		return ErrInvalidPath
	}
	if from.IsInbox() && from.User != to.User {
		return ErrInboxRename
	}
	if from == to {
		return nil
	}

	return s.mutate(ctx, "rename_mailbox", from, func(ctx context.Context) error {
		mb, err := s.loadMailbox(ctx, from)
		if err != nil {
			return err
		}
		if _, err := s.store.FindMailboxByPath(ctx, to); err == nil {
			return ErrMailboxExists
		} else if !errors.Is(err, store.ErrMailboxNotFound) {
			return translate(err)
		}

		children, err := s.children(ctx, from)
		if err != nil {
			return err
		}

		if err := s.renameOne(ctx, mb, to); err != nil {
			return err
		}
		for _, child := range children {
			newPath := store.MailboxPath{
				Namespace: to.Namespace,
				User:      to.User,
				Name:      to.Name + strings.TrimPrefix(child.Path.Name, from.Name),
			}
			if err := s.renameOne(ctx, child, newPath); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *service) renameOne(ctx context.Context, mb *store.Mailbox, to store.MailboxPath) error {
	if err := s.store.RenameMailbox(ctx, mb.ID, to); err != nil {
		return translate(err)
	}
	s.emit(ctx, &events.MailboxRenamed{Base: events.NewBase(mb), NewPath: to})
	return nil
}

// children lists every descendant of path.
func (s *service) children(ctx context.Context, path store.MailboxPath) ([]*store.Mailbox, error) {
	query := store.MailboxQuery{
		Namespace:  path.Namespace,
		User:       path.User,
		NamePrefix: path.Name + store.PathDelimiter,
	}
	var (
		out    []*store.Mailbox
		cursor string
	)
	for {
		page, err := s.store.ListMailboxes(ctx, query, cursor, DefaultBatchSize)
		if err != nil {
			return nil, translate(err)
		}
		out = append(out, page...)
		if len(page) < DefaultBatchSize {
			return out, nil
		}
		cursor = page[len(page)-1].Path.String()
	}
}

// DeleteMailbox removes a mailbox with all its messages. Its sequence
// counters are dropped after commit; IDs are never reused, so later mailboxes
// at the same path start from fresh counters.
func (s *service) DeleteMailbox(ctx context.Context, path store.MailboxPath) error {
	return s.mutate(ctx, "delete_mailbox", path, func(ctx context.Context) error {
		mb, err := s.loadMailbox(ctx, path)
		if err != nil {
			return err
		}

		var (
			doomed []DeletedMessage
			total  int64
			after  store.UID
		)
		for {
			page, err := s.store.ListMessages(ctx, mb.ID, after, DefaultBatchSize)
			if err != nil {
				return translate(err)
			}
			for _, msg := range page {
				doomed = append(doomed, DeletedMessage{UID: msg.UID, Size: msg.Size, MessageID: msg.MessageID})
				total += msg.Size
				after = msg.UID
			}
			if len(page) < DefaultBatchSize {
				break
			}
		}

		if err := s.plugins.beforeDelete(ctx, DeletionOperation{
			Reason:    DeletionMailboxDelete,
			MailboxID: mb.ID,
			Path:      mb.Path,
			Messages:  doomed,
		}); err != nil {
			return err
		}

		if err := s.store.DeleteMailbox(ctx, mb.ID); err != nil {
			return translate(err)
		}

		s.emit(ctx, &events.MailboxDeleted{
			Base:         events.NewBase(mb),
			MessageCount: int64(len(doomed)),
			TotalSize:    total,
		})
		mapper.AfterCommit(ctx, func(ctx context.Context) {
			s.dropSequences(ctx, mb.ID)
		})
		return nil
	})
}

// dropSequences removes the counters of a deleted mailbox. Failures only
// leave orphaned counters behind and are logged.
func (s *service) dropSequences(ctx context.Context, id store.MailboxID) {
	s.sequences.Forget(id)
	if err := s.counters.DropSequences(ctx, id); err != nil {
		s.logger.Warn("failed to drop sequences of deleted mailbox", "mailbox_id", id, "error", err)
	}
}
