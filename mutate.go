package mailstore

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/mailstore/events"
	"github.com/rbaliyan/mailstore/mapper"
	"github.com/rbaliyan/mailstore/store"
)

// Append stores a new message. The UID and ModSeq are allocated before the
// write; when the write fails they stay burned and no event is emitted.
func (s *service) Append(ctx context.Context, path store.MailboxPath, req AppendRequest) (*AppendResult, error) {
	if err := s.checkConnected(); err != nil {
		return nil, err
	}
	if err := s.plugins.beforeAppend(ctx, path, &req); err != nil {
		return nil, err
	}
	if err := ValidateAppend(&req, s.opts.limits()); err != nil {
		return nil, err
	}

	size := req.Size
	if size == 0 {
		size = int64(len(req.Body))
	}
	if req.MessageID == "" {
		req.MessageID = uuid.NewString()
	}
	if req.InternalDate.IsZero() {
		req.InternalDate = time.Now().UTC()
	}

	var res *AppendResult
	err := s.mutate(ctx, "append", path, func(ctx context.Context) error {
		mb, err := s.loadMailbox(ctx, path)
		if err != nil {
			return err
		}
		uid, err := s.allocateUID(ctx, mb.ID)
		if err != nil {
			return err
		}
		modSeq, err := s.allocateModSeq(ctx, mb.ID)
		if err != nil {
			return err
		}

		flags := req.Flags.Clone()
		flags.System |= store.FlagRecent
		msg := &store.Message{
			MailboxID:    mb.ID,
			UID:          uid,
			ModSeq:       modSeq,
			Flags:        flags,
			InternalDate: req.InternalDate,
			Size:         size,
			Body:         req.Body,
			MessageID:    req.MessageID,
		}
		if err := s.store.AddMessage(ctx, msg); err != nil {
			return &MutationError{Op: "append", Path: path, UID: uid, Err: translate(err)}
		}

		res = &AppendResult{
			MailboxID:   mb.ID,
			UIDValidity: mb.UIDValidity,
			UID:         uid,
			ModSeq:      modSeq,
			Size:        size,
			MessageID:   req.MessageID,
		}
		s.emit(ctx, &events.MessageAdded{
			Base:      events.NewBase(mb),
			UID:       uid,
			ModSeq:    modSeq,
			Flags:     flags.Clone(),
			Size:      size,
			MessageID: req.MessageID,
		})
		mapper.AfterCommit(ctx, func(ctx context.Context) {
			s.plugins.afterAppend(ctx, path, res)
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// UpdateFlags applies flags to a message in the given mode. \Recent cannot be
// set or cleared this way. A ModSeq is only allocated when the flags change.
func (s *service) UpdateFlags(ctx context.Context, path store.MailboxPath, uid store.UID, flags store.Flags, mode store.FlagsUpdateMode) (*FlagsUpdate, error) {
	if uid == 0 {
		return nil, ErrInvalidUID
	}
	limits := s.opts.limits()
	if mode != store.FlagsRemove {
		if err := ValidateFlags(flags, limits); err != nil {
			return nil, err
		}
	}

	var res *FlagsUpdate
	err := s.mutate(ctx, "update_flags", path, func(ctx context.Context) error {
		mb, err := s.loadMailbox(ctx, path)
		if err != nil {
			return err
		}
		msg, err := s.store.GetMessage(ctx, mb.ID, uid)
		if err != nil {
			return &MutationError{Op: "update_flags", Path: path, UID: uid, Err: translate(err)}
		}

		updated := msg.Flags.Apply(mode, flags)
		updated.System = updated.System&^store.FlagRecent | msg.Flags.System&store.FlagRecent
		if updated.Equal(msg.Flags) {
			res = &FlagsUpdate{UID: uid, ModSeq: msg.ModSeq, OldFlags: msg.Flags, NewFlags: msg.Flags}
			return nil
		}
		if err := ValidateFlags(updated, limits); err != nil {
			return err
		}

		modSeq, err := s.allocateModSeq(ctx, mb.ID)
		if err != nil {
			return err
		}
		if err := s.store.UpdateFlags(ctx, mb.ID, uid, updated, modSeq); err != nil {
			return &MutationError{Op: "update_flags", Path: path, UID: uid, Err: translate(err)}
		}

		res = &FlagsUpdate{UID: uid, ModSeq: modSeq, OldFlags: msg.Flags, NewFlags: updated, Changed: true}
		s.emit(ctx, &events.FlagsUpdated{
			Base: events.NewBase(mb),
			Changes: []events.FlagsChange{{
				UID:      uid,
				ModSeq:   modSeq,
				OldFlags: msg.Flags.Clone(),
				NewFlags: updated.Clone(),
			}},
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Expunge removes messages carrying \Deleted. Listed UIDs that are unknown or
// not flagged \Deleted are ignored. Without a transaction a failure part way
// leaves the earlier removals in place, and their Expunged event is still
// emitted.
func (s *service) Expunge(ctx context.Context, path store.MailboxPath, uids ...store.UID) ([]store.UID, error) {
	var removed []store.UID
	err := s.mutate(ctx, "expunge", path, func(ctx context.Context) error {
		removed = nil
		mb, err := s.loadMailbox(ctx, path)
		if err != nil {
			return err
		}

		candidates := uids
		if len(candidates) == 0 {
			candidates, err = s.store.ListDeleted(ctx, mb.ID)
			if err != nil {
				return translate(err)
			}
		}
		candidates = slices.Clone(candidates)
		slices.Sort(candidates)
		candidates = slices.Compact(candidates)

		var doomed []DeletedMessage
		for _, uid := range candidates {
			msg, err := s.store.GetMessage(ctx, mb.ID, uid)
			if errors.Is(err, store.ErrMessageNotFound) {
				continue
			}
			if err != nil {
				return &MutationError{Op: "expunge", Path: path, UID: uid, Err: translate(err)}
			}
			if !msg.Flags.Has(store.FlagDeleted) {
				continue
			}
			doomed = append(doomed, DeletedMessage{UID: uid, Size: msg.Size, MessageID: msg.MessageID})
		}
		if len(doomed) == 0 {
			return nil
		}

		if err := s.plugins.beforeDelete(ctx, DeletionOperation{
			Reason:    DeletionExpunge,
			MailboxID: mb.ID,
			Path:      mb.Path,
			Messages:  doomed,
		}); err != nil {
			return err
		}

		var (
			gone    []events.ExpungedMessage
			failure error
		)
		for _, d := range doomed {
			err := s.store.DeleteMessage(ctx, mb.ID, d.UID)
			if errors.Is(err, store.ErrMessageNotFound) {
				// expunged concurrently
				continue
			}
			if err != nil {
				failure = &MutationError{Op: "expunge", Path: path, UID: d.UID, Err: translate(err)}
				break
			}
			gone = append(gone, events.ExpungedMessage{UID: d.UID, Size: d.Size})
		}

		if len(gone) > 0 {
			ev := &events.Expunged{Base: events.NewBase(mb), Messages: gone}
			s.emit(ctx, ev)
			removed = ev.UIDs()
		}
		return failure
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// Move moves a message to another mailbox. The message gets a UID and ModSeq
// allocated in the destination and \Recent set there; the source copy is
// removed.
func (s *service) Move(ctx context.Context, from, to store.MailboxPath, uid store.UID) (*MoveResult, error) {
	if uid == 0 {
		return nil, ErrInvalidUID
	}

	var res *MoveResult
	err := s.mutate(ctx, "move", from, func(ctx context.Context) error {
		src, err := s.loadMailbox(ctx, from)
		if err != nil {
			return err
		}
		dst, err := s.loadMailbox(ctx, to)
		if err != nil {
			return err
		}
		if src.ID == dst.ID {
			return ErrSameMailbox
		}

		msg, err := s.store.GetMessage(ctx, src.ID, uid)
		if err != nil {
			return &MutationError{Op: "move", Path: from, UID: uid, Err: translate(err)}
		}

		if err := s.plugins.beforeDelete(ctx, DeletionOperation{
			Reason:    DeletionMove,
			MailboxID: src.ID,
			Path:      src.Path,
			Messages:  []DeletedMessage{{UID: uid, Size: msg.Size, MessageID: msg.MessageID}},
		}); err != nil {
			return err
		}

		newUID, err := s.allocateUID(ctx, dst.ID)
		if err != nil {
			return err
		}
		modSeq, err := s.allocateModSeq(ctx, dst.ID)
		if err != nil {
			return err
		}

		moved := msg.Clone()
		moved.MailboxID = dst.ID
		moved.UID = newUID
		moved.ModSeq = modSeq
		moved.Flags.System |= store.FlagRecent
		if err := s.store.AddMessage(ctx, moved); err != nil {
			return &MutationError{Op: "move", Path: to, UID: newUID, Err: translate(err)}
		}
		s.emit(ctx, &events.MessageAdded{
			Base:      events.NewBase(dst),
			UID:       newUID,
			ModSeq:    modSeq,
			Flags:     moved.Flags.Clone(),
			Size:      moved.Size,
			MessageID: moved.MessageID,
		})

		if err := s.store.DeleteMessage(ctx, src.ID, uid); err != nil {
			return &MutationError{Op: "move", Path: from, UID: uid, Err: translate(err)}
		}
		s.emit(ctx, &events.Expunged{
			Base:     events.NewBase(src),
			Messages: []events.ExpungedMessage{{UID: uid, Size: msg.Size}},
		})

		res = &MoveResult{
			FromMailboxID: src.ID,
			FromUID:       uid,
			ToMailboxID:   dst.ID,
			ToUIDValidity: dst.UIDValidity,
			ToUID:         newUID,
			ModSeq:        modSeq,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
