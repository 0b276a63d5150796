package mailstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/rbaliyan/mailstore/mapper"
	"github.com/rbaliyan/mailstore/sequence"
	"github.com/rbaliyan/mailstore/store"
)

// Sentinel errors for the mailstore package.
// Use errors.Is() to check for these errors.
//
// These errors wrap corresponding store-level errors where applicable,
// so errors.Is(err, mailstore.ErrMailboxNotFound) matches both levels.
var (
	// ErrNotFound is the parent of every "not found" error.
	ErrNotFound = fmt.Errorf("mailstore: %w", store.ErrNotFound)

	// ErrMailboxNotFound is returned when a mailbox path or ID is unknown.
	ErrMailboxNotFound = fmt.Errorf("mailstore: %w", store.ErrMailboxNotFound)

	// ErrMessageNotFound is returned when a UID is unknown in a mailbox.
	ErrMessageNotFound = fmt.Errorf("mailstore: %w", store.ErrMessageNotFound)

	// ErrMailboxExists is returned when creating or renaming onto a taken path.
	ErrMailboxExists = fmt.Errorf("mailstore: %w", store.ErrMailboxExists)

	// ErrInvalidPath is returned when a mailbox path cannot be used.
	ErrInvalidPath = fmt.Errorf("mailstore: %w", store.ErrInvalidPath)

	// ErrDuplicateEntry is returned when a UID is already used.
	ErrDuplicateEntry = fmt.Errorf("mailstore: %w", store.ErrDuplicateEntry)

	// ErrStoreRequired is returned when no store is configured.
	ErrStoreRequired = errors.New("mailstore: store is required")

	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = fmt.Errorf("mailstore: %w", store.ErrNotConnected)

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = fmt.Errorf("mailstore: %w", store.ErrAlreadyConnected)

	// ErrInvalidMessage is returned when an append request fails validation.
	ErrInvalidMessage = errors.New("mailstore: invalid message")

	// ErrMessageTooLarge is returned when a message exceeds the size limit.
	ErrMessageTooLarge = errors.New("mailstore: message too large")

	// ErrInvalidFlag is returned for malformed flag names or keywords.
	ErrInvalidFlag = errors.New("mailstore: invalid flag")

	// ErrInvalidUID is returned when a UID argument is zero.
	ErrInvalidUID = errors.New("mailstore: invalid uid")

	// ErrInboxRename is returned when renaming a user's inbox onto another user.
	ErrInboxRename = errors.New("mailstore: cannot move inbox to another user")

	// ErrSameMailbox is returned when a move targets its source mailbox.
	ErrSameMailbox = errors.New("mailstore: source and destination are the same mailbox")
)

// translate maps store errors to their mailstore-level sentinels so callers
// can match either level.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrMailboxNotFound):
		return ErrMailboxNotFound
	case errors.Is(err, store.ErrMessageNotFound):
		return ErrMessageNotFound
	case errors.Is(err, store.ErrMailboxExists):
		return ErrMailboxExists
	case errors.Is(err, store.ErrInvalidPath):
		return ErrInvalidPath
	case errors.Is(err, store.ErrDuplicateEntry):
		return ErrDuplicateEntry
	case errors.Is(err, store.ErrNotConnected):
		return ErrNotConnected
	default:
		return err
	}
}

// MutationError describes a failed mailbox mutation.
type MutationError struct {
	Op   string            // "append", "update_flags", "expunge", "move", ...
	Path store.MailboxPath // mailbox the mutation targeted
	UID  store.UID         // zero when not message-scoped
	Err  error
}

func (e *MutationError) Error() string {
	if e.UID != 0 {
		return fmt.Sprintf("mailstore: %s %s uid %d: %v", e.Op, e.Path, e.UID, e.Err)
	}
	return fmt.Sprintf("mailstore: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *MutationError) Unwrap() error {
	return e.Err
}

// HookError represents an error from a plugin hook.
type HookError struct {
	Plugin string
	Op     string
	Err    error
}

func (e *HookError) Error() string {
	return "plugin " + e.Plugin + " " + e.Op + ": " + e.Err.Error()
}

func (e *HookError) Unwrap() error {
	return e.Err
}

// IsAllocationError reports whether err is a failed sequence allocation.
func IsAllocationError(err error) bool {
	var ae *sequence.AllocationError
	return errors.As(err, &ae)
}

// IsCommitError reports whether err is a failed transaction commit. The
// outcome of the mutation is unknown after a failed commit.
func IsCommitError(err error) bool {
	var ce *mapper.CommitError
	return errors.As(err, &ce)
}

// IsRetryableError determines if an error is retryable.
// Returns true for temporary/transient errors, false for permanent errors.
// Handles both mailstore-level and store-level errors.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	// Permanent errors that should not be retried
	permanentErrors := []error{
		store.ErrNotFound,
		store.ErrMailboxExists,
		store.ErrInvalidID,
		store.ErrInvalidPath,
		store.ErrDuplicateEntry,
		store.ErrCounterOverflow,
		sequence.ErrSequenceRegression,
		mapper.ErrIllegalTransition,
		ErrStoreRequired,
		ErrInvalidMessage,
		ErrMessageTooLarge,
		ErrInvalidFlag,
		ErrInvalidUID,
		ErrInboxRename,
		ErrSameMailbox,
	}
	for _, permErr := range permanentErrors {
		if errors.Is(err, permErr) {
			return false
		}
	}

	var hookErr *HookError
	if errors.As(err, &hookErr) {
		return false
	}

	// Retryable errors
	retryableErrors := []error{
		store.ErrNotConnected,
		store.ErrTransactionFailed,
	}
	for _, retryErr := range retryableErrors {
		if errors.Is(err, retryErr) {
			return true
		}
	}

	// For unknown errors, default to retryable as they might be transient
	// network/timeout issues
	return true
}
