package store

import "errors"

// Sentinel errors for the store package.
var (
	// ErrNotFound is the parent of every "not found" error.
	ErrNotFound = errors.New("store: not found")

	// ErrMailboxNotFound is returned when a mailbox cannot be found.
	ErrMailboxNotFound = &notFoundError{what: "mailbox"}

	// ErrMessageNotFound is returned when a message cannot be found.
	ErrMessageNotFound = &notFoundError{what: "message"}

	// ErrMailboxExists is returned when creating or renaming onto a taken path.
	ErrMailboxExists = errors.New("store: mailbox already exists")

	// ErrInvalidID is returned when an invalid ID is provided.
	ErrInvalidID = errors.New("store: invalid id")

	// ErrInvalidPath is returned when a mailbox path cannot be used.
	ErrInvalidPath = errors.New("store: invalid mailbox path")

	// ErrDuplicateEntry is returned when a unique constraint rejects a write,
	// for example a UID already used in the mailbox.
	ErrDuplicateEntry = errors.New("store: duplicate entry")

	// ErrNotConnected is returned when operations are attempted before Connect().
	ErrNotConnected = errors.New("store: not connected")

	// ErrAlreadyConnected is returned when Connect() is called twice.
	ErrAlreadyConnected = errors.New("store: already connected")

	// ErrTransactionFailed is returned when a database transaction fails.
	// This indicates the atomic operation could not complete and no changes were made.
	ErrTransactionFailed = errors.New("store: transaction failed")

	// ErrCounterOverflow is returned when a UID counter would exceed 2^32-1.
	ErrCounterOverflow = errors.New("store: counter overflow")
)

type notFoundError struct {
	what string
}

func (e *notFoundError) Error() string {
	return "store: " + e.what + " not found"
}

func (e *notFoundError) Unwrap() error {
	return ErrNotFound
}

// Error checking helpers.

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsMailboxExists(err error) bool {
	return errors.Is(err, ErrMailboxExists)
}

func IsDuplicateEntry(err error) bool {
	return errors.Is(err, ErrDuplicateEntry)
}

func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected)
}
