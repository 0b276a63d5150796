package mailstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rbaliyan/mailstore/mapper"
	"github.com/rbaliyan/mailstore/sequence"
	"github.com/rbaliyan/mailstore/store"
)

func TestTranslate(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"nil", nil, nil},
		{"mailbox not found", fmt.Errorf("query: %w", store.ErrMailboxNotFound), ErrMailboxNotFound},
		{"message not found", store.ErrMessageNotFound, ErrMessageNotFound},
		{"exists", store.ErrMailboxExists, ErrMailboxExists},
		{"duplicate", store.ErrDuplicateEntry, ErrDuplicateEntry},
		{"not connected", store.ErrNotConnected, ErrNotConnected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := translate(tt.in); got != tt.want {
				t.Errorf("translate(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}

	other := errors.New("other")
	if translate(other) != other {
		t.Error("unknown errors must pass through unchanged")
	}
}

func TestSentinelsMatchBothLevels(t *testing.T) {
	if !errors.Is(ErrMailboxNotFound, store.ErrMailboxNotFound) || !errors.Is(ErrMailboxNotFound, store.ErrNotFound) {
		t.Error("ErrMailboxNotFound should match store sentinels")
	}
	if !errors.Is(ErrMessageNotFound, store.ErrNotFound) {
		t.Error("not-found sentinels should share the store parent")
	}
}

func TestMutationError(t *testing.T) {
	err := &MutationError{Op: "append", Path: store.Inbox("alice"), UID: 7, Err: ErrDuplicateEntry}
	if !strings.Contains(err.Error(), "uid 7") || !strings.Contains(err.Error(), "append") {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, store.ErrDuplicateEntry) {
		t.Error("MutationError should unwrap to the cause")
	}
	noUID := &MutationError{Op: "expunge", Path: store.Inbox("alice"), Err: errors.New("x")}
	if strings.Contains(noUID.Error(), "uid") {
		t.Errorf("uid should be omitted when zero: %q", noUID.Error())
	}
}

func TestErrorClassifiers(t *testing.T) {
	allocErr := &sequence.AllocationError{MailboxID: "mb", Kind: sequence.KindUID, Err: sequence.ErrSequenceRegression}
	if !IsAllocationError(fmt.Errorf("wrapped: %w", allocErr)) {
		t.Error("expected IsAllocationError")
	}
	if !IsCommitError(&mapper.CommitError{Err: errors.New("lost")}) {
		t.Error("expected IsCommitError")
	}
	if IsCommitError(errors.New("plain")) || IsAllocationError(errors.New("plain")) {
		t.Error("plain errors must not classify")
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"not found", ErrMailboxNotFound, false},
		{"exists", ErrMailboxExists, false},
		{"invalid flag", fmt.Errorf("%w: bad", ErrInvalidFlag), false},
		{"regression", sequence.ErrSequenceRegression, false},
		{"hook", &HookError{Plugin: "p", Op: "BeforeDelete", Err: errors.New("no")}, false},
		{"not connected", ErrNotConnected, true},
		{"transaction failed", store.ErrTransactionFailed, true},
		{"unknown", errors.New("connection reset"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryableError(tt.err); got != tt.want {
				t.Errorf("IsRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
