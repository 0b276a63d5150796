package mailstore

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/rbaliyan/mailstore/store"
)

// MessageLimits holds all message validation limits.
type MessageLimits struct {
	MaxMessageSize int64
	MaxUserFlags   int
}

// MaxKeywordLength is the maximum length of a user keyword.
const MaxKeywordLength = 256

// atomSpecials are the characters IMAP forbids inside a flag keyword.
const atomSpecials = `(){ %*"\]`

// DefaultLimits returns the default message limits.
func DefaultLimits() MessageLimits {
	return MessageLimits{
		MaxMessageSize: DefaultMaxMessageSize,
		MaxUserFlags:   DefaultMaxUserFlags,
	}
}

func (o *options) limits() MessageLimits {
	return MessageLimits{
		MaxMessageSize: o.maxMessageSize,
		MaxUserFlags:   o.maxUserFlags,
	}
}

// ValidateKeyword checks that a user keyword is a valid IMAP atom.
func ValidateKeyword(keyword string) error {
	if keyword == "" {
		return fmt.Errorf("%w: empty keyword", ErrInvalidFlag)
	}
	if len(keyword) > MaxKeywordLength {
		return fmt.Errorf("%w: keyword exceeds %d bytes", ErrInvalidFlag, MaxKeywordLength)
	}
	for _, r := range keyword {
		if r > unicode.MaxASCII || unicode.IsControl(r) || strings.ContainsRune(atomSpecials, r) {
			return fmt.Errorf("%w: keyword %q contains %q", ErrInvalidFlag, keyword, r)
		}
	}
	return nil
}

// ValidateFlags checks the keywords of a flag set against limits.
func ValidateFlags(flags store.Flags, limits MessageLimits) error {
	if len(flags.User) > limits.MaxUserFlags {
		return fmt.Errorf("%w: too many keywords (%d > %d)", ErrInvalidFlag, len(flags.User), limits.MaxUserFlags)
	}
	for _, k := range flags.User {
		if err := ValidateKeyword(k); err != nil {
			return err
		}
	}
	return nil
}

// ValidateAppend checks an append request against limits.
func ValidateAppend(req *AppendRequest, limits MessageLimits) error {
	if req.Size < 0 {
		return fmt.Errorf("%w: negative size", ErrInvalidMessage)
	}
	size := req.Size
	if size == 0 {
		size = int64(len(req.Body))
	}
	if size == 0 {
		return fmt.Errorf("%w: empty message", ErrInvalidMessage)
	}
	if size > limits.MaxMessageSize {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrMessageTooLarge, size, limits.MaxMessageSize)
	}
	return ValidateFlags(req.Flags, limits)
}
