package mailstore

import (
	"errors"
	"strings"
	"testing"

	"github.com/rbaliyan/mailstore/store"
)

func TestValidateKeyword(t *testing.T) {
	tests := []struct {
		name    string
		keyword string
		wantErr bool
	}{
		{"simple", "work", false},
		{"dollar prefix", "$Important", false},
		{"empty", "", true},
		{"space", "two words", true},
		{"paren", "a(b", true},
		{"backslash", `\Custom`, true},
		{"wildcard", "a*", true},
		{"quote", `a"b`, true},
		{"bracket", "a]", true},
		{"non ascii", "résumé", true},
		{"control", "a\x01", true},
		{"too long", strings.Repeat("k", MaxKeywordLength+1), true},
		{"at max length", strings.Repeat("k", MaxKeywordLength), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateKeyword(tt.keyword)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateKeyword(%q) error = %v, wantErr %v", tt.keyword, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidFlag) {
				t.Errorf("expected ErrInvalidFlag, got %v", err)
			}
		})
	}
}

func TestValidateFlags(t *testing.T) {
	limits := MessageLimits{MaxMessageSize: 100, MaxUserFlags: 2}

	if err := ValidateFlags(store.NewFlags(store.FlagSeen, "a", "b"), limits); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateFlags(store.NewFlags(0, "a", "b", "c"), limits); !errors.Is(err, ErrInvalidFlag) {
		t.Errorf("expected too many keywords, got %v", err)
	}
}

func TestValidateAppend(t *testing.T) {
	limits := MessageLimits{MaxMessageSize: 10, MaxUserFlags: 1}

	tests := []struct {
		name string
		req  AppendRequest
		want error
	}{
		{"ok", AppendRequest{Body: []byte("hi")}, nil},
		{"size without body", AppendRequest{Size: 5}, nil},
		{"empty", AppendRequest{}, ErrInvalidMessage},
		{"negative size", AppendRequest{Size: -1, Body: []byte("x")}, ErrInvalidMessage},
		{"declared size too large", AppendRequest{Size: 11}, ErrMessageTooLarge},
		{"body too large", AppendRequest{Body: []byte("0123456789x")}, ErrMessageTooLarge},
		{"too many keywords", AppendRequest{Body: []byte("x"), Flags: store.NewFlags(0, "a", "b")}, ErrInvalidFlag},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAppend(&tt.req, limits)
			if tt.want == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestParseFlags(t *testing.T) {
	f, err := ParseFlags(`\Seen`, `\FLAGGED`, "$Label1", "$label1")
	if err != nil {
		t.Fatal(err)
	}
	if !f.Has(store.FlagSeen|store.FlagFlagged) || len(f.User) != 1 {
		t.Errorf("unexpected flags %v", f.Names())
	}

	if _, err := ParseFlags(`\Bogus`); !errors.Is(err, ErrInvalidFlag) {
		t.Errorf("expected ErrInvalidFlag for unknown system flag, got %v", err)
	}
	if _, err := ParseFlags("bad keyword"); !errors.Is(err, ErrInvalidFlag) {
		t.Errorf("expected ErrInvalidFlag for invalid keyword, got %v", err)
	}

	defer func() {
		if recover() == nil {
			t.Error("MustParseFlags should panic on invalid input")
		}
	}()
	MustParseFlags(`\Nope`)
}
