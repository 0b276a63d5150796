package mailstore

import (
	"fmt"
	"strings"

	"github.com/rbaliyan/mailstore/store"
)

// systemFlags maps lower-cased IMAP system flag names to their bits.
var systemFlags = map[string]store.SystemFlag{
	`\answered`: store.FlagAnswered,
	`\deleted`:  store.FlagDeleted,
	`\draft`:    store.FlagDraft,
	`\flagged`:  store.FlagFlagged,
	`\recent`:   store.FlagRecent,
	`\seen`:     store.FlagSeen,
}

// ParseFlags builds a flag set from IMAP flag names. System flags are matched
// case-insensitively; anything without a leading backslash is a keyword.
//
// Example:
//
//	flags, err := mailstore.ParseFlags(`\Seen`, `\Flagged`, "$Important")
func ParseFlags(names ...string) (store.Flags, error) {
	var f store.Flags
	for _, name := range names {
		if strings.HasPrefix(name, `\`) {
			bit, ok := systemFlags[strings.ToLower(name)]
			if !ok {
				return store.Flags{}, fmt.Errorf("%w: unknown system flag %q", ErrInvalidFlag, name)
			}
			f.System |= bit
			continue
		}
		if err := ValidateKeyword(name); err != nil {
			return store.Flags{}, err
		}
		f = f.Apply(store.FlagsAdd, store.NewFlags(0, name))
	}
	return f, nil
}

// MustParseFlags is like ParseFlags but panics on error.
// Intended for constants in tests and static configuration.
func MustParseFlags(names ...string) store.Flags {
	f, err := ParseFlags(names...)
	if err != nil {
		panic(err)
	}
	return f
}
