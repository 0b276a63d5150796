package memory

import (
	"slices"
	"strings"

	"github.com/rbaliyan/mailstore/store"
)

func sortEntriesByPath(entries []*mailboxEntry) {
	slices.SortFunc(entries, func(a, b *mailboxEntry) int {
		return strings.Compare(a.mailbox.Path.String(), b.mailbox.Path.String())
	})
}

// sortedUIDs returns the UIDs of messages accepted by keep, ascending.
func sortedUIDs(messages map[store.UID]*store.Message, keep func(*store.Message) bool) []store.UID {
	uids := make([]store.UID, 0, len(messages))
	for uid, m := range messages {
		if keep(m) {
			uids = append(uids, uid)
		}
	}
	slices.Sort(uids)
	return uids
}
