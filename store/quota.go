package store

// QuotaType is the kind of usage a counter tracks.
type QuotaType string

// Quota types.
const (
	QuotaCount QuotaType = "count"
	QuotaSize  QuotaType = "size"
)

// QuotaComponentMailbox is the component owning mailbox usage counters.
const QuotaComponentMailbox = "mailbox"

// QuotaKey identifies a running usage counter.
type QuotaKey struct {
	Component  string
	Identifier string
	Type       QuotaType
}

// String renders the key as component/identifier/type.
func (k QuotaKey) String() string {
	return k.Component + "/" + k.Identifier + "/" + string(k.Type)
}

// MailboxQuotaKeys returns the count and size keys for a quota root.
func MailboxQuotaKeys(identifier string) (count, size QuotaKey) {
	count = QuotaKey{Component: QuotaComponentMailbox, Identifier: identifier, Type: QuotaCount}
	size = QuotaKey{Component: QuotaComponentMailbox, Identifier: identifier, Type: QuotaSize}
	return count, size
}
