package store

import "context"

// Tx is a backend transaction.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TxBeginner is implemented by backends with begin/commit/rollback support.
// Backends without it are driven by a non-transactional mapper.
type TxBeginner interface {
	BeginTx(ctx context.Context) (Tx, error)
}

type txKey struct{}

// noTx marks a context as explicitly detached from any transaction.
type noTx struct{}

func (noTx) Commit(context.Context) error   { return nil }
func (noTx) Rollback(context.Context) error { return nil }

// ContextWithTx returns a context carrying tx. Store operations receiving
// this context run inside tx.
func ContextWithTx(ctx context.Context, tx Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFromContext returns the transaction carried by ctx, if any.
func TxFromContext(ctx context.Context) (Tx, bool) {
	tx, ok := ctx.Value(txKey{}).(Tx)
	if !ok || tx == nil {
		return nil, false
	}
	if _, detached := tx.(noTx); detached {
		return nil, false
	}
	return tx, true
}

// WithoutTx returns a context whose store operations run outside any
// transaction carried by ctx. Sequence allocation uses it so that allocated
// numbers are never rolled back.
func WithoutTx(ctx context.Context) context.Context {
	if _, ok := TxFromContext(ctx); !ok {
		return ctx
	}
	return context.WithValue(ctx, txKey{}, noTx{})
}
