package firestore

import (
	"context"

	"cloud.google.com/go/firestore"
)

type txContextKey struct{}

// ContextWithTx stores the running transaction on the context so repositories
// can route reads and writes through it.
func ContextWithTx(ctx context.Context, tx *firestore.Transaction) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, txContextKey{}, tx)
}

// TxFromContext retrieves the transaction previously stored by ContextWithTx.
func TxFromContext(ctx context.Context) (*firestore.Transaction, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(txContextKey{}).(*firestore.Transaction)
	return tx, ok && tx != nil
}

// RunInTx implements repositories.UnitOfWork. The callback context carries the
// transaction; nested calls reuse the already running transaction instead of
// opening a new one.
func (p *Provider) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return nil
	}
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}
	return p.RunTransaction(ctx, func(txCtx context.Context, tx *firestore.Transaction) error {
		return fn(ContextWithTx(txCtx, tx))
	})
}
