package ntfs

import (
	"context"
	"time"
)

// Transaction carries the state shared by every mutation of one logical
// filesystem operation.
type Transaction struct {
	// Timestamp is stamped into change times of every file touched by the
	// operation so they agree.
	Timestamp time.Time
}

type transactionKey struct{}

// WithTransaction returns a context carrying tx.
func WithTransaction(ctx context.Context, tx Transaction) context.Context {
	return context.WithValue(ctx, transactionKey{}, tx)
}

// TransactionFromContext returns the transaction carried by ctx, if any.
func TransactionFromContext(ctx context.Context) (Transaction, bool) {
	tx, ok := ctx.Value(transactionKey{}).(Transaction)
	return tx, ok
}
