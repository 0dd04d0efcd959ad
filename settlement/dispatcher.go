// Package settlement is the boundary between the stream ledger and whatever
// actually moves funds.
//
// The ledger approves an amount and hands it to a Dispatcher. Each call is a
// single attempt; retries are driven by the caller re-invoking the ledger
// operation. Every attempt is recorded as a Transfer so the ledger can be
// reconciled against what was actually paid out.
package settlement

import (
	"context"

	"github.com/xraph/paystream/types"
)

// Dispatcher submits one transfer and returns its external reference.
type Dispatcher interface {
	Transfer(ctx context.Context, from, to string, amount types.Money) (txRef string, err error)
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, from, to string, amount types.Money) (string, error)

// Transfer implements Dispatcher.
func (f DispatcherFunc) Transfer(ctx context.Context, from, to string, amount types.Money) (string, error) {
	return f(ctx, from, to, amount)
}
