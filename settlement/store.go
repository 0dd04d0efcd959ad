package settlement

import (
	"context"

	"github.com/xraph/paystream/id"
)

// Store persists transfer attempts. Records are append-only.
type Store interface {
	RecordTransfer(ctx context.Context, t *Transfer) error
	// ListTransfers returns the attempts for a stream, oldest first.
	ListTransfers(ctx context.Context, streamID id.StreamID) ([]*Transfer, error)
}
