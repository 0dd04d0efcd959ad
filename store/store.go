// Package store defines the persistence contract for paystream. Backends
// live in the memory, postgres, sqlite and mongo subpackages.
package store

import (
	"context"

	"github.com/xraph/paystream/settlement"
	"github.com/xraph/paystream/stream"
)

// Store is the unified storage interface for all paystream entities.
type Store interface {
	stream.Store
	settlement.Store

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
