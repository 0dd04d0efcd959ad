// Package plugin provides an extensible plugin system for paystream.
// Plugins implement any subset of the hook interfaces below; the registry
// discovers them at registration time.
package plugin

import (
	"context"

	"github.com/xraph/paystream/settlement"
	"github.com/xraph/paystream/stream"
	"github.com/xraph/paystream/types"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the ledger starts. l is the *paystream.Ledger.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, l any) error
}

// OnShutdown is called when the ledger stops.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Stream lifecycle hooks
// ──────────────────────────────────────────────────

// OnStreamCreated is called after a stream is persisted.
type OnStreamCreated interface {
	Plugin
	OnStreamCreated(ctx context.Context, s *stream.Stream) error
}

// OnStreamActivated is called when a pending stream becomes active.
type OnStreamActivated interface {
	Plugin
	OnStreamActivated(ctx context.Context, s *stream.Stream) error
}

// OnStreamClaimed is called after a claim has settled.
type OnStreamClaimed interface {
	Plugin
	OnStreamClaimed(ctx context.Context, s *stream.Stream, amount types.Money, txRef string) error
}

// OnStreamPaused is called after accrual is paused.
type OnStreamPaused interface {
	Plugin
	OnStreamPaused(ctx context.Context, s *stream.Stream) error
}

// OnStreamResumed is called after accrual resumes.
type OnStreamResumed interface {
	Plugin
	OnStreamResumed(ctx context.Context, s *stream.Stream) error
}

// OnStreamCancelled is called once both cancellation legs have settled.
type OnStreamCancelled interface {
	Plugin
	OnStreamCancelled(ctx context.Context, s *stream.Stream) error
}

// OnStreamCompleted is called when the recipient has received the total.
type OnStreamCompleted interface {
	Plugin
	OnStreamCompleted(ctx context.Context, s *stream.Stream) error
}

// ──────────────────────────────────────────────────
// Settlement hooks
// ──────────────────────────────────────────────────

// OnSettlementFailed is called when the dispatcher rejects a transfer.
type OnSettlementFailed interface {
	Plugin
	OnSettlementFailed(ctx context.Context, s *stream.Stream, leg settlement.Kind, amount types.Money, err error) error
}
