package paystream

import (
	"github.com/xraph/paystream/stream"
	"github.com/xraph/paystream/types"
)

// Re-export common types for convenience so users don't have to import the
// types and stream packages.

// Money is re-exported from types package.
type Money = types.Money

// Rate is re-exported from types package.
type Rate = types.Rate

// Stream is re-exported from stream package.
type Stream = stream.Stream

// State is re-exported from stream package.
type State = stream.State

// Re-export stream states
const (
	StatePending   = stream.StatePending
	StateActive    = stream.StateActive
	StatePaused    = stream.StatePaused
	StateCompleted = stream.StateCompleted
	StateCancelled = stream.StateCancelled
)

// Re-export Money constructors
var (
	USD  = types.USD
	EUR  = types.EUR
	JPY  = types.JPY
	Zero = types.Zero
)
