package stream

import (
	"maps"
	"time"

	"github.com/xraph/paystream/id"
	"github.com/xraph/paystream/types"
)

// State is the lifecycle state of a stream.
type State string

const (
	StatePending   State = "pending"
	StateActive    State = "active"
	StatePaused    State = "paused"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StatePending, StateActive, StatePaused, StateCompleted, StateCancelled:
		return true
	}
	return false
}

// Stream is a fixed amount released linearly from sender to recipient.
type Stream struct {
	types.Entity
	ID             id.StreamID `json:"id"`
	Sender         string      `json:"sender"`
	Recipient      string      `json:"recipient"`
	TotalAmount    types.Money `json:"total_amount"`
	ClaimedAmount  types.Money `json:"claimed_amount"`
	RefundedAmount types.Money `json:"refunded_amount"`
	RatePerSecond  types.Rate  `json:"rate_per_second"`

	Duration  time.Duration `json:"duration"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	State     State         `json:"state"`

	// AccumulatedElapsed is the active time banked at the last pause.
	AccumulatedElapsed time.Duration `json:"accumulated_elapsed"`
	// LastResumeAt is when the current active interval began.
	LastResumeAt time.Time `json:"last_resume_at"`

	LastTxRef    string            `json:"last_tx_ref,omitempty"`
	Cancellation *Cancellation     `json:"cancellation,omitempty"`
	EndedAt      *time.Time        `json:"ended_at,omitempty"`
	Version      int64             `json:"version"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// Cancellation freezes the split computed by the first cancel request. While
// it is attached to a non-terminal stream the stream is cancel-pending and
// only the unsettled legs may be retried.
type Cancellation struct {
	RequestedBy      string      `json:"requested_by"`
	RequestedAt      time.Time   `json:"requested_at"`
	RecipientAmount  types.Money `json:"recipient_amount"`
	RefundAmount     types.Money `json:"refund_amount"`
	RecipientSettled bool        `json:"recipient_settled"`
	RefundSettled    bool        `json:"refund_settled"`
	RecipientTxRef   string      `json:"recipient_tx_ref,omitempty"`
	RefundTxRef      string      `json:"refund_tx_ref,omitempty"`
}

// Settled reports whether both legs have been paid out.
func (c *Cancellation) Settled() bool {
	return c.RecipientSettled && c.RefundSettled
}

// CancelPending reports whether a cancellation is frozen but unsettled.
func (s *Stream) CancelPending() bool {
	return s.Cancellation != nil && !s.State.IsTerminal()
}

// Due reports whether a pending stream has reached its start time. A stream
// with a cancellation on file is never due.
func (s *Stream) Due(now time.Time) bool {
	return s.State == StatePending && s.Cancellation == nil && !now.Before(s.StartTime)
}

// EffectiveState is the state as observed at now. A pending stream whose
// start time has passed reads as active.
func (s *Stream) EffectiveState(now time.Time) State {
	if s.Due(now) {
		return StateActive
	}
	return s.State
}

// Promote moves a due pending stream to active from its start time.
func (s *Stream) Promote() {
	s.State = StateActive
	s.LastResumeAt = s.StartTime
}

// Elapsed returns the active time accrued at now, clamped to [0, Duration].
func (s *Stream) Elapsed(now time.Time) time.Duration {
	var e time.Duration
	switch s.State {
	case StateActive:
		e = s.AccumulatedElapsed + now.Sub(s.LastResumeAt)
	case StatePending:
		if s.Due(now) {
			e = now.Sub(s.StartTime)
		}
	default:
		e = s.AccumulatedElapsed
	}
	return min(max(e, 0), s.Duration)
}

// Accrued returns the amount released at now, never more than the total.
// Once the full duration has elapsed the total is released exactly.
func (s *Stream) Accrued(now time.Time) types.Money {
	e := s.Elapsed(now)
	if e >= s.Duration {
		return s.TotalAmount
	}
	return s.TotalAmount.WithAmount(s.RatePerSecond.Accrue(e)).Min(s.TotalAmount)
}

// Claimable returns what the recipient may withdraw at now.
func (s *Stream) Claimable(now time.Time) types.Money {
	if s.State.IsTerminal() || s.CancelPending() {
		return types.Zero(s.TotalAmount.Currency)
	}
	if s.State == StatePending && !s.Due(now) {
		return types.Zero(s.TotalAmount.Currency)
	}
	return s.Accrued(now).Subtract(s.ClaimedAmount).ClampZero()
}

// Remaining is the part of the total not yet paid to the recipient.
func (s *Stream) Remaining() types.Money {
	return s.TotalAmount.Subtract(s.ClaimedAmount)
}

// FullyClaimed reports whether the recipient has received the total.
func (s *Stream) FullyClaimed() bool {
	return !s.ClaimedAmount.LessThan(s.TotalAmount)
}

// Clone returns a deep copy so callers never share mutable state with a store.
func (s *Stream) Clone() *Stream {
	if s == nil {
		return nil
	}
	c := *s
	c.Metadata = maps.Clone(s.Metadata)
	if s.Cancellation != nil {
		cc := *s.Cancellation
		c.Cancellation = &cc
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		c.EndedAt = &t
	}
	return &c
}

// Stats aggregates the registry.
type Stats struct {
	TotalCreated   int64                  `json:"total_created"`
	PendingCount   int64                  `json:"pending_count"`
	ActiveCount    int64                  `json:"active_count"`
	PausedCount    int64                  `json:"paused_count"`
	CompletedCount int64                  `json:"completed_count"`
	CancelledCount int64                  `json:"cancelled_count"`
	TotalVolume    map[string]types.Money `json:"total_volume"`
	TotalClaimed   map[string]types.Money `json:"total_claimed"`
}

// NewStats returns empty statistics.
func NewStats() *Stats {
	return &Stats{
		TotalVolume:  make(map[string]types.Money),
		TotalClaimed: make(map[string]types.Money),
	}
}

// AddGroup folds count streams in state with the given totals into the stats.
// Backends that aggregate in the database call it once per (state, currency)
// row; the memory store calls it once per stream.
func (st *Stats) AddGroup(state State, currency string, count, volume, claimed int64) {
	st.TotalCreated += count
	switch state {
	case StatePending:
		st.PendingCount += count
	case StateActive:
		st.ActiveCount += count
	case StatePaused:
		st.PausedCount += count
	case StateCompleted:
		st.CompletedCount += count
	case StateCancelled:
		st.CancelledCount += count
	}
	v := types.New(volume, currency)
	st.TotalVolume[v.Currency] = v.WithAmount(st.TotalVolume[v.Currency].Amount + volume)
	st.TotalClaimed[v.Currency] = v.WithAmount(st.TotalClaimed[v.Currency].Amount + claimed)
}
