package paystream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/xraph/paystream/id"
	"github.com/xraph/paystream/settlement"
	"github.com/xraph/paystream/stream"
	"github.com/xraph/paystream/types"
)

// CreateParams describes a new stream.
type CreateParams struct {
	Sender    string
	Recipient string
	Amount    types.Money
	Duration  time.Duration
	// StartAt defers accrual; nil starts the stream immediately.
	StartAt  *time.Time
	Metadata map[string]string
}

// ClaimResult is the outcome of a settled claim.
type ClaimResult struct {
	StreamID     id.StreamID  `json:"stream_id"`
	Amount       types.Money  `json:"amount"`
	TxRef        string       `json:"tx_ref"`
	TotalClaimed types.Money  `json:"total_claimed"`
	Remaining    types.Money  `json:"remaining"`
	State        stream.State `json:"state"`
	ClaimedAt    time.Time    `json:"claimed_at"`
}

// CancelResult reports the split of a cancelled stream. When the stream is
// still cancel-pending Settled is false and the unsettled legs can be
// retried by cancelling again.
type CancelResult struct {
	StreamID         id.StreamID  `json:"stream_id"`
	RecipientAmount  types.Money  `json:"recipient_amount"`
	RefundAmount     types.Money  `json:"refund_amount"`
	RecipientTxRef   string       `json:"recipient_tx_ref,omitempty"`
	RefundTxRef      string       `json:"refund_tx_ref,omitempty"`
	RecipientSettled bool         `json:"recipient_settled"`
	RefundSettled    bool         `json:"refund_settled"`
	Settled          bool         `json:"settled"`
	State            stream.State `json:"state"`
}

// ClaimableInfo is a read-only projection of a stream at a point in time.
type ClaimableInfo struct {
	StreamID     id.StreamID  `json:"stream_id"`
	Claimable    types.Money  `json:"claimable"`
	TotalClaimed types.Money  `json:"total_claimed"`
	Remaining    types.Money  `json:"remaining"`
	Progress     float64      `json:"progress"`
	State        stream.State `json:"state"`
	AsOf         time.Time    `json:"as_of"`
}

// ──────────────────────────────────────────────────
// Stream lifecycle
// ──────────────────────────────────────────────────

// CreateStream validates p and persists a new stream. The stream is pending
// when StartAt lies in the future and active otherwise.
func (l *Ledger) CreateStream(ctx context.Context, p CreateParams) (*stream.Stream, error) {
	sender := strings.TrimSpace(p.Sender)
	recipient := strings.TrimSpace(p.Recipient)
	amount := types.New(p.Amount.Amount, p.Amount.Currency)

	switch {
	case sender == "":
		return nil, ValidationError{Field: "sender", Message: "required"}
	case recipient == "":
		return nil, ValidationError{Field: "recipient", Message: "required"}
	case sender == recipient:
		return nil, ValidationError{Field: "recipient", Message: "must differ from sender"}
	case amount.Currency == "":
		return nil, ValidationError{Field: "amount", Message: "currency required"}
	case amount.Amount <= 0:
		return nil, ValidationError{Field: "amount", Message: "must be positive"}
	case p.Duration <= 0:
		return nil, ValidationError{Field: "duration", Message: "must be positive"}
	}

	rate, err := types.NewRate(amount, p.Duration)
	if err != nil {
		return nil, ValidationError{Field: "amount", Message: err.Error()}
	}

	now := l.clock.Now()
	start := now
	if p.StartAt != nil {
		start = p.StartAt.UTC()
	}

	s := &stream.Stream{
		Entity:         types.NewEntity(now),
		ID:             id.NewStreamID(),
		Sender:         sender,
		Recipient:      recipient,
		TotalAmount:    amount,
		ClaimedAmount:  types.Zero(amount.Currency),
		RefundedAmount: types.Zero(amount.Currency),
		RatePerSecond:  rate,
		Duration:       p.Duration,
		StartTime:      start,
		EndTime:        start.Add(p.Duration),
		State:          stream.StatePending,
		Metadata:       p.Metadata,
	}
	if !start.After(now) {
		s.State = stream.StateActive
		s.LastResumeAt = start
	}

	if err := l.store.CreateStream(ctx, s); err != nil {
		return nil, err
	}

	l.logger.Info("stream created",
		"stream_id", s.ID.String(),
		"sender", s.Sender,
		"recipient", s.Recipient,
		"amount", s.TotalAmount.String(),
		"duration", s.Duration,
		"state", s.State,
	)
	l.plugins.EmitStreamCreated(ctx, s)
	return s, nil
}

// Activate moves a pending stream to active now, ahead of its start time.
func (l *Ledger) Activate(ctx context.Context, streamID id.StreamID) (*stream.Stream, error) {
	unlock, err := l.locks.Lock(ctx, streamID.String())
	if err != nil {
		return nil, err
	}
	defer unlock()

	s, err := l.store.GetStream(ctx, streamID)
	if err != nil {
		return nil, err
	}
	if s.State != stream.StatePending {
		return nil, stateError("activate", s)
	}

	now := l.clock.Now()
	if s.Due(now) {
		s.Promote()
	} else {
		s.State = stream.StateActive
		s.LastResumeAt = now
	}
	s.Touch(now)
	if err := l.store.UpdateStream(ctx, s); err != nil {
		return nil, err
	}

	l.logger.Debug("stream activated", "stream_id", s.ID.String())
	l.plugins.EmitStreamActivated(ctx, s)
	return s, nil
}

// activateDue persists the lazy pending -> active transition for one stream.
func (l *Ledger) activateDue(ctx context.Context, streamID id.StreamID) (bool, error) {
	unlock, err := l.locks.Lock(ctx, streamID.String())
	if err != nil {
		return false, err
	}
	defer unlock()

	s, err := l.store.GetStream(ctx, streamID)
	if err != nil {
		return false, err
	}
	return l.promoteIfDue(ctx, s, l.clock.Now())
}

// promoteIfDue persists activation of a due pending stream. Callers hold the
// stream lock.
func (l *Ledger) promoteIfDue(ctx context.Context, s *stream.Stream, now time.Time) (bool, error) {
	if !s.Due(now) {
		return false, nil
	}
	s.Promote()
	s.Touch(now)
	if err := l.store.UpdateStream(ctx, s); err != nil {
		return false, err
	}
	l.plugins.EmitStreamActivated(ctx, s)
	return true, nil
}

// loadForUpdate locks streamID and returns its current record. A due pending
// stream comes back promoted in memory only, with activated set; the caller's
// first write persists it through commit. The caller must call unlock.
func (l *Ledger) loadForUpdate(ctx context.Context, streamID id.StreamID) (s *stream.Stream, now time.Time, activated bool, unlock func(), err error) {
	unlock, err = l.locks.Lock(ctx, streamID.String())
	if err != nil {
		return nil, time.Time{}, false, nil, err
	}

	s, err = l.store.GetStream(ctx, streamID)
	if err != nil {
		unlock()
		return nil, time.Time{}, false, nil, err
	}

	now = l.clock.Now()
	if s.Due(now) {
		s.Promote()
		activated = true
	}
	return s, now, activated, unlock, nil
}

// commit writes s and reports an activation that rode along with the write.
func (l *Ledger) commit(ctx context.Context, s *stream.Stream, activated bool) error {
	if err := l.store.UpdateStream(ctx, s); err != nil {
		return err
	}
	if activated {
		l.plugins.EmitStreamActivated(ctx, s)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Claims
// ──────────────────────────────────────────────────

// Claim pays the recipient everything accrued and unclaimed. The increment
// is persisted before the dispatcher is called and rolled back only if the
// dispatcher reports failure.
func (l *Ledger) Claim(ctx context.Context, streamID id.StreamID, requester string) (*ClaimResult, error) {
	s, now, activated, unlock, err := l.loadForUpdate(ctx, streamID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if s.CancelPending() || s.State.IsTerminal() {
		return nil, stateError("claim", s)
	}
	if requester != s.Recipient {
		return nil, fmt.Errorf("%w: only the recipient may claim", ErrUnauthorized)
	}
	amount := s.Claimable(now)
	if !amount.IsPositive() {
		return nil, ErrNothingToClaim
	}
	if l.dispatcher == nil {
		return nil, ErrDispatcherNotConfigured
	}

	before := s.Clone()
	s.ClaimedAmount = s.ClaimedAmount.Add(amount)
	s.Touch(now)
	if err := l.commit(ctx, s, activated); err != nil {
		return nil, err
	}

	// The increment is committed; from here on the caller giving up must not
	// leave it half-applied.
	sctx := context.WithoutCancel(ctx)

	txRef, serr := l.settle(sctx, s, settlement.KindClaim, l.source(s), s.Recipient, amount)
	if serr != nil {
		before.Version = s.Version
		before.Touch(now)
		if err := l.store.UpdateStream(sctx, before); err != nil {
			l.logger.Error("claim rollback failed",
				"stream_id", s.ID.String(),
				"amount", amount.String(),
				"error", err,
			)
			return nil, errors.Join(serr, err)
		}
		return nil, serr
	}

	s.LastTxRef = txRef
	// A paused stream stays paused until resumed, even when fully claimed.
	completed := s.FullyClaimed() && s.State == stream.StateActive
	if completed {
		s.State = stream.StateCompleted
		s.EndedAt = &now
	}
	if err := l.store.UpdateStream(sctx, s); err != nil {
		l.logger.Error("record claim settlement failed",
			"stream_id", s.ID.String(),
			"tx_ref", txRef,
			"error", err,
		)
		return nil, fmt.Errorf("paystream: record settled claim %s: %w", txRef, err)
	}

	l.logger.Info("stream claimed",
		"stream_id", s.ID.String(),
		"amount", amount.String(),
		"total_claimed", s.ClaimedAmount.String(),
		"tx_ref", txRef,
	)
	l.plugins.EmitStreamClaimed(sctx, s, amount, txRef)
	if completed {
		l.plugins.EmitStreamCompleted(sctx, s)
	}

	return &ClaimResult{
		StreamID:     s.ID,
		Amount:       amount,
		TxRef:        txRef,
		TotalClaimed: s.ClaimedAmount,
		Remaining:    s.Remaining(),
		State:        s.State,
		ClaimedAt:    now,
	}, nil
}

// ──────────────────────────────────────────────────
// Pause / resume
// ──────────────────────────────────────────────────

// Pause freezes accrual. Only the sender may pause an active stream.
func (l *Ledger) Pause(ctx context.Context, streamID id.StreamID, requester string) (*stream.Stream, error) {
	s, now, activated, unlock, err := l.loadForUpdate(ctx, streamID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if s.State != stream.StateActive || s.CancelPending() {
		return nil, stateError("pause", s)
	}
	if requester != s.Sender {
		return nil, fmt.Errorf("%w: only the sender may pause", ErrUnauthorized)
	}

	s.AccumulatedElapsed = s.Elapsed(now)
	s.State = stream.StatePaused
	s.Touch(now)
	if err := l.commit(ctx, s, activated); err != nil {
		return nil, err
	}

	l.logger.Info("stream paused",
		"stream_id", s.ID.String(),
		"elapsed", s.AccumulatedElapsed,
	)
	l.plugins.EmitStreamPaused(ctx, s)
	return s, nil
}

// Resume restarts accrual from now. Only the sender may resume.
func (l *Ledger) Resume(ctx context.Context, streamID id.StreamID, requester string) (*stream.Stream, error) {
	s, now, activated, unlock, err := l.loadForUpdate(ctx, streamID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if s.State != stream.StatePaused || s.CancelPending() {
		return nil, stateError("resume", s)
	}
	if requester != s.Sender {
		return nil, fmt.Errorf("%w: only the sender may resume", ErrUnauthorized)
	}

	s.LastResumeAt = now
	s.State = stream.StateActive
	completed := s.FullyClaimed()
	if completed {
		s.State = stream.StateCompleted
		s.EndedAt = &now
	}
	s.Touch(now)
	if err := l.commit(ctx, s, activated); err != nil {
		return nil, err
	}

	l.logger.Info("stream resumed", "stream_id", s.ID.String(), "completed", completed)
	l.plugins.EmitStreamResumed(ctx, s)
	if completed {
		l.plugins.EmitStreamCompleted(ctx, s)
	}
	return s, nil
}

// ──────────────────────────────────────────────────
// Cancellation
// ──────────────────────────────────────────────────

// Cancel ends a stream early. The first call freezes the split between
// recipient and sender; each call dispatches the legs not yet settled. The
// stream becomes cancelled once both legs have settled. A partial failure
// returns the result together with an error matching ErrCancelPending.
func (l *Ledger) Cancel(ctx context.Context, streamID id.StreamID, requester string) (*CancelResult, error) {
	s, now, activated, unlock, err := l.loadForUpdate(ctx, streamID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if s.State.IsTerminal() {
		return nil, stateError("cancel", s)
	}
	if requester != s.Sender && requester != s.Recipient {
		return nil, fmt.Errorf("%w: only the sender or recipient may cancel", ErrUnauthorized)
	}

	if s.Cancellation == nil {
		recipientAmount := s.Claimable(now)
		refund := s.TotalAmount.Subtract(s.ClaimedAmount).Subtract(recipientAmount)
		if l.dispatcher == nil && (recipientAmount.IsPositive() || refund.IsPositive()) {
			return nil, ErrDispatcherNotConfigured
		}

		s.AccumulatedElapsed = s.Elapsed(now)
		s.Cancellation = &stream.Cancellation{
			RequestedBy:      requester,
			RequestedAt:      now,
			RecipientAmount:  recipientAmount,
			RefundAmount:     refund,
			RecipientSettled: recipientAmount.IsZero(),
			RefundSettled:    refund.IsZero(),
		}
		s.Touch(now)
		if err := l.commit(ctx, s, activated); err != nil {
			return nil, err
		}
		l.logger.Info("stream cancellation requested",
			"stream_id", s.ID.String(),
			"requested_by", requester,
			"recipient_amount", recipientAmount.String(),
			"refund_amount", refund.String(),
		)
	} else if l.dispatcher == nil && !s.Cancellation.Settled() {
		return nil, ErrDispatcherNotConfigured
	}

	sctx := context.WithoutCancel(ctx)
	c := s.Cancellation
	var failures MultiError

	if !c.RecipientSettled {
		ref, err := l.settle(sctx, s, settlement.KindCancelRecipient, l.source(s), s.Recipient, c.RecipientAmount)
		if err != nil {
			failures.Add(err)
		} else {
			c.RecipientSettled = true
			c.RecipientTxRef = ref
			s.ClaimedAmount = s.ClaimedAmount.Add(c.RecipientAmount)
			s.LastTxRef = ref
		}
	}
	if !c.RefundSettled {
		ref, err := l.settle(sctx, s, settlement.KindCancelRefund, l.source(s), s.Sender, c.RefundAmount)
		if err != nil {
			failures.Add(err)
		} else {
			c.RefundSettled = true
			c.RefundTxRef = ref
			s.LastTxRef = ref
		}
	}
	if c.RefundSettled {
		s.RefundedAmount = c.RefundAmount
	}

	if c.Settled() {
		s.State = stream.StateCancelled
		s.EndedAt = &now
	}
	s.Touch(now)
	if err := l.store.UpdateStream(sctx, s); err != nil {
		l.logger.Error("record cancellation failed",
			"stream_id", s.ID.String(),
			"error", err,
		)
		return nil, errors.Join(err, failures.First())
	}

	result := &CancelResult{
		StreamID:         s.ID,
		RecipientAmount:  c.RecipientAmount,
		RefundAmount:     c.RefundAmount,
		RecipientTxRef:   c.RecipientTxRef,
		RefundTxRef:      c.RefundTxRef,
		RecipientSettled: c.RecipientSettled,
		RefundSettled:    c.RefundSettled,
		Settled:          c.Settled(),
		State:            s.State,
	}

	if failures.HasErrors() {
		l.logger.Warn("stream cancellation pending",
			"stream_id", s.ID.String(),
			"failures", len(failures.Errors),
		)
		return result, fmt.Errorf("%w: %w", ErrCancelPending, failures)
	}

	l.logger.Info("stream cancelled",
		"stream_id", s.ID.String(),
		"recipient_amount", c.RecipientAmount.String(),
		"refund_amount", c.RefundAmount.String(),
	)
	l.plugins.EmitStreamCancelled(sctx, s)
	return result, nil
}

// ──────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────

// ClaimableInfo projects the stream at the current instant without mutating
// it.
func (l *Ledger) ClaimableInfo(ctx context.Context, streamID id.StreamID) (*ClaimableInfo, error) {
	s, err := l.store.GetStream(ctx, streamID)
	if err != nil {
		return nil, err
	}

	now := l.clock.Now()
	return &ClaimableInfo{
		StreamID:     s.ID,
		Claimable:    s.Claimable(now),
		TotalClaimed: s.ClaimedAmount,
		Remaining:    s.Remaining(),
		Progress:     s.ClaimedAmount.Ratio(s.TotalAmount),
		State:        s.EffectiveState(now),
		AsOf:         now,
	}, nil
}

// GetStream retrieves a stream by ID.
func (l *Ledger) GetStream(ctx context.Context, streamID id.StreamID) (*stream.Stream, error) {
	return l.store.GetStream(ctx, streamID)
}

// ListStreams lists streams filtered by opts.
func (l *Ledger) ListStreams(ctx context.Context, opts stream.ListOpts) ([]*stream.Stream, error) {
	return l.store.ListStreams(ctx, opts)
}

// ListBySender lists the streams a sender funds.
func (l *Ledger) ListBySender(ctx context.Context, sender string, opts stream.ListOpts) ([]*stream.Stream, error) {
	return l.store.ListBySender(ctx, sender, opts)
}

// ListByRecipient lists the streams paying a recipient.
func (l *Ledger) ListByRecipient(ctx context.Context, recipient string, opts stream.ListOpts) ([]*stream.Stream, error) {
	return l.store.ListByRecipient(ctx, recipient, opts)
}

// Stats aggregates the registry.
func (l *Ledger) Stats(ctx context.Context) (*stream.Stats, error) {
	return l.store.StreamStats(ctx)
}

// ListTransfers returns every dispatcher attempt made for a stream.
func (l *Ledger) ListTransfers(ctx context.Context, streamID id.StreamID) ([]*settlement.Transfer, error) {
	return l.store.ListTransfers(ctx, streamID)
}

// Reconcile compares a stream's books with its recorded transfers.
func (l *Ledger) Reconcile(ctx context.Context, streamID id.StreamID) (*settlement.Report, error) {
	s, err := l.store.GetStream(ctx, streamID)
	if err != nil {
		return nil, err
	}
	transfers, err := l.store.ListTransfers(ctx, streamID)
	if err != nil {
		return nil, err
	}

	report := settlement.Reconcile(s, transfers)
	if !report.Balanced() {
		l.logger.Warn("stream out of balance",
			"stream_id", s.ID.String(),
			"discrepancies", report.Discrepancies,
		)
	}
	return report, nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

// settle performs one dispatcher attempt and records it.
func (l *Ledger) settle(ctx context.Context, s *stream.Stream, leg settlement.Kind, from, to string, amount types.Money) (string, error) {
	txRef, err := l.dispatcher.Transfer(ctx, from, to, amount)

	rec := &settlement.Transfer{
		ID:        id.NewTransferID(),
		StreamID:  s.ID,
		Kind:      leg,
		From:      from,
		To:        to,
		Amount:    amount,
		Status:    settlement.StatusSucceeded,
		TxRef:     txRef,
		CreatedAt: l.clock.Now(),
	}
	if err != nil {
		rec.Status = settlement.StatusFailed
		rec.TxRef = ""
		rec.Error = err.Error()
	}
	if rerr := l.store.RecordTransfer(ctx, rec); rerr != nil {
		l.logger.Warn("record transfer failed",
			"stream_id", s.ID.String(),
			"leg", leg,
			"error", rerr,
		)
	}

	if err != nil {
		l.logger.Error("settlement failed",
			"stream_id", s.ID.String(),
			"leg", leg,
			"amount", amount.String(),
			"error", err,
		)
		l.plugins.EmitSettlementFailed(ctx, s, leg, amount, err)
		return "", &SettlementError{Leg: leg, From: from, To: to, Amount: amount, Err: err}
	}
	return txRef, nil
}

// source is the account funds are paid out of.
func (l *Ledger) source(s *stream.Stream) string {
	if l.escrowAccount != "" {
		return l.escrowAccount
	}
	return s.Sender
}

func stateError(op string, s *stream.Stream) error {
	state := string(s.State)
	if s.CancelPending() {
		state = "cancel-pending"
	}
	return fmt.Errorf("%w: cannot %s a %s stream", ErrInvalidState, op, state)
}
