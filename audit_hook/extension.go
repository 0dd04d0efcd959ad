// Package audithook bridges stream lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not import an
// audit backend directly. Callers inject a RecorderFunc adapter at wiring
// time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/paystream/plugin"
	"github.com/xraph/paystream/settlement"
	"github.com/xraph/paystream/stream"
	"github.com/xraph/paystream/types"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin             = (*Extension)(nil)
	_ plugin.OnStreamCreated    = (*Extension)(nil)
	_ plugin.OnStreamActivated  = (*Extension)(nil)
	_ plugin.OnStreamClaimed    = (*Extension)(nil)
	_ plugin.OnStreamPaused     = (*Extension)(nil)
	_ plugin.OnStreamResumed    = (*Extension)(nil)
	_ plugin.OnStreamCancelled  = (*Extension)(nil)
	_ plugin.OnStreamCompleted  = (*Extension)(nil)
	_ plugin.OnSettlementFailed = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges stream lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Stream lifecycle hooks
// ──────────────────────────────────────────────────

// OnStreamCreated implements plugin.OnStreamCreated.
func (e *Extension) OnStreamCreated(ctx context.Context, s *stream.Stream) error {
	return e.record(ctx, ActionStreamCreated, SeverityInfo, OutcomeSuccess,
		ResourceStream, s.ID.String(), CategoryStream, nil,
		"sender", s.Sender,
		"recipient", s.Recipient,
		"amount", s.TotalAmount.String(),
		"duration", s.Duration.String(),
		"state", string(s.State),
	)
}

// OnStreamActivated implements plugin.OnStreamActivated.
func (e *Extension) OnStreamActivated(ctx context.Context, s *stream.Stream) error {
	return e.record(ctx, ActionStreamActivated, SeverityInfo, OutcomeSuccess,
		ResourceStream, s.ID.String(), CategoryStream, nil,
		"start_time", s.StartTime,
	)
}

// OnStreamPaused implements plugin.OnStreamPaused.
func (e *Extension) OnStreamPaused(ctx context.Context, s *stream.Stream) error {
	return e.record(ctx, ActionStreamPaused, SeverityInfo, OutcomeSuccess,
		ResourceStream, s.ID.String(), CategoryStream, nil,
		"elapsed", s.AccumulatedElapsed.String(),
	)
}

// OnStreamResumed implements plugin.OnStreamResumed.
func (e *Extension) OnStreamResumed(ctx context.Context, s *stream.Stream) error {
	return e.record(ctx, ActionStreamResumed, SeverityInfo, OutcomeSuccess,
		ResourceStream, s.ID.String(), CategoryStream, nil,
		"elapsed", s.AccumulatedElapsed.String(),
	)
}

// OnStreamCancelled implements plugin.OnStreamCancelled.
func (e *Extension) OnStreamCancelled(ctx context.Context, s *stream.Stream) error {
	kv := []any{"claimed", s.ClaimedAmount.String(), "refunded", s.RefundedAmount.String()}
	if c := s.Cancellation; c != nil {
		kv = append(kv, "requested_by", c.RequestedBy)
	}
	return e.record(ctx, ActionStreamCancelled, SeverityWarning, OutcomeSuccess,
		ResourceStream, s.ID.String(), CategoryStream, nil, kv...)
}

// OnStreamCompleted implements plugin.OnStreamCompleted.
func (e *Extension) OnStreamCompleted(ctx context.Context, s *stream.Stream) error {
	return e.record(ctx, ActionStreamCompleted, SeverityInfo, OutcomeSuccess,
		ResourceStream, s.ID.String(), CategoryStream, nil,
		"total", s.TotalAmount.String(),
	)
}

// ──────────────────────────────────────────────────
// Settlement hooks
// ──────────────────────────────────────────────────

// OnStreamClaimed implements plugin.OnStreamClaimed.
func (e *Extension) OnStreamClaimed(ctx context.Context, s *stream.Stream, amount types.Money, txRef string) error {
	return e.record(ctx, ActionStreamClaimed, SeverityInfo, OutcomeSuccess,
		ResourceTransfer, s.ID.String(), CategoryPayment, nil,
		"recipient", s.Recipient,
		"amount", amount.String(),
		"total_claimed", s.ClaimedAmount.String(),
		"tx_ref", txRef,
	)
}

// OnSettlementFailed implements plugin.OnSettlementFailed.
func (e *Extension) OnSettlementFailed(ctx context.Context, s *stream.Stream, leg settlement.Kind, amount types.Money, err error) error {
	return e.record(ctx, ActionSettlementFailed, SeverityCritical, OutcomeFailure,
		ResourceTransfer, s.ID.String(), CategoryPayment, err,
		"leg", string(leg),
		"amount", amount.String(),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
