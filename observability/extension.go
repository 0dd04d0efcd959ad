// Package observability provides a metrics extension for paystream that
// records stream lifecycle counts through a MetricFactory.
package observability

import (
	"context"

	"github.com/xraph/paystream/plugin"
	"github.com/xraph/paystream/settlement"
	"github.com/xraph/paystream/stream"
	"github.com/xraph/paystream/types"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin             = (*MetricsExtension)(nil)
	_ plugin.OnInit             = (*MetricsExtension)(nil)
	_ plugin.OnStreamCreated    = (*MetricsExtension)(nil)
	_ plugin.OnStreamActivated  = (*MetricsExtension)(nil)
	_ plugin.OnStreamClaimed    = (*MetricsExtension)(nil)
	_ plugin.OnStreamPaused     = (*MetricsExtension)(nil)
	_ plugin.OnStreamResumed    = (*MetricsExtension)(nil)
	_ plugin.OnStreamCancelled  = (*MetricsExtension)(nil)
	_ plugin.OnStreamCompleted  = (*MetricsExtension)(nil)
	_ plugin.OnSettlementFailed = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide stream metrics.
// Register it as a paystream plugin to track lifecycle events.
type MetricsExtension struct {
	factory MetricFactory

	// Stream lifecycle metrics
	StreamCreated   Counter
	StreamActivated Counter
	StreamPaused    Counter
	StreamResumed   Counter
	StreamCancelled Counter
	StreamCompleted Counter
	StreamVolume    Histogram

	// Settlement metrics
	ClaimsSettled     Counter
	ClaimAmount       Histogram
	CancelRefundTotal Counter
	SettlementFailed  Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		StreamCreated:   factory.Counter("paystream.stream.created"),
		StreamActivated: factory.Counter("paystream.stream.activated"),
		StreamPaused:    factory.Counter("paystream.stream.paused"),
		StreamResumed:   factory.Counter("paystream.stream.resumed"),
		StreamCancelled: factory.Counter("paystream.stream.cancelled"),
		StreamCompleted: factory.Counter("paystream.stream.completed"),
		StreamVolume:    factory.Histogram("paystream.stream.total_amount"),

		ClaimsSettled:     factory.Counter("paystream.claim.settled"),
		ClaimAmount:       factory.Histogram("paystream.claim.amount"),
		CancelRefundTotal: factory.Counter("paystream.cancel.refunded_amount"),
		SettlementFailed:  factory.Counter("paystream.settlement.failed"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ any) error {
	return nil
}

// ──────────────────────────────────────────────────
// Stream lifecycle hooks
// ──────────────────────────────────────────────────

// OnStreamCreated implements plugin.OnStreamCreated.
func (m *MetricsExtension) OnStreamCreated(_ context.Context, s *stream.Stream) error {
	m.StreamCreated.Inc()
	m.StreamVolume.Observe(float64(s.TotalAmount.Amount))
	return nil
}

// OnStreamActivated implements plugin.OnStreamActivated.
func (m *MetricsExtension) OnStreamActivated(_ context.Context, _ *stream.Stream) error {
	m.StreamActivated.Inc()
	return nil
}

// OnStreamPaused implements plugin.OnStreamPaused.
func (m *MetricsExtension) OnStreamPaused(_ context.Context, _ *stream.Stream) error {
	m.StreamPaused.Inc()
	return nil
}

// OnStreamResumed implements plugin.OnStreamResumed.
func (m *MetricsExtension) OnStreamResumed(_ context.Context, _ *stream.Stream) error {
	m.StreamResumed.Inc()
	return nil
}

// OnStreamCancelled implements plugin.OnStreamCancelled.
func (m *MetricsExtension) OnStreamCancelled(_ context.Context, s *stream.Stream) error {
	m.StreamCancelled.Inc()
	m.CancelRefundTotal.Add(float64(s.RefundedAmount.Amount))
	return nil
}

// OnStreamCompleted implements plugin.OnStreamCompleted.
func (m *MetricsExtension) OnStreamCompleted(_ context.Context, _ *stream.Stream) error {
	m.StreamCompleted.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Settlement hooks
// ──────────────────────────────────────────────────

// OnStreamClaimed implements plugin.OnStreamClaimed.
func (m *MetricsExtension) OnStreamClaimed(_ context.Context, _ *stream.Stream, amount types.Money, _ string) error {
	m.ClaimsSettled.Inc()
	m.ClaimAmount.Observe(float64(amount.Amount))
	return nil
}

// OnSettlementFailed implements plugin.OnSettlementFailed.
func (m *MetricsExtension) OnSettlementFailed(_ context.Context, _ *stream.Stream, _ settlement.Kind, _ types.Money, _ error) error {
	m.SettlementFailed.Inc()
	return nil
}
