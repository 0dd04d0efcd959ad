package paystream_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/paystream"
	"github.com/xraph/paystream/clock"
	"github.com/xraph/paystream/id"
	"github.com/xraph/paystream/settlement"
	"github.com/xraph/paystream/store/memory"
	"github.com/xraph/paystream/stream"
	"github.com/xraph/paystream/types"
)

var epoch = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type dispatchCall struct {
	From, To string
	Amount   types.Money
}

// fakeDispatcher records every transfer and fails those matched by fail.
type fakeDispatcher struct {
	mu    sync.Mutex
	calls []dispatchCall
	fail  func(from, to string, amount types.Money) error
	hook  func()
	seq   int
}

func (f *fakeDispatcher) Transfer(_ context.Context, from, to string, amount types.Money) (string, error) {
	if f.hook != nil {
		f.hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, dispatchCall{From: from, To: to, Amount: amount})
	if f.fail != nil {
		if err := f.fail(from, to, amount); err != nil {
			return "", err
		}
	}
	f.seq++
	return fmt.Sprintf("tx-%d", f.seq), nil
}

func (f *fakeDispatcher) setFail(fn func(from, to string, amount types.Money) error) {
	f.mu.Lock()
	f.fail = fn
	f.mu.Unlock()
}

func (f *fakeDispatcher) Calls() []dispatchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dispatchCall(nil), f.calls...)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestLedger(t *testing.T, opts ...paystream.Option) (*paystream.Ledger, *clock.Manual, *fakeDispatcher) {
	t.Helper()
	clk := clock.NewManual(epoch)
	disp := &fakeDispatcher{}
	base := []paystream.Option{
		paystream.WithLogger(quietLogger()),
		paystream.WithClock(clk),
		paystream.WithDispatcher(disp),
	}
	l := paystream.New(memory.New(), append(base, opts...)...)
	return l, clk, disp
}

func createStream(t *testing.T, l *paystream.Ledger, amount types.Money, d time.Duration) *stream.Stream {
	t.Helper()
	s, err := l.CreateStream(context.Background(), paystream.CreateParams{
		Sender:    "alice",
		Recipient: "bob",
		Amount:    amount,
		Duration:  d,
	})
	require.NoError(t, err)
	return s
}

func at(clk *clock.Manual, d time.Duration) { clk.Set(epoch.Add(d)) }

func TestCreateStreamValidation(t *testing.T) {
	l, _, _ := newTestLedger(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		params paystream.CreateParams
		field  string
	}{
		{"zero amount", paystream.CreateParams{Sender: "a", Recipient: "b", Amount: types.USD(0), Duration: time.Second}, "amount"},
		{"negative amount", paystream.CreateParams{Sender: "a", Recipient: "b", Amount: types.USD(-5), Duration: time.Second}, "amount"},
		{"zero duration", paystream.CreateParams{Sender: "a", Recipient: "b", Amount: types.USD(5)}, "duration"},
		{"negative duration", paystream.CreateParams{Sender: "a", Recipient: "b", Amount: types.USD(5), Duration: -time.Second}, "duration"},
		{"self stream", paystream.CreateParams{Sender: "a", Recipient: "a", Amount: types.USD(5), Duration: time.Second}, "recipient"},
		{"missing sender", paystream.CreateParams{Recipient: "b", Amount: types.USD(5), Duration: time.Second}, "sender"},
		{"missing currency", paystream.CreateParams{Sender: "a", Recipient: "b", Amount: types.Money{Amount: 5}, Duration: time.Second}, "amount"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.CreateStream(ctx, tt.params)
			require.Error(t, err)
			assert.ErrorIs(t, err, paystream.ErrInvalidParameters)

			var ve paystream.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	list, err := l.ListStreams(ctx, stream.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestCreateStreamDerivesRate(t *testing.T) {
	l, _, _ := newTestLedger(t)
	s := createStream(t, l, types.USD(100000), 100*time.Second)

	assert.Equal(t, stream.StateActive, s.State)
	assert.Equal(t, int64(1000), s.RatePerSecond.PerSecond())
	assert.Equal(t, "1000.000000000000000000", s.RatePerSecond.String())
	assert.True(t, s.EndTime.Equal(epoch.Add(100*time.Second)))
	assert.True(t, s.ClaimedAmount.IsZero())
}

// Pause at 30s, resume at 90s. Accrual counts active time only.
func TestClaimPauseResumeScenario(t *testing.T) {
	l, clk, disp := newTestLedger(t)
	ctx := context.Background()
	s := createStream(t, l, types.USD(100000), 100*time.Second)

	at(clk, 30*time.Second)
	res, err := l.Claim(ctx, s.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, types.USD(30000), res.Amount)

	_, err = l.Pause(ctx, s.ID, "alice")
	require.NoError(t, err)

	at(clk, 60*time.Second)
	_, err = l.Claim(ctx, s.ID, "bob")
	assert.ErrorIs(t, err, paystream.ErrNothingToClaim)

	at(clk, 90*time.Second)
	_, err = l.Resume(ctx, s.ID, "alice")
	require.NoError(t, err)

	at(clk, 100*time.Second)
	res, err = l.Claim(ctx, s.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, types.USD(10000), res.Amount)

	at(clk, 130*time.Second)
	res, err = l.Claim(ctx, s.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, types.USD(30000), res.Amount)
	assert.Equal(t, types.USD(70000), res.TotalClaimed)
	assert.Equal(t, types.USD(30000), res.Remaining)

	assert.Len(t, disp.Calls(), 3)
}

// Pause at 30s and stay paused until 120s: nothing accrues while paused and
// ten active seconds later 100.00 is claimable.
func TestClaimAcrossLongPause(t *testing.T) {
	l, clk, _ := newTestLedger(t)
	ctx := context.Background()
	s := createStream(t, l, types.USD(100000), 100*time.Second)

	at(clk, 30*time.Second)
	res, err := l.Claim(ctx, s.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, types.USD(30000), res.Amount)
	_, err = l.Pause(ctx, s.ID, "alice")
	require.NoError(t, err)

	at(clk, 100*time.Second)
	_, err = l.Claim(ctx, s.ID, "bob")
	assert.ErrorIs(t, err, paystream.ErrNothingToClaim)

	at(clk, 120*time.Second)
	_, err = l.Resume(ctx, s.ID, "alice")
	require.NoError(t, err)

	at(clk, 130*time.Second)
	res, err = l.Claim(ctx, s.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, types.USD(10000), res.Amount)
	assert.Equal(t, types.USD(40000), res.TotalClaimed)
}

func TestCancelScenario(t *testing.T) {
	l, clk, disp := newTestLedger(t)
	ctx := context.Background()
	s := createStream(t, l, types.USD(50000), 50*time.Second)

	at(clk, 20*time.Second)
	res, err := l.Cancel(ctx, s.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, types.USD(20000), res.RecipientAmount)
	assert.Equal(t, types.USD(30000), res.RefundAmount)
	assert.True(t, res.Settled)
	assert.Equal(t, stream.StateCancelled, res.State)

	got, err := l.GetStream(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, stream.StateCancelled, got.State)
	assert.Equal(t, types.USD(20000), got.ClaimedAmount)
	assert.Equal(t, types.USD(30000), got.RefundedAmount)
	assert.Equal(t, got.TotalAmount.Amount, got.ClaimedAmount.Amount+got.RefundedAmount.Amount)

	calls := disp.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, dispatchCall{From: "alice", To: "bob", Amount: types.USD(20000)}, calls[0])
	assert.Equal(t, dispatchCall{From: "alice", To: "alice", Amount: types.USD(30000)}, calls[1])
}

func TestClaimReleasesResidueOnFinalClaim(t *testing.T) {
	l, clk, _ := newTestLedger(t)
	ctx := context.Background()
	s := createStream(t, l, types.USD(100), 3*time.Second)

	var total int64
	for _, step := range []time.Duration{time.Second, 2 * time.Second, 3 * time.Second} {
		at(clk, step)
		res, err := l.Claim(ctx, s.ID, "bob")
		require.NoError(t, err)
		total += res.Amount.Amount
		assert.LessOrEqual(t, total, int64(100))
	}
	assert.Equal(t, int64(100), total)

	got, err := l.GetStream(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, stream.StateCompleted, got.State)
	assert.NotNil(t, got.EndedAt)
}

func TestClaimAfterEndYieldsRemainder(t *testing.T) {
	l, clk, _ := newTestLedger(t)
	ctx := context.Background()
	s := createStream(t, l, types.USD(99999), 7*time.Second)

	at(clk, 2*time.Second)
	first, err := l.Claim(ctx, s.ID, "bob")
	require.NoError(t, err)

	at(clk, time.Hour)
	last, err := l.Claim(ctx, s.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(99999)-first.Amount.Amount, last.Amount.Amount)
	assert.Equal(t, stream.StateCompleted, last.State)

	_, err = l.Claim(ctx, s.ID, "bob")
	assert.ErrorIs(t, err, paystream.ErrInvalidState)
}

func TestPauseResumePreservesClaimable(t *testing.T) {
	for _, pause := range []time.Duration{0, time.Millisecond, 17 * time.Second, 72 * time.Hour} {
		t.Run(pause.String(), func(t *testing.T) {
			l, clk, _ := newTestLedger(t)
			ctx := context.Background()
			s := createStream(t, l, types.USD(123457), 97*time.Second)

			at(clk, 41*time.Second+300*time.Millisecond)
			before, err := l.ClaimableInfo(ctx, s.ID)
			require.NoError(t, err)

			_, err = l.Pause(ctx, s.ID, "alice")
			require.NoError(t, err)
			clk.Advance(pause)
			_, err = l.Resume(ctx, s.ID, "alice")
			require.NoError(t, err)

			after, err := l.ClaimableInfo(ctx, s.ID)
			require.NoError(t, err)
			assert.Equal(t, before.Claimable, after.Claimable)
		})
	}
}

func TestCancelConservesTotal(t *testing.T) {
	for _, claimAt := range []time.Duration{0, 3 * time.Second, 11 * time.Second} {
		for _, cancelAt := range []time.Duration{11 * time.Second, 19 * time.Second, time.Minute} {
			t.Run(fmt.Sprintf("claim@%s/cancel@%s", claimAt, cancelAt), func(t *testing.T) {
				l, clk, _ := newTestLedger(t)
				ctx := context.Background()
				s := createStream(t, l, types.USD(10007), 20*time.Second)

				claimedBefore := int64(0)
				if claimAt > 0 {
					at(clk, claimAt)
					res, err := l.Claim(ctx, s.ID, "bob")
					require.NoError(t, err)
					claimedBefore = res.TotalClaimed.Amount
				}

				at(clk, cancelAt)
				res, err := l.Cancel(ctx, s.ID, "bob")
				require.NoError(t, err)
				assert.Equal(t, int64(10007), res.RefundAmount.Amount+res.RecipientAmount.Amount+claimedBefore)

				report, err := l.Reconcile(ctx, s.ID)
				require.NoError(t, err)
				assert.True(t, report.Balanced(), report.Discrepancies)
			})
		}
	}
}

func TestClaimNothingToClaimDoesNotMutate(t *testing.T) {
	l, _, disp := newTestLedger(t)
	ctx := context.Background()
	s := createStream(t, l, types.USD(1000), 10*time.Second)

	_, err := l.Claim(ctx, s.ID, "bob")
	require.ErrorIs(t, err, paystream.ErrNothingToClaim)
	assert.True(t, paystream.IsBenign(err))

	got, err := l.GetStream(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Version, got.Version)
	assert.True(t, got.ClaimedAmount.IsZero())
	assert.Empty(t, disp.Calls())
}

func TestClaimCheckOrder(t *testing.T) {
	l, clk, _ := newTestLedger(t)
	ctx := context.Background()
	s := createStream(t, l, types.USD(1000), 10*time.Second)

	_, err := l.Claim(ctx, id.NewStreamID(), "bob")
	assert.ErrorIs(t, err, paystream.ErrStreamNotFound)
	assert.True(t, paystream.IsNotFound(err))

	// Unauthorized is reported even when nothing has accrued.
	_, err = l.Claim(ctx, s.ID, "alice")
	assert.ErrorIs(t, err, paystream.ErrUnauthorized)

	at(clk, 5*time.Second)
	_, err = l.Cancel(ctx, s.ID, "alice")
	require.NoError(t, err)

	// Terminal state wins over authorization.
	_, err = l.Claim(ctx, s.ID, "mallory")
	assert.ErrorIs(t, err, paystream.ErrInvalidState)
}

func TestClaimSettlementFailureRollsBack(t *testing.T) {
	l, clk, disp := newTestLedger(t)
	ctx := context.Background()
	s := createStream(t, l, types.USD(1000), 10*time.Second)

	boom := errors.New("chain unavailable")
	disp.setFail(func(_, _ string, _ types.Money) error { return boom })

	at(clk, 4*time.Second)
	_, err := l.Claim(ctx, s.ID, "bob")
	require.Error(t, err)
	assert.ErrorIs(t, err, paystream.ErrSettlement)
	assert.ErrorIs(t, err, boom)
	assert.True(t, paystream.IsRetryable(err))

	var se *paystream.SettlementError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, settlement.KindClaim, se.Leg)
	assert.Equal(t, types.USD(400), se.Amount)

	got, err := l.GetStream(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, got.ClaimedAmount.IsZero())
	assert.Equal(t, stream.StateActive, got.State)

	transfers, err := l.ListTransfers(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, settlement.StatusFailed, transfers[0].Status)

	disp.setFail(nil)
	res, err := l.Claim(ctx, s.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, types.USD(400), res.Amount)

	report, err := l.Reconcile(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, report.Balanced(), report.Discrepancies)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Succeeded)
}

func TestClaimSurvivesCallerCancellation(t *testing.T) {
	l, clk, disp := newTestLedger(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := createStream(t, l, types.USD(1000), 10*time.Second)

	disp.hook = cancel

	at(clk, 5*time.Second)
	res, err := l.Claim(ctx, s.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, types.USD(500), res.Amount)

	got, err := l.GetStream(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, types.USD(500), got.ClaimedAmount)
	assert.Equal(t, res.TxRef, got.LastTxRef)
}

func TestCancelPartialFailureRetriesOnlyUnsettledLeg(t *testing.T) {
	l, clk, disp := newTestLedger(t)
	ctx := context.Background()
	s := createStream(t, l, types.USD(50000), 50*time.Second)

	disp.setFail(func(_, to string, _ types.Money) error {
		if to == "alice" {
			return errors.New("refund rejected")
		}
		return nil
	})

	at(clk, 20*time.Second)
	res, err := l.Cancel(ctx, s.ID, "bob")
	require.Error(t, err)
	assert.ErrorIs(t, err, paystream.ErrCancelPending)
	assert.ErrorIs(t, err, paystream.ErrSettlement)
	require.NotNil(t, res)
	assert.True(t, res.RecipientSettled)
	assert.False(t, res.RefundSettled)
	assert.False(t, res.Settled)

	pending, err := l.GetStream(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, pending.CancelPending())
	assert.Equal(t, types.USD(20000), pending.ClaimedAmount)

	// Cancel-pending streams accept nothing but cancel.
	at(clk, 40*time.Second)
	_, err = l.Claim(ctx, s.ID, "bob")
	assert.ErrorIs(t, err, paystream.ErrInvalidState)
	_, err = l.Pause(ctx, s.ID, "alice")
	assert.ErrorIs(t, err, paystream.ErrInvalidState)

	info, err := l.ClaimableInfo(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, info.Claimable.IsZero())

	disp.setFail(nil)
	res, err = l.Cancel(ctx, s.ID, "alice")
	require.NoError(t, err)
	assert.True(t, res.Settled)
	assert.Equal(t, types.USD(20000), res.RecipientAmount)
	assert.Equal(t, types.USD(30000), res.RefundAmount)

	calls := disp.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "alice", calls[2].To)

	final, err := l.GetStream(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, stream.StateCancelled, final.State)
	assert.Equal(t, types.USD(50000), final.ClaimedAmount.Add(final.RefundedAmount))

	report, err := l.Reconcile(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, report.Balanced(), report.Discrepancies)
}

func TestCancelZeroLegsIssueNoTransfer(t *testing.T) {
	l, clk, disp := newTestLedger(t)
	ctx := context.Background()

	// Nothing accrued: the whole total is refunded.
	s := createStream(t, l, types.USD(1000), 10*time.Second)
	res, err := l.Cancel(ctx, s.ID, "alice")
	require.NoError(t, err)
	assert.True(t, res.RecipientAmount.IsZero())
	assert.Empty(t, res.RecipientTxRef)
	require.Len(t, disp.Calls(), 1)

	// Fully accrued: everything goes to the recipient.
	s2 := createStream(t, l, types.USD(1000), 10*time.Second)
	at(clk, time.Minute)
	res, err = l.Cancel(ctx, s2.ID, "bob")
	require.NoError(t, err)
	assert.True(t, res.RefundAmount.IsZero())
	assert.Len(t, disp.Calls(), 2)
}

func TestAuthorization(t *testing.T) {
	l, clk, _ := newTestLedger(t)
	ctx := context.Background()
	s := createStream(t, l, types.USD(1000), 10*time.Second)
	at(clk, 2*time.Second)

	_, err := l.Pause(ctx, s.ID, "bob")
	assert.ErrorIs(t, err, paystream.ErrUnauthorized)

	_, err = l.Pause(ctx, s.ID, "alice")
	require.NoError(t, err)

	_, err = l.Resume(ctx, s.ID, "bob")
	assert.ErrorIs(t, err, paystream.ErrUnauthorized)

	_, err = l.Cancel(ctx, s.ID, "mallory")
	assert.ErrorIs(t, err, paystream.ErrUnauthorized)
}

func TestStateTransitions(t *testing.T) {
	l, clk, _ := newTestLedger(t)
	ctx := context.Background()
	s := createStream(t, l, types.USD(1000), 10*time.Second)

	_, err := l.Resume(ctx, s.ID, "alice")
	assert.ErrorIs(t, err, paystream.ErrInvalidState)

	_, err = l.Pause(ctx, s.ID, "alice")
	require.NoError(t, err)
	_, err = l.Pause(ctx, s.ID, "alice")
	assert.ErrorIs(t, err, paystream.ErrInvalidState)

	_, err = l.Activate(ctx, s.ID)
	assert.ErrorIs(t, err, paystream.ErrInvalidState)

	at(clk, time.Minute)
	_, err = l.Cancel(ctx, s.ID, "alice")
	require.NoError(t, err)

	_, err = l.Cancel(ctx, s.ID, "alice")
	assert.ErrorIs(t, err, paystream.ErrInvalidState)
	_, err = l.Resume(ctx, s.ID, "alice")
	assert.ErrorIs(t, err, paystream.ErrInvalidState)
}

func TestClaimWhilePaused(t *testing.T) {
	l, clk, _ := newTestLedger(t)
	ctx := context.Background()
	s := createStream(t, l, types.USD(1000), 10*time.Second)

	at(clk, 6*time.Second)
	_, err := l.Pause(ctx, s.ID, "alice")
	require.NoError(t, err)

	at(clk, 9*time.Second)
	res, err := l.Claim(ctx, s.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, types.USD(600), res.Amount)
	assert.Equal(t, stream.StatePaused, res.State)
}

// lifecycleRecorder captures completion and activation hooks.
type lifecycleRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *lifecycleRecorder) Name() string { return "lifecycle-recorder" }

func (r *lifecycleRecorder) add(event string) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *lifecycleRecorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *lifecycleRecorder) OnStreamActivated(context.Context, *stream.Stream) error {
	r.add("activated")
	return nil
}

func (r *lifecycleRecorder) OnStreamResumed(context.Context, *stream.Stream) error {
	r.add("resumed")
	return nil
}

func (r *lifecycleRecorder) OnStreamCompleted(context.Context, *stream.Stream) error {
	r.add("completed")
	return nil
}

func TestFullyClaimedPausedStreamCompletesOnResume(t *testing.T) {
	rec := &lifecycleRecorder{}
	l, clk, _ := newTestLedger(t, paystream.WithPlugin(rec))
	ctx := context.Background()
	s := createStream(t, l, types.USD(1000), 10*time.Second)

	at(clk, 20*time.Second)
	paused, err := l.Pause(ctx, s.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, paused.AccumulatedElapsed)

	res, err := l.Claim(ctx, s.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, types.USD(1000), res.Amount)
	assert.Equal(t, stream.StatePaused, res.State)

	stored, err := l.GetStream(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, stream.StatePaused, stored.State)
	assert.Nil(t, stored.EndedAt)
	assert.Empty(t, rec.Events())

	at(clk, 25*time.Second)
	resumed, err := l.Resume(ctx, s.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, stream.StateCompleted, resumed.State)
	require.NotNil(t, resumed.EndedAt)
	assert.True(t, resumed.EndedAt.Equal(epoch.Add(25*time.Second)))
	assert.Equal(t, []string{"resumed", "completed"}, rec.Events())

	_, err = l.Claim(ctx, s.ID, "bob")
	assert.ErrorIs(t, err, paystream.ErrInvalidState)
}

func TestNothingToClaimLeavesDuePendingStreamUnwritten(t *testing.T) {
	rec := &lifecycleRecorder{}
	l, clk, disp := newTestLedger(t, paystream.WithPlugin(rec))
	ctx := context.Background()

	startAt := epoch.Add(10 * time.Second)
	s, err := l.CreateStream(ctx, paystream.CreateParams{
		Sender:    "alice",
		Recipient: "bob",
		Amount:    types.USD(1000),
		Duration:  10 * time.Second,
		StartAt:   &startAt,
	})
	require.NoError(t, err)

	at(clk, 10*time.Second)
	_, err = l.Claim(ctx, s.ID, "bob")
	require.ErrorIs(t, err, paystream.ErrNothingToClaim)

	stored, err := l.GetStream(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, stream.StatePending, stored.State)
	assert.Equal(t, s.Version, stored.Version)
	assert.Empty(t, rec.Events())
	assert.Empty(t, disp.Calls())

	// The first real mutation persists the activation with it.
	at(clk, 13*time.Second)
	paused, err := l.Pause(ctx, s.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, stream.StatePaused, paused.State)
	assert.Equal(t, 3*time.Second, paused.AccumulatedElapsed)
	assert.Equal(t, []string{"activated"}, rec.Events())
}

func TestPendingStreamLifecycle(t *testing.T) {
	l, clk, _ := newTestLedger(t)
	ctx := context.Background()

	startAt := epoch.Add(10 * time.Second)
	s, err := l.CreateStream(ctx, paystream.CreateParams{
		Sender:    "alice",
		Recipient: "bob",
		Amount:    types.USD(1000),
		Duration:  10 * time.Second,
		StartAt:   &startAt,
	})
	require.NoError(t, err)
	assert.Equal(t, stream.StatePending, s.State)
	assert.True(t, s.EndTime.Equal(startAt.Add(10*time.Second)))

	at(clk, 5*time.Second)
	_, err = l.Claim(ctx, s.ID, "bob")
	assert.ErrorIs(t, err, paystream.ErrNothingToClaim)
	_, err = l.Pause(ctx, s.ID, "alice")
	assert.ErrorIs(t, err, paystream.ErrInvalidState)

	// Reads treat a due stream as active before anything is persisted.
	at(clk, 13*time.Second)
	info, err := l.ClaimableInfo(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, stream.StateActive, info.State)
	assert.Equal(t, types.USD(300), info.Claimable)

	stored, err := l.GetStream(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, stream.StatePending, stored.State)

	n, err := l.SweepDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err = l.GetStream(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, stream.StateActive, stored.State)
	assert.True(t, stored.LastResumeAt.Equal(startAt))

	res, err := l.Claim(ctx, s.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, types.USD(300), res.Amount)
}

func TestExplicitActivate(t *testing.T) {
	l, clk, _ := newTestLedger(t)
	ctx := context.Background()

	startAt := epoch.Add(time.Hour)
	s, err := l.CreateStream(ctx, paystream.CreateParams{
		Sender:    "alice",
		Recipient: "bob",
		Amount:    types.USD(1000),
		Duration:  10 * time.Second,
		StartAt:   &startAt,
	})
	require.NoError(t, err)

	at(clk, time.Second)
	got, err := l.Activate(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, stream.StateActive, got.State)

	at(clk, 4*time.Second)
	res, err := l.Claim(ctx, s.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, types.USD(300), res.Amount)
}

func TestCancelPendingStreamRefundsEverything(t *testing.T) {
	l, _, disp := newTestLedger(t)
	ctx := context.Background()

	startAt := epoch.Add(time.Hour)
	s, err := l.CreateStream(ctx, paystream.CreateParams{
		Sender:    "alice",
		Recipient: "bob",
		Amount:    types.USD(1000),
		Duration:  10 * time.Second,
		StartAt:   &startAt,
	})
	require.NoError(t, err)

	res, err := l.Cancel(ctx, s.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, types.USD(1000), res.RefundAmount)
	assert.Equal(t, stream.StateCancelled, res.State)
	assert.Len(t, disp.Calls(), 1)
}

func TestConcurrentClaimsNeverDoubleSpend(t *testing.T) {
	l, clk, disp := newTestLedger(t)
	ctx := context.Background()
	s := createStream(t, l, types.USD(100000), 100*time.Second)
	at(clk, 50*time.Second)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var paid int64
	var nothing int
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := l.Claim(ctx, s.ID, "bob")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				paid += res.Amount.Amount
			case errors.Is(err, paystream.ErrNothingToClaim):
				nothing++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50000), paid)
	assert.Equal(t, 15, nothing)
	assert.Len(t, disp.Calls(), 1)
}

func TestDispatcherNotConfigured(t *testing.T) {
	clk := clock.NewManual(epoch)
	l := paystream.New(memory.New(),
		paystream.WithLogger(quietLogger()),
		paystream.WithClock(clk),
	)
	ctx := context.Background()
	s := createStream(t, l, types.USD(1000), 10*time.Second)

	at(clk, 5*time.Second)
	_, err := l.Claim(ctx, s.ID, "bob")
	assert.ErrorIs(t, err, paystream.ErrDispatcherNotConfigured)
	_, err = l.Cancel(ctx, s.ID, "alice")
	assert.ErrorIs(t, err, paystream.ErrDispatcherNotConfigured)

	got, err := l.GetStream(ctx, s.ID)
	require.NoError(t, err)
	assert.Nil(t, got.Cancellation)
	assert.True(t, got.ClaimedAmount.IsZero())
}

func TestEscrowAccountIsTransferSource(t *testing.T) {
	l, clk, disp := newTestLedger(t, paystream.WithEscrowAccount("escrow"))
	ctx := context.Background()
	s := createStream(t, l, types.USD(1000), 10*time.Second)

	at(clk, 5*time.Second)
	_, err := l.Claim(ctx, s.ID, "bob")
	require.NoError(t, err)

	calls := disp.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "escrow", calls[0].From)
}

func TestClaimableInfoAndStats(t *testing.T) {
	l, clk, _ := newTestLedger(t)
	ctx := context.Background()
	s := createStream(t, l, types.USD(1000), 10*time.Second)
	other := createStream(t, l, types.EUR(500), 5*time.Second)

	at(clk, 4*time.Second)
	_, err := l.Claim(ctx, s.ID, "bob")
	require.NoError(t, err)
	_, err = l.Pause(ctx, other.ID, "alice")
	require.NoError(t, err)

	at(clk, 6*time.Second)
	info, err := l.ClaimableInfo(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, types.USD(200), info.Claimable)
	assert.Equal(t, types.USD(400), info.TotalClaimed)
	assert.Equal(t, types.USD(600), info.Remaining)
	assert.InDelta(t, 0.4, info.Progress, 1e-9)
	assert.Equal(t, stream.StateActive, info.State)
	assert.True(t, info.AsOf.Equal(epoch.Add(6*time.Second)))

	stats, err := l.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalCreated)
	assert.Equal(t, int64(1), stats.ActiveCount)
	assert.Equal(t, int64(1), stats.PausedCount)
	assert.Equal(t, types.USD(1000), stats.TotalVolume["usd"])
	assert.Equal(t, types.USD(400), stats.TotalClaimed["usd"])
	assert.Equal(t, types.EUR(500), stats.TotalVolume["eur"])

	bySender, err := l.ListBySender(ctx, "alice", stream.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, bySender, 2)

	paused, err := l.ListStreams(ctx, stream.ListOpts{State: stream.StatePaused})
	require.NoError(t, err)
	require.Len(t, paused, 1)
	assert.Equal(t, other.ID, paused[0].ID)
}

func TestStartStop(t *testing.T) {
	l, clk, _ := newTestLedger(t, paystream.WithSweepInterval(5*time.Millisecond))
	ctx := context.Background()

	startAt := epoch.Add(time.Second)
	s, err := l.CreateStream(ctx, paystream.CreateParams{
		Sender:    "alice",
		Recipient: "bob",
		Amount:    types.USD(1000),
		Duration:  10 * time.Second,
		StartAt:   &startAt,
	})
	require.NoError(t, err)

	require.NoError(t, l.Start(ctx))
	at(clk, 2*time.Second)

	require.Eventually(t, func() bool {
		got, err := l.GetStream(ctx, s.ID)
		return err == nil && got.State == stream.StateActive
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, l.Stop())
	_, err = l.GetStream(ctx, s.ID)
	assert.ErrorIs(t, err, paystream.ErrStoreClosed)
}
