package stream

import (
	"testing"
	"time"

	"github.com/xraph/paystream/id"
	"github.com/xraph/paystream/types"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStream(t *testing.T, total types.Money, d time.Duration) *Stream {
	t.Helper()
	rate, err := types.NewRate(total, d)
	if err != nil {
		t.Fatalf("NewRate: %v", err)
	}
	return &Stream{
		Entity:        types.NewEntity(t0),
		ID:            id.NewStreamID(),
		Sender:        "alice",
		Recipient:     "bob",
		TotalAmount:   total,
		ClaimedAmount: types.Zero(total.Currency),
		RatePerSecond: rate,
		Duration:      d,
		StartTime:     t0,
		EndTime:       t0.Add(d),
		State:         StateActive,
		LastResumeAt:  t0,
	}
}

func TestClaimableByState(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *Stream)
		at     time.Duration
		want   int64
	}{
		{"active midway", func(*Stream) {}, 30 * time.Second, 30000},
		{"active before start", func(*Stream) {}, -time.Second, 0},
		{"active past end", func(*Stream) {}, time.Hour, 100000},
		{"paused banks elapsed", func(s *Stream) {
			s.State = StatePaused
			s.AccumulatedElapsed = 30 * time.Second
		}, 90 * time.Second, 30000},
		{"claimed subtracts", func(s *Stream) {
			s.ClaimedAmount = types.USD(20000)
		}, 30 * time.Second, 10000},
		{"pending not due", func(s *Stream) {
			s.State = StatePending
			s.StartTime = t0.Add(time.Minute)
		}, 30 * time.Second, 0},
		{"pending due reads as active", func(s *Stream) {
			s.State = StatePending
		}, 10 * time.Second, 10000},
		{"completed", func(s *Stream) { s.State = StateCompleted }, 30 * time.Second, 0},
		{"cancelled", func(s *Stream) { s.State = StateCancelled }, 30 * time.Second, 0},
		{"cancel pending", func(s *Stream) {
			s.Cancellation = &Cancellation{RequestedBy: "alice"}
		}, 30 * time.Second, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStream(t, types.USD(100000), 100*time.Second)
			tt.mutate(s)
			if got := s.Claimable(t0.Add(tt.at)); got.Amount != tt.want {
				t.Errorf("Claimable: got %d, want %d", got.Amount, tt.want)
			}
		})
	}
}

func TestAccruedReleasesResidueAtEnd(t *testing.T) {
	s := newTestStream(t, types.USD(100), 3*time.Second)

	if got := s.Accrued(t0.Add(time.Second)).Amount; got != 33 {
		t.Errorf("Accrued(1s): got %d, want 33", got)
	}
	if got := s.Accrued(t0.Add(3 * time.Second)).Amount; got != 100 {
		t.Errorf("Accrued(end): got %d, want 100", got)
	}
}

func TestEffectiveStateAndPromote(t *testing.T) {
	s := newTestStream(t, types.USD(1000), 10*time.Second)
	s.State = StatePending
	s.StartTime = t0.Add(5 * time.Second)

	if s.EffectiveState(t0) != StatePending {
		t.Errorf("expected pending before start")
	}
	if s.EffectiveState(t0.Add(5*time.Second)) != StateActive {
		t.Errorf("expected active at start")
	}

	s.Promote()
	if s.State != StateActive || !s.LastResumeAt.Equal(s.StartTime) {
		t.Errorf("Promote: state=%s last_resume=%v", s.State, s.LastResumeAt)
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := newTestStream(t, types.USD(1000), 10*time.Second)
	s.Metadata = map[string]string{"k": "v"}
	s.Cancellation = &Cancellation{RecipientAmount: types.USD(1)}

	c := s.Clone()
	c.Metadata["k"] = "changed"
	c.Cancellation.RecipientSettled = true

	if s.Metadata["k"] != "v" {
		t.Error("metadata shared with clone")
	}
	if s.Cancellation.RecipientSettled {
		t.Error("cancellation shared with clone")
	}
	if (*Stream)(nil).Clone() != nil {
		t.Error("nil clone should be nil")
	}
}

func TestStatsAddGroup(t *testing.T) {
	st := NewStats()
	st.AddGroup(StateActive, "usd", 2, 1000, 300)
	st.AddGroup(StateCompleted, "USD", 1, 500, 500)
	st.AddGroup(StatePaused, "eur", 1, 700, 0)

	if st.TotalCreated != 4 || st.ActiveCount != 2 || st.CompletedCount != 1 || st.PausedCount != 1 {
		t.Errorf("counts: %+v", st)
	}
	if got := st.TotalVolume["usd"]; !got.Equal(types.USD(1500)) {
		t.Errorf("usd volume: got %v", got)
	}
	if got := st.TotalClaimed["usd"]; !got.Equal(types.USD(800)) {
		t.Errorf("usd claimed: got %v", got)
	}
	if got := st.TotalVolume["eur"]; !got.Equal(types.EUR(700)) {
		t.Errorf("eur volume: got %v", got)
	}
}

func TestListOptsMatches(t *testing.T) {
	s := newTestStream(t, types.USD(1000), 10*time.Second)

	tests := []struct {
		opts ListOpts
		want bool
	}{
		{ListOpts{}, true},
		{ListOpts{Sender: "alice"}, true},
		{ListOpts{Sender: "bob"}, false},
		{ListOpts{Recipient: "bob", State: StateActive}, true},
		{ListOpts{State: StatePaused}, false},
	}
	for _, tt := range tests {
		if got := tt.opts.Matches(s); got != tt.want {
			t.Errorf("Matches(%+v): got %v, want %v", tt.opts, got, tt.want)
		}
	}
}
