package types

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNewRateRejectsInvalidInputs(t *testing.T) {
	if _, err := NewRate(USD(0), time.Second); err == nil {
		t.Error("expected error for zero amount")
	}
	if _, err := NewRate(USD(100), 0); err == nil {
		t.Error("expected error for zero duration")
	}
	if _, err := NewRate(USD(-1), time.Second); err == nil {
		t.Error("expected error for negative amount")
	}
}

func TestRateTimesDurationWithinOneUnit(t *testing.T) {
	tests := []struct {
		name     string
		total    Money
		duration time.Duration
	}{
		{"even split", USD(100000), 100 * time.Second},
		{"thirds", USD(100), 3 * time.Second},
		{"one unit over a day", USD(1), 24 * time.Hour},
		{"sub-second", USD(7), 333 * time.Millisecond},
		{"prime", USD(9999991), 7919 * time.Second},
		{"large", USD(1 << 60), 365 * 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewRate(tt.total, tt.duration)
			if err != nil {
				t.Fatalf("NewRate: %v", err)
			}
			got := r.Accrue(tt.duration)
			diff := tt.total.Amount - got
			if diff < 0 || diff > 1 {
				t.Errorf("rate*duration = %d, total = %d (diff %d)", got, tt.total.Amount, diff)
			}
		})
	}
}

func TestRateAccrue(t *testing.T) {
	r, err := NewRate(USD(100000), 100*time.Second)
	if err != nil {
		t.Fatalf("NewRate: %v", err)
	}

	tests := []struct {
		elapsed time.Duration
		want    int64
	}{
		{-time.Second, 0},
		{0, 0},
		{time.Second, 1000},
		{30 * time.Second, 30000},
		{1500 * time.Millisecond, 1500},
		{100 * time.Second, 100000},
	}
	for _, tt := range tests {
		if got := r.Accrue(tt.elapsed); got != tt.want {
			t.Errorf("Accrue(%v) = %d, want %d", tt.elapsed, got, tt.want)
		}
	}
	if r.PerSecond() != 1000 {
		t.Errorf("PerSecond = %d, want 1000", r.PerSecond())
	}
}

func TestRateTextRoundTrip(t *testing.T) {
	r, err := NewRate(USD(100), 3*time.Second)
	if err != nil {
		t.Fatalf("NewRate: %v", err)
	}

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var back Rate
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !back.Equal(r) {
		t.Errorf("round trip mismatch: %s != %s", back, r)
	}

	parsed, err := ParseRate(string(mustText(t, r)))
	if err != nil || !parsed.Equal(r) {
		t.Errorf("ParseRate mismatch: %v %s", err, parsed)
	}

	if _, err := ParseRate("not-a-number"); err == nil {
		t.Error("expected parse error")
	}
}

func TestRateString(t *testing.T) {
	r, err := NewRate(USD(100000), 100*time.Second)
	if err != nil {
		t.Fatalf("NewRate: %v", err)
	}
	if got, want := r.String(), "1000.000000000000000000"; got != want {
		t.Errorf("String = %s, want %s", got, want)
	}

	small, err := NewRate(USD(1), 4*time.Second)
	if err != nil {
		t.Fatalf("NewRate: %v", err)
	}
	if got, want := small.String(), "0.250000000000000000"; got != want {
		t.Errorf("String = %s, want %s", got, want)
	}
}

func mustText(t *testing.T, r Rate) []byte {
	t.Helper()
	b, err := r.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	return b
}
