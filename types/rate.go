package types

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/holiman/uint256"
)

// RateDecimals is the number of fractional digits a Rate carries below the
// currency's minimum unit.
const RateDecimals = 18

var (
	rateScale = new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(RateDecimals))
	// minor units * 10^18 per second, expressed per nanosecond of elapsed time.
	rateDenominator = new(uint256.Int).Mul(rateScale, uint256.NewInt(uint64(time.Second)))
)

// ErrInvalidRate is returned when a rate cannot be derived.
var ErrInvalidRate = errors.New("rate: invalid inputs")

// Rate is a per-second accrual rate in the minimum currency unit, kept as a
// fixed-point number with RateDecimals fractional digits. It is derived once
// by flooring total/duration and never changes afterwards.
type Rate struct {
	scaled uint256.Int
}

// NewRate derives the per-second rate that releases total over d.
func NewRate(total Money, d time.Duration) (Rate, error) {
	if total.Amount <= 0 || d <= 0 {
		return Rate{}, ErrInvalidRate
	}
	var r Rate
	amount := uint256.NewInt(uint64(total.Amount))
	if _, overflow := r.scaled.MulDivOverflow(amount, rateDenominator, uint256.NewInt(uint64(d))); overflow {
		return Rate{}, fmt.Errorf("%w: overflow", ErrInvalidRate)
	}
	return r, nil
}

// Accrue returns floor(rate * elapsed) in minimum units. Negative elapsed
// accrues nothing.
func (r Rate) Accrue(elapsed time.Duration) int64 {
	if elapsed <= 0 || r.scaled.IsZero() {
		return 0
	}
	var out uint256.Int
	ns := uint256.NewInt(uint64(elapsed))
	if _, overflow := out.MulDivOverflow(&r.scaled, ns, rateDenominator); overflow || !out.IsUint64() {
		return int64(^uint64(0) >> 1)
	}
	v := out.Uint64()
	if v > uint64(^uint64(0)>>1) {
		return int64(^uint64(0) >> 1)
	}
	return int64(v)
}

// PerSecond returns the whole minimum units released per second.
func (r Rate) PerSecond() int64 {
	return r.Accrue(time.Second)
}

// IsZero reports whether the rate is zero.
func (r Rate) IsZero() bool { return r.scaled.IsZero() }

// Equal reports whether two rates are identical.
func (r Rate) Equal(other Rate) bool { return r.scaled.Eq(&other.scaled) }

// String renders the rate in minimum units per second with all fractional
// digits, e.g. "1000.000000000000000000".
func (r Rate) String() string {
	digits := r.scaled.Dec()
	if len(digits) <= RateDecimals {
		digits = strings.Repeat("0", RateDecimals-len(digits)+1) + digits
	}
	cut := len(digits) - RateDecimals
	return digits[:cut] + "." + digits[cut:]
}

// MarshalText encodes the scaled integer as a decimal string.
func (r Rate) MarshalText() ([]byte, error) {
	return []byte(r.scaled.Dec()), nil
}

// UnmarshalText decodes a scaled decimal string produced by MarshalText.
func (r *Rate) UnmarshalText(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "" {
		*r = Rate{}
		return nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return fmt.Errorf("rate: parse %q: %w", s, err)
	}
	r.scaled = *v
	return nil
}

// ParseRate decodes the scaled decimal form used by storage backends.
func ParseRate(s string) (Rate, error) {
	var r Rate
	err := r.UnmarshalText([]byte(s))
	return r, err
}
