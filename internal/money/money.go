// Package money provides a fixed-point integer cents type for monetary
// amounts. Values are never represented as floats or arbitrary-precision
// integers on the wire; amounts serialize as base-10 digit strings so the
// event envelope never loses precision through a JSON number.
package money

import (
	"fmt"
	"strconv"
	"strings"
)

// Cents is a fixed-point monetary amount in integer cents.
type Cents int64

// Zero is the additive identity.
const Zero Cents = 0

// String renders the amount as a base-10 integer digit string (the wire
// format required by the event envelope), e.g. "4000" or "-150".
func (c Cents) String() string {
	return strconv.FormatInt(int64(c), 10)
}

// ParseCents parses a decimal digit string into Cents. Only an optional
// leading '-' followed by ASCII digits is accepted; this rejects floats,
// exponents, and anything that would have round-tripped through a
// floating-point or big-integer representation.
func ParseCents(s string) (Cents, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("money: empty amount")
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("money: invalid decimal digit string %q: %w", s, err)
	}
	return Cents(n), nil
}

// Add returns c + other.
func (c Cents) Add(other Cents) Cents { return c + other }

// Sub returns c - other.
func (c Cents) Sub(other Cents) Cents { return c - other }

// Negative reports whether c is below zero.
func (c Cents) Negative() bool { return c < 0 }

// Max returns the larger of a and b.
func Max(a, b Cents) Cents {
	if a > b {
		return a
	}
	return b
}

// Min returns the smaller of a and b.
func Min(a, b Cents) Cents {
	if a < b {
		return a
	}
	return b
}

// Rate is a reimbursement rate expressed as numerator/denominator over
// integer cents, applied with half-up rounding.
type Rate struct {
	Num int64
	Den int64
}

// Apply computes round_half_up(amount * rate.Num / rate.Den).
func (r Rate) Apply(amount Cents) (Cents, error) {
	if r.Den == 0 {
		return 0, fmt.Errorf("money: rate denominator is zero")
	}
	n := int64(amount) * r.Num
	d := r.Den
	// Half-up rounding toward positive infinity for positive n/d, mirroring
	// the spec's (amount*num + den/2) / den formula.
	if (n < 0) != (d < 0) {
		return Cents((n - d/2) / d), nil
	}
	return Cents((n + d/2) / d), nil
}
