package money

import (
	"testing"

	"pgregory.net/rapid"
)

func TestParseCentsStringRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.Int64().Draw(t, "n")
		c := Cents(n)

		parsed, err := ParseCents(c.String())
		if err != nil {
			t.Fatalf("parse %q: %v", c.String(), err)
		}
		if parsed != c {
			t.Fatalf("round trip mismatch: %d != %d", parsed, c)
		}
	})
}

func TestAddSubIsInverseProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := Cents(rapid.Int64Range(-1_000_000_000, 1_000_000_000).Draw(t, "a"))
		b := Cents(rapid.Int64Range(-1_000_000_000, 1_000_000_000).Draw(t, "b"))

		if got := a.Add(b).Sub(b); got != a {
			t.Fatalf("a.Add(b).Sub(b) = %d, want %d", got, a)
		}
	})
}

func TestMaxMinBoundProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := Cents(rapid.Int64().Draw(t, "a"))
		b := Cents(rapid.Int64().Draw(t, "b"))

		hi, lo := Max(a, b), Min(a, b)
		if hi < lo {
			t.Fatalf("Max(%d,%d)=%d < Min(%d,%d)=%d", a, b, hi, a, b, lo)
		}
		if hi != a && hi != b {
			t.Fatalf("Max(%d,%d)=%d is neither operand", a, b, hi)
		}
		if lo != a && lo != b {
			t.Fatalf("Min(%d,%d)=%d is neither operand", a, b, lo)
		}
	})
}

func TestRateApplyStaysWithinOneUnitOfExactProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		amount := Cents(rapid.Int64Range(0, 1_000_000_00).Draw(t, "amount"))
		den := rapid.Int64Range(1, 1000).Draw(t, "den")
		num := rapid.Int64Range(0, den).Draw(t, "num")
		r := Rate{Num: num, Den: den}

		got, err := r.Apply(amount)
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
		exact := float64(amount) * float64(num) / float64(den)
		if diff := float64(got) - exact; diff > 1 || diff < -1 {
			t.Fatalf("Apply(%d) = %d, too far from exact %f", amount, got, exact)
		}
	})
}
