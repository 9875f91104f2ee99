package money

import "testing"

func TestParseCentsRoundTrip(t *testing.T) {
	for _, s := range []string{"0", "1", "-1", "40000", "-125000"} {
		c, err := ParseCents(s)
		if err != nil {
			t.Fatalf("ParseCents(%q): %v", s, err)
		}
		if c.String() != s {
			t.Fatalf("round trip mismatch: got %q want %q", c.String(), s)
		}
	}
}

func TestParseCentsRejectsFloat(t *testing.T) {
	for _, s := range []string{"1.5", "1e10", "", "abc", "1,000"} {
		if _, err := ParseCents(s); err == nil {
			t.Fatalf("expected error parsing %q", s)
		}
	}
}

func TestRateApplyHalfUp(t *testing.T) {
	r := Rate{Num: 1, Den: 2}
	got, err := r.Apply(Cents(5))
	if err != nil {
		t.Fatal(err)
	}
	if got != Cents(3) { // (5*1 + 2/2) / 2 = 6/2 = 3
		t.Fatalf("got %d want 3", got)
	}
}

func TestRateApplyZeroDenominator(t *testing.T) {
	r := Rate{Num: 1, Den: 0}
	if _, err := r.Apply(Cents(100)); err == nil {
		t.Fatal("expected error for zero denominator")
	}
}

func TestMaxMin(t *testing.T) {
	if Max(Cents(3), Cents(5)) != 5 {
		t.Fatal("Max wrong")
	}
	if Min(Cents(3), Cents(5)) != 3 {
		t.Fatal("Min wrong")
	}
	if Max(Cents(5), Cents(0)) != 5 || Min(Cents(5), Cents(0)) != 0 {
		t.Fatal("Max/Min with zero wrong")
	}
}
