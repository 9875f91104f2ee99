package grant

import (
	"testing"

	"github.com/wvsnp/grantcore/internal/money"
)

func TestAwardEncumberReleaseLiquidateInvariant(t *testing.T) {
	s := Initial("grant-1")
	s = Award(s, BucketGeneral, 100000)

	s, err := Encumber(s, BucketGeneral, 40000)
	if err != nil {
		t.Fatal(err)
	}
	if err := CheckInvariant(s); err != nil {
		t.Fatal(err)
	}

	s = Liquidate(s, BucketGeneral, 25000)
	if err := CheckInvariant(s); err != nil {
		t.Fatal(err)
	}

	s, err = Encumber(s, BucketGeneral, 10000)
	if err != nil {
		t.Fatal(err)
	}
	s = Release(s, BucketGeneral, 10000)
	if err := CheckInvariant(s); err != nil {
		t.Fatal(err)
	}

	b := s.Buckets[BucketGeneral]
	if b.Awarded != 100000 || b.Liquidated != 25000 || b.Released != 10000 {
		t.Fatalf("unexpected bucket state: %+v", b)
	}
	if b.Available+b.Encumbered+b.Liquidated != b.Awarded {
		t.Fatalf("invariant violated: %+v", b)
	}
}

func TestEncumberInsufficientFunds(t *testing.T) {
	s := Initial("grant-1")
	s = Award(s, BucketGeneral, 10000)
	if _, err := Encumber(s, BucketGeneral, 20000); err == nil {
		t.Fatal("expected insufficient funds error")
	}
}

func TestMatchingShortfallSurplusMutualExclusion(t *testing.T) {
	s := Initial("grant-1")
	s = RecordMatching(s, 50000, 30000)
	shortfall, surplus := MatchingShortfallSurplus(s.Matching)
	if shortfall != 20000 || surplus != 0 {
		t.Fatalf("expected shortfall 20000, got shortfall=%d surplus=%d", shortfall, surplus)
	}

	s2 := Initial("grant-2")
	s2 = RecordMatching(s2, 10000, 40000)
	shortfall2, surplus2 := MatchingShortfallSurplus(s2.Matching)
	if surplus2 != 30000 || shortfall2 != 0 {
		t.Fatalf("expected surplus 30000, got shortfall=%d surplus=%d", shortfall2, surplus2)
	}
}

func TestApplyReimbursementRateHalfUp(t *testing.T) {
	s := Initial("grant-1")
	s.Rate = money.Rate{Num: 2, Den: 3}
	got, err := ApplyReimbursementRate(s, 100)
	if err != nil {
		t.Fatal(err)
	}
	if got != 67 {
		t.Fatalf("expected 67 (round-half-up of 66.67), got %d", got)
	}
}

func TestLIRPDrawsFromLIRPBucket(t *testing.T) {
	if BucketFor(true) != BucketLIRP {
		t.Fatal("expected LIRP bucket")
	}
	if BucketFor(false) != BucketGeneral {
		t.Fatal("expected GENERAL bucket")
	}
}
