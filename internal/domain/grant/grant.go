// Package grant implements the Grant aggregate: two isolated balance
// buckets (GENERAL, LIRP) plus matching-funds tracking and the
// reimbursement rate, folded from events the same way the teacher's
// domain/gasbank.Account is a plain struct but generalized here into a
// pure initial/apply/checkInvariant state machine per the spec's
// aggregate contract.
package grant

import (
	"time"

	"github.com/wvsnp/grantcore/internal/apperrors"
	"github.com/wvsnp/grantcore/internal/money"
)

// Bucket names the two isolated fund pools a Grant carries.
type Bucket string

const (
	BucketGeneral Bucket = "GENERAL"
	BucketLIRP    Bucket = "LIRP"
)

// BalanceState is the arithmetic state of a single bucket.
type BalanceState struct {
	Awarded    money.Cents
	Available  money.Cents
	Encumbered money.Cents
	Liquidated money.Cents
	Released   money.Cents
}

// Matching tracks committed-vs-reported matching funds.
type Matching struct {
	Committed money.Cents
	Reported  money.Cents
}

// Rate is the reimbursement rate applied to eligible claim amounts.
type Rate = money.Rate

// State is the full Grant aggregate state, folded from its events.
type State struct {
	GrantID        string
	CycleID        string
	Buckets        map[Bucket]BalanceState
	Matching       Matching
	Rate           Rate
	PeriodStart    time.Time
	PeriodEnd      time.Time
	ClaimsDeadline time.Time
}

// Initial returns the zero-value Grant for aggregate_id grantID before
// any events are folded, with both the GENERAL and LIRP buckets at zero;
// GRANT_AWARDED events fund them.
func Initial(grantID string) State {
	return State{
		GrantID: grantID,
		Buckets: map[Bucket]BalanceState{
			BucketGeneral: {},
			BucketLIRP:    {},
		},
	}
}

// Award increases a bucket's awarded and available balance by amount.
func Award(s State, bucket Bucket, amount money.Cents) State {
	b := s.Buckets[bucket]
	b.Awarded = b.Awarded.Add(amount)
	b.Available = b.Available.Add(amount)
	s.Buckets[bucket] = b
	return s
}

// Encumber moves amount from available to encumbered, e.g. on voucher
// issuance. Returns an error if available is insufficient.
func Encumber(s State, bucket Bucket, amount money.Cents) (State, error) {
	b := s.Buckets[bucket]
	if b.Available < amount {
		return s, apperrors.New(apperrors.InsufficientFunds, "insufficient available balance in bucket "+string(bucket))
	}
	b.Available -= amount
	b.Encumbered = b.Encumbered.Add(amount)
	s.Buckets[bucket] = b
	return s, nil
}

// Release moves amount from encumbered back to available (e.g. voucher
// voided or expired) and records it as released.
func Release(s State, bucket Bucket, amount money.Cents) State {
	b := s.Buckets[bucket]
	b.Encumbered -= amount
	b.Available = b.Available.Add(amount)
	b.Released = b.Released.Add(amount)
	s.Buckets[bucket] = b
	return s
}

// Liquidate moves amount from encumbered to liquidated (e.g. claim
// approved and funds disbursed).
func Liquidate(s State, bucket Bucket, amount money.Cents) State {
	b := s.Buckets[bucket]
	b.Encumbered -= amount
	b.Liquidated = b.Liquidated.Add(amount)
	s.Buckets[bucket] = b
	return s
}

// RecordMatching updates committed/reported matching-funds totals.
func RecordMatching(s State, committedDelta, reportedDelta money.Cents) State {
	s.Matching.Committed = s.Matching.Committed.Add(committedDelta)
	s.Matching.Reported = s.Matching.Reported.Add(reportedDelta)
	return s
}

// MatchingShortfallSurplus returns (shortfall, surplus) per spec §3.3;
// they are mutually exclusive by construction.
func MatchingShortfallSurplus(m Matching) (shortfall, surplus money.Cents) {
	if m.Committed > m.Reported {
		return m.Committed - m.Reported, 0
	}
	if m.Reported > m.Committed {
		return 0, m.Reported - m.Committed
	}
	return 0, 0
}

// ApplyReimbursementRate computes the reimbursable amount for an
// eligible claim amount under the Grant's rate.
func ApplyReimbursementRate(s State, eligibleAmount money.Cents) (money.Cents, error) {
	return s.Rate.Apply(eligibleAmount)
}

// CheckInvariant verifies the per-bucket money invariant and the
// matching mutual-exclusion invariant. Called after every fold and
// before every projection write.
func CheckInvariant(s State) error {
	for bucket, b := range s.Buckets {
		if b.Awarded < 0 || b.Available < 0 || b.Encumbered < 0 || b.Liquidated < 0 || b.Released < 0 {
			return apperrors.New(apperrors.BatchInvariant, "bucket "+string(bucket)+" has a negative balance field")
		}
		if b.Awarded != b.Available.Add(b.Encumbered).Add(b.Liquidated) {
			return apperrors.New(apperrors.BatchInvariant, "bucket "+string(bucket)+": awarded != available+encumbered+liquidated")
		}
		if b.Released > b.Awarded {
			return apperrors.New(apperrors.BatchInvariant, "bucket "+string(bucket)+": released exceeds awarded")
		}
	}
	shortfall, surplus := MatchingShortfallSurplus(s.Matching)
	if shortfall > 0 && surplus > 0 {
		return apperrors.New(apperrors.BatchInvariant, "matching shortfall and surplus cannot both be positive")
	}
	return nil
}

// BucketFor returns the bucket a voucher draws from.
func BucketFor(isLIRP bool) Bucket {
	if isLIRP {
		return BucketLIRP
	}
	return BucketGeneral
}

// CanEncumber reports whether bucket has at least amount available.
// Cycle-closed enforcement lives in the command layer, which checks the
// Closeout projection directly rather than a flag on Grant itself.
func CanEncumber(s State, bucket Bucket, amount money.Cents) (allowed bool, reason string) {
	if s.Buckets[bucket].Available < amount {
		return false, "insufficient available balance"
	}
	return true, ""
}

// DefinePeriod sets the cycle this grant belongs to and its fiscal
// window.
func DefinePeriod(s State, cycleID string, periodStart, periodEnd time.Time) State {
	s.CycleID = cycleID
	s.PeriodStart = periodStart
	s.PeriodEnd = periodEnd
	return s
}

// SetClaimsDeadline records the deadline after which SubmitClaim must
// reject new claims against this grant's cycle.
func SetClaimsDeadline(s State, deadline time.Time) State {
	s.ClaimsDeadline = deadline
	return s
}

// IsWithinPeriod reports whether asOf (typically a claim's date of
// service) falls within the grant's fiscal window. An undefined window
// (zero PeriodEnd) never rejects, so grants created before
// GRANT_PERIOD_DEFINED don't spuriously fail.
func IsWithinPeriod(s State, asOf time.Time) bool {
	if s.PeriodEnd.IsZero() {
		return true
	}
	return !asOf.Before(s.PeriodStart) && !asOf.After(s.PeriodEnd)
}

// IsClaimsDeadlinePassed reports whether now is after the grant's
// claims deadline. An undefined deadline never passes.
func IsClaimsDeadlinePassed(s State, now time.Time) bool {
	if s.ClaimsDeadline.IsZero() {
		return false
	}
	return now.After(s.ClaimsDeadline)
}
