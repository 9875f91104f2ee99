package commands

import (
	"context"
	"time"

	"github.com/wvsnp/grantcore/internal/domain/grant"
	"github.com/wvsnp/grantcore/internal/money"
)

// AwardGrantInput seeds or tops up one bucket of a grant's award.
type AwardGrantInput struct {
	GrantID     string
	CycleID     string
	Bucket      grant.Bucket
	AmountCents money.Cents
}

// AwardGrantResult is the response cached against the idempotency key.
type AwardGrantResult struct {
	GrantID string `json:"grant_id"`
}

// AwardGrant increases a grant bucket's awarded/available balance,
// seeding the funds a later IssueVoucher may encumber.
func AwardGrant(ctx context.Context, d Deps, env Envelope, in AwardGrantInput) (AwardGrantResult, error) {
	plan := LockPlan{GrantIDs: []string{in.GrantID}}
	return runCommand(ctx, d, env, "award_grant:"+in.GrantID+":"+string(in.Bucket)+":"+in.AmountCents.String(), plan, func(ctx context.Context) (AwardGrantResult, error) {
		if err := requireCycleOpen(ctx, d, in.CycleID, "GRANT_AWARDED"); err != nil {
			return AwardGrantResult{}, err
		}
		ev, err := buildEvent(d, env, "GRANT", in.GrantID, "GRANT_AWARDED", map[string]any{
			"bucket":       string(in.Bucket),
			"amount_cents": in.AmountCents.String(),
		}, in.CycleID, nil)
		if err != nil {
			return AwardGrantResult{}, err
		}
		if _, err := appendAndApply(ctx, d, ev); err != nil {
			return AwardGrantResult{}, err
		}
		return AwardGrantResult{GrantID: in.GrantID}, nil
	})
}

// DefinePeriodInput sets a grant's owning cycle and fiscal window.
type DefinePeriodInput struct {
	GrantID     string
	CycleID     string
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// DefinePeriodResult is the response cached against the idempotency key.
type DefinePeriodResult struct {
	GrantID string `json:"grant_id"`
}

// DefinePeriod records the fiscal window a grant's claims must fall
// within (spec.md §4.3 IsWithinPeriod).
func DefinePeriod(ctx context.Context, d Deps, env Envelope, in DefinePeriodInput) (DefinePeriodResult, error) {
	plan := LockPlan{GrantIDs: []string{in.GrantID}}
	return runCommand(ctx, d, env, "define_period:"+in.GrantID+":"+in.PeriodStart.Format(time.RFC3339)+":"+in.PeriodEnd.Format(time.RFC3339), plan, func(ctx context.Context) (DefinePeriodResult, error) {
		if err := requireCycleOpen(ctx, d, in.CycleID, "GRANT_PERIOD_DEFINED"); err != nil {
			return DefinePeriodResult{}, err
		}
		ev, err := buildEvent(d, env, "GRANT", in.GrantID, "GRANT_PERIOD_DEFINED", map[string]any{
			"cycle_id":     in.CycleID,
			"period_start": in.PeriodStart.Format(time.RFC3339),
			"period_end":   in.PeriodEnd.Format(time.RFC3339),
		}, in.CycleID, nil)
		if err != nil {
			return DefinePeriodResult{}, err
		}
		if _, err := appendAndApply(ctx, d, ev); err != nil {
			return DefinePeriodResult{}, err
		}
		return DefinePeriodResult{GrantID: in.GrantID}, nil
	})
}

// SetClaimsDeadlineInput sets the deadline after which SubmitClaim must
// reject new claims against a grant's cycle.
type SetClaimsDeadlineInput struct {
	GrantID  string
	CycleID  string
	Deadline time.Time
}

// SetClaimsDeadlineResult is the response cached against the
// idempotency key.
type SetClaimsDeadlineResult struct {
	GrantID string `json:"grant_id"`
}

// SetClaimsDeadline records a grant's claim submission deadline.
func SetClaimsDeadline(ctx context.Context, d Deps, env Envelope, in SetClaimsDeadlineInput) (SetClaimsDeadlineResult, error) {
	plan := LockPlan{GrantIDs: []string{in.GrantID}}
	return runCommand(ctx, d, env, "set_claims_deadline:"+in.GrantID+":"+in.Deadline.Format(time.RFC3339), plan, func(ctx context.Context) (SetClaimsDeadlineResult, error) {
		if err := requireCycleOpen(ctx, d, in.CycleID, "GRANT_CLAIMS_DEADLINE_SET"); err != nil {
			return SetClaimsDeadlineResult{}, err
		}
		ev, err := buildEvent(d, env, "GRANT", in.GrantID, "GRANT_CLAIMS_DEADLINE_SET", map[string]any{
			"deadline": in.Deadline.Format(time.RFC3339),
		}, in.CycleID, nil)
		if err != nil {
			return SetClaimsDeadlineResult{}, err
		}
		if _, err := appendAndApply(ctx, d, ev); err != nil {
			return SetClaimsDeadlineResult{}, err
		}
		return SetClaimsDeadlineResult{GrantID: in.GrantID}, nil
	})
}

// SetReimbursementRateInput sets the rate applied to eligible claim
// amounts.
type SetReimbursementRateInput struct {
	GrantID string
	CycleID string
	RateNum int64
	RateDen int64
}

// SetReimbursementRateResult is the response cached against the
// idempotency key.
type SetReimbursementRateResult struct {
	GrantID string `json:"grant_id"`
}

// SetReimbursementRate records a grant's reimbursement rate.
func SetReimbursementRate(ctx context.Context, d Deps, env Envelope, in SetReimbursementRateInput) (SetReimbursementRateResult, error) {
	plan := LockPlan{GrantIDs: []string{in.GrantID}}
	return runCommand(ctx, d, env, "set_rate:"+in.GrantID, plan, func(ctx context.Context) (SetReimbursementRateResult, error) {
		if err := requireCycleOpen(ctx, d, in.CycleID, "GRANT_REIMBURSEMENT_RATE_SET"); err != nil {
			return SetReimbursementRateResult{}, err
		}
		ev, err := buildEvent(d, env, "GRANT", in.GrantID, "GRANT_REIMBURSEMENT_RATE_SET", map[string]any{
			"rate_num": int(in.RateNum),
			"rate_den": int(in.RateDen),
		}, in.CycleID, nil)
		if err != nil {
			return SetReimbursementRateResult{}, err
		}
		if _, err := appendAndApply(ctx, d, ev); err != nil {
			return SetReimbursementRateResult{}, err
		}
		return SetReimbursementRateResult{GrantID: in.GrantID}, nil
	})
}

// RecordMatchingInput records a delta against a grant's committed and
// reported matching funds.
type RecordMatchingInput struct {
	GrantID        string
	CycleID        string
	CommittedDelta money.Cents
	ReportedDelta  money.Cents
}

// RecordMatchingResult is the response cached against the idempotency
// key.
type RecordMatchingResult struct {
	GrantID string `json:"grant_id"`
}

// RecordMatching records a matching-funds commitment or report against
// a grant (spec.md §3.3).
func RecordMatching(ctx context.Context, d Deps, env Envelope, in RecordMatchingInput) (RecordMatchingResult, error) {
	plan := LockPlan{GrantIDs: []string{in.GrantID}}
	return runCommand(ctx, d, env, "record_matching:"+in.GrantID+":"+in.CommittedDelta.String()+":"+in.ReportedDelta.String(), plan, func(ctx context.Context) (RecordMatchingResult, error) {
		if err := requireCycleOpen(ctx, d, in.CycleID, "GRANT_MATCHING_RECORDED"); err != nil {
			return RecordMatchingResult{}, err
		}
		ev, err := buildEvent(d, env, "GRANT", in.GrantID, "GRANT_MATCHING_RECORDED", map[string]any{
			"committed_cents": in.CommittedDelta.String(),
			"reported_cents":  in.ReportedDelta.String(),
		}, in.CycleID, nil)
		if err != nil {
			return RecordMatchingResult{}, err
		}
		if _, err := appendAndApply(ctx, d, ev); err != nil {
			return RecordMatchingResult{}, err
		}
		return RecordMatchingResult{GrantID: in.GrantID}, nil
	})
}
