package commands

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/wvsnp/grantcore/internal/apperrors"
)

const filingTimeLayout = time.RFC3339

// RegisterBreederFilingInput opens a new compliance filing deadline for
// a clinic.
type RegisterBreederFilingInput struct {
	ClinicID       string
	DueAt          time.Time
	CurePeriodDays int
}

// RegisterBreederFilingResult is the response cached against the
// idempotency key.
type RegisterBreederFilingResult struct {
	FilingID string `json:"filing_id"`
}

// RegisterBreederFiling opens a filing deadline the compliance sweep
// will later recompute ON_TIME/DUE_SOON/OVERDUE/CURED against (spec.md
// §4.8).
func RegisterBreederFiling(ctx context.Context, d Deps, env Envelope, in RegisterBreederFilingInput) (RegisterBreederFilingResult, error) {
	filingID := uuid.NewString()
	plan := LockPlan{FilingIDs: []string{filingID}}
	return runCommand(ctx, d, env, "register_breeder_filing:"+env.IdempotencyKey, plan, func(ctx context.Context) (RegisterBreederFilingResult, error) {
		ev, err := buildEvent(d, env, "BREEDER_FILING", filingID, "BREEDER_FILING_REGISTERED", map[string]any{
			"clinic_id":        in.ClinicID,
			"due_at":           in.DueAt.Format(filingTimeLayout),
			"cure_period_days": in.CurePeriodDays,
		}, "", nil)
		if err != nil {
			return RegisterBreederFilingResult{}, err
		}
		if _, err := appendAndApply(ctx, d, ev); err != nil {
			return RegisterBreederFilingResult{}, err
		}
		return RegisterBreederFilingResult{FilingID: filingID}, nil
	})
}

// SubmitBreederFilingInput records a filing submission.
type SubmitBreederFilingInput struct {
	FilingID    string
	SubmittedAt time.Time
}

// SubmitBreederFilingResult is the response cached against the
// idempotency key.
type SubmitBreederFilingResult struct {
	FilingID string `json:"filing_id"`
}

// SubmitBreederFiling records the time a clinic submitted a filing.
func SubmitBreederFiling(ctx context.Context, d Deps, env Envelope, in SubmitBreederFilingInput) (SubmitBreederFilingResult, error) {
	plan := LockPlan{FilingIDs: []string{in.FilingID}}
	return runCommand(ctx, d, env, "submit_breeder_filing:"+in.FilingID+":"+env.IdempotencyKey, plan, func(ctx context.Context) (SubmitBreederFilingResult, error) {
		if _, found, err := d.Stores.Filings.Get(ctx, in.FilingID); err != nil {
			return SubmitBreederFilingResult{}, err
		} else if !found {
			return SubmitBreederFilingResult{}, apperrors.New(apperrors.FilingNotFound, "filing not found: "+in.FilingID)
		}

		ev, err := buildEvent(d, env, "BREEDER_FILING", in.FilingID, "BREEDER_FILING_SUBMITTED", map[string]any{
			"submitted_at": in.SubmittedAt.Format(filingTimeLayout),
		}, "", nil)
		if err != nil {
			return SubmitBreederFilingResult{}, err
		}
		if _, err := appendAndApply(ctx, d, ev); err != nil {
			return SubmitBreederFilingResult{}, err
		}
		return SubmitBreederFilingResult{FilingID: in.FilingID}, nil
	})
}

// CureBreederFilingInput records a late filing cured within its cure
// period.
type CureBreederFilingInput struct {
	FilingID string
	CuredAt  time.Time
}

// CureBreederFilingResult is the response cached against the
// idempotency key.
type CureBreederFilingResult struct {
	FilingID string `json:"filing_id"`
}

// CureBreederFiling records a cure, bringing an OVERDUE filing back to
// CURED when the cure falls within its cure period; the projection
// recomputes status as the event is applied.
func CureBreederFiling(ctx context.Context, d Deps, env Envelope, in CureBreederFilingInput) (CureBreederFilingResult, error) {
	plan := LockPlan{FilingIDs: []string{in.FilingID}}
	return runCommand(ctx, d, env, "cure_breeder_filing:"+in.FilingID+":"+env.IdempotencyKey, plan, func(ctx context.Context) (CureBreederFilingResult, error) {
		if _, found, err := d.Stores.Filings.Get(ctx, in.FilingID); err != nil {
			return CureBreederFilingResult{}, err
		} else if !found {
			return CureBreederFilingResult{}, apperrors.New(apperrors.FilingNotFound, "filing not found: "+in.FilingID)
		}

		ev, err := buildEvent(d, env, "BREEDER_FILING", in.FilingID, "BREEDER_FILING_CURED", map[string]any{
			"cured_at": in.CuredAt.Format(filingTimeLayout),
		}, "", nil)
		if err != nil {
			return CureBreederFilingResult{}, err
		}
		if _, err := appendAndApply(ctx, d, ev); err != nil {
			return CureBreederFilingResult{}, err
		}
		return CureBreederFilingResult{FilingID: in.FilingID}, nil
	})
}
