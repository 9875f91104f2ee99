package commands

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/wvsnp/grantcore/internal/apperrors"
	"github.com/wvsnp/grantcore/internal/domain/claim"
	"github.com/wvsnp/grantcore/internal/domain/clinic"
	"github.com/wvsnp/grantcore/internal/domain/grant"
	"github.com/wvsnp/grantcore/internal/domain/voucher"
	"github.com/wvsnp/grantcore/internal/fingerprint"
	"github.com/wvsnp/grantcore/internal/money"
)

// RequiredArtifacts names the document references SubmitClaim must
// verify are present per spec.md §4.4 step 5 before accepting a claim.
type RequiredArtifacts struct {
	ProcedureReportRef string
	ClinicInvoiceRef   string
	RabiesCertRef      string
	CopayReceiptRef    string
}

// SubmitClaimInput is the full set of business fields a claim
// submission carries.
type SubmitClaimInput struct {
	VoucherID       string
	ClinicID        string
	ProcedureCode   string
	DateOfService   string
	RabiesIncluded  bool
	CopayCents      money.Cents
	SubmittedAmount money.Cents
	Artifacts       RequiredArtifacts

	// FraudSignals are advisory labels a caller's upstream fraud checks
	// attached to this submission (e.g. "duplicate_rabies_cert",
	// "clinic_velocity"). They ride along on CLAIM_SUBMITTED for later
	// review; they never block or gate the submission itself.
	FraudSignals []string
}

// SubmitClaimResult is the response cached against the idempotency key.
// DuplicateDetected is set, not an error, when an identical fingerprint
// was already submitted in this cycle (spec.md §4.4.2).
type SubmitClaimResult struct {
	ClaimID           string `json:"claim_id"`
	DuplicateDetected bool   `json:"duplicate_detected"`
}

// SubmitClaim validates a reimbursement claim against its voucher,
// clinic, and grant window, dedups by fingerprint, and emits
// CLAIM_SUBMITTED.
func SubmitClaim(ctx context.Context, d Deps, env Envelope, in SubmitClaimInput) (SubmitClaimResult, error) {
	plan := LockPlan{VoucherIDs: []string{in.VoucherID}, ClinicIDs: []string{in.ClinicID}}
	return runCommand(ctx, d, env, "submit_claim:"+env.IdempotencyKey, plan, func(ctx context.Context) (SubmitClaimResult, error) {
		fp, err := fingerprint.Claim(fingerprint.ClaimInput{
			VoucherID:      in.VoucherID,
			ClinicID:       in.ClinicID,
			ProcedureCode:  in.ProcedureCode,
			DateOfService:  in.DateOfService,
			RabiesIncluded: in.RabiesIncluded,
		})
		if err != nil {
			return SubmitClaimResult{}, err
		}

		v, found, err := d.Stores.Vouchers.Get(ctx, in.VoucherID)
		if err != nil {
			return SubmitClaimResult{}, err
		}
		if !found {
			return SubmitClaimResult{}, apperrors.New(apperrors.VoucherNotFound, "voucher not found: "+in.VoucherID)
		}

		if existing, found, err := d.Stores.Claims.GetByFingerprint(ctx, fp, v.CycleID); err != nil {
			return SubmitClaimResult{}, err
		} else if found {
			return SubmitClaimResult{ClaimID: existing.ClaimID, DuplicateDetected: true}, nil
		}

		if err := requireCycleOpen(ctx, d, v.CycleID, "CLAIM_SUBMITTED"); err != nil {
			return SubmitClaimResult{}, err
		}

		if len(in.DateOfService) < 10 {
			return SubmitClaimResult{}, apperrors.New(apperrors.InvalidDateFormat, "dateOfService must begin with YYYY-MM-DD")
		}
		dateOfService, err := time.Parse("2006-01-02", in.DateOfService[:10])
		if err != nil {
			return SubmitClaimResult{}, apperrors.New(apperrors.InvalidDateFormat, "dateOfService must begin with YYYY-MM-DD")
		}

		if allowed, reason := voucher.CanRedeem(v, dateOfService); !allowed {
			return SubmitClaimResult{}, apperrors.New(apperrors.VoucherNotValid, reason)
		}

		c, found, err := d.Stores.Clinics.Get(ctx, in.ClinicID)
		if err != nil {
			return SubmitClaimResult{}, err
		}
		if !found {
			return SubmitClaimResult{}, apperrors.New(apperrors.ClinicNotFound, "clinic not found: "+in.ClinicID)
		}
		if allowed, reason := clinic.CanAcceptClaimFor(c, dateOfService); !allowed {
			code := apperrors.ClinicNotActive
			if c.Status == clinic.StatusActive {
				code = apperrors.ClinicLicenseInvalidForService
			}
			return SubmitClaimResult{}, apperrors.New(code, reason)
		}

		cycleID, _, periodEnd, claimsDeadline, found, err := d.Stores.Grants.GetHeader(ctx, v.GrantID)
		if err != nil {
			return SubmitClaimResult{}, err
		}
		if found {
			header := grant.State{CycleID: cycleID, PeriodEnd: periodEnd, ClaimsDeadline: claimsDeadline}
			if !grant.IsWithinPeriod(header, dateOfService) {
				return SubmitClaimResult{}, apperrors.New(apperrors.GrantPeriodEnded, "date of service falls outside the grant's fiscal window")
			}
			if grant.IsClaimsDeadlinePassed(header, d.now()) {
				return SubmitClaimResult{}, apperrors.New(apperrors.GrantClaimsDeadlinePassed, "grant claims deadline has passed")
			}
		}

		if v.IsLIRP && in.CopayCents > 0 {
			return SubmitClaimResult{}, apperrors.New(apperrors.LIRPCopayForbidden, "LIRP vouchers forbid co-pay")
		}
		if err := checkRequiredArtifacts(in); err != nil {
			return SubmitClaimResult{}, err
		}

		fraudSignals := make([]any, len(in.FraudSignals))
		for i, s := range in.FraudSignals {
			fraudSignals[i] = s
		}

		claimID := uuid.NewString()
		ev, err := buildEvent(d, env, "CLAIM", claimID, "CLAIM_SUBMITTED", map[string]any{
			"voucher_id":             in.VoucherID,
			"clinic_id":              in.ClinicID,
			"cycle_id":               v.CycleID,
			"fingerprint":            fp,
			"submitted_amount_cents": in.SubmittedAmount.String(),
			"fraud_signals":          fraudSignals,
		}, v.CycleID, nil)
		if err != nil {
			return SubmitClaimResult{}, err
		}
		if _, err := appendAndApply(ctx, d, ev); err != nil {
			return SubmitClaimResult{}, err
		}
		return SubmitClaimResult{ClaimID: claimID}, nil
	})
}

func checkRequiredArtifacts(in SubmitClaimInput) error {
	if in.Artifacts.ProcedureReportRef == "" || in.Artifacts.ClinicInvoiceRef == "" {
		return apperrors.New(apperrors.MissingRequiredArtifacts, "procedure report and clinic invoice are required")
	}
	if in.RabiesIncluded && in.Artifacts.RabiesCertRef == "" {
		return apperrors.New(apperrors.MissingRequiredArtifacts, "rabies certificate is required when rabies is included")
	}
	if in.CopayCents > 0 && in.Artifacts.CopayReceiptRef == "" {
		return apperrors.New(apperrors.MissingRequiredArtifacts, "co-pay receipt is required when co-pay is charged")
	}
	return nil
}

// AdjudicateClaimInput records a decision against a submitted claim.
type AdjudicateClaimInput struct {
	ClaimID        string
	Approve        bool
	ApprovedAmount money.Cents
	DecisionBasis  string
}

// AdjudicateClaimResult is the response cached against the idempotency
// key. ConflictDetected is set, not an error, when the claim was not in
// a decidable status (spec.md §4.4.2).
type AdjudicateClaimResult struct {
	ClaimID          string `json:"claim_id"`
	ConflictDetected bool   `json:"conflict_detected"`
}

// AdjudicateClaim approves or denies a SUBMITTED/ADJUSTED claim. On
// approval it also liquidates the voucher's encumbered grant funds,
// causally linked to the decision event.
func AdjudicateClaim(ctx context.Context, d Deps, env Envelope, in AdjudicateClaimInput) (AdjudicateClaimResult, error) {
	plan := LockPlan{ClaimIDs: []string{in.ClaimID}}
	return runCommand(ctx, d, env, "adjudicate_claim:"+env.IdempotencyKey, plan, func(ctx context.Context) (AdjudicateClaimResult, error) {
		c, found, err := d.Stores.Claims.Get(ctx, in.ClaimID)
		if err != nil {
			return AdjudicateClaimResult{}, err
		}
		if !found {
			return AdjudicateClaimResult{}, apperrors.New(apperrors.ClaimNotFound, "claim not found: "+in.ClaimID)
		}

		if !claim.CanAdjudicate(c) {
			ev, err := buildEvent(d, env, "CLAIM", in.ClaimID, "CLAIM_DECISION_CONFLICT_RECORDED", map[string]any{
				"attempted_approve": in.Approve,
			}, c.CycleID, nil)
			if err != nil {
				return AdjudicateClaimResult{}, err
			}
			if _, err := appendAndApply(ctx, d, ev); err != nil {
				return AdjudicateClaimResult{}, err
			}
			return AdjudicateClaimResult{ClaimID: in.ClaimID, ConflictDetected: true}, nil
		}

		if err := requireCycleOpen(ctx, d, c.CycleID, "CLAIM_APPROVED"); err != nil {
			return AdjudicateClaimResult{}, err
		}

		if !in.Approve {
			ev, err := buildEvent(d, env, "CLAIM", in.ClaimID, "CLAIM_DENIED", map[string]any{
				"decision_basis": in.DecisionBasis,
			}, c.CycleID, nil)
			if err != nil {
				return AdjudicateClaimResult{}, err
			}
			if _, err := appendAndApply(ctx, d, ev); err != nil {
				return AdjudicateClaimResult{}, err
			}
			return AdjudicateClaimResult{ClaimID: in.ClaimID}, nil
		}

		v, found, err := d.Stores.Vouchers.Get(ctx, c.VoucherID)
		if err != nil {
			return AdjudicateClaimResult{}, err
		}
		if !found {
			return AdjudicateClaimResult{}, apperrors.New(apperrors.VoucherNotFound, "voucher not found: "+c.VoucherID)
		}

		// The grant bucket to liquidate is only known after resolving the
		// claim's voucher above, so it could not be named in the command's
		// initial LockPlan; lock it now, inside the same transaction,
		// before writing the event that depends on its balance.
		if err := lockAggregates(ctx, d.DB, LockPlan{GrantIDs: []string{v.GrantID}}); err != nil {
			return AdjudicateClaimResult{}, err
		}

		approveEv, err := buildEvent(d, env, "CLAIM", in.ClaimID, "CLAIM_APPROVED", map[string]any{
			"approved_amount_cents": in.ApprovedAmount.String(),
			"decision_basis":        in.DecisionBasis,
		}, c.CycleID, nil)
		if err != nil {
			return AdjudicateClaimResult{}, err
		}
		storedApprove, err := appendAndApply(ctx, d, approveEv)
		if err != nil {
			return AdjudicateClaimResult{}, err
		}

		bucket := grant.BucketFor(v.IsLIRP)
		causationID := storedApprove.EventID
		liquidateEv, err := buildEvent(d, env, "GRANT", v.GrantID, "GRANT_FUNDS_LIQUIDATED", map[string]any{
			"bucket":       string(bucket),
			"amount_cents": in.ApprovedAmount.String(),
		}, c.CycleID, &causationID)
		if err != nil {
			return AdjudicateClaimResult{}, err
		}
		if _, err := appendAndApply(ctx, d, liquidateEv); err != nil {
			return AdjudicateClaimResult{}, err
		}

		return AdjudicateClaimResult{ClaimID: in.ClaimID}, nil
	})
}
