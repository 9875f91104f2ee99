package commands

import (
	"context"

	"github.com/wvsnp/grantcore/internal/apperrors"
	"github.com/wvsnp/grantcore/internal/domain/claim"
	"github.com/wvsnp/grantcore/internal/domain/closeout"
	"github.com/wvsnp/grantcore/internal/domain/grant"
	"github.com/wvsnp/grantcore/internal/domain/invoice"
	"github.com/wvsnp/grantcore/internal/domain/oasisbatch"
	"github.com/wvsnp/grantcore/internal/money"
)

// RunPreflightInput names the cycle (and its owning grant, needed for
// the matching-funds check since GrantStore has no cycle index) to
// evaluate the six closeout preflight checks against.
type RunPreflightInput struct {
	CycleID string
	GrantID string
}

// RunPreflightResult is the response cached against the idempotency
// key.
type RunPreflightResult struct {
	CycleID string                    `json:"cycle_id"`
	Passed  bool                      `json:"passed"`
	Checks  []closeout.PreflightCheck `json:"checks"`
}

// RunPreflight evaluates the six named preflight checks directly
// against the projections and records the result. A failed preflight
// is recorded, not rejected: RunPreflight always succeeds, the
// resulting PREFLIGHT_FAILED status is what blocks Reconcile/Close.
func RunPreflight(ctx context.Context, d Deps, env Envelope, in RunPreflightInput) (RunPreflightResult, error) {
	plan := LockPlan{CloseoutIDs: []string{in.CycleID}}
	return runCommand(ctx, d, env, "run_preflight:"+in.CycleID+":"+env.IdempotencyKey, plan, func(ctx context.Context) (RunPreflightResult, error) {
		checks, err := evaluatePreflight(ctx, d, in.CycleID, in.GrantID)
		if err != nil {
			return RunPreflightResult{}, err
		}

		checksAny := make([]any, len(checks))
		for i, c := range checks {
			checksAny[i] = map[string]any{"name": c.Name, "passed": c.Passed}
		}

		ev, err := buildEvent(d, env, "CLOSEOUT", in.CycleID, "GRANT_CYCLE_CLOSEOUT_PREFLIGHT_COMPLETED", map[string]any{
			"checks": checksAny,
		}, in.CycleID, nil)
		if err != nil {
			return RunPreflightResult{}, err
		}
		if _, err := appendAndApply(ctx, d, ev); err != nil {
			return RunPreflightResult{}, err
		}

		return RunPreflightResult{CycleID: in.CycleID, Passed: allPassed(checks), Checks: checks}, nil
	})
}

func allPassed(checks []closeout.PreflightCheck) bool {
	for _, c := range checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// evaluatePreflight computes the six checks named in spec.md §4.7. No
// adjustment aggregate exists in this cut (claim corrections are
// modeled as a claim status transition to ADJUSTED, not a separate
// entity with its own target_invoice), so NO_PENDING_ADJUSTMENTS is
// vacuously true.
func evaluatePreflight(ctx context.Context, d Deps, cycleID, grantID string) ([]closeout.PreflightCheck, error) {
	claims, err := d.Stores.Claims.ListForCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	allApprovedInvoiced := true
	for _, c := range claims {
		if c.Status == claim.StatusApproved && c.InvoiceID == "" {
			allApprovedInvoiced = false
			break
		}
	}

	invoices, err := d.Stores.Invoices.ListForCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	allSubmittedExported := true
	allPaymentsRecorded := true
	for _, inv := range invoices {
		if inv.Status != invoice.StatusSubmitted {
			continue
		}
		if inv.BatchID == "" {
			allSubmittedExported = false
		}
		if inv.PaymentCount == 0 {
			allPaymentsRecorded = false
		}
	}

	batches, err := d.Stores.Batches.ListForCycle(ctx, cycleID)
	if err != nil {
		return nil, err
	}
	allBatchesAcknowledged := true
	for _, b := range batches {
		if b.Status != oasisbatch.StatusAcknowledged && b.Status != oasisbatch.StatusVoided {
			allBatchesAcknowledged = false
			break
		}
	}

	matchingReported := true
	if grantID != "" {
		_, matching, _, found, err := d.Stores.Grants.GetBucket(ctx, grantID, grant.BucketGeneral)
		if err != nil {
			return nil, err
		}
		if found && matching.Reported < matching.Committed {
			matchingReported = false
		}
	}

	return []closeout.PreflightCheck{
		{Name: "ALL_APPROVED_CLAIMS_INVOICED", Passed: allApprovedInvoiced},
		{Name: "ALL_SUBMITTED_INVOICES_EXPORTED", Passed: allSubmittedExported},
		{Name: "ALL_EXPORT_BATCHES_ACKNOWLEDGED", Passed: allBatchesAcknowledged},
		{Name: "ALL_PAYMENTS_RECORDED", Passed: allPaymentsRecorded},
		{Name: "NO_PENDING_ADJUSTMENTS", Passed: true},
		{Name: "MATCHING_FUNDS_REPORTED", Passed: matchingReported},
	}, nil
}

// StartCloseoutInput names the cycle to move from PREFLIGHT_PASSED to
// STARTED.
type StartCloseoutInput struct {
	CycleID string
}

// StartCloseoutResult is the response cached against the idempotency
// key.
type StartCloseoutResult struct {
	CycleID string `json:"cycle_id"`
}

// StartCloseout begins the closeout of a cycle whose preflight passed.
func StartCloseout(ctx context.Context, d Deps, env Envelope, in StartCloseoutInput) (StartCloseoutResult, error) {
	plan := LockPlan{CloseoutIDs: []string{in.CycleID}}
	return runCommand(ctx, d, env, "start_closeout:"+in.CycleID, plan, func(ctx context.Context) (StartCloseoutResult, error) {
		state, found, err := d.Stores.Closeouts.Get(ctx, in.CycleID)
		if err != nil {
			return StartCloseoutResult{}, err
		}
		if !found || state.Status != closeout.StatusPreflightPassed {
			return StartCloseoutResult{}, apperrors.New(apperrors.PreflightNotPassed, "cycle "+in.CycleID+" has not passed preflight")
		}

		ev, err := buildEvent(d, env, "CLOSEOUT", in.CycleID, "GRANT_CYCLE_CLOSEOUT_STARTED", map[string]any{}, in.CycleID, nil)
		if err != nil {
			return StartCloseoutResult{}, err
		}
		if _, err := appendAndApply(ctx, d, ev); err != nil {
			return StartCloseoutResult{}, err
		}
		return StartCloseoutResult{CycleID: in.CycleID}, nil
	})
}

// ReconcileInput names the cycle and its owning grant to compute the
// financial and matching summaries over.
type ReconcileInput struct {
	CycleID string
	GrantID string
}

// ReconcileResult is the response cached against the idempotency key.
type ReconcileResult struct {
	CycleID string `json:"cycle_id"`
	Unspent string `json:"unspent_cents"`
}

// Reconcile computes the financial and matching summaries for a
// STARTED cycle's grant and records them, transitioning the cycle to
// RECONCILED.
func Reconcile(ctx context.Context, d Deps, env Envelope, in ReconcileInput) (ReconcileResult, error) {
	plan := LockPlan{CloseoutIDs: []string{in.CycleID}, GrantIDs: []string{in.GrantID}}
	return runCommand(ctx, d, env, "reconcile:"+in.CycleID+":"+env.IdempotencyKey, plan, func(ctx context.Context) (ReconcileResult, error) {
		state, found, err := d.Stores.Closeouts.Get(ctx, in.CycleID)
		if err != nil {
			return ReconcileResult{}, err
		}
		if !found || state.Status != closeout.StatusStarted {
			return ReconcileResult{}, apperrors.New(apperrors.CycleNotStarted, "cycle "+in.CycleID+" is not STARTED")
		}

		var awarded, liquidated, released money.Cents
		var matching grant.Matching
		for _, bucket := range []grant.Bucket{grant.BucketGeneral, grant.BucketLIRP} {
			bal, m, _, bucketFound, err := d.Stores.Grants.GetBucket(ctx, in.GrantID, bucket)
			if err != nil {
				return ReconcileResult{}, err
			}
			if !bucketFound {
				continue
			}
			awarded = awarded.Add(bal.Awarded)
			liquidated = liquidated.Add(bal.Liquidated)
			released = released.Add(bal.Released)
			matching = m
		}
		unspent := awarded.Sub(liquidated).Sub(released)

		ev, err := buildEvent(d, env, "CLOSEOUT", in.CycleID, "GRANT_CYCLE_CLOSEOUT_RECONCILED", map[string]any{
			"awarded_cents":             awarded.String(),
			"liquidated_cents":          liquidated.String(),
			"released_cents":            released.String(),
			"unspent_cents":             unspent.String(),
			"matching_committed_cents":  matching.Committed.String(),
			"matching_reported_cents":   matching.Reported.String(),
		}, in.CycleID, nil)
		if err != nil {
			return ReconcileResult{}, err
		}
		if _, err := appendAndApply(ctx, d, ev); err != nil {
			return ReconcileResult{}, err
		}
		return ReconcileResult{CycleID: in.CycleID, Unspent: unspent.String()}, nil
	})
}

// EnterAuditHoldInput names the cycle to hold.
type EnterAuditHoldInput struct {
	CycleID string
	Reason  string
}

// EnterAuditHoldResult is the response cached against the idempotency
// key.
type EnterAuditHoldResult struct {
	CycleID string `json:"cycle_id"`
}

// EnterAuditHold places a RECONCILED cycle under audit hold, blocking
// CloseCycle until resolved.
func EnterAuditHold(ctx context.Context, d Deps, env Envelope, in EnterAuditHoldInput) (EnterAuditHoldResult, error) {
	plan := LockPlan{CloseoutIDs: []string{in.CycleID}}
	return runCommand(ctx, d, env, "enter_audit_hold:"+in.CycleID+":"+env.IdempotencyKey, plan, func(ctx context.Context) (EnterAuditHoldResult, error) {
		ev, err := buildEvent(d, env, "CLOSEOUT", in.CycleID, "GRANT_CYCLE_CLOSEOUT_AUDIT_HOLD", map[string]any{
			"reason": in.Reason,
		}, in.CycleID, nil)
		if err != nil {
			return EnterAuditHoldResult{}, err
		}
		if _, err := appendAndApply(ctx, d, ev); err != nil {
			return EnterAuditHoldResult{}, err
		}
		return EnterAuditHoldResult{CycleID: in.CycleID}, nil
	})
}

// ResolveAuditHoldInput names the cycle to release from hold.
type ResolveAuditHoldInput struct {
	CycleID string
}

// ResolveAuditHoldResult is the response cached against the
// idempotency key.
type ResolveAuditHoldResult struct {
	CycleID string `json:"cycle_id"`
}

// ResolveAuditHold restores an audit-held cycle to the status it held
// before EnterAuditHold.
func ResolveAuditHold(ctx context.Context, d Deps, env Envelope, in ResolveAuditHoldInput) (ResolveAuditHoldResult, error) {
	plan := LockPlan{CloseoutIDs: []string{in.CycleID}}
	return runCommand(ctx, d, env, "resolve_audit_hold:"+in.CycleID+":"+env.IdempotencyKey, plan, func(ctx context.Context) (ResolveAuditHoldResult, error) {
		state, found, err := d.Stores.Closeouts.Get(ctx, in.CycleID)
		if err != nil {
			return ResolveAuditHoldResult{}, err
		}
		if !found || state.Status != closeout.StatusAuditHold {
			return ResolveAuditHoldResult{}, apperrors.New(apperrors.CycleNotUnderAuditHold, "cycle "+in.CycleID+" is not under audit hold")
		}

		ev, err := buildEvent(d, env, "CLOSEOUT", in.CycleID, "GRANT_CYCLE_CLOSEOUT_AUDIT_RESOLVED", map[string]any{}, in.CycleID, nil)
		if err != nil {
			return ResolveAuditHoldResult{}, err
		}
		if _, err := appendAndApply(ctx, d, ev); err != nil {
			return ResolveAuditHoldResult{}, err
		}
		return ResolveAuditHoldResult{CycleID: in.CycleID}, nil
	})
}

// CloseCycleInput names the cycle to close and who closed it.
type CloseCycleInput struct {
	CycleID  string
	ClosedBy string
}

// CloseCycleResult is the response cached against the idempotency
// key.
type CloseCycleResult struct {
	CycleID       string `json:"cycle_id"`
	FinalBalance  string `json:"final_balance_cents"`
}

// CloseCycle closes a RECONCILED, non-audit-held cycle. Once CLOSED,
// only the events in closeout.IsPostCloseAllowed may still be written
// against it (spec.md §4.7).
func CloseCycle(ctx context.Context, d Deps, env Envelope, in CloseCycleInput) (CloseCycleResult, error) {
	plan := LockPlan{CloseoutIDs: []string{in.CycleID}}
	return runCommand(ctx, d, env, "close_cycle:"+in.CycleID+":"+env.IdempotencyKey, plan, func(ctx context.Context) (CloseCycleResult, error) {
		state, found, err := d.Stores.Closeouts.Get(ctx, in.CycleID)
		if err != nil {
			return CloseCycleResult{}, err
		}
		if !found {
			return CloseCycleResult{}, apperrors.New(apperrors.CloseoutNotFound, "cycle not found: "+in.CycleID)
		}
		if allowed, reason := closeout.CanClose(state); !allowed {
			return CloseCycleResult{}, apperrors.New(apperrors.PreflightNotPassed, reason)
		}

		ev, err := buildEvent(d, env, "CLOSEOUT", in.CycleID, "GRANT_CYCLE_CLOSED", map[string]any{
			"closed_by": in.ClosedBy,
		}, in.CycleID, nil)
		if err != nil {
			return CloseCycleResult{}, err
		}
		if _, err := appendAndApply(ctx, d, ev); err != nil {
			return CloseCycleResult{}, err
		}
		return CloseCycleResult{CycleID: in.CycleID, FinalBalance: state.Financial.Unspent.String()}, nil
	})
}
