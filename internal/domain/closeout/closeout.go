// Package closeout implements the per-cycle Closeout aggregate state
// machine: NOT_STARTED -> {PREFLIGHT_PASSED, PREFLIGHT_FAILED} ->
// STARTED -> RECONCILED -> CLOSED, with an AUDIT_HOLD detour from and
// back to RECONCILED (spec §4.3, §4.7).
package closeout

import (
	"github.com/wvsnp/grantcore/internal/apperrors"
	"github.com/wvsnp/grantcore/internal/money"
)

// Status is the closeout's lifecycle state.
type Status string

const (
	StatusNotStarted      Status = "NOT_STARTED"
	StatusPreflightFailed Status = "PREFLIGHT_FAILED"
	StatusPreflightPassed Status = "PREFLIGHT_PASSED"
	StatusStarted         Status = "STARTED"
	StatusReconciled      Status = "RECONCILED"
	StatusAuditHold       Status = "AUDIT_HOLD"
	StatusClosed          Status = "CLOSED"
)

// PreflightCheck is a single named boolean check in the preflight list.
type PreflightCheck struct {
	Name   string
	Passed bool
}

// FinancialSummary is the awarded/liquidated/released/unspent tuple
// whose arithmetic invariant gates CLOSED.
type FinancialSummary struct {
	Awarded    money.Cents
	Liquidated money.Cents
	Released   money.Cents
	Unspent    money.Cents
}

// MatchingSummary mirrors the grant's matching-funds shortfall/surplus.
type MatchingSummary struct {
	Committed money.Cents
	Reported  money.Cents
}

// State is the full Closeout aggregate state.
type State struct {
	CycleID            string
	Status             Status
	PreAuditHoldStatus Status
	PreflightChecks    []PreflightCheck
	Financial          FinancialSummary
	Matching           MatchingSummary
	ClosedBy           string
}

// Initial returns a fresh, not-yet-started closeout.
func Initial(cycleID string) State {
	return State{CycleID: cycleID, Status: StatusNotStarted}
}

// RecordPreflight sets the preflight check list and transitions to
// PREFLIGHT_PASSED or PREFLIGHT_FAILED depending on whether every check
// passed.
func RecordPreflight(s State, checks []PreflightCheck) State {
	s.PreflightChecks = checks
	if allPassed(checks) {
		s.Status = StatusPreflightPassed
	} else {
		s.Status = StatusPreflightFailed
	}
	return s
}

func allPassed(checks []PreflightCheck) bool {
	for _, c := range checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// Start transitions PREFLIGHT_PASSED to STARTED.
func Start(s State) State {
	s.Status = StatusStarted
	return s
}

// Reconcile records the financial/matching summaries and transitions
// STARTED to RECONCILED.
func Reconcile(s State, financial FinancialSummary, matching MatchingSummary) State {
	s.Financial = financial
	s.Matching = matching
	s.Status = StatusReconciled
	return s
}

// EnterAuditHold transitions RECONCILED into AUDIT_HOLD, remembering
// the status to restore on resolution.
func EnterAuditHold(s State) State {
	s.PreAuditHoldStatus = s.Status
	s.Status = StatusAuditHold
	return s
}

// ResolveAuditHold restores the status recorded when AUDIT_HOLD was
// entered.
func ResolveAuditHold(s State) State {
	s.Status = s.PreAuditHoldStatus
	s.PreAuditHoldStatus = ""
	return s
}

// Close transitions RECONCILED to CLOSED.
func Close(s State, closedBy string) State {
	s.Status = StatusClosed
	s.ClosedBy = closedBy
	return s
}

// CanClose reports whether CloseCycle may run: the cycle must be
// RECONCILED and not under AUDIT_HOLD.
func CanClose(s State) (allowed bool, reason string) {
	if s.Status == StatusAuditHold {
		return false, "cycle is under audit hold"
	}
	if s.Status != StatusReconciled {
		return false, "cycle is not reconciled"
	}
	return true, ""
}

// CheckInvariant enforces the closeout financial invariant
// (awarded = liquidated + released + unspent) wherever the state
// machine requires it: RECONCILED and CLOSED.
func CheckInvariant(s State) error {
	if s.Status != StatusReconciled && s.Status != StatusClosed {
		return nil
	}
	f := s.Financial
	if f.Awarded != f.Liquidated.Add(f.Released).Add(f.Unspent) {
		return apperrors.New(apperrors.CloseoutInvariant, "awarded != liquidated+released+unspent")
	}
	return nil
}

// postCloseAllowList names event types permitted on a closed cycle.
var postCloseAllowList = map[string]bool{
	"PAYMENT_RECORDED":                    true,
	"OASIS_EXPORT_BATCH_SUBMITTED":        true,
	"OASIS_EXPORT_BATCH_ACKNOWLEDGED":     true,
	"OASIS_EXPORT_BATCH_REJECTED":         true,
	"OASIS_EXPORT_BATCH_VOIDED":           true,
	"GRANT_CYCLE_CLOSEOUT_AUDIT_HOLD":     true,
	"GRANT_CYCLE_CLOSEOUT_AUDIT_RESOLVED": true,
	"ARTIFACT_ATTACHED":                   true,
}

// IsPostCloseAllowed reports whether eventType may be emitted against a
// CLOSED cycle.
func IsPostCloseAllowed(eventType string) bool {
	return postCloseAllowList[eventType]
}
