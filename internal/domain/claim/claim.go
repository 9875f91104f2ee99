// Package claim implements the Claim aggregate:
// SUBMITTED/APPROVED/DENIED/ADJUSTED/INVOICED with a decision basis and
// the canonical fingerprint used for submission-level dedup (spec §4.4.2).
package claim

import (
	"github.com/wvsnp/grantcore/internal/apperrors"
	"github.com/wvsnp/grantcore/internal/money"
)

// Status is the claim's lifecycle state.
type Status string

const (
	StatusSubmitted Status = "SUBMITTED"
	StatusApproved  Status = "APPROVED"
	StatusDenied    Status = "DENIED"
	StatusAdjusted  Status = "ADJUSTED"
	StatusInvoiced  Status = "INVOICED"
)

// State is the full Claim aggregate state.
type State struct {
	ClaimID          string
	VoucherID        string
	ClinicID         string
	CycleID          string
	Status           Status
	Fingerprint      string
	SubmittedAmount  money.Cents
	ApprovedAmount   *money.Cents
	DecisionBasis    string
	InvoiceID        string
}

// Initial returns an empty claim before any events are folded.
func Initial(claimID string) State {
	return State{ClaimID: claimID}
}

// Submit sets a new claim's submitted state.
func Submit(s State, voucherID, clinicID, cycleID, fingerprint string, amount money.Cents) State {
	s.VoucherID = voucherID
	s.ClinicID = clinicID
	s.CycleID = cycleID
	s.Status = StatusSubmitted
	s.Fingerprint = fingerprint
	s.SubmittedAmount = amount
	return s
}

// Approve transitions SUBMITTED or ADJUSTED to APPROVED.
func Approve(s State, approvedAmount money.Cents, decisionBasis string) State {
	s.Status = StatusApproved
	s.ApprovedAmount = &approvedAmount
	s.DecisionBasis = decisionBasis
	return s
}

// Deny transitions SUBMITTED or ADJUSTED to DENIED.
func Deny(s State, decisionBasis string) State {
	s.Status = StatusDenied
	s.DecisionBasis = decisionBasis
	return s
}

// Invoice attaches the claim to an invoice, transitioning APPROVED to
// INVOICED.
func Invoice(s State, invoiceID string) State {
	s.Status = StatusInvoiced
	s.InvoiceID = invoiceID
	return s
}

// CanAdjudicate reports whether AdjudicateClaim may change this claim's
// state. Per spec, an adjudication attempt against any other status
// does not change state; the caller records
// CLAIM_DECISION_CONFLICT_RECORDED instead.
func CanAdjudicate(s State) bool {
	return s.Status == StatusSubmitted || s.Status == StatusAdjusted
}

// CheckInvariant verifies the claim's internal consistency.
func CheckInvariant(s State) error {
	if s.Status == StatusInvoiced && s.InvoiceID == "" {
		return apperrors.New(apperrors.BatchInvariant, "invoiced claim missing invoice_id")
	}
	if s.Status == StatusApproved && s.ApprovedAmount == nil {
		return apperrors.New(apperrors.BatchInvariant, "approved claim missing approved_amount")
	}
	return nil
}
