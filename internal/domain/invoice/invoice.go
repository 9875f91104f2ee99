// Package invoice implements the Invoice aggregate:
// DRAFT/GENERATED/SUBMITTED/PAID over a claim set, with the export
// batch reference cleared on batch rejection/void so invoices become
// eligible for a new batch (spec §4.4.2).
package invoice

import "github.com/wvsnp/grantcore/internal/money"

// Status is the invoice's lifecycle state.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusGenerated Status = "GENERATED"
	StatusSubmitted Status = "SUBMITTED"
	StatusPaid      Status = "PAID"
)

// State is the full Invoice aggregate state.
type State struct {
	InvoiceID     string
	ClinicID      string
	CycleID       string
	Status        Status
	ClaimIDs      []string
	Total         money.Cents
	BatchID       string
	PaymentCount  int
}

// Initial returns an empty invoice before any events are folded.
func Initial(invoiceID string) State {
	return State{InvoiceID: invoiceID}
}

// Draft starts a new invoice for a clinic and cycle with an initial
// claim set.
func Draft(s State, clinicID, cycleID string, claimIDs []string, total money.Cents) State {
	s.ClinicID = clinicID
	s.CycleID = cycleID
	s.Status = StatusDraft
	s.ClaimIDs = claimIDs
	s.Total = total
	return s
}

// Generate transitions DRAFT to GENERATED.
func Generate(s State) State {
	s.Status = StatusGenerated
	return s
}

// Submit transitions GENERATED to SUBMITTED, typically alongside batch
// assembly.
func Submit(s State) State {
	s.Status = StatusSubmitted
	return s
}

// AttachToBatch records which export batch claimed this invoice.
func AttachToBatch(s State, batchID string) State {
	s.BatchID = batchID
	return s
}

// ReleaseFromBatch clears the batch reference so the invoice becomes
// eligible for a new batch (called on batch REJECTED or VOIDED).
func ReleaseFromBatch(s State) State {
	s.BatchID = ""
	return s
}

// RecordPayment increments the payment count and transitions SUBMITTED
// to PAID.
func RecordPayment(s State) State {
	s.PaymentCount++
	s.Status = StatusPaid
	return s
}

// EligibleForExport reports whether this invoice may be selected into a
// new export batch.
func EligibleForExport(s State) bool {
	return s.Status == StatusSubmitted && s.BatchID == ""
}
