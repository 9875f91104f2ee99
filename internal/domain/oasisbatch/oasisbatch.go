// Package oasisbatch implements the OasisBatch aggregate state machine:
// CREATED -> FILE_RENDERED -> SUBMITTED -> {ACKNOWLEDGED, REJECTED}, with
// VOIDED reachable from any non-SUBMITTED/non-ACKNOWLEDGED state (spec §4.3).
package oasisbatch

import (
	"time"

	"github.com/wvsnp/grantcore/internal/apperrors"
	"github.com/wvsnp/grantcore/internal/ids"
	"github.com/wvsnp/grantcore/internal/money"
)

// Status is the batch's lifecycle state.
type Status string

const (
	StatusCreated      Status = "CREATED"
	StatusFileRendered Status = "FILE_RENDERED"
	StatusSubmitted    Status = "SUBMITTED"
	StatusAcknowledged Status = "ACKNOWLEDGED"
	StatusRejected     Status = "REJECTED"
	StatusVoided       Status = "VOIDED"
)

// State is the full OasisBatch aggregate state.
type State struct {
	BatchID           string
	CycleID           string
	PeriodStart       time.Time
	PeriodEnd         time.Time
	Status            Status
	Fingerprint       string
	RecordCount       int
	ControlTotal      money.Cents
	ArtifactRef       string
	ContentSHA256     string
	FormatVersion     string
	SelectionWatermark ids.Watermark
}

// Initial returns an empty batch before any events are folded.
func Initial(batchID string) State {
	return State{BatchID: batchID, FormatVersion: "OASIS-1"}
}

// Create starts a new batch selecting invoices as of selectionWatermark.
func Create(s State, cycleID string, periodStart, periodEnd time.Time, fingerprint string, selectionWatermark ids.Watermark) State {
	s.CycleID = cycleID
	s.PeriodStart = periodStart
	s.PeriodEnd = periodEnd
	s.Status = StatusCreated
	s.Fingerprint = fingerprint
	s.SelectionWatermark = selectionWatermark
	return s
}

// RenderFile records a successful render.
func RenderFile(s State, recordCount int, controlTotal money.Cents, artifactRef, contentSHA256 string) State {
	s.Status = StatusFileRendered
	s.RecordCount = recordCount
	s.ControlTotal = controlTotal
	s.ArtifactRef = artifactRef
	s.ContentSHA256 = contentSHA256
	return s
}

// Submit transitions FILE_RENDERED to SUBMITTED.
func Submit(s State) State {
	s.Status = StatusSubmitted
	return s
}

// Acknowledge transitions SUBMITTED to ACKNOWLEDGED.
func Acknowledge(s State) State {
	s.Status = StatusAcknowledged
	return s
}

// Reject transitions SUBMITTED to REJECTED. The invoice-release side
// effect is performed by the command handler, not here.
func Reject(s State) State {
	s.Status = StatusRejected
	return s
}

// Void transitions any non-SUBMITTED/non-ACKNOWLEDGED batch to VOIDED.
func Void(s State) State {
	s.Status = StatusVoided
	return s
}

// CanRenderFile reports whether RenderExportFile may run. Re-rendering
// an already-rendered batch is idempotent, not an error; the command
// handler checks for that case separately and returns the stored
// artifact instead of calling this guard twice.
func CanRenderFile(s State) (allowed bool, reason string) {
	if s.Status != StatusCreated {
		return false, "batch not in CREATED status"
	}
	return true, ""
}

// CanSubmit reports whether the batch may be submitted to OASIS.
func CanSubmit(s State) (allowed bool, reason string) {
	if s.Status != StatusFileRendered {
		return false, "batch has not been rendered"
	}
	return true, ""
}

// CanAcknowledgeOrReject reports whether an ack/reject decision may be
// recorded.
func CanAcknowledgeOrReject(s State) (allowed bool, reason string) {
	if s.Status != StatusSubmitted {
		return false, "batch is not awaiting a submission decision"
	}
	return true, ""
}

// CanVoid reports whether the batch may be voided.
func CanVoid(s State) (allowed bool, reason string) {
	switch s.Status {
	case StatusSubmitted:
		return false, "submitted batch can only be acknowledged or rejected"
	case StatusAcknowledged:
		return false, "batch already acknowledged"
	case StatusVoided:
		return false, "batch already voided"
	default:
		return true, ""
	}
}

// ReleasesInvoices reports whether entering status releases the
// batch's invoices (clears their batch reference).
func ReleasesInvoices(status Status) bool {
	return status == StatusRejected || status == StatusVoided
}

// CheckInvariant verifies the batch's rendered metrics are consistent.
func CheckInvariant(s State) error {
	if s.Status == StatusFileRendered || s.Status == StatusSubmitted || s.Status == StatusAcknowledged {
		if s.RecordCount < 0 || s.ControlTotal.Negative() {
			return apperrors.New(apperrors.BatchInvariant, "batch record count or control total is negative")
		}
		if s.ContentSHA256 == "" {
			return apperrors.New(apperrors.BatchInvariant, "rendered batch missing content hash")
		}
	}
	return nil
}
