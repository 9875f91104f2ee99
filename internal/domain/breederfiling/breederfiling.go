// Package breederfiling computes compliance status for breeder filing
// deadlines as a pure function of due/submitted/cured times relative to
// now, used by the compliance sweep (spec §4.8).
package breederfiling

import "time"

// Status is the compliance status of a filing.
type Status string

const (
	StatusOnTime   Status = "ON_TIME"
	StatusDueSoon  Status = "DUE_SOON"
	StatusOverdue  Status = "OVERDUE"
	StatusCured    Status = "CURED"
)

// dueSoonWindow is how far before the due date a filing enters DUE_SOON.
const dueSoonWindow = 3 * 24 * time.Hour

// State is the full BreederFiling aggregate state.
type State struct {
	FilingID       string
	ClinicID       string
	DueAt          time.Time
	SubmittedAt    *time.Time
	CuredAt        *time.Time
	CurePeriodDays int
	Status         Status
}

// Initial returns an empty filing before any events are folded.
func Initial(filingID string) State {
	return State{FilingID: filingID}
}

// Recompute derives the compliance status of a filing as a pure
// function of (dueAt, submittedAt, curedAt, curePeriodDays, now).
//
// A filing is CURED if it was cured, or submitted, within the cure
// window after its due date. Otherwise it is ON_TIME if submitted by
// the due date, DUE_SOON within the window before the due date if not
// yet submitted, and OVERDUE past the due date without submission or
// cure.
func Recompute(dueAt time.Time, submittedAt, curedAt *time.Time, curePeriodDays int, now time.Time) Status {
	cureDeadline := dueAt.Add(time.Duration(curePeriodDays) * 24 * time.Hour)

	if curedAt != nil && !curedAt.After(cureDeadline) {
		return StatusCured
	}
	if submittedAt != nil {
		if !submittedAt.After(dueAt) {
			return StatusOnTime
		}
		if !submittedAt.After(cureDeadline) {
			return StatusCured
		}
		return StatusOverdue
	}
	if now.After(dueAt) {
		return StatusOverdue
	}
	if !now.Before(dueAt.Add(-dueSoonWindow)) {
		return StatusDueSoon
	}
	return StatusOnTime
}

// ApplyRecompute folds Recompute's result into s.Status.
func ApplyRecompute(s State, now time.Time) State {
	s.Status = Recompute(s.DueAt, s.SubmittedAt, s.CuredAt, s.CurePeriodDays, now)
	return s
}
