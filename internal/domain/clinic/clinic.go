// Package clinic implements the Clinic aggregate: ACTIVE/SUSPENDED
// status plus a license validity window checked as of a service date,
// never as of "now" (spec §4.4.2).
package clinic

import "time"

// Status is the clinic's operating status.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusSuspended Status = "SUSPENDED"
)

// State is the full Clinic aggregate state.
type State struct {
	ClinicID         string
	Status           Status
	LicenseNumber    string
	LicenseStatus    string
	LicenseExpiresAt time.Time
	OasisVendorCode  string
	PaymentInfoRef   string
}

// Initial returns an empty clinic before any events are folded.
func Initial(clinicID string) State {
	return State{ClinicID: clinicID}
}

// Activate sets the clinic active with the given license and vendor
// details.
func Activate(s State, licenseNumber, licenseStatus string, licenseExpiresAt time.Time, oasisVendorCode string) State {
	s.Status = StatusActive
	s.LicenseNumber = licenseNumber
	s.LicenseStatus = licenseStatus
	s.LicenseExpiresAt = licenseExpiresAt
	s.OasisVendorCode = oasisVendorCode
	return s
}

// Suspend transitions the clinic to SUSPENDED.
func Suspend(s State) State {
	s.Status = StatusSuspended
	return s
}

// LicenseValidAsOf reports whether the clinic's license is valid as of
// the given business date (typically a claim's dateOfService, not the
// current time).
func LicenseValidAsOf(s State, asOf time.Time) bool {
	return !asOf.After(s.LicenseExpiresAt)
}

// CanAcceptClaimFor reports whether a claim dated dateOfService may be
// submitted against this clinic.
func CanAcceptClaimFor(s State, dateOfService time.Time) (allowed bool, reason string) {
	if s.Status != StatusActive {
		return false, "clinic is not active"
	}
	if !LicenseValidAsOf(s, dateOfService) {
		return false, "clinic license invalid as of the service date"
	}
	return true, ""
}
