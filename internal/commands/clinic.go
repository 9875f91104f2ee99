package commands

import (
	"context"
	"time"
)

// RegisterClinicInput activates a clinic with its license and payment
// details. Clinics are not cycle-scoped, so no closeout check applies.
type RegisterClinicInput struct {
	ClinicID         string
	LicenseNumber    string
	LicenseStatus    string
	LicenseExpiresAt time.Time
	OasisVendorCode  string
	PaymentInfoRef   string
}

// RegisterClinicResult is the response cached against the idempotency
// key.
type RegisterClinicResult struct {
	ClinicID string `json:"clinic_id"`
}

// RegisterClinic activates a clinic, or reactivates a suspended one
// with refreshed license/vendor details.
func RegisterClinic(ctx context.Context, d Deps, env Envelope, in RegisterClinicInput) (RegisterClinicResult, error) {
	plan := LockPlan{ClinicIDs: []string{in.ClinicID}}
	return runCommand(ctx, d, env, "register_clinic:"+in.ClinicID, plan, func(ctx context.Context) (RegisterClinicResult, error) {
		ev, err := buildEvent(d, env, "CLINIC", in.ClinicID, "CLINIC_REGISTERED", map[string]any{
			"license_number":     in.LicenseNumber,
			"license_status":     in.LicenseStatus,
			"license_expires_at": in.LicenseExpiresAt.Format(time.RFC3339),
			"oasis_vendor_code":  in.OasisVendorCode,
			"payment_info_ref":   in.PaymentInfoRef,
		}, "", nil)
		if err != nil {
			return RegisterClinicResult{}, err
		}
		if _, err := appendAndApply(ctx, d, ev); err != nil {
			return RegisterClinicResult{}, err
		}
		return RegisterClinicResult{ClinicID: in.ClinicID}, nil
	})
}

// SuspendClinicInput suspends a clinic, e.g. on license lapse.
type SuspendClinicInput struct {
	ClinicID string
}

// SuspendClinicResult is the response cached against the idempotency
// key.
type SuspendClinicResult struct {
	ClinicID string `json:"clinic_id"`
}

// SuspendClinic transitions a clinic to SUSPENDED.
func SuspendClinic(ctx context.Context, d Deps, env Envelope, in SuspendClinicInput) (SuspendClinicResult, error) {
	plan := LockPlan{ClinicIDs: []string{in.ClinicID}}
	return runCommand(ctx, d, env, "suspend_clinic:"+in.ClinicID, plan, func(ctx context.Context) (SuspendClinicResult, error) {
		ev, err := buildEvent(d, env, "CLINIC", in.ClinicID, "CLINIC_SUSPENDED", map[string]any{}, "", nil)
		if err != nil {
			return SuspendClinicResult{}, err
		}
		if _, err := appendAndApply(ctx, d, ev); err != nil {
			return SuspendClinicResult{}, err
		}
		return SuspendClinicResult{ClinicID: in.ClinicID}, nil
	})
}
