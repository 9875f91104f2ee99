package commands

import (
	"context"
	"testing"
	"time"

	"github.com/wvsnp/grantcore/internal/domain/clinic"
)

func TestRegisterClinicAppendsEventAndProjects(t *testing.T) {
	deps, mock, now := newTestDeps(t)
	expectLock(mock, 1)

	env := Envelope{IdempotencyKey: "req-1", OperationKind: "RegisterClinic"}
	in := RegisterClinicInput{
		ClinicID:         "clinic-1",
		LicenseNumber:    "LIC-100",
		LicenseStatus:    "ACTIVE",
		LicenseExpiresAt: now.AddDate(1, 0, 0),
		OasisVendorCode:  "V100",
		PaymentInfoRef:   "pay-ref-1",
	}

	out, err := RegisterClinic(context.Background(), deps, env, in)
	if err != nil {
		t.Fatalf("RegisterClinic: %v", err)
	}
	if out.ClinicID != "clinic-1" {
		t.Fatalf("ClinicID = %q, want clinic-1", out.ClinicID)
	}

	state, found, err := deps.Stores.Clinics.Get(context.Background(), "clinic-1")
	if err != nil {
		t.Fatalf("get clinic: %v", err)
	}
	if !found {
		t.Fatal("expected clinic to be projected")
	}
	if state.LicenseNumber != "LIC-100" {
		t.Fatalf("LicenseNumber = %q, want LIC-100", state.LicenseNumber)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestRegisterClinicIsIdempotentOnRetry(t *testing.T) {
	deps, mock, now := newTestDeps(t)
	expectLock(mock, 1) // only the first attempt locks and writes
	expectLock(mock, 0) // the replay opens and commits a transaction but locks nothing

	env := Envelope{IdempotencyKey: "req-2", OperationKind: "RegisterClinic"}
	in := RegisterClinicInput{
		ClinicID:         "clinic-2",
		LicenseNumber:    "LIC-200",
		LicenseStatus:    "ACTIVE",
		LicenseExpiresAt: now.AddDate(1, 0, 0),
		OasisVendorCode:  "V200",
		PaymentInfoRef:   "pay-ref-2",
	}

	first, err := RegisterClinic(context.Background(), deps, env, in)
	if err != nil {
		t.Fatalf("first RegisterClinic: %v", err)
	}

	second, err := RegisterClinic(context.Background(), deps, env, in)
	if err != nil {
		t.Fatalf("second RegisterClinic: %v", err)
	}
	if second != first {
		t.Fatalf("replayed result %+v != original %+v", second, first)
	}

	events, err := deps.Log.FetchForAggregate(context.Background(), "CLINIC", "clinic-2")
	if err != nil {
		t.Fatalf("fetch events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected exactly one CLINIC_REGISTERED event, got %d", len(events))
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}

func TestSuspendClinicTransitionsStatus(t *testing.T) {
	deps, mock, now := newTestDeps(t)
	expectLock(mock, 1) // register
	expectLock(mock, 1) // suspend

	registerEnv := Envelope{IdempotencyKey: "req-3", OperationKind: "RegisterClinic"}
	if _, err := RegisterClinic(context.Background(), deps, registerEnv, RegisterClinicInput{
		ClinicID:         "clinic-3",
		LicenseNumber:    "LIC-300",
		LicenseStatus:    "ACTIVE",
		LicenseExpiresAt: now.AddDate(1, 0, 0),
		OasisVendorCode:  "V300",
		PaymentInfoRef:   "pay-ref-3",
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	suspendEnv := Envelope{IdempotencyKey: "req-4", OperationKind: "SuspendClinic"}
	if _, err := SuspendClinic(context.Background(), deps, suspendEnv, SuspendClinicInput{ClinicID: "clinic-3"}); err != nil {
		t.Fatalf("suspend: %v", err)
	}

	state, found, err := deps.Stores.Clinics.Get(context.Background(), "clinic-3")
	if err != nil || !found {
		t.Fatalf("get clinic: found=%v err=%v", found, err)
	}
	if state.Status != clinic.StatusSuspended {
		t.Fatalf("Status = %q, want %q", state.Status, clinic.StatusSuspended)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sql expectations: %v", err)
	}
}
