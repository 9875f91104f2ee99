package fingerprint

import "testing"

func TestClaimCollapsesAcrossCaseAndWhitespaceAndTimeComponent(t *testing.T) {
	a, err := Claim(ClaimInput{
		VoucherID: " V123 ", ClinicID: "Clinic-1", ProcedureCode: "spay",
		DateOfService: "2026-01-15T00:00:00Z", RabiesIncluded: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Claim(ClaimInput{
		VoucherID: "v123", ClinicID: "clinic-1", ProcedureCode: "SPAY",
		DateOfService: "2026-01-15", RabiesIncluded: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Fatalf("expected identical fingerprints, got %s vs %s", a, b)
	}
}

func TestClaimDiffersOnMeaningfulFields(t *testing.T) {
	a, err := Claim(ClaimInput{VoucherID: "v123", ClinicID: "clinic-1", ProcedureCode: "SPAY", DateOfService: "2026-01-15", RabiesIncluded: true})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Claim(ClaimInput{VoucherID: "v123", ClinicID: "clinic-1", ProcedureCode: "SPAY", DateOfService: "2026-01-15", RabiesIncluded: false})
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatal("expected different fingerprints when rabiesIncluded differs")
	}
}

func TestClaimRejectsUnparseableDate(t *testing.T) {
	if _, err := Claim(ClaimInput{VoucherID: "v1", ClinicID: "c1", ProcedureCode: "spay", DateOfService: "not-a-date"}); err == nil {
		t.Fatal("expected error for unparseable date")
	}
}
