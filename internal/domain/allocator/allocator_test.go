package allocator

import "testing"

func TestMintFormatsCodeAndIncrements(t *testing.T) {
	s := Initial("cycle-2026", "Kanawha")
	r1 := Mint(s, "FY26")
	if r1.Code != "FY26-Kanawha-0001" {
		t.Fatalf("unexpected code: %s", r1.Code)
	}
	r2 := Mint(r1.State, "FY26")
	if r2.Code != "FY26-Kanawha-0002" {
		t.Fatalf("unexpected second code: %s", r2.Code)
	}
	if r2.State.NextSequence != 3 {
		t.Fatalf("expected sequence 3, got %d", r2.State.NextSequence)
	}
}
