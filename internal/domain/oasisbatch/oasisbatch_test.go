package oasisbatch

import (
	"testing"
	"time"

	"github.com/wvsnp/grantcore/internal/ids"
)

func TestHappyPathLifecycle(t *testing.T) {
	s := Initial("batch-1")
	s = Create(s, "cycle-1", time.Now(), time.Now(), "fp-1", ids.Watermark{})
	if allowed, _ := CanRenderFile(s); !allowed {
		t.Fatal("expected CREATED batch to be renderable")
	}
	s = RenderFile(s, 2, 125000, "artifact-1", "deadbeef")
	if err := CheckInvariant(s); err != nil {
		t.Fatal(err)
	}
	if allowed, _ := CanSubmit(s); !allowed {
		t.Fatal("expected rendered batch to be submittable")
	}
	s = Submit(s)
	if allowed, _ := CanAcknowledgeOrReject(s); !allowed {
		t.Fatal("expected submitted batch to accept ack/reject")
	}
	s = Acknowledge(s)
	if s.Status != StatusAcknowledged {
		t.Fatalf("expected ACKNOWLEDGED, got %s", s.Status)
	}
}

func TestVoidReachableExceptFromSubmittedOrAcknowledged(t *testing.T) {
	s := Initial("batch-1")
	s = Create(s, "cycle-1", time.Now(), time.Now(), "fp-1", ids.Watermark{})
	if allowed, _ := CanVoid(s); !allowed {
		t.Fatal("expected CREATED batch to be voidable")
	}

	s = RenderFile(s, 1, 50000, "artifact-1", "hash")
	s = Submit(s)
	if allowed, _ := CanVoid(s); allowed {
		t.Fatal("expected SUBMITTED batch to not be directly voidable")
	}
}

func TestRejectAndVoidReleaseInvoices(t *testing.T) {
	if !ReleasesInvoices(StatusRejected) {
		t.Fatal("expected REJECTED to release invoices")
	}
	if !ReleasesInvoices(StatusVoided) {
		t.Fatal("expected VOIDED to release invoices")
	}
	if ReleasesInvoices(StatusAcknowledged) {
		t.Fatal("expected ACKNOWLEDGED to not release invoices")
	}
}
