// Package voucher implements the Voucher aggregate state machine:
// TENTATIVE/ISSUED/REDEEMED/EXPIRED/VOIDED with guard predicates,
// generalizing the teacher's status-const idiom (domain/gasbank's
// AccountStatus/StatusPending family) into an event-folded state machine.
package voucher

import (
	"time"

	"github.com/wvsnp/grantcore/internal/apperrors"
	"github.com/wvsnp/grantcore/internal/money"
)

// Status is the voucher's lifecycle state.
type Status string

const (
	StatusTentative Status = "TENTATIVE"
	StatusIssued    Status = "ISSUED"
	StatusRedeemed  Status = "REDEEMED"
	StatusExpired   Status = "EXPIRED"
	StatusVoided    Status = "VOIDED"
)

// State is the full Voucher aggregate state.
type State struct {
	VoucherID            string
	GrantID              string
	CycleID              string
	County               string
	Status               Status
	IsLIRP               bool
	MaxReimbursement     money.Cents
	TentativeExpiresAt   *time.Time
	ExpiresAt            time.Time
	VoidReason           string
}

// Initial returns an empty voucher before any events are folded.
func Initial(voucherID string) State {
	return State{VoucherID: voucherID}
}

// IssueTentative transitions an unset voucher into TENTATIVE with an
// expiry, used by IssueVoucher before confirmation.
func IssueTentative(s State, grantID, cycleID, county string, isLIRP bool, maxReimbursement money.Cents, tentativeExpiresAt, expiresAt time.Time) State {
	s.GrantID = grantID
	s.CycleID = cycleID
	s.County = county
	s.Status = StatusTentative
	s.IsLIRP = isLIRP
	s.MaxReimbursement = maxReimbursement
	s.TentativeExpiresAt = &tentativeExpiresAt
	s.ExpiresAt = expiresAt
	return s
}

// Issue transitions an unset or TENTATIVE voucher directly into ISSUED.
func Issue(s State, grantID, cycleID, county string, isLIRP bool, maxReimbursement money.Cents, expiresAt time.Time) State {
	s.GrantID = grantID
	s.CycleID = cycleID
	s.County = county
	s.Status = StatusIssued
	s.IsLIRP = isLIRP
	s.MaxReimbursement = maxReimbursement
	s.TentativeExpiresAt = nil
	s.ExpiresAt = expiresAt
	return s
}

// Redeem transitions ISSUED to REDEEMED; the projection applies it when
// folding a VOUCHER_REDEEMED event. No command handler in this module
// emits that event, so approving a claim leaves the voucher ISSUED.
func Redeem(s State) State {
	s.Status = StatusRedeemed
	return s
}

// Expire transitions TENTATIVE or ISSUED to EXPIRED.
func Expire(s State) State {
	s.Status = StatusExpired
	return s
}

// Void transitions a non-terminal voucher to VOIDED, recording reason.
func Void(s State, reason string) State {
	s.Status = StatusVoided
	s.VoidReason = reason
	return s
}

// CanVoid reports whether the voucher may be voided.
func CanVoid(s State) (allowed bool, reason string) {
	switch s.Status {
	case StatusRedeemed:
		return false, "voucher already redeemed"
	case StatusExpired, StatusVoided:
		return false, "voucher not voidable from a terminal state"
	default:
		return true, ""
	}
}

// CanRedeem reports whether a claim may be approved against the voucher
// as of asOf (the claim's date of service window check is separate).
func CanRedeem(s State, asOf time.Time) (allowed bool, reason string) {
	if s.Status != StatusIssued {
		return false, "voucher not in ISSUED status"
	}
	if asOf.After(s.ExpiresAt) {
		return false, "voucher expired as of the given date"
	}
	return true, ""
}

// CheckInvariant verifies the voucher's internal consistency.
func CheckInvariant(s State) error {
	if s.Status == StatusTentative && s.TentativeExpiresAt == nil {
		return apperrors.New(apperrors.VoucherNotValid, "tentative voucher missing tentative_expires_at")
	}
	if s.MaxReimbursement.Negative() {
		return apperrors.New(apperrors.VoucherNotValid, "voucher max reimbursement is negative")
	}
	return nil
}

// IsExpiredTentative reports whether s is an unconfirmed tentative
// voucher whose tentative expiry has passed as of now, used by the
// sweep.
func IsExpiredTentative(s State, now time.Time) bool {
	return s.Status == StatusTentative && s.TentativeExpiresAt != nil && now.After(*s.TentativeExpiresAt)
}
