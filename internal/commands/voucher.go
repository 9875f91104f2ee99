package commands

import (
	"context"
	"time"

	"github.com/wvsnp/grantcore/internal/apperrors"
	"github.com/wvsnp/grantcore/internal/domain/allocator"
	"github.com/wvsnp/grantcore/internal/domain/grant"
	"github.com/wvsnp/grantcore/internal/domain/voucher"
	"github.com/wvsnp/grantcore/internal/money"
)

// allocatorAggregateID is the event-log aggregate id for a (cycle,
// county) voucher-numbering sequence.
func allocatorAggregateID(cycleID, county string) string {
	return cycleID + ":" + county
}

// IssueVoucherInput requests a new voucher against a grant bucket.
// Tentative is true for a reservation pending confirmation (spec.md
// §4.4.2); its TentativeExpiresAt governs the expiry sweep
// (internal/sweep).
type IssueVoucherInput struct {
	GrantID            string
	CycleID            string
	CycleShort         string
	County             string
	IsLIRP             bool
	MaxReimbursement   money.Cents
	ExpiresAt          time.Time
	Tentative          bool
	TentativeExpiresAt time.Time
}

// IssueVoucherResult is the response cached against the idempotency
// key.
type IssueVoucherResult struct {
	VoucherID string `json:"voucher_id"`
}

// IssueVoucher locks the grant bucket and allocator row, checks
// sufficient available balance, mints a voucher code, and emits the
// matching VOUCHER_ISSUED(_TENTATIVE) and GRANT_FUNDS_ENCUMBERED events.
func IssueVoucher(ctx context.Context, d Deps, env Envelope, in IssueVoucherInput) (IssueVoucherResult, error) {
	bucket := grant.BucketFor(in.IsLIRP)
	allocatorID := allocatorAggregateID(in.CycleID, in.County)
	plan := LockPlan{
		GrantIDs:     []string{in.GrantID},
		AllocatorIDs: []AllocatorKey{{CycleID: in.CycleID, County: in.County}},
	}

	return runCommand(ctx, d, env, "issue_voucher:"+env.IdempotencyKey, plan, func(ctx context.Context) (IssueVoucherResult, error) {
		eventType := "VOUCHER_ISSUED"
		if in.Tentative {
			eventType = "VOUCHER_ISSUED_TENTATIVE"
		}
		if err := requireCycleOpen(ctx, d, in.CycleID, eventType); err != nil {
			return IssueVoucherResult{}, err
		}

		balance, _, _, found, err := d.Stores.Grants.GetBucket(ctx, in.GrantID, bucket)
		if err != nil {
			return IssueVoucherResult{}, err
		}
		if !found || balance.Available < in.MaxReimbursement {
			return IssueVoucherResult{}, apperrors.New(apperrors.InsufficientFunds, "insufficient available balance in bucket "+string(bucket))
		}

		allocState, found, err := d.Stores.Allocators.Get(ctx, in.CycleID, in.County)
		if err != nil {
			return IssueVoucherResult{}, err
		}
		if !found {
			allocState = allocator.Initial(in.CycleID, in.County)
		}
		mint := allocator.Mint(allocState, in.CycleShort)
		voucherID := mint.Code

		allocEv, err := buildEvent(d, env, "ALLOCATOR", allocatorID, "ALLOCATOR_SEQUENCE_MINTED", map[string]any{
			"cycle_id":    in.CycleID,
			"county":      in.County,
			"cycle_short": in.CycleShort,
		}, in.CycleID, nil)
		if err != nil {
			return IssueVoucherResult{}, err
		}
		storedAlloc, err := appendAndApply(ctx, d, allocEv)
		if err != nil {
			return IssueVoucherResult{}, err
		}

		voucherData := map[string]any{
			"grant_id":                in.GrantID,
			"cycle_id":                in.CycleID,
			"county":                  in.County,
			"is_lirp":                 in.IsLIRP,
			"max_reimbursement_cents": in.MaxReimbursement.String(),
			"expires_at":              in.ExpiresAt.Format(time.RFC3339),
		}
		if in.Tentative {
			voucherData["tentative_expires_at"] = in.TentativeExpiresAt.Format(time.RFC3339)
		}
		causationID := storedAlloc.EventID
		voucherEv, err := buildEvent(d, env, "VOUCHER", voucherID, eventType, voucherData, in.CycleID, &causationID)
		if err != nil {
			return IssueVoucherResult{}, err
		}
		storedVoucher, err := appendAndApply(ctx, d, voucherEv)
		if err != nil {
			return IssueVoucherResult{}, err
		}

		encumberCausation := storedVoucher.EventID
		encumberEv, err := buildEvent(d, env, "GRANT", in.GrantID, "GRANT_FUNDS_ENCUMBERED", map[string]any{
			"bucket":       string(bucket),
			"amount_cents": in.MaxReimbursement.String(),
		}, in.CycleID, &encumberCausation)
		if err != nil {
			return IssueVoucherResult{}, err
		}
		if _, err := appendAndApply(ctx, d, encumberEv); err != nil {
			return IssueVoucherResult{}, err
		}

		return IssueVoucherResult{VoucherID: voucherID}, nil
	})
}

// VoidVoucherInput voids a non-terminal voucher and releases its
// encumbrance.
type VoidVoucherInput struct {
	VoucherID string
	Reason    string
}

// VoidVoucherResult is the response cached against the idempotency key.
type VoidVoucherResult struct {
	VoucherID string `json:"voucher_id"`
}

// VoidVoucher voids a voucher and releases its bucket encumbrance back
// to available.
func VoidVoucher(ctx context.Context, d Deps, env Envelope, in VoidVoucherInput) (VoidVoucherResult, error) {
	plan := LockPlan{VoucherIDs: []string{in.VoucherID}}
	return runCommand(ctx, d, env, "void_voucher:"+in.VoucherID, plan, func(ctx context.Context) (VoidVoucherResult, error) {
		v, found, err := d.Stores.Vouchers.Get(ctx, in.VoucherID)
		if err != nil {
			return VoidVoucherResult{}, err
		}
		if !found {
			return VoidVoucherResult{}, apperrors.New(apperrors.VoucherNotFound, "voucher not found: "+in.VoucherID)
		}

		// The grant bucket to release into is only known after the voucher
		// read above, so it could not be named in the command's initial
		// LockPlan; lock it now, inside the same transaction, before
		// writing the event that depends on its balance.
		if err := lockAggregates(ctx, d.DB, LockPlan{GrantIDs: []string{v.GrantID}}); err != nil {
			return VoidVoucherResult{}, err
		}

		if err := requireCycleOpen(ctx, d, v.CycleID, "VOUCHER_VOIDED"); err != nil {
			return VoidVoucherResult{}, err
		}
		allowed, reason := voucher.CanVoid(v)
		if !allowed {
			return VoidVoucherResult{}, apperrors.New(apperrors.VoucherNotVoidable, reason)
		}

		voidEv, err := buildEvent(d, env, "VOUCHER", in.VoucherID, "VOUCHER_VOIDED", map[string]any{
			"reason": in.Reason,
		}, v.CycleID, nil)
		if err != nil {
			return VoidVoucherResult{}, err
		}
		storedVoid, err := appendAndApply(ctx, d, voidEv)
		if err != nil {
			return VoidVoucherResult{}, err
		}

		bucket := grant.BucketFor(v.IsLIRP)
		causationID := storedVoid.EventID
		releaseEv, err := buildEvent(d, env, "GRANT", v.GrantID, "GRANT_FUNDS_RELEASED", map[string]any{
			"bucket":       string(bucket),
			"amount_cents": v.MaxReimbursement.String(),
		}, v.CycleID, &causationID)
		if err != nil {
			return VoidVoucherResult{}, err
		}
		if _, err := appendAndApply(ctx, d, releaseEv); err != nil {
			return VoidVoucherResult{}, err
		}

		return VoidVoucherResult{VoucherID: in.VoucherID}, nil
	})
}
