// Package apperrors provides the stable error-code taxonomy surfaced to
// callers of the grant core, generalizing the teacher's ServiceError shape
// (infrastructure/errors) to the domain's error taxonomy.
package apperrors

import (
	"errors"
	"fmt"
)

// Code is a stable identifier, not a human message.
type Code string

// Precondition / validation.
const (
	MissingIdempotencyKey    Code = "MISSING_IDEMPOTENCY_KEY"
	MissingRequiredArtifacts Code = "MISSING_REQUIRED_ARTIFACTS"
	InvalidDateFormat        Code = "INVALID_DATE_FORMAT"
	UUIDTimeOrderedRequired  Code = "UUID_TIME_ORDERED_REQUIRED"
	EventDataBigintForbidden Code = "EVENT_DATA_BIGINT_FORBIDDEN"
	EventTypeInvalid         Code = "EVENT_TYPE_INVALID"
)

// Business rule.
const (
	InsufficientFunds              Code = "INSUFFICIENT_FUNDS"
	LIRPCopayForbidden              Code = "LIRP_COPAY_FORBIDDEN"
	VoucherNotFound                Code = "VOUCHER_NOT_FOUND"
	VoucherNotValid                Code = "VOUCHER_NOT_VALID"
	VoucherNotVoidable             Code = "VOUCHER_NOT_VOIDABLE"
	VoucherAlreadyRedeemed         Code = "VOUCHER_ALREADY_REDEEMED"
	ClinicNotFound                 Code = "CLINIC_NOT_FOUND"
	ClinicNotActive                Code = "CLINIC_NOT_ACTIVE"
	ClinicLicenseInvalidForService Code = "CLINIC_LICENSE_INVALID_FOR_SERVICE_DATE"
	GrantPeriodEnded               Code = "GRANT_PERIOD_ENDED"
	GrantClaimsDeadlinePassed      Code = "GRANT_CLAIMS_DEADLINE_PASSED"
	GrantCycleClosed               Code = "GRANT_CYCLE_CLOSED"
	PreflightNotPassed             Code = "PREFLIGHT_NOT_PASSED"
	AuditHoldActive                Code = "AUDIT_HOLD_ACTIVE"
	BatchNotRendered               Code = "BATCH_NOT_RENDERED"
	BatchAlreadySubmitted          Code = "BATCH_ALREADY_SUBMITTED"
	BatchAlreadyVoided             Code = "BATCH_ALREADY_VOIDED"
	BatchNotAwaitingDecision       Code = "BATCH_NOT_AWAITING_DECISION"
	NoInvoicesEligibleForExport    Code = "NO_INVOICES_ELIGIBLE_FOR_EXPORT"
	CycleNotUnderAuditHold         Code = "CYCLE_NOT_UNDER_AUDIT_HOLD"
	CycleNotStarted                Code = "CYCLE_NOT_STARTED"

	// Not-found codes for aggregates spec.md's business-rule list does
	// not separately enumerate (it only names the invalid/wrong-status
	// cases), needed by command handlers that look an aggregate up by id.
	ClaimNotFound    Code = "CLAIM_NOT_FOUND"
	InvoiceNotFound  Code = "INVOICE_NOT_FOUND"
	BatchNotFound    Code = "BATCH_NOT_FOUND"
	CloseoutNotFound Code = "CLOSEOUT_NOT_FOUND"
	FilingNotFound   Code = "FILING_NOT_FOUND"
)

// Concurrency.
const (
	OperationInProgress  Code = "OPERATION_IN_PROGRESS"
	IdempotencyKeyReused Code = "IDEMPOTENCY_KEY_REUSED"
)

// Invariant — bug or corruption; log with full context, fail fast, never retry.
const (
	BatchInvariant    Code = "BATCH_INVARIANT"
	CloseoutInvariant Code = "CLOSEOUT_INVARIANT"
	ImmutabilityViolation Code = "IMMUTABILITY_VIOLATION"
)

// Transient — retried internally per internal/retry; surfaced if still failing.
const (
	StorageSerializationFailure Code = "STORAGE_SERIALIZATION_FAILURE"
	StorageTimeout              Code = "STORAGE_TIMEOUT"
)

// DomainError is a typed error carrying a stable Code plus optional detail.
type DomainError struct {
	Code      Code
	Message   string
	Detail    string
	Retryable bool
	Err       error
}

func (e *DomainError) Error() string {
	msg := string(e.Code)
	if e.Detail != "" {
		msg = fmt.Sprintf("%s:%s", msg, e.Detail)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *DomainError) Unwrap() error { return e.Err }

// New constructs a DomainError with no wrapped cause.
func New(code Code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// WithDetail attaches a free-form detail suffix, e.g. for
// BATCH_INVARIANT:<detail> style codes.
func (e *DomainError) WithDetail(detail string) *DomainError {
	clone := *e
	clone.Detail = detail
	return &clone
}

// Wrap constructs a DomainError wrapping an underlying cause.
func Wrap(code Code, message string, err error) *DomainError {
	return &DomainError{Code: code, Message: message, Err: err}
}

// Transient marks a DomainError as retryable by internal/retry.
func Transient(code Code, err error) *DomainError {
	return &DomainError{Code: code, Retryable: true, Err: err}
}

// CodeOf extracts the Code from err if it is (or wraps) a *DomainError.
func CodeOf(err error) (Code, bool) {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code, true
	}
	return "", false
}

// IsRetryable reports whether err is a DomainError marked Retryable.
func IsRetryable(err error) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return false
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}
