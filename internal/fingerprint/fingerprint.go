// Package fingerprint computes the canonical claim fingerprint used to
// detect logical duplicate submissions independent of idempotency keys,
// implementing the exact canonicalization durable contract from spec §4.3.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/wvsnp/grantcore/internal/apperrors"
)

var dateOfServicePrefix = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})`)

// ClaimInput is the set of business fields the claim fingerprint is
// computed over. Any other canonicalization is forbidden; this format
// is part of the durable contract stored in events and indexed on the
// claim projection.
type ClaimInput struct {
	VoucherID      string
	ClinicID       string
	ProcedureCode  string
	DateOfService  string
	RabiesIncluded bool
}

// Claim canonicalizes fields and returns their sha-256 fingerprint as a
// lowercase hex string.
func Claim(in ClaimInput) (string, error) {
	dateMatch := dateOfServicePrefix.FindStringSubmatch(in.DateOfService)
	if dateMatch == nil {
		return "", apperrors.New(apperrors.InvalidDateFormat, "dateOfService must begin with YYYY-MM-DD")
	}

	canonVoucher := strings.ToLower(strings.TrimSpace(in.VoucherID))
	canonClinic := strings.ToLower(strings.TrimSpace(in.ClinicID))
	canonProc := strings.ToUpper(strings.TrimSpace(in.ProcedureCode))
	canonDate := dateMatch[1]
	canonRabies := "0"
	if in.RabiesIncluded {
		canonRabies = "1"
	}

	payload := fmt.Sprintf("%s:%s:%s:%s:rabies=%s", canonVoucher, canonClinic, canonProc, canonDate, canonRabies)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:]), nil
}
