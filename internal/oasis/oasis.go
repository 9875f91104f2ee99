// Package oasis renders the fixed-width treasury export batch format
// consumed by the downstream OASIS system: a pure, I/O-free mapping from
// an ordered invoice list and batch metadata to 100-character
// header/detail/footer records (spec.md §4.6). No pack repo renders a
// fixed-width treasury file, so this is authored directly from the
// spec's byte-exact layout rather than adapted from a teacher file.
package oasis

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/wvsnp/grantcore/internal/apperrors"
)

const (
	recordLength  = 100
	lineSeparator = "\r\n"
	formatVersion = "OASIS-1"
)

// Invoice is one line item in an export batch.
type Invoice struct {
	InvoiceID       string
	ClinicID        string
	OasisVendorCode string
	AmountCents     int64 // non-negative
	PeriodStart     time.Time
	PeriodEnd       time.Time
}

// BatchMeta carries the batch-level fields stamped on the header/footer
// and every detail record.
type BatchMeta struct {
	BatchCode      string
	GenerationDate time.Time
	FundCode       string
	OrgCode        string
	ObjectCode     string
}

// Result is the rendered file plus the control figures that must match
// between the header, the footer, and the sum of the detail amounts.
type Result struct {
	Content      []byte
	RecordCount  int
	ControlTotal int64
	SHA256       string
}

// Render maps invoices and meta to the exact byte sequence OASIS
// expects. Invoices are rendered in the order given by the caller — the
// command layer is responsible for the deterministic
// (watermark, invoice_id) ordering spec.md §4.4.2 requires; this
// function never reorders its input.
func Render(invoices []Invoice, meta BatchMeta) (Result, error) {
	for _, inv := range invoices {
		if inv.AmountCents < 0 {
			return Result{}, apperrors.New(apperrors.BatchInvariant, "invoice amount_cents must be non-negative: "+inv.InvoiceID)
		}
	}

	var controlTotal int64
	for _, inv := range invoices {
		controlTotal += inv.AmountCents
	}
	recordCount := len(invoices)

	header, err := renderHeader(meta, recordCount, controlTotal)
	if err != nil {
		return Result{}, err
	}
	var lines []string
	lines = append(lines, header)
	for _, inv := range invoices {
		detail, err := renderDetail(inv, meta)
		if err != nil {
			return Result{}, err
		}
		lines = append(lines, detail)
	}
	footer, err := renderFooter(meta, recordCount, controlTotal)
	if err != nil {
		return Result{}, err
	}
	lines = append(lines, footer)

	for _, line := range lines {
		if len(line) != recordLength {
			return Result{}, apperrors.New(apperrors.BatchInvariant, fmt.Sprintf("rendered record is %d characters, want %d", len(line), recordLength))
		}
	}

	var content []byte
	for _, line := range lines {
		content = append(content, []byte(line)...)
		content = append(content, []byte(lineSeparator)...)
	}

	sum := sha256.Sum256(content)

	return Result{
		Content:      content,
		RecordCount:  recordCount,
		ControlTotal: controlTotal,
		SHA256:       hex.EncodeToString(sum[:]),
	}, nil
}

func renderHeader(meta BatchMeta, recordCount int, controlTotal int64) (string, error) {
	recordCountField, err := zeroPad(int64(recordCount), 6)
	if err != nil {
		return "", err
	}
	controlTotalField, err := zeroPad(controlTotal, 12)
	if err != nil {
		return "", err
	}
	return "H" +
		padRight(meta.BatchCode, 20) +
		formatDate(meta.GenerationDate) +
		recordCountField +
		controlTotalField +
		padRight(meta.FundCode, 5) +
		padRight(formatVersion, 10) +
		spaces(38), nil
}

func renderDetail(inv Invoice, meta BatchMeta) (string, error) {
	amountField, err := zeroPad(inv.AmountCents, 12)
	if err != nil {
		return "", err
	}
	description := fmt.Sprintf("WVSNP Reimbursement %s", inv.PeriodStart.Format("2006-01-02"))
	return "D" +
		padRight(inv.OasisVendorCode, 10) +
		padRight(truncate(inv.InvoiceID, 15), 15) +
		formatDate(inv.PeriodEnd) +
		amountField +
		padRight(meta.FundCode, 5) +
		padRight(meta.OrgCode, 5) +
		padRight(meta.ObjectCode, 4) +
		padRight(truncate(description, 30), 30) +
		spaces(10), nil
}

func renderFooter(meta BatchMeta, recordCount int, controlTotal int64) (string, error) {
	recordCountField, err := zeroPad(int64(recordCount), 6)
	if err != nil {
		return "", err
	}
	controlTotalField, err := zeroPad(controlTotal, 12)
	if err != nil {
		return "", err
	}
	return "F" +
		padRight(meta.BatchCode, 20) +
		recordCountField +
		controlTotalField +
		spaces(61), nil
}

func formatDate(t time.Time) string {
	return t.Format("01022006")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func padRight(s string, n int) string {
	s = truncate(s, n)
	if len(s) >= n {
		return s
	}
	return s + spaces(n-len(s))
}

func zeroPad(v int64, n int) (string, error) {
	s := fmt.Sprintf("%d", v)
	if len(s) > n {
		return "", apperrors.New(apperrors.BatchInvariant, fmt.Sprintf("value %d does not fit in a %d-digit field", v, n))
	}
	return fmt.Sprintf("%0*d", n, v), nil
}

func spaces(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	return string(b)
}
