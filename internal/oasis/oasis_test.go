package oasis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return d
}

func TestRender_DeterministicScenarioS3(t *testing.T) {
	meta := BatchMeta{
		BatchCode:      "WVSNP-FY2026-TEST",
		GenerationDate: mustDate(t, "2026-02-01"),
		FundCode:       "WVSNP",
		OrgCode:        "WVDA",
		ObjectCode:     "5100",
	}
	invoices := []Invoice{
		{InvoiceID: "i1", ClinicID: "clinic1", OasisVendorCode: "VENDOR001", AmountCents: 50000,
			PeriodStart: mustDate(t, "2026-01-01"), PeriodEnd: mustDate(t, "2026-01-31")},
		{InvoiceID: "i2", ClinicID: "clinic2", OasisVendorCode: "VENDOR002", AmountCents: 75000,
			PeriodStart: mustDate(t, "2026-01-01"), PeriodEnd: mustDate(t, "2026-01-31")},
	}

	r1, err := Render(invoices, meta)
	require.NoError(t, err)
	r2, err := Render(invoices, meta)
	require.NoError(t, err)

	require.Equal(t, r1.Content, r2.Content)
	require.Equal(t, r1.SHA256, r2.SHA256)
	require.Equal(t, 2, r1.RecordCount)
	require.Equal(t, int64(125000), r1.ControlTotal)

	lines := splitLines(t, r1.Content)
	require.Len(t, lines, 3)
	for _, line := range lines {
		require.Len(t, line, recordLength)
	}
	require.Equal(t, "000000125000", lines[0][35:47])
	require.Equal(t, "000002", lines[0][29:35])
	require.Equal(t, "H", lines[0][:1])
	require.Equal(t, "F", lines[2][:1])
}

func TestRender_EmptyBatch(t *testing.T) {
	meta := BatchMeta{BatchCode: "EMPTY", GenerationDate: mustDate(t, "2026-02-01"), FundCode: "WVSNP", OrgCode: "WVDA", ObjectCode: "5100"}
	r, err := Render(nil, meta)
	require.NoError(t, err)
	require.Equal(t, 0, r.RecordCount)
	require.Equal(t, int64(0), r.ControlTotal)
	lines := splitLines(t, r.Content)
	require.Len(t, lines, 2)
}

func TestRender_RejectsNegativeAmount(t *testing.T) {
	meta := BatchMeta{BatchCode: "BAD", GenerationDate: mustDate(t, "2026-02-01"), FundCode: "WVSNP", OrgCode: "WVDA", ObjectCode: "5100"}
	_, err := Render([]Invoice{{InvoiceID: "i1", AmountCents: -100, PeriodStart: mustDate(t, "2026-01-01"), PeriodEnd: mustDate(t, "2026-01-31")}}, meta)
	require.Error(t, err)
}

func TestRender_RejectsControlTotalOverflow(t *testing.T) {
	meta := BatchMeta{BatchCode: "BIG", GenerationDate: mustDate(t, "2026-02-01"), FundCode: "WVSNP", OrgCode: "WVDA", ObjectCode: "5100"}
	_, err := Render([]Invoice{{InvoiceID: "i1", AmountCents: 1_000_000_000_000, PeriodStart: mustDate(t, "2026-01-01"), PeriodEnd: mustDate(t, "2026-01-31")}}, meta)
	require.Error(t, err)
}

func splitLines(t *testing.T, content []byte) []string {
	t.Helper()
	s := string(content)
	require.GreaterOrEqual(t, len(s), 2)
	// trailing \r\n: split on the separator and drop the final empty element.
	var lines []string
	start := 0
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '\r' && s[i+1] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 2
			i++
		}
	}
	require.Equal(t, len(s), start)
	return lines
}
