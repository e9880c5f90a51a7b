package audit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func record(url string, verdict Verdict, flags ...Flag) AuditRecord {
	r := AuditRecord{URL: url, DiscrepancyFlags: flags}
	if verdict != "" {
		r.Inspection = &InspectionResult{URL: url, Verdict: verdict}
	}
	return r
}

func TestDiffRecords_SingleVerdictChange(t *testing.T) {
	t.Parallel()

	before := []AuditRecord{
		record("https://example.com/a", VerdictIndexed),
		record("https://example.com/b", VerdictIndexed),
	}
	after := []AuditRecord{
		record("https://example.com/a", VerdictIndexed),
		record("https://example.com/b", VerdictNotIndexed, FlagUndiscoveredBySearch),
	}

	deltas := DiffRecords(before, after)
	require.Len(t, deltas, 1)
	require.Equal(t, "https://example.com/b", deltas[0].URL)
	require.Equal(t, DeltaChanged, deltas[0].Kind)
	require.Equal(t, VerdictIndexed, deltas[0].BeforeVerdict)
	require.Equal(t, VerdictNotIndexed, deltas[0].AfterVerdict)
}

func TestDiffRecords_AddedAndRemoved(t *testing.T) {
	t.Parallel()

	before := []AuditRecord{record("https://example.com/old", VerdictIndexed)}
	after := []AuditRecord{record("https://example.com/new", VerdictNotIndexed, FlagCrawlOnly)}

	deltas := DiffRecords(before, after)
	require.Len(t, deltas, 2)
	require.Equal(t, DeltaAdded, deltas[0].Kind)
	require.Equal(t, "https://example.com/new", deltas[0].URL)
	require.Equal(t, DeltaRemoved, deltas[1].Kind)
	require.Equal(t, "https://example.com/old", deltas[1].URL)
}

func TestDiffRecords_FlagOrderIrrelevant(t *testing.T) {
	t.Parallel()

	before := []AuditRecord{record("https://example.com/a", VerdictError, FlagInspectionFailed, FlagCrawlOnly)}
	after := []AuditRecord{record("https://example.com/a", VerdictError, FlagCrawlOnly, FlagInspectionFailed)}
	require.Empty(t, DiffRecords(before, after))
}
