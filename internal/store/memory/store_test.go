package memory

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/seo-audit-machine/internal/audit"
)

type seqIDGen struct {
	next int
}

func (g *seqIDGen) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("id-%d", g.next), nil
}

type tickingClock struct {
	now time.Time
}

func (c *tickingClock) Now() time.Time {
	c.now = c.now.Add(time.Second)
	return c.now
}

func newStore() *Store {
	return New(&seqIDGen{}, &tickingClock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)})
}

func TestStore_RegisterSiteIdempotentByRootURL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore()

	first, err := s.RegisterSite(ctx, "https://example.com", "Example")
	require.NoError(t, err)

	again, err := s.RegisterSite(ctx, "https://example.com", "Example Renamed")
	require.NoError(t, err)
	require.Equal(t, first.ID, again.ID)
	require.Equal(t, "Example Renamed", again.DisplayName)

	sites, err := s.ListSites(ctx)
	require.NoError(t, err)
	require.Len(t, sites, 1)
}

func TestStore_WriteRecordIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore()

	site, err := s.RegisterSite(ctx, "https://example.com", "")
	require.NoError(t, err)
	runID, err := s.BeginRun(ctx, site.ID, audit.ModeFull)
	require.NoError(t, err)

	rec := audit.AuditRecord{SiteID: site.ID, URL: "https://example.com/a", InSitemap: true}
	require.NoError(t, s.WriteRecord(ctx, runID, rec))

	rec.InCrawl = true
	require.NoError(t, s.WriteRecord(ctx, runID, rec))

	records, err := s.ListRecords(ctx, runID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.True(t, records[0].InCrawl)
}

func TestStore_SealTransitions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore()

	site, err := s.RegisterSite(ctx, "https://example.com", "")
	require.NoError(t, err)
	runID, err := s.BeginRun(ctx, site.ID, audit.ModeFull)
	require.NoError(t, err)

	require.Error(t, s.SealRun(ctx, runID, audit.RunStatusRunning), "RUNNING is not terminal")
	require.NoError(t, s.SealRun(ctx, runID, audit.RunStatusPartial))

	run, err := s.GetRun(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, audit.RunStatusPartial, run.Status)
	require.NotNil(t, run.CompletedAt)

	require.ErrorIs(t, s.SealRun(ctx, runID, audit.RunStatusCompleted), audit.ErrRunSealed)
	require.ErrorIs(t, s.WriteRecord(ctx, runID, audit.AuditRecord{URL: "https://example.com/x"}), audit.ErrRunSealed)
}

func TestStore_LatestRunSkipsRunning(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore()

	site, err := s.RegisterSite(ctx, "https://example.com", "")
	require.NoError(t, err)

	first, err := s.BeginRun(ctx, site.ID, audit.ModeFull)
	require.NoError(t, err)
	require.NoError(t, s.SealRun(ctx, first, audit.RunStatusCompleted))

	second, err := s.BeginRun(ctx, site.ID, audit.ModeFull)
	require.NoError(t, err)
	require.NoError(t, s.SealRun(ctx, second, audit.RunStatusPartial))

	// Third run is still RUNNING and must not win.
	_, err = s.BeginRun(ctx, site.ID, audit.ModeFull)
	require.NoError(t, err)

	latest, err := s.LatestRun(ctx, site.ID)
	require.NoError(t, err)
	require.Equal(t, second, latest)
}

func TestStore_DiffRequiresSealedRuns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore()

	site, err := s.RegisterSite(ctx, "https://example.com", "")
	require.NoError(t, err)
	runA, err := s.BeginRun(ctx, site.ID, audit.ModeFull)
	require.NoError(t, err)
	runB, err := s.BeginRun(ctx, site.ID, audit.ModeFull)
	require.NoError(t, err)

	indexed := &audit.InspectionResult{URL: "https://example.com/a", Verdict: audit.VerdictIndexed}
	notIndexed := &audit.InspectionResult{URL: "https://example.com/a", Verdict: audit.VerdictNotIndexed}
	require.NoError(t, s.WriteRecord(ctx, runA, audit.AuditRecord{URL: "https://example.com/a", Inspection: indexed}))
	require.NoError(t, s.WriteRecord(ctx, runB, audit.AuditRecord{URL: "https://example.com/a", Inspection: notIndexed}))

	_, err = s.Diff(ctx, runA, runB)
	require.ErrorIs(t, err, audit.ErrRunNotSealed)

	require.NoError(t, s.SealRun(ctx, runA, audit.RunStatusCompleted))
	require.NoError(t, s.SealRun(ctx, runB, audit.RunStatusCompleted))

	deltas, err := s.Diff(ctx, runA, runB)
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	require.Equal(t, audit.DeltaChanged, deltas[0].Kind)
	require.Equal(t, audit.VerdictIndexed, deltas[0].BeforeVerdict)
	require.Equal(t, audit.VerdictNotIndexed, deltas[0].AfterVerdict)
}

func TestStore_ReopenRunOnlyFromPartial(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newStore()

	site, err := s.RegisterSite(ctx, "https://example.com", "")
	require.NoError(t, err)
	runID, err := s.BeginRun(ctx, site.ID, audit.ModeFull)
	require.NoError(t, err)

	// RUNNING runs cannot be reopened.
	require.Error(t, s.ReopenRun(ctx, runID))

	require.NoError(t, s.SealRun(ctx, runID, audit.RunStatusPartial))
	require.NoError(t, s.ReopenRun(ctx, runID))

	run, err := s.GetRun(ctx, runID)
	require.NoError(t, err)
	require.Equal(t, audit.RunStatusRunning, run.Status)
	require.Nil(t, run.CompletedAt)

	// Writes work again after the reopen, and the second seal is final.
	require.NoError(t, s.WriteRecord(ctx, runID, audit.AuditRecord{URL: "https://example.com/a"}))
	require.NoError(t, s.SealRun(ctx, runID, audit.RunStatusCompleted))
	require.ErrorIs(t, s.ReopenRun(ctx, runID), audit.ErrRunSealed)
}
