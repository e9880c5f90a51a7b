package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
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

type fixedClock struct {
	at time.Time
}

func (c fixedClock) Now() time.Time { return c.at }

func newTestStore(t *testing.T) (*Store, pgxmock.PgxPoolIface, time.Time) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	now := time.Unix(1700000000, 0).UTC()
	store, err := NewWithPool(mock, &seqIDGen{}, fixedClock{at: now})
	require.NoError(t, err)
	return store, mock, now
}

func TestRegisterSiteUpserts(t *testing.T) {
	t.Parallel()

	store, mock, now := newTestStore(t)

	mock.ExpectQuery("INSERT INTO sites").
		WithArgs("id-1", "https://example.com", "Example", now).
		WillReturnRows(pgxmock.NewRows([]string{"id", "root_url", "display_name", "created_at"}).
			AddRow("id-1", "https://example.com", "Example", now))

	site, err := store.RegisterSite(context.Background(), "https://example.com", "Example")
	require.NoError(t, err)
	require.Equal(t, "id-1", site.ID)
	require.Equal(t, "https://example.com", site.RootURL)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSiteNotFound(t *testing.T) {
	t.Parallel()

	store, mock, _ := newTestStore(t)

	mock.ExpectQuery("SELECT id, root_url, display_name, created_at FROM sites").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"id", "root_url", "display_name", "created_at"}))

	_, err := store.GetSite(context.Background(), "missing")
	require.ErrorIs(t, err, audit.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBeginRunInsertsRunningRow(t *testing.T) {
	t.Parallel()

	store, mock, now := newTestStore(t)

	mock.ExpectExec("INSERT INTO audit_runs").
		WithArgs("id-1", "site-1", now, string(audit.ModeFull), string(audit.RunStatusRunning)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	runID, err := store.BeginRun(context.Background(), "site-1", audit.ModeFull)
	require.NoError(t, err)
	require.Equal(t, "id-1", runID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSealRunTransitionsOnce(t *testing.T) {
	t.Parallel()

	store, mock, now := newTestStore(t)

	mock.ExpectExec("UPDATE audit_runs SET status").
		WithArgs("run-1", string(audit.RunStatusCompleted), now, string(audit.RunStatusRunning)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := store.SealRun(context.Background(), "run-1", audit.RunStatusCompleted)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSealRunRejectsSecondSeal(t *testing.T) {
	t.Parallel()

	store, mock, now := newTestStore(t)

	mock.ExpectExec("UPDATE audit_runs SET status").
		WithArgs("run-1", string(audit.RunStatusPartial), now, string(audit.RunStatusRunning)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT id, site_id, started_at, completed_at, mode, status").
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "site_id", "started_at", "completed_at", "mode", "status"}).
			AddRow("run-1", "site-1", now, &now, string(audit.ModeFull), string(audit.RunStatusCompleted)))

	err := store.SealRun(context.Background(), "run-1", audit.RunStatusPartial)
	require.ErrorIs(t, err, audit.ErrRunSealed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSealRunRejectsNonTerminalStatus(t *testing.T) {
	t.Parallel()

	store, _, _ := newTestStore(t)

	err := store.SealRun(context.Background(), "run-1", audit.RunStatusRunning)
	require.Error(t, err)
}

func TestWriteRecordUpsertsAndCachesInspection(t *testing.T) {
	t.Parallel()

	store, mock, now := newTestStore(t)

	inspection := &audit.InspectionResult{
		URL:           "https://example.com/a",
		Verdict:  audit.VerdictIndexed,
		CoverageState: "Submitted and indexed",
		FetchedAt:     now,
	}
	inspectionJSON, err := json.Marshal(inspection)
	require.NoError(t, err)

	record := audit.AuditRecord{
		RunID:      "run-1",
		SiteID:     "site-1",
		URL:        "https://example.com/a",
		InSitemap:  true,
		InCrawl:    true,
		Inspection: inspection,
	}

	mock.ExpectQuery("SELECT id, site_id, started_at, completed_at, mode, status").
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "site_id", "started_at", "completed_at", "mode", "status"}).
			AddRow("run-1", "site-1", now, nil, string(audit.ModeFull), string(audit.RunStatusRunning)))
	mock.ExpectExec("INSERT INTO audit_records").
		WithArgs("run-1", "site-1", "https://example.com/a", true, true, inspectionJSON, []string{}).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO inspection_cache").
		WithArgs("https://example.com/a", now, inspectionJSON).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = store.WriteRecord(context.Background(), "run-1", record)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteRecordRejectsSealedRun(t *testing.T) {
	t.Parallel()

	store, mock, now := newTestStore(t)

	mock.ExpectQuery("SELECT id, site_id, started_at, completed_at, mode, status").
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "site_id", "started_at", "completed_at", "mode", "status"}).
			AddRow("run-1", "site-1", now, &now, string(audit.ModeFull), string(audit.RunStatusCompleted)))

	err := store.WriteRecord(context.Background(), "run-1", audit.AuditRecord{URL: "https://example.com/a"})
	require.ErrorIs(t, err, audit.ErrRunSealed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRecordsDecodesInspectionAndFlags(t *testing.T) {
	t.Parallel()

	store, mock, now := newTestStore(t)

	inspection := audit.InspectionResult{
		URL:          "https://example.com/b",
		Verdict: audit.VerdictNotIndexed,
		FetchedAt:    now,
	}
	inspectionJSON, err := json.Marshal(inspection)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT site_id, url, in_sitemap, in_crawl, inspection, flags").
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"site_id", "url", "in_sitemap", "in_crawl", "inspection", "flags"}).
			AddRow("site-1", "https://example.com/a", true, true, []byte(nil), []string{string(audit.FlagInspectionFailed)}).
			AddRow("site-1", "https://example.com/b", true, false, inspectionJSON, []string{
				string(audit.FlagOrphanedInSitemap),
				string(audit.FlagUndiscoveredBySearch),
			}))

	records, err := store.ListRecords(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.Equal(t, "run-1", records[0].RunID)
	require.Nil(t, records[0].Inspection)
	require.Equal(t, []audit.Flag{audit.FlagInspectionFailed}, records[0].DiscrepancyFlags)

	require.NotNil(t, records[1].Inspection)
	require.Equal(t, audit.VerdictNotIndexed, records[1].Inspection.Verdict)
	require.Equal(t, []audit.Flag{audit.FlagOrphanedInSitemap, audit.FlagUndiscoveredBySearch}, records[1].DiscrepancyFlags)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestInspectionReadsCache(t *testing.T) {
	t.Parallel()

	store, mock, now := newTestStore(t)

	inspection := audit.InspectionResult{
		URL:          "https://example.com/a",
		Verdict: audit.VerdictIndexed,
		FetchedAt:    now,
	}
	inspectionJSON, err := json.Marshal(inspection)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT result FROM inspection_cache").
		WithArgs("https://example.com/a").
		WillReturnRows(pgxmock.NewRows([]string{"result"}).AddRow(inspectionJSON))

	got, err := store.LatestInspection(context.Background(), "https://example.com/a")
	require.NoError(t, err)
	require.Equal(t, audit.VerdictIndexed, got.Verdict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDiffRequiresSealedRuns(t *testing.T) {
	t.Parallel()

	store, mock, now := newTestStore(t)

	mock.ExpectQuery("SELECT id, site_id, started_at, completed_at, mode, status").
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "site_id", "started_at", "completed_at", "mode", "status"}).
			AddRow("run-1", "site-1", now, nil, string(audit.ModeFull), string(audit.RunStatusRunning)))

	_, err := store.Diff(context.Background(), "run-1", "run-2")
	require.ErrorIs(t, err, audit.ErrRunNotSealed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReopenRunRequiresPartial(t *testing.T) {
	t.Parallel()

	store, mock, now := newTestStore(t)

	mock.ExpectExec("UPDATE audit_runs SET status").
		WithArgs("run-1", string(audit.RunStatusRunning), string(audit.RunStatusPartial)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT id, site_id, started_at, completed_at, mode, status").
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "site_id", "started_at", "completed_at", "mode", "status"}).
			AddRow("run-1", "site-1", now, &now, string(audit.ModeFull), string(audit.RunStatusCompleted)))

	err := store.ReopenRun(context.Background(), "run-1")
	require.ErrorIs(t, err, audit.ErrRunSealed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReopenRunClearsSeal(t *testing.T) {
	t.Parallel()

	store, mock, _ := newTestStore(t)

	mock.ExpectExec("UPDATE audit_runs SET status").
		WithArgs("run-1", string(audit.RunStatusRunning), string(audit.RunStatusPartial)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.ReopenRun(context.Background(), "run-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}
