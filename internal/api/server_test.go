package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/seo-audit-machine/internal/audit"
	"github.com/JakeFAU/seo-audit-machine/internal/store/memory"
)

type seqIDGen struct {
	mu   sync.Mutex
	next int
}

func (g *seqIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("id-%d", g.next), nil
}

type tickingClock struct {
	mu sync.Mutex
	at time.Time
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.at.Add(time.Second)
	return c.at
}

func newTestServer(t *testing.T) (*Server, *memory.Store) {
	t.Helper()
	store := memory.New(&seqIDGen{}, &tickingClock{at: time.Unix(1700000000, 0).UTC()})
	return NewServer(store, prometheus.NewRegistry(), nil), store
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestMetricsEndpointServesRegistry(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "audit_test_total", Help: "test"})
	require.NoError(t, reg.Register(counter))
	counter.Inc()

	store := memory.New(&seqIDGen{}, &tickingClock{at: time.Unix(1700000000, 0).UTC()})
	srv := NewServer(store, reg, nil)

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "audit_test_total 1")
}

func TestRegisterAndGetSite(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/sites", registerSiteRequest{
		RootURL:     "https://example.com",
		DisplayName: "Example",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Site audit.Site `json:"site"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, "https://example.com", created.Site.RootURL)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/v1/sites/"+created.Site.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/v1/sites/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRegisterSiteValidation(t *testing.T) {
	t.Parallel()
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv.Handler(), http.MethodPost, "/v1/sites", registerSiteRequest{RootURL: "not-a-url"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunAndRecordEndpoints(t *testing.T) {
	t.Parallel()
	srv, store := newTestServer(t)
	ctx := context.Background()

	site, err := store.RegisterSite(ctx, "https://example.com", "")
	require.NoError(t, err)
	runID, err := store.BeginRun(ctx, site.ID, audit.ModeFull)
	require.NoError(t, err)
	require.NoError(t, store.WriteRecord(ctx, runID, audit.AuditRecord{
		SiteID:           site.ID,
		URL:              "https://example.com/a",
		InSitemap:        true,
		DiscrepancyFlags: []audit.Flag{audit.FlagOrphanedInSitemap},
	}))
	require.NoError(t, store.WriteRecord(ctx, runID, audit.AuditRecord{
		SiteID:  site.ID,
		URL:     "https://example.com/b",
		InCrawl: true,
	}))
	require.NoError(t, store.SealRun(ctx, runID, audit.RunStatusCompleted))

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/v1/runs/"+runID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/v1/runs/"+runID+"/records", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Records []audit.AuditRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Records, 2)

	rec = doJSON(t, srv.Handler(), http.MethodGet,
		"/v1/runs/"+runID+"/records?flag=ORPHANED_IN_SITEMAP", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Records, 1)
	require.Equal(t, "https://example.com/a", listed.Records[0].URL)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/v1/sites/"+site.ID+"/runs/latest", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/v1/runs/missing/records", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDiffEndpoint(t *testing.T) {
	t.Parallel()
	srv, store := newTestServer(t)
	ctx := context.Background()

	site, err := store.RegisterSite(ctx, "https://example.com", "")
	require.NoError(t, err)
	runA, err := store.BeginRun(ctx, site.ID, audit.ModeFull)
	require.NoError(t, err)
	runB, err := store.BeginRun(ctx, site.ID, audit.ModeFull)
	require.NoError(t, err)

	require.NoError(t, store.WriteRecord(ctx, runA, audit.AuditRecord{
		URL:        "https://example.com/a",
		Inspection: &audit.InspectionResult{URL: "https://example.com/a", Verdict: audit.VerdictIndexed},
	}))
	require.NoError(t, store.WriteRecord(ctx, runB, audit.AuditRecord{
		URL:        "https://example.com/a",
		Inspection: &audit.InspectionResult{URL: "https://example.com/a", Verdict: audit.VerdictNotIndexed},
	}))

	// Unsealed runs conflict.
	rec := doJSON(t, srv.Handler(), http.MethodGet, "/v1/runs/"+runA+"/diff/"+runB, nil)
	require.Equal(t, http.StatusConflict, rec.Code)

	require.NoError(t, store.SealRun(ctx, runA, audit.RunStatusCompleted))
	require.NoError(t, store.SealRun(ctx, runB, audit.RunStatusCompleted))

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/v1/runs/"+runA+"/diff/"+runB, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var diff struct {
		Deltas []audit.URLDelta `json:"deltas"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &diff))
	require.Len(t, diff.Deltas, 1)
	require.Equal(t, audit.DeltaChanged, diff.Deltas[0].Kind)
}

func TestLatestInspectionEndpoint(t *testing.T) {
	t.Parallel()
	srv, store := newTestServer(t)
	ctx := context.Background()

	rec := doJSON(t, srv.Handler(), http.MethodGet, "/v1/inspections/latest", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/v1/inspections/latest?url=https://example.com/a", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	site, err := store.RegisterSite(ctx, "https://example.com", "")
	require.NoError(t, err)
	runID, err := store.BeginRun(ctx, site.ID, audit.ModeFull)
	require.NoError(t, err)
	require.NoError(t, store.WriteRecord(ctx, runID, audit.AuditRecord{
		URL: "https://example.com/a",
		Inspection: &audit.InspectionResult{
			URL:       "https://example.com/a",
			Verdict:   audit.VerdictIndexed,
			FetchedAt: time.Unix(1700000100, 0).UTC(),
		},
	}))

	rec = doJSON(t, srv.Handler(), http.MethodGet, "/v1/inspections/latest?url=https://example.com/a", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Inspection audit.InspectionResult `json:"inspection"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, audit.VerdictIndexed, got.Inspection.Verdict)
}
