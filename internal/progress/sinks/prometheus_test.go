package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/seo-audit-machine/internal/progress"
)

func TestPrometheusSinkTracksRunLifecycle(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	batch := []progress.Event{
		{RunID: "run-1", SiteID: "site-1", TS: now, Stage: progress.StageRunStart},
		{RunID: "run-1", SiteID: "site-1", TS: now, Stage: progress.StageSitemapDone, Count: 12},
		{RunID: "run-1", SiteID: "site-1", TS: now, Stage: progress.StageCrawlDone, Count: 30},
		{RunID: "run-1", SiteID: "site-1", TS: now, Stage: progress.StageInspectDone, URL: "https://example.com/a", Verdict: "INDEXED", Dur: time.Second},
		{RunID: "run-1", SiteID: "site-1", TS: now, Stage: progress.StageRecordWrite, Count: 3},
		{RunID: "run-1", SiteID: "site-1", TS: now, Stage: progress.StageRunSealed, Status: "PARTIAL", Dur: 2 * time.Second},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, float64(1), testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, float64(0), testutil.ToFloat64(sink.runsRunning))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.runsSealed.WithLabelValues("PARTIAL")))
	require.Equal(t, float64(12), testutil.ToFloat64(sink.sitemapEntries))
	require.Equal(t, float64(30), testutil.ToFloat64(sink.crawledPages))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.inspections.WithLabelValues("INDEXED")))
	require.Equal(t, float64(3), testutil.ToFloat64(sink.recordsWritten))
}

func TestPrometheusSinkRunningGaugeSurvivesReplay(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	start := progress.Event{RunID: "run-1", TS: now, Stage: progress.StageRunStart}
	sealed := progress.Event{RunID: "run-1", TS: now, Stage: progress.StageRunSealed, Status: "COMPLETED"}

	// A replayed start or seal must not push the gauge negative or double
	// count it.
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{start, start}))
	require.Equal(t, float64(1), testutil.ToFloat64(sink.runsRunning))
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{sealed, sealed}))
	require.Equal(t, float64(0), testutil.ToFloat64(sink.runsRunning))
}

func TestPrometheusSinkRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
