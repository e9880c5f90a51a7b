package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/seo-audit-machine/internal/progress"
)

// PrometheusSink exports audit progress metrics. It owns all collectors for
// runs started/sealed/running, per-verdict inspection counters, and the
// discovery tallies from the sitemap and crawl stages.
type PrometheusSink struct {
	runsStarted prometheus.Counter
	runsSealed  *prometheus.CounterVec
	runsRunning prometheus.Gauge
	runRuntime  *prometheus.HistogramVec

	inspections     *prometheus.CounterVec
	inspectDuration prometheus.Histogram
	sitemapEntries  prometheus.Counter
	crawledPages    prometheus.Counter
	recordsWritten  prometheus.Counter

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_runs_started_total",
			Help: "Total audit runs that have started.",
		}),
		runsSealed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_runs_sealed_total",
			Help: "Total audit runs sealed, partitioned by terminal status.",
		}, []string{"status"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "audit_runs_running",
			Help: "Current number of running audit runs.",
		}),
		runRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "audit_run_runtime_seconds",
			Help:    "Wall time per sealed run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"status"}),
		inspections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_inspections_total",
			Help: "Inspection completions partitioned by verdict.",
		}, []string{"verdict"}),
		inspectDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "audit_inspection_duration_seconds",
			Help:    "Inspection call duration including retries.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		sitemapEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_sitemap_entries_total",
			Help: "Sitemap entries resolved across all runs.",
		}),
		crawledPages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_crawled_pages_total",
			Help: "Pages reached by the internal-link crawler across all runs.",
		}),
		recordsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_records_written_total",
			Help: "Reconciled audit records persisted to the store.",
		}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsSealed,
		s.runsRunning,
		s.runRuntime,
		s.inspections,
		s.inspectDuration,
		s.sitemapEntries,
		s.crawledPages,
		s.recordsWritten,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors using the provided batch. Safe for
// concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StageRunSealed:
		status := evt.Status
		if status == "" {
			status = "unknown"
		}
		s.runsSealed.WithLabelValues(status).Inc()
		if evt.Dur > 0 {
			s.runRuntime.WithLabelValues(status).Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.RunID) {
			s.runsRunning.Dec()
		}
	case progress.StageSitemapDone:
		s.sitemapEntries.Add(float64(evt.Count))
	case progress.StageCrawlDone:
		s.crawledPages.Add(float64(evt.Count))
	case progress.StageInspectDone:
		verdict := evt.Verdict
		if verdict == "" {
			verdict = "unknown"
		}
		s.inspections.WithLabelValues(verdict).Inc()
		if evt.Dur > 0 {
			s.inspectDuration.Observe(evt.Dur.Seconds())
		}
	case progress.StageRecordWrite:
		count := evt.Count
		if count == 0 {
			count = 1
		}
		s.recordsWritten.Add(float64(count))
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// runTracker deduplicates start/seal pairs so the running gauge survives
// event replays.
type runTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[string]struct{})}
}

func (t *runTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
