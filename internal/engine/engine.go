// Package engine orchestrates audit runs: it drives sitemap resolution and
// crawling concurrently, streams the candidate union through index
// inspection, and persists reconciled records incrementally so interrupted
// runs stay resumable.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-machine/internal/audit"
	"github.com/JakeFAU/seo-audit-machine/internal/inspect"
	"github.com/JakeFAU/seo-audit-machine/internal/progress"
)

// batchInspector is the slice of inspect.Inspector the engine depends on,
// split out so tests can script inspection outcomes.
type batchInspector interface {
	InspectAll(ctx context.Context, siteURL string, urls []string, deliver func(audit.InspectionResult, time.Duration)) (inspect.Outcome, error)
}

// Deps collects the engine's collaborators. Store, Resolver, and Crawler are
// required; the rest default to no-ops.
type Deps struct {
	Store     audit.Store
	Resolver  audit.SitemapResolver
	Crawler   audit.Crawler
	Inspector batchInspector
	Publisher audit.Publisher
	Topic     string
	Emitter   progress.Emitter
	Clock     audit.Clock
	Logger    *zap.Logger
}

// Engine coordinates one audit run end to end.
type Engine struct {
	store     audit.Store
	resolver  audit.SitemapResolver
	crawler   audit.Crawler
	inspector batchInspector
	publisher audit.Publisher
	topic     string
	emitter   progress.Emitter
	clock     audit.Clock
	logger    *zap.Logger
}

const sealTimeout = 10 * time.Second

// New validates the dependency set and returns a ready Engine.
func New(deps Deps) (*Engine, error) {
	if deps.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if deps.Resolver == nil {
		return nil, fmt.Errorf("sitemap resolver is required")
	}
	if deps.Crawler == nil {
		return nil, fmt.Errorf("crawler is required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Engine{
		store:     deps.Store,
		resolver:  deps.Resolver,
		crawler:   deps.Crawler,
		inspector: deps.Inspector,
		publisher: deps.Publisher,
		topic:     deps.Topic,
		emitter:   deps.Emitter,
		clock:     deps.Clock,
		logger:    deps.Logger,
	}, nil
}

// RunOptions selects the site and scope of one audit run.
type RunOptions struct {
	SiteID string
	Mode   audit.RunMode
	// SitemapURL overrides the default <root>/sitemap.xml.
	SitemapURL string
}

// Report summarizes a finished (sealed) run.
type Report struct {
	RunID          string          `json:"run_id"`
	SiteID         string          `json:"site_id"`
	Status         audit.RunStatus `json:"status"`
	SitemapEntries int             `json:"sitemap_entries"`
	SitemapErrors  int             `json:"sitemap_errors"`
	CrawledPages   int             `json:"crawled_pages"`
	Truncated      bool            `json:"truncated"`
	Inspected      int             `json:"inspected"`
	QuotaExhausted bool            `json:"quota_exhausted"`
	RecordsWritten int             `json:"records_written"`
}

// RunSealedEvent is published after every seal so downstream consumers can
// trigger reports or alerts.
type RunSealedEvent struct {
	RunID    string          `json:"run_id"`
	SiteID   string          `json:"site_id"`
	Mode     audit.RunMode   `json:"mode"`
	Status   audit.RunStatus `json:"status"`
	Records  int             `json:"records"`
	SealedAt time.Time       `json:"sealed_at"`
}

// Run executes a full audit for the site and seals the resulting run. The
// returned Report always refers to a sealed run, even when err is non-nil.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (Report, error) {
	if opts.Mode == "" {
		opts.Mode = audit.ModeFull
	}
	if opts.Mode == audit.ModeFull && e.inspector == nil {
		return Report{}, fmt.Errorf("full audits need an inspector, use CRAWL_ONLY mode without one")
	}

	site, err := e.store.GetSite(ctx, opts.SiteID)
	if err != nil {
		return Report{}, err
	}
	sitemapURL := opts.SitemapURL
	if sitemapURL == "" {
		sitemapURL = strings.TrimSuffix(site.RootURL, "/") + "/sitemap.xml"
	}

	runID, err := e.store.BeginRun(ctx, site.ID, opts.Mode)
	if err != nil {
		return Report{}, err
	}
	started := e.now()
	e.emit(progress.Event{RunID: runID, SiteID: site.ID, TS: started, Stage: progress.StageRunStart})
	e.logger.Info("audit run started",
		zap.String("run_id", runID),
		zap.String("site_id", site.ID),
		zap.String("mode", string(opts.Mode)))

	report := e.execute(ctx, site, runID, opts.Mode, sitemapURL)
	return e.seal(site, runID, opts.Mode, started, report)
}

// execute runs discovery and inspection and returns an unsealed report whose
// Status holds the terminal status the run should seal with.
func (e *Engine) execute(ctx context.Context, site audit.Site, runID string, mode audit.RunMode, sitemapURL string) Report {
	report := Report{RunID: runID, SiteID: site.ID}

	// Discovery sources run concurrently; each keeps its own visited set and
	// they share nothing until both finish.
	var (
		wg       sync.WaitGroup
		smResult audit.SitemapResult
		smErr    error
		crResult audit.CrawlResult
		crErr    error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		smResult, smErr = e.resolver.Resolve(ctx, site, sitemapURL)
	}()
	go func() {
		defer wg.Done()
		crResult, crErr = e.crawler.Crawl(ctx, site)
	}()
	wg.Wait()

	degraded := false
	if smErr != nil {
		degraded = true
		e.logger.Warn("sitemap resolution failed, continuing without declared URLs",
			zap.String("run_id", runID), zap.Error(smErr))
	}
	if crErr != nil {
		degraded = true
		e.logger.Warn("crawl failed, continuing without reachable URLs",
			zap.String("run_id", runID), zap.Error(crErr))
	}
	report.SitemapEntries = len(smResult.Entries)
	report.SitemapErrors = len(smResult.Errors)
	report.CrawledPages = len(crResult.Pages)
	report.Truncated = crResult.Truncated
	for _, perr := range smResult.Errors {
		e.logger.Warn("sitemap node skipped", zap.String("run_id", runID), zap.Error(perr))
	}
	e.emit(progress.Event{RunID: runID, SiteID: site.ID, TS: e.now(),
		Stage: progress.StageSitemapDone, Count: int64(report.SitemapEntries)})
	e.emit(progress.Event{RunID: runID, SiteID: site.ID, TS: e.now(),
		Stage: progress.StageCrawlDone, Count: int64(report.CrawledPages)})

	// Membership rows go down first. In CRAWL_ONLY mode they are the final
	// records; in FULL mode each is overwritten as its inspection arrives, so
	// a row with a nil inspection marks a URL a resume still has to cover.
	pending := audit.Reconcile(site.ID, runID, audit.ModeCrawlOnly, smResult.Entries, crResult.Pages, nil)
	var storeErr error
	for _, rec := range pending {
		if err := e.store.WriteRecord(ctx, runID, rec); err != nil {
			storeErr = err
			break
		}
		report.RecordsWritten++
	}
	e.emit(progress.Event{RunID: runID, SiteID: site.ID, TS: e.now(),
		Stage: progress.StageRecordWrite, Count: int64(report.RecordsWritten)})

	switch {
	case storeErr != nil:
		e.logger.Error("record write failed", zap.String("run_id", runID), zap.Error(storeErr))
		report.Status = audit.RunStatusFailed
		return report
	case mode == audit.ModeCrawlOnly:
		report.Status = e.terminalStatus(ctx, false, report.Truncated, degraded)
		return report
	}

	inSitemap := make(map[string]bool, len(smResult.Entries))
	for _, entry := range smResult.Entries {
		inSitemap[entry.URL] = true
	}
	inCrawl := make(map[string]bool, len(crResult.Pages))
	for _, page := range crResult.Pages {
		inCrawl[page.URL] = true
	}
	urls := make([]string, 0, len(pending))
	for _, rec := range pending {
		urls = append(urls, rec.URL)
	}

	outcome, inspected, storeErr := e.inspectAndRecord(ctx, site, runID, urls, inSitemap, inCrawl)
	report.Inspected = inspected
	// RecordsWritten counts every successful WriteRecord in this invocation,
	// membership placeholders and inspection overwrites alike, so it means
	// the same thing here as it does on a resume.
	report.RecordsWritten += inspected
	report.QuotaExhausted = outcome.QuotaExhausted
	if storeErr != nil {
		e.logger.Error("record write failed", zap.String("run_id", runID), zap.Error(storeErr))
		report.Status = audit.RunStatusFailed
		return report
	}
	report.Status = e.terminalStatus(ctx, outcome.QuotaExhausted, report.Truncated, degraded)
	return report
}

// inspectAndRecord streams inspection results straight into the store. The
// first write failure cancels the remaining queue.
func (e *Engine) inspectAndRecord(
	ctx context.Context,
	site audit.Site,
	runID string,
	urls []string,
	inSitemap, inCrawl map[string]bool,
) (inspect.Outcome, int, error) {
	inspectCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		written  int
		storeErr error
	)
	deliver := func(res audit.InspectionResult, latency time.Duration) {
		copied := res
		rec := audit.AuditRecord{
			SiteID:     site.ID,
			RunID:      runID,
			URL:        res.URL,
			InSitemap:  inSitemap[res.URL],
			InCrawl:    inCrawl[res.URL],
			Inspection: &copied,
		}
		rec.DiscrepancyFlags = audit.DeriveFlags(rec.InSitemap, rec.InCrawl, rec.Inspection, audit.ModeFull)
		err := e.store.WriteRecord(inspectCtx, runID, rec)

		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			if storeErr == nil {
				storeErr = err
				cancel()
			}
			return
		}
		written++
		e.emit(progress.Event{RunID: runID, SiteID: site.ID, TS: e.now(),
			Stage: progress.StageInspectDone, URL: res.URL, Verdict: string(res.Verdict), Dur: latency})
	}

	outcome, err := e.inspector.InspectAll(inspectCtx, site.RootURL, urls, deliver)
	mu.Lock()
	defer mu.Unlock()
	if err != nil && storeErr == nil && ctx.Err() == nil {
		// InspectAll only errors on cancellation; a cancel we did not issue
		// ourselves means the store write that triggered it already recorded
		// its failure, so anything else is unexpected.
		e.logger.Warn("inspection pass ended early", zap.String("run_id", runID), zap.Error(err))
	}
	return outcome, written, storeErr
}

// Resume fills in the inspections a PARTIAL run is missing and re-seals it.
// Only FULL runs carry inspections, so crawl-only runs cannot be resumed.
func (e *Engine) Resume(ctx context.Context, runID string) (Report, error) {
	if e.inspector == nil {
		return Report{}, fmt.Errorf("resume needs an inspector")
	}
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return Report{}, err
	}
	if run.Status != audit.RunStatusPartial {
		return Report{}, fmt.Errorf("run %s has status %s, only PARTIAL runs can be resumed", runID, run.Status)
	}
	if run.Mode != audit.ModeFull {
		return Report{}, fmt.Errorf("run %s is %s, crawl-only runs have no inspections to resume", runID, run.Mode)
	}
	site, err := e.store.GetSite(ctx, run.SiteID)
	if err != nil {
		return Report{}, err
	}

	records, err := e.store.ListRecords(ctx, runID)
	if err != nil {
		return Report{}, err
	}
	inSitemap := make(map[string]bool, len(records))
	inCrawl := make(map[string]bool, len(records))
	var missing []string
	for _, rec := range records {
		inSitemap[rec.URL] = rec.InSitemap
		inCrawl[rec.URL] = rec.InCrawl
		if rec.Inspection == nil {
			missing = append(missing, rec.URL)
		}
	}

	if err := e.store.ReopenRun(ctx, runID); err != nil {
		return Report{}, err
	}
	started := e.now()
	e.logger.Info("audit run resumed",
		zap.String("run_id", runID),
		zap.String("site_id", site.ID),
		zap.Int("missing_urls", len(missing)))

	report := Report{RunID: runID, SiteID: site.ID}
	outcome, inspected, storeErr := e.inspectAndRecord(ctx, site, runID, missing, inSitemap, inCrawl)
	report.Inspected = inspected
	report.QuotaExhausted = outcome.QuotaExhausted
	report.RecordsWritten = inspected
	switch {
	case storeErr != nil:
		e.logger.Error("record write failed", zap.String("run_id", runID), zap.Error(storeErr))
		report.Status = audit.RunStatusFailed
	default:
		report.Status = e.terminalStatus(ctx, outcome.QuotaExhausted, false, false)
	}
	return e.seal(site, runID, run.Mode, started, report)
}

// terminalStatus maps run-level conditions onto the seal status. Isolated
// URL errors never degrade the run; quota exhaustion, crawl truncation,
// degraded discovery, and cancellation all seal PARTIAL.
func (e *Engine) terminalStatus(ctx context.Context, quota, truncated, degraded bool) audit.RunStatus {
	if quota || truncated || degraded || ctx.Err() != nil {
		return audit.RunStatusPartial
	}
	return audit.RunStatusCompleted
}

// seal applies the terminal transition on a fresh context so cancellation of
// the run context cannot leave the run RUNNING forever.
func (e *Engine) seal(site audit.Site, runID string, mode audit.RunMode, started time.Time, report Report) (Report, error) {
	sealCtx, cancel := context.WithTimeout(context.Background(), sealTimeout)
	defer cancel()

	if err := e.store.SealRun(sealCtx, runID, report.Status); err != nil {
		return report, fmt.Errorf("seal run %s: %w", runID, err)
	}
	sealedAt := e.now()
	e.emit(progress.Event{RunID: runID, SiteID: site.ID, TS: sealedAt,
		Stage: progress.StageRunSealed, Status: string(report.Status), Dur: sealedAt.Sub(started)})
	e.logger.Info("audit run sealed",
		zap.String("run_id", runID),
		zap.String("status", string(report.Status)),
		zap.Int("records", report.RecordsWritten),
		zap.Int("inspected", report.Inspected))

	if e.publisher != nil && e.topic != "" {
		event := RunSealedEvent{
			RunID:    runID,
			SiteID:   site.ID,
			Mode:     mode,
			Status:   report.Status,
			Records:  report.RecordsWritten,
			SealedAt: sealedAt,
		}
		if _, err := e.publisher.Publish(sealCtx, e.topic, event); err != nil {
			e.logger.Warn("run sealed event publish failed", zap.String("run_id", runID), zap.Error(err))
		}
	}
	return report, nil
}

func (e *Engine) emit(evt progress.Event) {
	if e.emitter == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() time.Time {
	if e.clock != nil {
		return e.clock.Now()
	}
	return time.Now().UTC()
}
