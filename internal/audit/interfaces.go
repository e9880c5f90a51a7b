package audit

import (
	"context"
	"time"
)

// Store persists sites, runs, and reconciled records. Implementations must
// make WriteRecord an idempotent upsert keyed by (run_id, url) and must
// reject writes to sealed runs.
type Store interface {
	RegisterSite(ctx context.Context, rootURL, displayName string) (Site, error)
	GetSite(ctx context.Context, siteID string) (Site, error)
	ListSites(ctx context.Context) ([]Site, error)

	BeginRun(ctx context.Context, siteID string, mode RunMode) (string, error)
	GetRun(ctx context.Context, runID string) (AuditRun, error)
	SealRun(ctx context.Context, runID string, status RunStatus) error

	// ReopenRun moves a PARTIAL run back to RUNNING so a resume can fill in
	// the missing inspections. COMPLETED and FAILED runs stay immutable.
	ReopenRun(ctx context.Context, runID string) error

	LatestRun(ctx context.Context, siteID string) (string, error)

	WriteRecord(ctx context.Context, runID string, record AuditRecord) error
	ListRecords(ctx context.Context, runID string) ([]AuditRecord, error)

	// LatestInspection returns the most recent cached inspection for a URL
	// across all runs, or ErrNotFound.
	LatestInspection(ctx context.Context, url string) (InspectionResult, error)

	Diff(ctx context.Context, runA, runB string) ([]URLDelta, error)
}

// SitemapResolver expands a root sitemap URL into the flat entry set.
type SitemapResolver interface {
	Resolve(ctx context.Context, site Site, sitemapURL string) (SitemapResult, error)
}

// SitemapResult carries the resolver output plus per-node parse failures.
type SitemapResult struct {
	Entries []SitemapEntry
	Errors  []error
}

// Crawler walks the site's internal link graph from the seed set.
type Crawler interface {
	Crawl(ctx context.Context, site Site) (CrawlResult, error)
}

// CrawlResult carries the crawler output. Truncated is set when the page
// budget stopped frontier expansion.
type CrawlResult struct {
	Pages     []CrawledPage
	Truncated bool
}

// Publisher pushes run lifecycle events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore archives raw artifacts (sitemap XML, inspection payloads) and
// returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run and site IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
