// Package audit defines the core types shared across the audit engine.
package audit

import (
	"time"
)

// RunStatus represents the lifecycle state of an audit run.
type RunStatus string

// Run status values persisted in the audit store.
const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusPartial   RunStatus = "PARTIAL"
)

// Terminal reports whether the status seals a run.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusPartial:
		return true
	}
	return false
}

// RunMode selects how much of the pipeline a run exercises.
type RunMode string

// Supported run modes.
const (
	ModeCrawlOnly RunMode = "CRAWL_ONLY"
	ModeFull      RunMode = "FULL"
)

// Verdict is the indexing outcome reported for a URL.
type Verdict string

// Supported inspection verdicts.
const (
	VerdictIndexed    Verdict = "INDEXED"
	VerdictNotIndexed Verdict = "NOT_INDEXED"
	VerdictExcluded   Verdict = "EXCLUDED"
	VerdictError      Verdict = "ERROR"
)

// Flag marks a per-URL discrepancy between the three data sources.
type Flag string

// Discrepancy flags derived during reconciliation.
const (
	FlagOrphanedInSitemap    Flag = "ORPHANED_IN_SITEMAP"
	FlagUndiscoveredBySearch Flag = "UNDISCOVERED_BY_SEARCH"
	FlagCrawlOnly            Flag = "CRAWL_ONLY"
	FlagInspectionFailed     Flag = "INSPECTION_FAILED"
)

// Site identifies one audited property. RootURL is unique across sites.
type Site struct {
	ID          string    `json:"id"`
	RootURL     string    `json:"root_url"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// SitemapEntry is one URL declared by a sitemap. Entries are produced fresh
// per run and consumed directly into reconciliation.
type SitemapEntry struct {
	SiteID        string     `json:"site_id"`
	URL           string     `json:"url"`
	LastMod       *time.Time `json:"lastmod,omitempty"`
	ChangeFreq    string     `json:"changefreq,omitempty"`
	Priority      float64    `json:"priority,omitempty"`
	SourceSitemap string     `json:"source_sitemap_url"`
}

// CrawledPage is one URL reached by the internal-link crawler. DiscoveredVia
// is the referrer URL, or "seed" for the crawl roots.
type CrawledPage struct {
	SiteID        string `json:"site_id"`
	URL           string `json:"url"`
	DiscoveredVia string `json:"discovered_via"`
	HTTPStatus    int    `json:"http_status"`
	CrawlDepth    int    `json:"crawl_depth"`
}

// SeedReferrer marks pages fetched directly from the crawl seed list.
const SeedReferrer = "seed"

// InspectionResult is the outcome of one index-inspection call. Immutable
// once written.
type InspectionResult struct {
	URL           string     `json:"url"`
	Verdict       Verdict    `json:"verdict"`
	CoverageState string     `json:"coverage_state,omitempty"`
	ReferringURLs []string   `json:"referring_urls,omitempty"`
	LastCrawlTime *time.Time `json:"last_crawl_time,omitempty"`
	CanonicalURL  string     `json:"canonical_url,omitempty"`
	FetchedAt     time.Time  `json:"fetched_at"`
}

// AuditRecord is the reconciled per-URL unit, one per URL per run.
// DiscrepancyFlags is always recomputed from the other fields, never edited
// independently.
type AuditRecord struct {
	SiteID           string            `json:"site_id"`
	RunID            string            `json:"run_id"`
	URL              string            `json:"url"`
	InSitemap        bool              `json:"in_sitemap"`
	InCrawl          bool              `json:"in_crawl"`
	Inspection       *InspectionResult `json:"inspection,omitempty"`
	DiscrepancyFlags []Flag            `json:"discrepancy_flags"`
}

// HasFlag reports whether the record carries the given flag.
func (r AuditRecord) HasFlag(f Flag) bool {
	for _, have := range r.DiscrepancyFlags {
		if have == f {
			return true
		}
	}
	return false
}

// AuditRun is the unit of historical comparison. Created RUNNING at start,
// sealed exactly once with a terminal status, never mutated afterwards.
type AuditRun struct {
	ID          string     `json:"id"`
	SiteID      string     `json:"site_id"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Mode        RunMode    `json:"mode"`
	Status      RunStatus  `json:"status"`
}

// DeltaKind classifies one entry of a run-to-run diff.
type DeltaKind string

// Delta kinds reported by Store.Diff.
const (
	DeltaAdded   DeltaKind = "added"
	DeltaRemoved DeltaKind = "removed"
	DeltaChanged DeltaKind = "changed"
)

// URLDelta describes how one URL's audit outcome moved between two runs.
type URLDelta struct {
	URL           string    `json:"url"`
	Kind          DeltaKind `json:"kind"`
	BeforeVerdict Verdict   `json:"before_verdict,omitempty"`
	AfterVerdict  Verdict   `json:"after_verdict,omitempty"`
	BeforeFlags   []Flag    `json:"before_flags,omitempty"`
	AfterFlags    []Flag    `json:"after_flags,omitempty"`
}
