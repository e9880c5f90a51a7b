package audit

import (
	"sort"
)

// Reconcile merges the three per-run data sources into one AuditRecord per
// URL in their union. It is a pure function of its inputs: no I/O, no hidden
// state, and a deterministic (URL-sorted) result regardless of input order.
//
// In CRAWL_ONLY mode no inspection data exists, so the inspection-derived
// flags are not evaluated.
func Reconcile(
	siteID, runID string,
	mode RunMode,
	entries []SitemapEntry,
	pages []CrawledPage,
	inspections []InspectionResult,
) []AuditRecord {
	inSitemap := make(map[string]bool, len(entries))
	for _, e := range entries {
		inSitemap[e.URL] = true
	}
	inCrawl := make(map[string]bool, len(pages))
	for _, p := range pages {
		inCrawl[p.URL] = true
	}
	inspected := make(map[string]InspectionResult, len(inspections))
	for _, res := range inspections {
		inspected[res.URL] = res
	}

	union := make(map[string]struct{}, len(inSitemap)+len(inCrawl))
	for u := range inSitemap {
		union[u] = struct{}{}
	}
	for u := range inCrawl {
		union[u] = struct{}{}
	}
	for u := range inspected {
		union[u] = struct{}{}
	}

	urls := make([]string, 0, len(union))
	for u := range union {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	records := make([]AuditRecord, 0, len(urls))
	for _, u := range urls {
		var inspection *InspectionResult
		if res, ok := inspected[u]; ok {
			copied := res
			inspection = &copied
		}
		rec := AuditRecord{
			SiteID:     siteID,
			RunID:      runID,
			URL:        u,
			InSitemap:  inSitemap[u],
			InCrawl:    inCrawl[u],
			Inspection: inspection,
		}
		rec.DiscrepancyFlags = DeriveFlags(rec.InSitemap, rec.InCrawl, rec.Inspection, mode)
		records = append(records, rec)
	}
	return records
}

// DeriveFlags computes the discrepancy flag set for one URL. Flags are fully
// derived from (in_sitemap, in_crawl, inspection); callers must never store a
// flag set that did not come from this function.
func DeriveFlags(inSitemap, inCrawl bool, inspection *InspectionResult, mode RunMode) []Flag {
	var flags []Flag
	if inSitemap && !inCrawl {
		flags = append(flags, FlagOrphanedInSitemap)
	}
	if inCrawl && !inSitemap {
		flags = append(flags, FlagCrawlOnly)
	}
	if mode == ModeCrawlOnly {
		return flags
	}
	if (inSitemap || inCrawl) && (inspection == nil || inspection.Verdict != VerdictIndexed) {
		flags = append(flags, FlagUndiscoveredBySearch)
	}
	if inspection == nil || inspection.Verdict == VerdictError {
		flags = append(flags, FlagInspectionFailed)
	}
	return flags
}
