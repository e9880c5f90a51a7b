// Package memory provides an in-memory audit store for tests and local runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/seo-audit-machine/internal/audit"
)

type recordKey struct {
	runID string
	url   string
}

// Store keeps sites, runs, and records in process memory. Writes are
// idempotent upserts keyed by (run_id, url), matching the Postgres backend.
type Store struct {
	mu      sync.RWMutex
	sites   map[string]audit.Site // by id
	byRoot  map[string]string     // root url -> site id
	runs    map[string]audit.AuditRun
	records map[recordKey]audit.AuditRecord

	ids   audit.IDGenerator
	clock audit.Clock
}

// New creates an empty Store.
func New(ids audit.IDGenerator, clock audit.Clock) *Store {
	return &Store{
		sites:   make(map[string]audit.Site),
		byRoot:  make(map[string]string),
		runs:    make(map[string]audit.AuditRun),
		records: make(map[recordKey]audit.AuditRecord),
		ids:     ids,
		clock:   clock,
	}
}

func (s *Store) now() time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return time.Now().UTC()
}

func (s *Store) newID() (string, error) {
	if s.ids == nil {
		return "", fmt.Errorf("id generator is not configured")
	}
	return s.ids.NewID()
}

// RegisterSite inserts a site if its root URL is new, otherwise refreshes the
// display name and returns the existing site.
func (s *Store) RegisterSite(_ context.Context, rootURL, displayName string) (audit.Site, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byRoot[rootURL]; ok {
		site := s.sites[id]
		if displayName != "" {
			site.DisplayName = displayName
			s.sites[id] = site
		}
		return site, nil
	}

	id, err := s.newID()
	if err != nil {
		return audit.Site{}, fmt.Errorf("generate site id: %w", err)
	}
	site := audit.Site{
		ID:          id,
		RootURL:     rootURL,
		DisplayName: displayName,
		CreatedAt:   s.now(),
	}
	s.sites[id] = site
	s.byRoot[rootURL] = id
	return site, nil
}

// GetSite looks a site up by id.
func (s *Store) GetSite(_ context.Context, siteID string) (audit.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	site, ok := s.sites[siteID]
	if !ok {
		return audit.Site{}, fmt.Errorf("site %s: %w", siteID, audit.ErrNotFound)
	}
	return site, nil
}

// ListSites returns all registered sites ordered by creation time.
func (s *Store) ListSites(context.Context) ([]audit.Site, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]audit.Site, 0, len(s.sites))
	for _, site := range s.sites {
		out = append(out, site)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// BeginRun creates a RUNNING run for the site.
func (s *Store) BeginRun(_ context.Context, siteID string, mode audit.RunMode) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sites[siteID]; !ok {
		return "", fmt.Errorf("site %s: %w", siteID, audit.ErrNotFound)
	}
	id, err := s.newID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	s.runs[id] = audit.AuditRun{
		ID:        id,
		SiteID:    siteID,
		StartedAt: s.now(),
		Mode:      mode,
		Status:    audit.RunStatusRunning,
	}
	return id, nil
}

// GetRun returns a run by id.
func (s *Store) GetRun(_ context.Context, runID string) (audit.AuditRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runID]
	if !ok {
		return audit.AuditRun{}, fmt.Errorf("run %s: %w", runID, audit.ErrNotFound)
	}
	return run, nil
}

// SealRun applies the terminal transition. Sealing an already-sealed run is
// rejected; RUNNING is not a legal seal status.
func (s *Store) SealRun(_ context.Context, runID string, status audit.RunStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("status %s is not terminal", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, audit.ErrNotFound)
	}
	if run.Status.Terminal() {
		return fmt.Errorf("run %s: %w", runID, audit.ErrRunSealed)
	}
	completed := s.now()
	run.Status = status
	run.CompletedAt = &completed
	s.runs[runID] = run
	return nil
}

// ReopenRun moves a PARTIAL run back to RUNNING so a resume can fill in the
// missing inspections.
func (s *Store) ReopenRun(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, audit.ErrNotFound)
	}
	if run.Status != audit.RunStatusPartial {
		return fmt.Errorf("run %s has status %s, only PARTIAL runs can be reopened: %w",
			runID, run.Status, audit.ErrRunSealed)
	}
	run.Status = audit.RunStatusRunning
	run.CompletedAt = nil
	s.runs[runID] = run
	return nil
}

// LatestRun returns the most recently started sealed run for the site, or
// ErrNotFound when the site has no sealed runs yet.
func (s *Store) LatestRun(_ context.Context, siteID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		latest   string
		latestAt time.Time
	)
	for id, run := range s.runs {
		if run.SiteID != siteID || !run.Status.Terminal() {
			continue
		}
		if latest == "" || run.StartedAt.After(latestAt) {
			latest, latestAt = id, run.StartedAt
		}
	}
	if latest == "" {
		return "", fmt.Errorf("no sealed runs for site %s: %w", siteID, audit.ErrNotFound)
	}
	return latest, nil
}

// WriteRecord upserts a record keyed by (run_id, url). Re-delivery after a
// resumed run overwrites instead of duplicating. Writes to sealed runs fail.
func (s *Store) WriteRecord(_ context.Context, runID string, record audit.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return fmt.Errorf("run %s: %w", runID, audit.ErrNotFound)
	}
	if run.Status.Terminal() {
		return fmt.Errorf("run %s: %w", runID, audit.ErrRunSealed)
	}
	record.RunID = runID
	s.records[recordKey{runID: runID, url: record.URL}] = record
	return nil
}

// ListRecords returns the run's records, URL-sorted.
func (s *Store) ListRecords(_ context.Context, runID string) ([]audit.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.runs[runID]; !ok {
		return nil, fmt.Errorf("run %s: %w", runID, audit.ErrNotFound)
	}
	var out []audit.AuditRecord
	for key, record := range s.records {
		if key.runID == runID {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

// LatestInspection returns the freshest inspection recorded for the URL
// across all runs.
func (s *Store) LatestInspection(_ context.Context, url string) (audit.InspectionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		found  bool
		latest audit.InspectionResult
	)
	for _, record := range s.records {
		if record.URL != url || record.Inspection == nil {
			continue
		}
		if !found || record.Inspection.FetchedAt.After(latest.FetchedAt) {
			latest = *record.Inspection
			found = true
		}
	}
	if !found {
		return audit.InspectionResult{}, fmt.Errorf("no inspections for %s: %w", url, audit.ErrNotFound)
	}
	return latest, nil
}

// Diff compares two sealed runs by URL.
func (s *Store) Diff(ctx context.Context, runA, runB string) ([]audit.URLDelta, error) {
	for _, id := range []string{runA, runB} {
		run, err := s.GetRun(ctx, id)
		if err != nil {
			return nil, err
		}
		if !run.Status.Terminal() {
			return nil, fmt.Errorf("run %s: %w", id, audit.ErrRunNotSealed)
		}
	}
	before, err := s.ListRecords(ctx, runA)
	if err != nil {
		return nil, err
	}
	after, err := s.ListRecords(ctx, runB)
	if err != nil {
		return nil, err
	}
	return audit.DiffRecords(before, after), nil
}
