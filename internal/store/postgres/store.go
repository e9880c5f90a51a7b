// Package postgres provides the Postgres-backed audit store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/seo-audit-machine/internal/audit"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of pgxpool.Pool the store uses, split out so pgxmock
// can stand in during tests.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store persists audit history in Postgres.
type Store struct {
	pool  pool
	ids   audit.IDGenerator
	clock audit.Clock
}

// New connects a pool and ensures the audit schema exists.
func New(ctx context.Context, cfg Config, ids audit.IDGenerator, clock audit.Clock) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := &Store{pool: p, ids: ids, clock: clock}
	if err := store.ensureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for
// testing). The schema is assumed present.
func NewWithPool(p pool, ids audit.IDGenerator, clock audit.Clock) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p, ids: ids, clock: clock}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) ensureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply audit schema: %w", err)
	}
	return nil
}

func (s *Store) now() time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return time.Now().UTC()
}

// RegisterSite inserts a site if its root URL is new. Re-registering an
// existing root refreshes the display name and returns the existing row.
func (s *Store) RegisterSite(ctx context.Context, rootURL, displayName string) (audit.Site, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return audit.Site{}, fmt.Errorf("generate site id: %w", err)
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO sites (id, root_url, display_name, created_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (root_url) DO UPDATE
SET display_name = CASE WHEN EXCLUDED.display_name <> '' THEN EXCLUDED.display_name ELSE sites.display_name END
RETURNING id, root_url, display_name, created_at`,
		id, rootURL, displayName, s.now())

	var site audit.Site
	if err := row.Scan(&site.ID, &site.RootURL, &site.DisplayName, &site.CreatedAt); err != nil {
		return audit.Site{}, fmt.Errorf("register site: %w", err)
	}
	return site, nil
}

// GetSite looks a site up by id.
func (s *Store) GetSite(ctx context.Context, siteID string) (audit.Site, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, root_url, display_name, created_at FROM sites WHERE id = $1`, siteID)
	var site audit.Site
	if err := row.Scan(&site.ID, &site.RootURL, &site.DisplayName, &site.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return audit.Site{}, fmt.Errorf("site %s: %w", siteID, audit.ErrNotFound)
		}
		return audit.Site{}, fmt.Errorf("get site: %w", err)
	}
	return site, nil
}

// ListSites returns all registered sites ordered by creation time.
func (s *Store) ListSites(ctx context.Context) ([]audit.Site, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, root_url, display_name, created_at FROM sites ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	defer rows.Close()

	var sites []audit.Site
	for rows.Next() {
		var site audit.Site
		if err := rows.Scan(&site.ID, &site.RootURL, &site.DisplayName, &site.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan site: %w", err)
		}
		sites = append(sites, site)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	return sites, nil
}

// BeginRun creates a RUNNING run for the site.
func (s *Store) BeginRun(ctx context.Context, siteID string, mode audit.RunMode) (string, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO audit_runs (id, site_id, started_at, mode, status)
VALUES ($1, $2, $3, $4, $5)`,
		id, siteID, s.now(), string(mode), string(audit.RunStatusRunning))
	if err != nil {
		return "", fmt.Errorf("begin run: %w", err)
	}
	return id, nil
}

// GetRun returns a run by id.
func (s *Store) GetRun(ctx context.Context, runID string) (audit.AuditRun, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id, site_id, started_at, completed_at, mode, status
FROM audit_runs WHERE id = $1`, runID)

	var (
		run       audit.AuditRun
		completed *time.Time
		mode      string
		status    string
	)
	if err := row.Scan(&run.ID, &run.SiteID, &run.StartedAt, &completed, &mode, &status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return audit.AuditRun{}, fmt.Errorf("run %s: %w", runID, audit.ErrNotFound)
		}
		return audit.AuditRun{}, fmt.Errorf("get run: %w", err)
	}
	run.CompletedAt = completed
	run.Mode = audit.RunMode(mode)
	run.Status = audit.RunStatus(status)
	return run, nil
}

// SealRun applies the terminal transition exactly once. The WHERE guard on
// RUNNING makes a second seal attempt a no-op the caller sees as ErrRunSealed.
func (s *Store) SealRun(ctx context.Context, runID string, status audit.RunStatus) error {
	if !status.Terminal() {
		return fmt.Errorf("status %s is not terminal", status)
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE audit_runs SET status = $2, completed_at = $3
WHERE id = $1 AND status = $4`,
		runID, string(status), s.now(), string(audit.RunStatusRunning))
	if err != nil {
		return fmt.Errorf("seal run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, gerr := s.GetRun(ctx, runID); gerr != nil {
			return gerr
		}
		return fmt.Errorf("run %s: %w", runID, audit.ErrRunSealed)
	}
	return nil
}

// ReopenRun moves a PARTIAL run back to RUNNING so a resume can fill in the
// missing inspections. COMPLETED and FAILED runs stay immutable.
func (s *Store) ReopenRun(ctx context.Context, runID string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE audit_runs SET status = $2, completed_at = NULL
WHERE id = $1 AND status = $3`,
		runID, string(audit.RunStatusRunning), string(audit.RunStatusPartial))
	if err != nil {
		return fmt.Errorf("reopen run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		run, gerr := s.GetRun(ctx, runID)
		if gerr != nil {
			return gerr
		}
		return fmt.Errorf("run %s has status %s, only PARTIAL runs can be reopened: %w",
			runID, run.Status, audit.ErrRunSealed)
	}
	return nil
}

// LatestRun returns the most recently started sealed run for the site.
func (s *Store) LatestRun(ctx context.Context, siteID string) (string, error) {
	row := s.pool.QueryRow(ctx, `
SELECT id FROM audit_runs
WHERE site_id = $1 AND status <> $2
ORDER BY started_at DESC LIMIT 1`,
		siteID, string(audit.RunStatusRunning))

	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("no sealed runs for site %s: %w", siteID, audit.ErrNotFound)
		}
		return "", fmt.Errorf("latest run: %w", err)
	}
	return id, nil
}

// WriteRecord upserts a record keyed by (run_id, url) and refreshes the
// inspection cache. Writes against a sealed run are rejected.
func (s *Store) WriteRecord(ctx context.Context, runID string, record audit.AuditRecord) error {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return fmt.Errorf("run %s: %w", runID, audit.ErrRunSealed)
	}

	var inspectionJSON []byte
	if record.Inspection != nil {
		inspectionJSON, err = json.Marshal(record.Inspection)
		if err != nil {
			return fmt.Errorf("marshal inspection: %w", err)
		}
	}
	flags := make([]string, 0, len(record.DiscrepancyFlags))
	for _, f := range record.DiscrepancyFlags {
		flags = append(flags, string(f))
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO audit_records (run_id, site_id, url, in_sitemap, in_crawl, inspection, flags)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (run_id, url) DO UPDATE
SET in_sitemap = EXCLUDED.in_sitemap,
    in_crawl = EXCLUDED.in_crawl,
    inspection = EXCLUDED.inspection,
    flags = EXCLUDED.flags`,
		runID, record.SiteID, record.URL, record.InSitemap, record.InCrawl, inspectionJSON, flags)
	if err != nil {
		return fmt.Errorf("write record: %w", err)
	}

	if record.Inspection != nil {
		_, err = s.pool.Exec(ctx, `
INSERT INTO inspection_cache (url, fetched_at, result)
VALUES ($1, $2, $3)
ON CONFLICT (url, fetched_at) DO NOTHING`,
			record.URL, record.Inspection.FetchedAt, inspectionJSON)
		if err != nil {
			return fmt.Errorf("cache inspection: %w", err)
		}
	}
	return nil
}

// ListRecords returns the run's records, URL-sorted.
func (s *Store) ListRecords(ctx context.Context, runID string) ([]audit.AuditRecord, error) {
	rows, err := s.pool.Query(ctx, `
SELECT site_id, url, in_sitemap, in_crawl, inspection, flags
FROM audit_records WHERE run_id = $1 ORDER BY url`, runID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var records []audit.AuditRecord
	for rows.Next() {
		var (
			record         audit.AuditRecord
			inspectionJSON []byte
			flags          []string
		)
		if err := rows.Scan(&record.SiteID, &record.URL, &record.InSitemap, &record.InCrawl, &inspectionJSON, &flags); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		record.RunID = runID
		if len(inspectionJSON) > 0 {
			var inspection audit.InspectionResult
			if err := json.Unmarshal(inspectionJSON, &inspection); err != nil {
				return nil, fmt.Errorf("decode inspection for %s: %w", record.URL, err)
			}
			record.Inspection = &inspection
		}
		for _, f := range flags {
			record.DiscrepancyFlags = append(record.DiscrepancyFlags, audit.Flag(f))
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return records, nil
}

// LatestInspection returns the freshest cached inspection for the URL.
func (s *Store) LatestInspection(ctx context.Context, url string) (audit.InspectionResult, error) {
	row := s.pool.QueryRow(ctx, `
SELECT result FROM inspection_cache
WHERE url = $1 ORDER BY fetched_at DESC LIMIT 1`, url)

	var resultJSON []byte
	if err := row.Scan(&resultJSON); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return audit.InspectionResult{}, fmt.Errorf("no inspections for %s: %w", url, audit.ErrNotFound)
		}
		return audit.InspectionResult{}, fmt.Errorf("latest inspection: %w", err)
	}
	var result audit.InspectionResult
	if err := json.Unmarshal(resultJSON, &result); err != nil {
		return audit.InspectionResult{}, fmt.Errorf("decode inspection: %w", err)
	}
	return result, nil
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
