package postgres

// schema is the logical audit schema. It is applied idempotently at connect;
// production migration tooling is an operational concern outside the engine.
const schema = `
CREATE TABLE IF NOT EXISTS sites (
	id           TEXT PRIMARY KEY,
	root_url     TEXT NOT NULL UNIQUE,
	display_name TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_runs (
	id           TEXT PRIMARY KEY,
	site_id      TEXT NOT NULL REFERENCES sites(id),
	started_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	mode         TEXT NOT NULL,
	status       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS audit_runs_site_idx ON audit_runs(site_id, started_at DESC);

CREATE TABLE IF NOT EXISTS audit_records (
	run_id     TEXT NOT NULL REFERENCES audit_runs(id),
	site_id    TEXT NOT NULL,
	url        TEXT NOT NULL,
	in_sitemap BOOLEAN NOT NULL DEFAULT FALSE,
	in_crawl   BOOLEAN NOT NULL DEFAULT FALSE,
	inspection JSONB,
	flags      TEXT[] NOT NULL DEFAULT '{}',
	PRIMARY KEY (run_id, url)
);

CREATE TABLE IF NOT EXISTS inspection_cache (
	url        TEXT NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL,
	result     JSONB NOT NULL,
	PRIMARY KEY (url, fetched_at)
);

CREATE INDEX IF NOT EXISTS inspection_cache_url_idx ON inspection_cache(url, fetched_at DESC);
`
