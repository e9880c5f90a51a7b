// Package sitemap fetches sitemap documents and expands sitemap-index trees
// into a flat entry set.
package sitemap

import (
	"compress/gzip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-machine/internal/audit"
)

// ParseError marks one sitemap node that failed to fetch or parse. Siblings
// of a failed node still resolve.
type ParseError struct {
	SitemapURL string
	Err        error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("sitemap %s: %v", e.SitemapURL, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Config captures the resolver knobs.
type Config struct {
	MaxDepth     int
	FetchTimeout time.Duration
	MaxBodyBytes int64
	UserAgent    string
}

const (
	defaultMaxDepth     = 5
	defaultFetchTimeout = 15 * time.Second
	defaultMaxBodyBytes = 50 * 1024 * 1024
)

// Resolver expands a root sitemap URL into audit.SitemapEntry values.
type Resolver struct {
	cfg     Config
	client  *http.Client
	archive audit.BlobStore
	logger  *zap.Logger
}

// New constructs a Resolver. The archive is optional; when set, every fetched
// sitemap body is stored for later debugging.
func New(cfg Config, client *http.Client, archive audit.BlobStore, logger *zap.Logger) *Resolver {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = defaultMaxDepth
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{cfg: cfg, client: client, archive: archive, logger: logger}
}

// sitemapDoc covers both root elements of the sitemaps.org schema; exactly
// one of Sitemaps or URLs is populated depending on the root tag.
type sitemapDoc struct {
	XMLName  xml.Name     `xml:""`
	Sitemaps []sitemapRef `xml:"sitemap"`
	URLs     []urlNode    `xml:"url"`
}

type sitemapRef struct {
	Loc string `xml:"loc"`
}

type urlNode struct {
	Loc        string `xml:"loc"`
	LastMod    string `xml:"lastmod"`
	ChangeFreq string `xml:"changefreq"`
	Priority   string `xml:"priority"`
}

// Resolve fetches the root sitemap and recursively expands index files.
// Malformed or unreachable nodes are collected as ParseErrors without
// aborting sibling resolution. Duplicate URLs collapse to the first-seen
// entry.
func (r *Resolver) Resolve(ctx context.Context, site audit.Site, sitemapURL string) (audit.SitemapResult, error) {
	state := &resolveState{
		seen:    make(map[string]struct{}),
		visited: make(map[string]struct{}),
	}
	result := &audit.SitemapResult{}
	r.walk(ctx, site, sitemapURL, 0, state, result)
	r.logger.Info("sitemap resolution finished",
		zap.String("site_id", site.ID),
		zap.String("root", sitemapURL),
		zap.Int("entries", len(result.Entries)),
		zap.Int("errors", len(result.Errors)),
	)
	return *result, nil
}

type resolveState struct {
	seen    map[string]struct{} // entry URLs, for dedup
	visited map[string]struct{} // sitemap URLs, the cycle guard
}

func (r *Resolver) walk(ctx context.Context, site audit.Site, sitemapURL string, depth int, state *resolveState, result *audit.SitemapResult) {
	if ctx.Err() != nil {
		result.Errors = append(result.Errors, &ParseError{SitemapURL: sitemapURL, Err: ctx.Err()})
		return
	}
	if _, ok := state.visited[sitemapURL]; ok {
		result.Errors = append(result.Errors, &ParseError{SitemapURL: sitemapURL, Err: fmt.Errorf("sitemap cycle detected")})
		return
	}
	state.visited[sitemapURL] = struct{}{}
	if depth > r.cfg.MaxDepth {
		result.Errors = append(result.Errors, &ParseError{SitemapURL: sitemapURL, Err: fmt.Errorf("sitemap index depth exceeds %d", r.cfg.MaxDepth)})
		return
	}

	doc, err := r.fetch(ctx, site, sitemapURL)
	if err != nil {
		result.Errors = append(result.Errors, &ParseError{SitemapURL: sitemapURL, Err: err})
		r.logger.Warn("sitemap node failed", zap.String("url", sitemapURL), zap.Error(err))
		return
	}

	if strings.EqualFold(doc.XMLName.Local, "sitemapindex") {
		for _, child := range doc.Sitemaps {
			loc := strings.TrimSpace(child.Loc)
			if loc == "" {
				continue
			}
			r.walk(ctx, site, loc, depth+1, state, result)
		}
		return
	}

	for _, node := range doc.URLs {
		loc := strings.TrimSpace(node.Loc)
		if loc == "" {
			continue
		}
		if _, dup := state.seen[loc]; dup {
			continue
		}
		state.seen[loc] = struct{}{}
		result.Entries = append(result.Entries, audit.SitemapEntry{
			SiteID:        site.ID,
			URL:           loc,
			LastMod:       parseLastMod(node.LastMod),
			ChangeFreq:    strings.TrimSpace(node.ChangeFreq),
			Priority:      parsePriority(node.Priority),
			SourceSitemap: sitemapURL,
		})
	}
}

func (r *Resolver) fetch(ctx context.Context, site audit.Site, sitemapURL string) (*sitemapDoc, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if r.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", r.cfg.UserAgent)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch sitemap: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Warn("close sitemap body", zap.Error(cerr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, r.cfg.MaxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read sitemap body: %w", err)
	}
	body, err = maybeGunzip(sitemapURL, resp.Header, body)
	if err != nil {
		return nil, err
	}

	if r.archive != nil {
		path := fmt.Sprintf("sitemaps/%s/%s.xml", site.ID, sanitizePath(sitemapURL))
		if _, aerr := r.archive.PutObject(ctx, path, "application/xml", body); aerr != nil {
			r.logger.Warn("archive sitemap body", zap.String("url", sitemapURL), zap.Error(aerr))
		}
	}

	var doc sitemapDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("parse sitemap xml: %w", err)
	}
	return &doc, nil
}

// maybeGunzip handles .xml.gz sitemaps whose bodies arrive still compressed.
func maybeGunzip(sitemapURL string, headers http.Header, body []byte) ([]byte, error) {
	compressed := strings.HasSuffix(strings.ToLower(sitemapURL), ".gz") ||
		strings.Contains(strings.ToLower(headers.Get("Content-Encoding")), "gzip")
	if !compressed || len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
		return body, nil
	}
	zr, err := gzip.NewReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("open gzip sitemap: %w", err)
	}
	defer zr.Close() //nolint:errcheck
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress sitemap: %w", err)
	}
	return out, nil
}

func parseLastMod(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z07:00", "2006-01-02"} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return &ts
		}
	}
	return nil
}

func parsePriority(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	p, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0
	}
	return p
}

func sanitizePath(raw string) string {
	replacer := strings.NewReplacer("://", "_", "/", "_", "?", "_", "&", "_", "=", "_")
	return replacer.Replace(raw)
}
