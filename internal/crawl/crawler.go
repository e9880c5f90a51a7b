// Package crawl implements the internal-link crawler using the Colly library.
package crawl

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-machine/internal/audit"
)

// Config captures the crawl budget and politeness knobs.
type Config struct {
	Seeds          []string
	MaxDepth       int
	MaxPages       int
	Concurrency    int
	RequestTimeout time.Duration
	UserAgent      string
}

const (
	defaultMaxDepth       = 3
	defaultMaxPages       = 1000
	defaultConcurrency    = 8
	defaultRequestTimeout = 15 * time.Second
	maxRedirectHops       = 5
)

// Crawler walks a site's internal link graph breadth-first, restricted to the
// registered domain, with a shared claimed-before-fetch visited set.
type Crawler struct {
	cfg    Config
	logger *zap.Logger
}

// New constructs a Crawler.
func New(cfg Config, logger *zap.Logger) *Crawler {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = defaultMaxDepth
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = defaultMaxPages
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{cfg: cfg, logger: logger}
}

// crawlState is the per-run shared structure guarded by mu. A URL is claimed
// (added to visited) before its fetch is dispatched, so concurrent frontier
// workers never fetch the same URL twice.
type crawlState struct {
	mu        sync.Mutex
	visited   map[string]struct{}
	referrers map[string]string
	pages     map[string]audit.CrawledPage
	claimed   int
	truncated bool
}

// claim marks url visited within budget. It returns false when the URL was
// already claimed or the page budget is exhausted.
func (s *crawlState) claim(url string, budget int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.visited[url]; ok {
		return false
	}
	if s.claimed >= budget {
		s.truncated = true
		return false
	}
	s.visited[url] = struct{}{}
	s.claimed++
	return true
}

func (s *crawlState) setReferrer(url, via string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.referrers[url]; !ok {
		s.referrers[url] = via
	}
}

func (s *crawlState) referrer(url string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if via, ok := s.referrers[url]; ok {
		return via
	}
	return audit.SeedReferrer
}

func (s *crawlState) record(page audit.CrawledPage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pages[page.URL]; ok {
		return
	}
	s.pages[page.URL] = page
}

// Crawl runs one breadth-first traversal from the site root (or configured
// seeds). Fetch failures are recorded on the affected page but never abort
// the run; budget exhaustion marks the result truncated.
func (c *Crawler) Crawl(ctx context.Context, site audit.Site) (audit.CrawlResult, error) {
	normalizedRoot, err := NormalizeURL(site.RootURL)
	if err != nil {
		return audit.CrawlResult{}, fmt.Errorf("parse site root: %w", err)
	}
	root, err := url.Parse(normalizedRoot)
	if err != nil {
		return audit.CrawlResult{}, fmt.Errorf("parse site root: %w", err)
	}
	host := root.Hostname()

	state := &crawlState{
		visited:   make(map[string]struct{}),
		referrers: make(map[string]string),
		pages:     make(map[string]audit.CrawledPage),
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(host),
		colly.MaxDepth(c.cfg.MaxDepth+1),
		colly.UserAgent(c.cfg.UserAgent),
		colly.Async(true),
	)
	collector.AllowURLRevisit = false
	collector.SetRequestTimeout(c.cfg.RequestTimeout)
	collector.SetRedirectHandler(func(_ *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirectHops {
			return fmt.Errorf("stopped after %d redirect hops", maxRedirectHops)
		}
		return nil
	})

	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: c.cfg.Concurrency,
	}); err != nil {
		return audit.CrawlResult{}, fmt.Errorf("set collector limits: %w", err)
	}

	collector.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})

	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		c.followLink(ctx, root, state, e)
	})

	collector.OnResponse(func(r *colly.Response) {
		normalized, nerr := NormalizeURL(r.Request.URL.String())
		if nerr != nil {
			return
		}
		state.record(audit.CrawledPage{
			SiteID:        site.ID,
			URL:           normalized,
			DiscoveredVia: state.referrer(normalized),
			HTTPStatus:    r.StatusCode,
			CrawlDepth:    r.Request.Depth - 1,
		})
	})

	collector.OnError(func(r *colly.Response, ferr error) {
		normalized, nerr := NormalizeURL(r.Request.URL.String())
		if nerr != nil {
			return
		}
		c.logger.Warn("page fetch failed",
			zap.String("url", normalized),
			zap.Int("status", r.StatusCode),
			zap.Error(ferr),
		)
		state.record(audit.CrawledPage{
			SiteID:        site.ID,
			URL:           normalized,
			DiscoveredVia: state.referrer(normalized),
			HTTPStatus:    r.StatusCode,
			CrawlDepth:    r.Request.Depth - 1,
		})
	})

	seeds := c.cfg.Seeds
	if len(seeds) == 0 {
		seeds = []string{site.RootURL}
	}
	for _, seed := range seeds {
		normalized, nerr := NormalizeURL(seed)
		if nerr != nil {
			c.logger.Warn("skipping malformed seed", zap.String("seed", seed), zap.Error(nerr))
			continue
		}
		if !state.claim(normalized, c.cfg.MaxPages) {
			continue
		}
		state.setReferrer(normalized, audit.SeedReferrer)
		if verr := collector.Visit(normalized); verr != nil {
			c.logger.Warn("seed visit failed", zap.String("seed", normalized), zap.Error(verr))
		}
	}

	collector.Wait()

	pages := make([]audit.CrawledPage, 0, len(state.pages))
	for _, page := range state.pages {
		pages = append(pages, page)
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i].URL < pages[j].URL })

	result := audit.CrawlResult{Pages: pages, Truncated: state.truncated}
	c.logger.Info("crawl finished",
		zap.String("site_id", site.ID),
		zap.Int("pages", len(pages)),
		zap.Bool("truncated", result.Truncated),
	)
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	return result, nil
}

func (c *Crawler) followLink(ctx context.Context, root *url.URL, state *crawlState, e *colly.HTMLElement) {
	if ctx.Err() != nil {
		return
	}
	absolute := e.Request.AbsoluteURL(e.Attr("href"))
	if absolute == "" {
		return
	}
	normalized, err := NormalizeURL(absolute)
	if err != nil {
		return
	}
	linkURL, err := url.Parse(normalized)
	if err != nil {
		return
	}
	// Internal links only: scheme+host must match the registered root.
	if linkURL.Scheme != root.Scheme || linkURL.Host != root.Host {
		return
	}
	// Visit would reject this link for depth anyway; claiming it first
	// would burn a page-budget slot on a fetch that never happens and
	// mislabel a depth-capped crawl as truncated.
	if e.Request.Depth > c.cfg.MaxDepth {
		return
	}
	parent, err := NormalizeURL(e.Request.URL.String())
	if err != nil {
		parent = e.Request.URL.String()
	}
	if !state.claim(normalized, c.cfg.MaxPages) {
		return
	}
	state.setReferrer(normalized, parent)
	if verr := e.Request.Visit(normalized); verr != nil {
		c.logger.Debug("link visit rejected", zap.String("url", normalized), zap.Error(verr))
	}
}
