package inspect

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/seo-audit-machine/internal/audit"
)

// DefaultEndpoint is the Search Console URL Inspection endpoint.
const DefaultEndpoint = "https://searchconsole.googleapis.com/v1/urlInspection/index:inspect"

// TokenSource supplies a bearer token per request, so credential refresh
// stays outside the client.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource wraps a fixed token, mainly for tests and short runs.
type StaticTokenSource string

// Token returns the wrapped token.
func (s StaticTokenSource) Token(context.Context) (string, error) {
	return string(s), nil
}

// GSCConfig configures the Search Console client.
type GSCConfig struct {
	Endpoint       string
	RequestTimeout time.Duration
}

// GSCClient calls the Search Console URL Inspection API over plain REST.
// The raw response for every inspected URL is archived when a blob store is
// configured.
type GSCClient struct {
	cfg     GSCConfig
	http    *http.Client
	tokens  TokenSource
	archive audit.BlobStore
	logger  *zap.Logger
}

// NewGSCClient constructs a client. The archive is optional.
func NewGSCClient(cfg GSCConfig, httpClient *http.Client, tokens TokenSource, archive audit.BlobStore, logger *zap.Logger) *GSCClient {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GSCClient{cfg: cfg, http: httpClient, tokens: tokens, archive: archive, logger: logger}
}

type inspectRequest struct {
	InspectionURL string `json:"inspectionUrl"`
	SiteURL       string `json:"siteUrl"`
}

type inspectResponse struct {
	InspectionResult struct {
		IndexStatusResult struct {
			Verdict       string   `json:"verdict"`
			CoverageState string   `json:"coverageState"`
			LastCrawlTime string   `json:"lastCrawlTime"`
			GoogleCanon   string   `json:"googleCanonical"`
			ReferringURLs []string `json:"referringUrls"`
		} `json:"indexStatusResult"`
	} `json:"inspectionResult"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Inspect issues one URL Inspection call and maps the response onto the
// audit model. Failures are classified into the inspect error taxonomy.
func (c *GSCClient) Inspect(ctx context.Context, siteURL, pageURL string) (audit.InspectionResult, error) {
	payload, err := json.Marshal(inspectRequest{InspectionURL: pageURL, SiteURL: siteURL})
	if err != nil {
		return audit.InspectionResult{}, &FatalError{Err: fmt.Errorf("marshal inspection request: %w", err)}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return audit.InspectionResult{}, &FatalError{Err: fmt.Errorf("build inspection request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.tokens != nil {
		token, terr := c.tokens.Token(ctx)
		if terr != nil {
			return audit.InspectionResult{}, &FatalError{Err: fmt.Errorf("fetch credentials: %w", terr)}
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return audit.InspectionResult{}, ctx.Err()
		}
		return audit.InspectionResult{}, &TransientError{Err: fmt.Errorf("inspection call: %w", err)}
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Warn("close inspection body", zap.Error(cerr))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return audit.InspectionResult{}, &TransientError{Err: fmt.Errorf("read inspection body: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return audit.InspectionResult{}, classifyAPIError(resp.StatusCode, body)
	}

	c.archiveRaw(ctx, pageURL, body)

	var parsed inspectResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return audit.InspectionResult{}, &FatalError{Err: fmt.Errorf("decode inspection response: %w", err)}
	}

	status := parsed.InspectionResult.IndexStatusResult
	result := audit.InspectionResult{
		URL:           pageURL,
		Verdict:       mapVerdict(status.Verdict),
		CoverageState: status.CoverageState,
		ReferringURLs: status.ReferringURLs,
		CanonicalURL:  status.GoogleCanon,
	}
	if status.LastCrawlTime != "" {
		if ts, perr := time.Parse(time.RFC3339, status.LastCrawlTime); perr == nil {
			result.LastCrawlTime = &ts
		}
	}
	return result, nil
}

func (c *GSCClient) archiveRaw(ctx context.Context, pageURL string, body []byte) {
	if c.archive == nil {
		return
	}
	digest := sha256.Sum256([]byte(pageURL))
	path := fmt.Sprintf("inspections/%x/%d.json", digest[:8], time.Now().UTC().UnixNano())
	if _, err := c.archive.PutObject(ctx, path, "application/json", body); err != nil {
		c.logger.Warn("archive inspection payload", zap.String("url", pageURL), zap.Error(err))
	}
}

// classifyAPIError maps an HTTP error response onto the taxonomy. Quota
// exhaustion is distinguished by the RESOURCE_EXHAUSTED status the service
// reports when the per-day budget is spent.
func classifyAPIError(statusCode int, body []byte) error {
	var parsed apiError
	_ = json.Unmarshal(body, &parsed)
	base := fmt.Errorf("inspection API status %d: %s", statusCode, parsed.Error.Message)

	if parsed.Error.Status == "RESOURCE_EXHAUSTED" {
		return &QuotaExceededError{Err: base}
	}
	if statusCode == http.StatusTooManyRequests || statusCode >= 500 {
		return &TransientError{Err: base}
	}
	return &FatalError{Err: base}
}

func mapVerdict(raw string) audit.Verdict {
	switch raw {
	case "PASS":
		return audit.VerdictIndexed
	case "FAIL":
		return audit.VerdictNotIndexed
	case "NEUTRAL":
		return audit.VerdictExcluded
	default:
		return audit.VerdictError
	}
}
