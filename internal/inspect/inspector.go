package inspect

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/seo-audit-machine/internal/audit"
)

// Client performs one inspection RPC against the external service.
// Implementations classify failures using the inspect error taxonomy.
type Client interface {
	Inspect(ctx context.Context, siteURL, pageURL string) (audit.InspectionResult, error)
}

// Config captures quota and concurrency knobs for the inspector.
type Config struct {
	// SustainedRPS is the token refill rate; Burst is the bucket capacity.
	SustainedRPS float64
	Burst        int
	Concurrency  int
}

const (
	defaultSustainedRPS = 1.0
	defaultBurst        = 5
	defaultConcurrency  = 4
)

// Outcome summarizes one InspectAll invocation.
type Outcome struct {
	Delivered      int
	QuotaExhausted bool
}

// Inspector drives per-URL inspection calls through a token bucket, retrying
// transient failures with backoff. The limiter is owned by the Inspector
// instance, never process-global, so concurrent audits of different sites do
// not cross-throttle.
type Inspector struct {
	client  Client
	limiter *rate.Limiter
	retry   *ExponentialRetryPolicy
	sleep   SleepFunc
	clock   audit.Clock
	cfg     Config
	logger  *zap.Logger
}

// New constructs an Inspector. The sleep function and retry policy are
// injectable for deterministic tests; nil selects real defaults.
func New(client Client, cfg Config, retry *ExponentialRetryPolicy, sleep SleepFunc, clock audit.Clock, logger *zap.Logger) *Inspector {
	if cfg.SustainedRPS <= 0 {
		cfg.SustainedRPS = defaultSustainedRPS
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaultBurst
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if retry == nil {
		retry = NewExponentialRetryPolicy()
	}
	if sleep == nil {
		sleep = SystemSleep
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Inspector{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.SustainedRPS), cfg.Burst),
		retry:   retry,
		sleep:   sleep,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}
}

// InspectAll inspects the given URLs, delivering each result as it completes
// so partial progress stays durable. Each delivery carries the wall-clock
// latency of its inspection call, retries included. Delivery order is not
// guaranteed; the deliver callback must be safe for concurrent use. Quota
// exhaustion stops dispatching the remaining queue without failing the call.
func (i *Inspector) InspectAll(ctx context.Context, siteURL string, urls []string, deliver func(audit.InspectionResult, time.Duration)) (Outcome, error) {
	runCtx, halt := context.WithCancel(ctx)
	defer halt()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		outcome   Outcome
		semaphore = make(chan struct{}, i.cfg.Concurrency)
	)

	markQuota := func() {
		mu.Lock()
		outcome.QuotaExhausted = true
		mu.Unlock()
		halt()
	}
	markDelivered := func() {
		mu.Lock()
		outcome.Delivered++
		mu.Unlock()
	}

	for _, pageURL := range urls {
		if err := i.limiter.Wait(runCtx); err != nil {
			break
		}
		select {
		case semaphore <- struct{}{}:
		case <-runCtx.Done():
		}
		if runCtx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(pageURL string) {
			defer wg.Done()
			defer func() { <-semaphore }()

			started := i.now()
			result, err := i.inspectOne(runCtx, siteURL, pageURL)
			elapsed := i.now().Sub(started)
			switch {
			case err == nil:
				deliver(result, elapsed)
				markDelivered()
			case IsQuotaExceeded(err):
				i.logger.Warn("inspection quota exhausted, halting queue", zap.String("url", pageURL))
				markQuota()
			case runCtx.Err() != nil:
				// Cancellation mid-request; the URL stays uninspected.
			default:
				// Fatal or retries exhausted: record the ERROR verdict so
				// reconciliation flags the URL instead of dropping it.
				i.logger.Warn("inspection failed", zap.String("url", pageURL), zap.Error(err))
				deliver(audit.InspectionResult{
					URL:       pageURL,
					Verdict:   audit.VerdictError,
					FetchedAt: i.now(),
				}, elapsed)
				markDelivered()
			}
		}(pageURL)
	}

	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if ctx.Err() != nil && !outcome.QuotaExhausted {
		return outcome, ctx.Err()
	}
	return outcome, nil
}

// inspectOne runs the bounded retry state machine for a single URL.
func (i *Inspector) inspectOne(ctx context.Context, siteURL, pageURL string) (audit.InspectionResult, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		result, err := i.client.Inspect(ctx, siteURL, pageURL)
		if err == nil {
			if result.FetchedAt.IsZero() {
				result.FetchedAt = i.now()
			}
			return result, nil
		}
		lastErr = err
		if !i.retry.ShouldRetry(err, attempt+1) {
			return audit.InspectionResult{}, lastErr
		}
		backoff := i.retry.Backoff(attempt)
		i.logger.Debug("retrying inspection",
			zap.String("url", pageURL),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		if serr := i.sleep(ctx, backoff); serr != nil {
			return audit.InspectionResult{}, lastErr
		}
	}
}

func (i *Inspector) now() time.Time {
	if i.clock != nil {
		return i.clock.Now()
	}
	return time.Now().UTC()
}
