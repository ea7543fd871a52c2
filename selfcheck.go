package acme

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// SelfCheckPoller confirms that every URL in a batch is publicly reachable
// before the Orchestrator asks the ACME server to validate. For each URL it
// issues GETs at most once every interval until either a 2xx response
// arrives or duration elapses; once every URL has individually completed,
// the callback fires exactly once.
type SelfCheckPoller struct {
	client *http.Client
}

// NewSelfCheckPoller constructs a SelfCheckPoller using a short-timeout
// HTTP client suited to polling loopback-reachable challenge endpoints.
func NewSelfCheckPoller() *SelfCheckPoller {
	return &SelfCheckPoller{client: &http.Client{Timeout: 5 * time.Second}}
}

// Run polls every URL concurrently and invokes done exactly once after all
// of them have completed (success or timeout). It does not block the
// caller's goroutine beyond starting the polling; done runs on its own
// goroutine so callers that need to resume orchestration should treat it as
// the continuation point.
func (p *SelfCheckPoller) Run(urls []string, duration, interval time.Duration, done func()) {
	go func() {
		defer done()
		if len(urls) == 0 {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), duration)
		defer cancel()

		group, gctx := errgroup.WithContext(ctx)
		for _, url := range urls {
			url := url
			start := time.Now()
			group.Go(func() error {
				p.pollOne(gctx, url, interval, start)
				return nil
			})
		}
		_ = group.Wait()
	}()
}

// pollOne retries a single URL until it returns 2xx or ctx is done. The
// interval floor is enforced with a rate.Limiter (one token per interval)
// rather than a bare time.Ticker, so a slow round trip cannot compress two
// consecutive attempts below the configured interval.
func (p *SelfCheckPoller) pollOne(ctx context.Context, url string, interval time.Duration, start time.Time) {
	limiter := rate.NewLimiter(rate.Every(interval), 1)

	for {
		if err := limiter.Wait(ctx); err != nil {
			return // duration elapsed
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err == nil {
			resp, err := p.client.Do(req)
			if err == nil {
				resp.Body.Close()
				if resp.StatusCode >= 200 && resp.StatusCode < 300 {
					selfCheckLatency.Observe(time.Since(start).Seconds())
					return
				}
			}
		}

		if ctx.Err() != nil {
			return
		}
	}
}
