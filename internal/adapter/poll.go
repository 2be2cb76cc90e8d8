package adapter

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sawpanic/cryptorun/internal/model"
	"github.com/sawpanic/cryptorun/internal/net/ratelimit"
)

// RawItem is what a source-specific fetch function returns before
// enrichment. ID must be stable per source item for dedup to work.
type RawItem struct {
	ID          string
	Text        string
	Author      string
	Engagement  float64
	TimestampMs int64
	Source      string
}

// RateLimitError signals an HTTP 429 or rate-limit-equivalent response.
// RetryAfter may be zero, in which case the poller computes its own
// exponential backoff.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string { return "rate limited" }

// ParseRetryAfter reads the HTTP Retry-After header (either delta-seconds
// or an HTTP-date, per RFC 7231 §7.1.3) off a 429 response. Returns zero
// if the header is absent or unparseable, leaving the caller to fall back
// to its own exponential backoff.
func ParseRetryAfter(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(v); err == nil {
		d := time.Until(when)
		if d < 0 {
			return 0
		}
		return d
	}
	return 0
}

// AuthError signals a 4xx-not-429 (bad credential / malformed request):
// the adapter transitions to failed and does not retry automatically.
type AuthError struct {
	Cause error
}

func (e *AuthError) Error() string { return "authentication failure: " + e.Cause.Error() }
func (e *AuthError) Unwrap() error { return e.Cause }

// FetchFunc performs one poll cycle and returns the raw items retrieved.
type FetchFunc func(ctx context.Context) ([]RawItem, error)

// PollConfig configures a PollingAdapter.
type PollConfig struct {
	PollInterval  time.Duration
	RPS           float64
	Burst         int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	DedupCapacity int
}

func DefaultPollConfig() PollConfig {
	return PollConfig{
		PollInterval:  60 * time.Second,
		RPS:           1,
		Burst:         2,
		BaseBackoff:   time.Second,
		MaxBackoff:    DefaultMaxBackoff,
		DedupCapacity: DefaultDedupCapacity,
	}
}

// PollingAdapter drives RSS, CryptoPanic, LunarCrush and pushshift-Reddit:
// a single-flight poll loop on a timer, never two concurrent polls.
type PollingAdapter struct {
	*Base
	cfg     PollConfig
	fetch   FetchFunc
	limiter *ratelimit.Limiter

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPollingAdapter constructs a polling adapter for platform, using
// fetch as the per-cycle data source.
func NewPollingAdapter(base *Base, cfg PollConfig, fetch FetchFunc) *PollingAdapter {
	return &PollingAdapter{
		Base:    base,
		cfg:     cfg,
		fetch:   fetch,
		limiter: ratelimit.NewLimiter(cfg.RPS, cfg.Burst),
	}
}

func (p *PollingAdapter) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.setState(StateConnecting)

	p.wg.Add(1)
	go p.loop(runCtx)

	p.setState(StateRunning)
	return nil
}

func (p *PollingAdapter) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *PollingAdapter) loop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.limiter.Wait(ctx, string(p.Platform())); err != nil {
				return
			}
			ok, retryAfter := p.poll(ctx)
			if p.getState() == StateFailed {
				// Authentication/4xx failures are terminal: no further polls.
				return
			}
			if ok {
				attempt = 0
				if p.getState() != StateRunning {
					p.setState(StateRunning)
				}
			} else if p.getState() != StateFailed {
				attempt++
				backoff := Backoff(attempt, p.cfg.BaseBackoff, p.cfg.MaxBackoff)
				if retryAfter > backoff {
					backoff = retryAfter
				}
				if backoff > p.cfg.MaxBackoff {
					backoff = p.cfg.MaxBackoff
				}
				p.setState(StateBackoff)
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoff):
				}
			}
		}
	}
}

// poll runs exactly one fetch cycle. Returns true on success (even if zero
// items were returned), plus a server-provided retry-after hint for the
// caller's backoff when ok is false and the failure was a 429.
func (p *PollingAdapter) poll(ctx context.Context) (ok bool, retryAfter time.Duration) {
	items, err := p.fetch(ctx)
	if err != nil {
		p.recordError()

		var rateLimitErr *RateLimitError
		if errors.As(err, &rateLimitErr) {
			return false, rateLimitErr.RetryAfter
		}
		var authErr *AuthError
		if errors.As(err, &authErr) {
			p.setState(StateFailed)
			return false, 0
		}
		// Transient I/O: treated the same as rate limiting, backoff and retry.
		return false, 0
	}

	for _, item := range items {
		if p.Dedup(item.ID) {
			continue
		}
		e := model.Event{
			ID:          item.ID,
			Platform:    p.Platform(),
			Source:      item.Source,
			TimestampMs: item.TimestampMs,
			Text:        item.Text,
			Author:      item.Author,
			Engagement:  item.Engagement,
		}
		e = p.Enrich(e)
		p.Publish(ctx, e)
	}
	return true, 0
}
