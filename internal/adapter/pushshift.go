package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sawpanic/cryptorun/internal/activitylog"
	"github.com/sawpanic/cryptorun/internal/extract"
	"github.com/sawpanic/cryptorun/internal/model"
)

// PushshiftConfig configures the Reddit-via-pushshift polling adapter.
// Pushshift's public endpoint has historically been unreliable or
// withdrawn entirely; this adapter is best-effort and disabled by
// default (SourceSpec.Enabled, which config/sources.yaml sets to false
// for pushshift).
type PushshiftConfig struct {
	BaseURL      string
	Subreddits   []string
	PollInterval time.Duration
	HTTPClient   *http.Client
}

type pushshiftResponse struct {
	Data []struct {
		ID        string `json:"id"`
		Title     string `json:"title"`
		Selftext  string `json:"selftext"`
		Author    string `json:"author"`
		Subreddit string `json:"subreddit"`
		CreatedUTC int64 `json:"created_utc"`
		Score     int    `json:"score"`
	} `json:"data"`
}

// NewPushshiftAdapter builds a best-effort Source Adapter polling
// pushshift for new Reddit submissions mentioning crypto subreddits.
func NewPushshiftAdapter(cfg PushshiftConfig, alog *activitylog.Log, registry *extract.Registry) *PollingAdapter {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.pushshift.io/reddit/search/submission"
	}
	pollCfg := DefaultPollConfig()
	if cfg.PollInterval > 0 {
		pollCfg.PollInterval = cfg.PollInterval
	}

	base := NewBase(model.PlatformReddit, alog, registry, DefaultDedupCapacity)
	return NewPollingAdapter(base, pollCfg, func(ctx context.Context) ([]RawItem, error) {
		return fetchPushshift(ctx, cfg)
	})
}

func fetchPushshift(ctx context.Context, cfg PushshiftConfig) ([]RawItem, error) {
	subs := ""
	for i, s := range cfg.Subreddits {
		if i > 0 {
			subs += ","
		}
		subs += s
	}
	url := fmt.Sprintf("%s?subreddit=%s&sort=desc&size=25", cfg.BaseURL, subs)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("pushshift: build request: %w", err)
	}

	resp, err := cfg.HTTPClient.Do(req)
	if err != nil {
		// Pushshift's public endpoint is unreliable; treat any transport
		// failure as transient rather than fatal so the adapter keeps
		// retrying with backoff instead of escalating to failed.
		return nil, fmt.Errorf("pushshift: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{RetryAfter: ParseRetryAfter(resp)}
	}
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusServiceUnavailable {
		return nil, fmt.Errorf("pushshift: endpoint unavailable (status %d)", resp.StatusCode)
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, &AuthError{Cause: fmt.Errorf("pushshift: status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("pushshift: server error %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("pushshift: read body: %w", err)
	}

	var parsed pushshiftResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, nil
	}

	items := make([]RawItem, 0, len(parsed.Data))
	for _, d := range parsed.Data {
		items = append(items, RawItem{
			ID:          fmt.Sprintf("reddit-%s", d.ID),
			Text:        d.Title + " " + d.Selftext,
			Author:      d.Author,
			TimestampMs: d.CreatedUTC * 1000,
			Source:      d.Subreddit,
			Engagement:  float64(d.Score),
		})
	}
	return items, nil
}
