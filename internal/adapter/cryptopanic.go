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

// CryptoPanicConfig configures the CryptoPanic polling adapter. APIKey is
// typically sourced from the CRYPTOPANIC_API_KEY environment variable.
type CryptoPanicConfig struct {
	APIKey       string
	BaseURL      string
	PollInterval time.Duration
	HTTPClient   *http.Client
}

type cryptoPanicResponse struct {
	Results []struct {
		ID        int64  `json:"id"`
		Title     string `json:"title"`
		Published string `json:"published_at"`
		Source    struct {
			Title string `json:"title"`
		} `json:"source"`
		Votes struct {
			Positive int `json:"positive"`
			Negative int `json:"negative"`
			Important int `json:"important"`
		} `json:"votes"`
	} `json:"results"`
}

// NewCryptoPanicAdapter builds a Source Adapter polling the CryptoPanic
// news feed.
func NewCryptoPanicAdapter(cfg CryptoPanicConfig, alog *activitylog.Log, registry *extract.Registry) *PollingAdapter {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://cryptopanic.com/api/v1/posts/"
	}
	pollCfg := DefaultPollConfig()
	if cfg.PollInterval > 0 {
		pollCfg.PollInterval = cfg.PollInterval
	}

	base := NewBase(model.PlatformCryptoPanic, alog, registry, DefaultDedupCapacity)
	return NewPollingAdapter(base, pollCfg, func(ctx context.Context) ([]RawItem, error) {
		return fetchCryptoPanic(ctx, cfg)
	})
}

func fetchCryptoPanic(ctx context.Context, cfg CryptoPanicConfig) ([]RawItem, error) {
	if cfg.APIKey == "" {
		return nil, &AuthError{Cause: fmt.Errorf("cryptopanic: missing API key")}
	}

	url := fmt.Sprintf("%s?auth_token=%s&public=true", cfg.BaseURL, cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("cryptopanic: build request: %w", err)
	}

	resp, err := cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cryptopanic: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{RetryAfter: ParseRetryAfter(resp)}
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &AuthError{Cause: fmt.Errorf("cryptopanic: status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, &AuthError{Cause: fmt.Errorf("cryptopanic: status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("cryptopanic: server error %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cryptopanic: read body: %w", err)
	}

	var parsed cryptoPanicResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, nil
	}

	items := make([]RawItem, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		ts := time.Now().UnixMilli()
		if t, err := time.Parse(time.RFC3339, r.Published); err == nil {
			ts = t.UnixMilli()
		}
		items = append(items, RawItem{
			ID:          fmt.Sprintf("cryptopanic-%d", r.ID),
			Text:        r.Title,
			TimestampMs: ts,
			Source:      r.Source.Title,
			Engagement:  float64(r.Votes.Positive + r.Votes.Important - r.Votes.Negative),
		})
	}
	return items, nil
}
