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

// LunarCrushConfig configures the LunarCrush polling adapter. APIKey is
// typically sourced from the LUNARCRUSH_API_KEY environment variable.
type LunarCrushConfig struct {
	APIKey       string
	BaseURL      string
	PollInterval time.Duration
	HTTPClient   *http.Client
}

type lunarCrushResponse struct {
	Data []struct {
		ID            string  `json:"id"`
		Symbol        string  `json:"symbol"`
		Name          string  `json:"name"`
		GalaxyScore   float64 `json:"galaxy_score"`
		SocialVolume  float64 `json:"social_volume"`
		SentimentAvg  float64 `json:"average_sentiment"`
		TimeUpdated   int64   `json:"time"`
	} `json:"data"`
}

// NewLunarCrushAdapter builds a Source Adapter polling LunarCrush's
// social-metrics feed.
func NewLunarCrushAdapter(cfg LunarCrushConfig, alog *activitylog.Log, registry *extract.Registry) *PollingAdapter {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://lunarcrush.com/api4/public/coins/list/v2"
	}
	pollCfg := DefaultPollConfig()
	if cfg.PollInterval > 0 {
		pollCfg.PollInterval = cfg.PollInterval
	}

	base := NewBase(model.PlatformLunarCrush, alog, registry, DefaultDedupCapacity)
	return NewPollingAdapter(base, pollCfg, func(ctx context.Context) ([]RawItem, error) {
		return fetchLunarCrush(ctx, cfg)
	})
}

func fetchLunarCrush(ctx context.Context, cfg LunarCrushConfig) ([]RawItem, error) {
	if cfg.APIKey == "" {
		return nil, &AuthError{Cause: fmt.Errorf("lunarcrush: missing API key")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.BaseURL, nil)
	if err != nil {
		return nil, fmt.Errorf("lunarcrush: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)

	resp, err := cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lunarcrush: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{RetryAfter: ParseRetryAfter(resp)}
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &AuthError{Cause: fmt.Errorf("lunarcrush: status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, &AuthError{Cause: fmt.Errorf("lunarcrush: status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("lunarcrush: server error %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("lunarcrush: read body: %w", err)
	}

	var parsed lunarCrushResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, nil
	}

	items := make([]RawItem, 0, len(parsed.Data))
	for _, d := range parsed.Data {
		ts := time.Now().UnixMilli()
		if d.TimeUpdated > 0 {
			ts = d.TimeUpdated * 1000
		}
		items = append(items, RawItem{
			ID:          fmt.Sprintf("lunarcrush-%s-%d", d.ID, ts),
			Text:        fmt.Sprintf("$%s galaxy score %.1f social volume %.0f", d.Symbol, d.GalaxyScore, d.SocialVolume),
			TimestampMs: ts,
			Source:      "lunarcrush",
			Engagement:  d.SocialVolume,
		})
	}
	return items, nil
}
