package adapter

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sawpanic/cryptorun/internal/activitylog"
	"github.com/sawpanic/cryptorun/internal/extract"
	"github.com/sawpanic/cryptorun/internal/model"
)

// RSSConfig configures the RSS polling adapter.
type RSSConfig struct {
	FeedURL      string
	PollInterval time.Duration
	HTTPClient   *http.Client
}

type rssFeed struct {
	XMLName xml.Name `xml:"rss"`
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	GUID      string `xml:"guid"`
	Title     string `xml:"title"`
	Link      string `xml:"link"`
	PubDate   string `xml:"pubDate"`
	Author    string `xml:"author"`
	Description string `xml:"description"`
}

// NewRSSAdapter builds a Source Adapter polling an RSS feed.
func NewRSSAdapter(cfg RSSConfig, alog *activitylog.Log, registry *extract.Registry) *PollingAdapter {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	pollCfg := DefaultPollConfig()
	if cfg.PollInterval > 0 {
		pollCfg.PollInterval = cfg.PollInterval
	}

	base := NewBase(model.PlatformRSS, alog, registry, DefaultDedupCapacity)
	return NewPollingAdapter(base, pollCfg, func(ctx context.Context) ([]RawItem, error) {
		return fetchRSS(ctx, cfg)
	})
}

func fetchRSS(ctx context.Context, cfg RSSConfig) ([]RawItem, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.FeedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("rss: build request: %w", err)
	}

	resp, err := cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rss: fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitError{RetryAfter: ParseRetryAfter(resp)}
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, &AuthError{Cause: fmt.Errorf("rss: unexpected status %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("rss: server error %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("rss: read body: %w", err)
	}

	var feed rssFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		// A parse/schema error discards the whole feed for this cycle
		// without logging it; the caller treats the nil item list as a
		// successful empty cycle.
		return nil, nil
	}

	items := make([]RawItem, 0, len(feed.Channel.Items))
	for _, it := range feed.Channel.Items {
		ts := time.Now().UnixMilli()
		if parsed, err := time.Parse(time.RFC1123Z, it.PubDate); err == nil {
			ts = parsed.UnixMilli()
		}
		items = append(items, RawItem{
			ID:          it.GUID,
			Text:        it.Title + " " + it.Description,
			Author:      it.Author,
			TimestampMs: ts,
			Source:      cfg.FeedURL,
		})
	}
	return items, nil
}
