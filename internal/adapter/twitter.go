package adapter

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sawpanic/cryptorun/internal/activitylog"
	"github.com/sawpanic/cryptorun/internal/extract"
	"github.com/sawpanic/cryptorun/internal/model"
)

// TwitterRule is one filtered-stream matching rule.
type TwitterRule struct {
	Value string `json:"value"`
	Tag   string `json:"tag"`
}

// TwitterConfig configures the Twitter filtered-stream adapter. Bearer is
// typically sourced from the TWITTER_BEARER_TOKEN environment variable.
// StreamURL points at the real API's NDJSON endpoint; TestWSURL, when
// set, switches the adapter to a gorilla/websocket transport against a
// local test harness instead (used by integration tests and by
// environments that front the real stream with a websocket relay).
type TwitterConfig struct {
	Bearer     string
	Rules      []TwitterRule
	StreamURL  string
	TestWSURL  string
	HTTPClient *http.Client
}

type twitterTweet struct {
	Data struct {
		ID        string `json:"id"`
		Text      string `json:"text"`
		AuthorID  string `json:"author_id"`
		CreatedAt string `json:"created_at"`
	} `json:"data"`
	MatchingRules []struct {
		Tag string `json:"tag"`
	} `json:"matching_rules"`
}

// NewTwitterAdapter builds the Twitter filtered-stream Source Adapter.
func NewTwitterAdapter(cfg TwitterConfig, alog *activitylog.Log, registry *extract.Registry) *StreamingAdapter {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 0} // streaming: no overall deadline
	}
	if cfg.StreamURL == "" {
		cfg.StreamURL = "https://api.twitter.com/2/tweets/search/stream"
	}

	base := NewBase(model.PlatformTwitter, alog, registry, DefaultDedupCapacity)
	streamCfg := DefaultStreamConfig()

	var connect ConnectFunc
	if cfg.TestWSURL != "" {
		connect = twitterWebsocketConnect(cfg)
	} else {
		connect = twitterHTTPConnect(cfg)
	}

	return NewStreamingAdapter(base, streamCfg, connect, twitterHandleLine)
}

func twitterHTTPConnect(cfg TwitterConfig) ConnectFunc {
	return func(ctx context.Context) (*bufio.Scanner, func() error, error) {
		if cfg.Bearer == "" {
			return nil, nil, &AuthError{Cause: fmt.Errorf("twitter: missing bearer token")}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.StreamURL, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("twitter: build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+cfg.Bearer)

		resp, err := cfg.HTTPClient.Do(req)
		if err != nil {
			return nil, nil, fmt.Errorf("twitter: connect: %w", err)
		}

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			resp.Body.Close()
			return nil, nil, &AuthError{Cause: fmt.Errorf("twitter: status %d", resp.StatusCode)}
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, nil, fmt.Errorf("twitter: unexpected status %d", resp.StatusCode)
		}

		scanner := bufio.NewScanner(resp.Body)
		return scanner, resp.Body.Close, nil
	}
}

// twitterWebsocketConnect connects to a local websocket test harness that
// relays NDJSON tweet frames, used for integration tests and
// websocket-fronted deployments.
func twitterWebsocketConnect(cfg TwitterConfig) ConnectFunc {
	return func(ctx context.Context) (*bufio.Scanner, func() error, error) {
		dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
		conn, _, err := dialer.DialContext(ctx, cfg.TestWSURL, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("twitter: websocket dial: %w", err)
		}

		pr, pw := io.Pipe()
		go func() {
			defer pw.Close()
			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					return
				}
				if _, err := pw.Write(append(msg, '\n')); err != nil {
					return
				}
			}
		}()

		scanner := bufio.NewScanner(pr)
		closer := func() error {
			pr.Close()
			return conn.Close()
		}
		return scanner, closer, nil
	}
}

func twitterHandleLine(line string) ([]RawItem, error) {
	var tweet twitterTweet
	if err := json.Unmarshal([]byte(line), &tweet); err != nil {
		return nil, nil
	}
	if tweet.Data.ID == "" {
		return nil, nil
	}

	ts := time.Now().UnixMilli()
	if t, err := time.Parse(time.RFC3339, tweet.Data.CreatedAt); err == nil {
		ts = t.UnixMilli()
	}

	return []RawItem{{
		ID:          "tweet-" + tweet.Data.ID,
		Text:        tweet.Data.Text,
		Author:      tweet.Data.AuthorID,
		TimestampMs: ts,
		Source:      "twitter",
	}}, nil
}
