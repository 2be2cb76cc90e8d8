// Package model holds the data types shared across the sentiment ingestion
// pipeline: the normalized Event and its supporting enums.
package model

import "time"

// Platform identifies the source a detection originated from.
type Platform string

const (
	PlatformRSS         Platform = "rss"
	PlatformReddit      Platform = "reddit"
	PlatformTwitter     Platform = "twitter"
	PlatformCryptoPanic Platform = "cryptopanic"
	PlatformLunarCrush  Platform = "lunarcrush"
	PlatformSystem      Platform = "system"
)

// Event is the immutable normalized unit produced by every source adapter.
// Once an Event enters the Activity Log it must never be mutated; adapters
// build a fully-populated Event before publishing it.
type Event struct {
	ID             string   `json:"id"`
	Platform       Platform `json:"platform"`
	Source         string   `json:"source"`
	TimestampMs    int64    `json:"timestampMs"`
	Text           string   `json:"text"`
	Author         string   `json:"author,omitempty"`
	Engagement     float64  `json:"engagement"`
	Symbols        []string `json:"symbols"`
	Sentiment      float64  `json:"sentiment"`
	Confidence     float64  `json:"confidence"`
	PumpIndicators []string `json:"pumpIndicators,omitempty"`
	RiskScore      float64  `json:"riskScore"`
	IsNew          bool     `json:"isNew"`
}

// Timestamp returns the Event's timestamp as a time.Time in UTC.
func (e Event) Timestamp() time.Time {
	return time.UnixMilli(e.TimestampMs).UTC()
}

// HasSymbol reports whether sym (already uppercased) is among the Event's
// extracted symbols.
func (e Event) HasSymbol(sym string) bool {
	for _, s := range e.Symbols {
		if s == sym {
			return true
		}
	}
	return false
}
