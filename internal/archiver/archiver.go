// Package archiver periodically summarizes the Activity Log into
// durable ArchiveEntry records.
package archiver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/cryptorun/internal/activitylog"
	"github.com/sawpanic/cryptorun/internal/durable"
	"github.com/sawpanic/cryptorun/internal/model"
)

const (
	// DefaultWindow is how far back each archive run looks.
	DefaultWindow = 6 * time.Hour

	entryTTL = 90 * 24 * time.Hour
	dailyTTL = 180 * 24 * time.Hour

	indexKey    = "archive:index"
	indexMaxLen = 1000
)

// SymbolCount is one entry in an ArchiveEntry's top-symbols list.
type SymbolCount struct {
	Symbol   string  `json:"symbol"`
	Mentions int     `json:"mentions"`
	AvgRisk  float64 `json:"avgRisk"`
}

// ArchiveEntry is one periodic summary of the Activity Log window.
type ArchiveEntry struct {
	WindowStart    time.Time     `json:"windowStart"`
	WindowEnd      time.Time     `json:"windowEnd"`
	TotalEvents    int           `json:"totalEvents"`
	TopSymbols     []SymbolCount `json:"topSymbols"`
	CriticalAlerts []string      `json:"criticalAlerts"`
}

// Config tunes the Archiver.
type Config struct {
	Window  time.Duration
	TopN    int
	Writer  durable.Writer
}

func DefaultConfig(w durable.Writer) Config {
	return Config{Window: DefaultWindow, TopN: 10, Writer: w}
}

// Archiver is caller-driven: callers invoke Run on whatever schedule
// they choose (cron, ticker, HTTP-triggered job).
type Archiver struct {
	cfg Config
	log *activitylog.Log

	logger zerolog.Logger
	now    func() time.Time
}

func New(cfg Config, alog *activitylog.Log, logger zerolog.Logger) *Archiver {
	if cfg.TopN <= 0 {
		cfg.TopN = 10
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	return &Archiver{cfg: cfg, log: alog, logger: logger, now: time.Now}
}

// Run produces one ArchiveEntry from the last Window of the Activity
// Log and writes it through the configured durable writer. It never
// blocks the Activity Log: it reads a point-in-time snapshot via
// RecentSince.
func (a *Archiver) Run(ctx context.Context) (ArchiveEntry, error) {
	now := a.now()
	events := a.log.RecentSince(a.cfg.Window)

	entry := aggregate(now.Add(-a.cfg.Window), now, events, a.cfg.TopN)

	if a.cfg.Writer == nil {
		return entry, nil
	}

	if err := a.persist(ctx, now, entry); err != nil {
		a.logger.Error().Err(err).Msg("archiver: persist failed")
		return entry, err
	}
	return entry, nil
}

func aggregate(start, end time.Time, events []model.Event, topN int) ArchiveEntry {
	counts := make(map[string]int)
	riskSum := make(map[string]float64)
	var criticalAlerts []string

	for _, e := range events {
		if activitylog.SeverityOf(e) == activitylog.SeverityCritical {
			criticalAlerts = append(criticalAlerts, e.ID)
		}
		for _, sym := range e.Symbols {
			counts[sym]++
			riskSum[sym] += e.RiskScore
		}
	}

	symbols := make([]SymbolCount, 0, len(counts))
	for sym, n := range counts {
		symbols = append(symbols, SymbolCount{
			Symbol:   sym,
			Mentions: n,
			AvgRisk:  riskSum[sym] / float64(n),
		})
	}
	sort.Slice(symbols, func(i, j int) bool {
		if symbols[i].Mentions != symbols[j].Mentions {
			return symbols[i].Mentions > symbols[j].Mentions
		}
		return symbols[i].Symbol < symbols[j].Symbol
	})
	if len(symbols) > topN {
		symbols = symbols[:topN]
	}

	return ArchiveEntry{
		WindowStart:    start,
		WindowEnd:      end,
		TotalEvents:    len(events),
		TopSymbols:     symbols,
		CriticalAlerts: criticalAlerts,
	}
}

func (a *Archiver) persist(ctx context.Context, now time.Time, entry ArchiveEntry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("archiver: marshal entry: %w", err)
	}

	date := now.UTC().Format("2006-01-02")
	key := fmt.Sprintf("archive:%s:%d", date, now.Unix())

	if err := a.cfg.Writer.Put(ctx, key, payload, entryTTL); err != nil {
		return fmt.Errorf("archiver: write entry: %w", err)
	}

	dailyKey := fmt.Sprintf("archive:daily:%s", date)
	if err := a.cfg.Writer.Put(ctx, dailyKey, payload, dailyTTL); err != nil {
		a.logger.Warn().Err(err).Msg("archiver: daily summary write failed")
	}

	if err := a.appendIndex(ctx, key); err != nil {
		a.logger.Warn().Err(err).Msg("archiver: index update failed")
	}

	return nil
}

// appendIndex maintains the archive:index key as a bounded JSON array of
// the last indexMaxLen archive keys. Readers needing the full index
// read this single key rather than scanning the keyspace.
func (a *Archiver) appendIndex(ctx context.Context, key string) error {
	reader, ok := a.cfg.Writer.(durable.Reader)
	var existing []string
	if ok {
		if raw, err := reader.Get(ctx, indexKey); err == nil && len(raw) > 0 {
			_ = json.Unmarshal(raw, &existing)
		}
	}

	existing = append(existing, key)
	if len(existing) > indexMaxLen {
		existing = existing[len(existing)-indexMaxLen:]
	}

	payload, err := json.Marshal(existing)
	if err != nil {
		return err
	}
	return a.cfg.Writer.Put(ctx, indexKey, payload, 0)
}
