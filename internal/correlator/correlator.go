// Package correlator derives per-symbol rolling aggregates from the
// Activity Log and raises cross-platform signals when a symbol shows
// coordinated activity across multiple sources.
package correlator

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/cryptorun/internal/activitylog"
	"github.com/sawpanic/cryptorun/internal/model"
)

// RiskLevel is the severity of a CrossPlatformSignal.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskRank = map[RiskLevel]int{
	RiskLow:      0,
	RiskMedium:   1,
	RiskHigh:     2,
	RiskCritical: 3,
}

// SymbolActivitySignal is a rolling aggregate for one symbol, re-derived
// on every tick. It is ephemeral: callers must not retain it across
// ticks expecting it to update in place.
type SymbolActivitySignal struct {
	Symbol            string
	Window            time.Duration
	TotalMentions      int
	PlatformsSeen      []model.Platform
	AvgSentiment       float64
	AvgRiskScore       float64
	FirstSeen          time.Time
	LastSeen           time.Time
	TotalEngagement    float64
	CrossPlatformSignal bool
}

// CrossPlatformSignal is raised when a symbol crosses the
// cross-platform activity threshold. At most one is active per symbol;
// within a debounce window it only upgrades, never downgrades.
type CrossPlatformSignal struct {
	Symbol               string
	RiskLevel            RiskLevel
	ContributingPlatforms []model.Platform
	FirstCrossedAt       time.Time
}

// Config tunes correlation thresholds.
type Config struct {
	Window           time.Duration
	MentionThreshold int
	CooldownMs       time.Duration
}

func DefaultConfig() Config {
	return Config{
		Window:           5 * time.Minute,
		MentionThreshold: 3,
		CooldownMs:       60 * time.Second,
	}
}

type windowEntry struct {
	seq       uint64
	platform  model.Platform
	sentiment float64
	riskScore float64
	engagement float64
	at        time.Time
}

type symbolState struct {
	entries []windowEntry

	lastSignalAt  time.Time
	lastRiskLevel RiskLevel
	firstCrossed  time.Time
	hasActive     bool
}

// Correlator consumes an Activity Log subscription and maintains
// per-symbol sliding windows, emitting signals on a dedicated internal
// channel.
type Correlator struct {
	cfg Config
	log *activitylog.Log

	mu      sync.Mutex
	symbols map[string]*symbolState

	signals chan CrossPlatformSignal

	logger zerolog.Logger
	now    func() time.Time
}

func New(cfg Config, alog *activitylog.Log, logger zerolog.Logger) *Correlator {
	return &Correlator{
		cfg:     cfg,
		log:     alog,
		symbols: make(map[string]*symbolState),
		signals: make(chan CrossPlatformSignal, 256),
		logger:  logger,
		now:     time.Now,
	}
}

// Signals returns the channel on which CrossPlatformSignal upgrades are
// published. The channel is closed when Run returns.
func (c *Correlator) Signals() <-chan CrossPlatformSignal {
	return c.signals
}

// Run subscribes to the Activity Log and processes deliveries until ctx
// is cancelled. It never propagates a per-symbol processing error to
// the caller: errors are isolated to that symbol's tick.
func (c *Correlator) Run(ctx context.Context) error {
	sub := c.log.Subscribe()
	defer sub.Unsubscribe()
	defer close(c.signals)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-sub.C():
			if !ok {
				return nil
			}
			if d.LaggedCount > 0 {
				c.logger.Warn().Int("lagged", d.LaggedCount).Msg("correlator missed events")
			}
			c.process(d.Entry)
		}
	}
}

func (c *Correlator) process(entry activitylog.Entry) {
	for _, sym := range entry.Event.Symbols {
		c.safeProcessSymbol(sym, entry)
	}
}

// safeProcessSymbol isolates panics/errors to one symbol's tick so a
// malformed entry never stops the correlator for other symbols.
func (c *Correlator) safeProcessSymbol(sym string, entry activitylog.Entry) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Str("symbol", sym).Msg("correlator: symbol tick failed")
		}
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.symbols[sym]
	if !ok {
		st = &symbolState{}
		c.symbols[sym] = st
	}

	now := c.now()
	st.entries = append(st.entries, windowEntry{
		seq:        entry.Seq,
		platform:   entry.Event.Platform,
		sentiment:  entry.Event.Sentiment,
		riskScore:  entry.Event.RiskScore,
		engagement: entry.Event.Engagement,
		at:         entry.Event.Timestamp(),
	})
	st.entries = pruneWindow(st.entries, now, c.cfg.Window)

	signal := aggregate(sym, c.cfg.Window, st.entries)
	c.evaluate(sym, st, signal, now)
}

func pruneWindow(entries []windowEntry, now time.Time, window time.Duration) []windowEntry {
	cutoff := now.Add(-window)
	i := 0
	for i < len(entries) && entries[i].at.Before(cutoff) {
		i++
	}
	if i == 0 {
		return entries
	}
	return append([]windowEntry(nil), entries[i:]...)
}

func aggregate(symbol string, window time.Duration, entries []windowEntry) SymbolActivitySignal {
	platformSet := make(map[model.Platform]struct{})
	var sumSentiment, sumRisk, sumEngagement float64
	var first, last time.Time

	for i, e := range entries {
		platformSet[e.platform] = struct{}{}
		sumSentiment += e.sentiment
		sumRisk += e.riskScore
		sumEngagement += e.engagement
		if i == 0 || e.at.Before(first) {
			first = e.at
		}
		if i == 0 || e.at.After(last) {
			last = e.at
		}
	}

	platforms := make([]model.Platform, 0, len(platformSet))
	for p := range platformSet {
		platforms = append(platforms, p)
	}

	n := len(entries)
	sig := SymbolActivitySignal{
		Symbol:          symbol,
		Window:          window,
		TotalMentions:   n,
		PlatformsSeen:   platforms,
		TotalEngagement: sumEngagement,
		FirstSeen:       first,
		LastSeen:        last,
	}
	if n > 0 {
		sig.AvgSentiment = sumSentiment / float64(n)
		sig.AvgRiskScore = sumRisk / float64(n)
	}
	return sig
}

func (c *Correlator) evaluate(sym string, st *symbolState, sig SymbolActivitySignal, now time.Time) {
	crossPlatform := len(sig.PlatformsSeen) >= 2 && sig.TotalMentions >= c.cfg.MentionThreshold
	sig.CrossPlatformSignal = crossPlatform
	if !crossPlatform {
		st.hasActive = false
		st.firstCrossed = time.Time{}
		return
	}

	level := RiskMedium
	critical := sig.AvgRiskScore >= 0.8 ||
		(len(sig.PlatformsSeen) >= 3 && math.Abs(sig.AvgSentiment) >= 0.6 && sig.TotalMentions >= 2*c.cfg.MentionThreshold)
	if critical {
		level = RiskCritical
	} else if len(sig.PlatformsSeen) >= 2 {
		level = RiskHigh
	}

	if st.hasActive && now.Sub(st.lastSignalAt) < c.cfg.CooldownMs && riskRank[level] <= riskRank[st.lastRiskLevel] {
		return
	}

	firstCrossed := st.firstCrossed
	if !st.hasActive {
		firstCrossed = now
	}

	st.hasActive = true
	st.lastSignalAt = now
	st.lastRiskLevel = level
	st.firstCrossed = firstCrossed

	out := CrossPlatformSignal{
		Symbol:                sym,
		RiskLevel:             level,
		ContributingPlatforms: sig.PlatformsSeen,
		FirstCrossedAt:        firstCrossed,
	}

	select {
	case c.signals <- out:
	default:
		c.logger.Warn().Str("symbol", sym).Msg("correlator: signal channel full, dropping")
	}
}

// ActiveSignal reports the symbol's active cross-platform signal, if it
// has one (i.e. its last evaluated window crossed the threshold). Only
// Symbol, RiskLevel and FirstCrossedAt are filled in;
// ContributingPlatforms is left empty.
func (c *Correlator) ActiveSignal(symbol string) (CrossPlatformSignal, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.symbols[symbol]
	if !ok || !st.hasActive {
		return CrossPlatformSignal{}, false
	}
	return CrossPlatformSignal{
		Symbol:         symbol,
		RiskLevel:      st.lastRiskLevel,
		FirstCrossedAt: st.firstCrossed,
	}, true
}

// ActiveSignals returns every symbol currently holding an active
// cross-platform signal.
func (c *Correlator) ActiveSignals() []CrossPlatformSignal {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]CrossPlatformSignal, 0, len(c.symbols))
	for sym, st := range c.symbols {
		if !st.hasActive {
			continue
		}
		out = append(out, CrossPlatformSignal{
			Symbol:         sym,
			RiskLevel:      st.lastRiskLevel,
			FirstCrossedAt: st.firstCrossed,
		})
	}
	return out
}
