// Package extract implements the pure symbol-extraction and
// sentiment-scoring functions that turn raw source text into the fields
// an Event carries. Nothing in this package touches the network, the
// clock (beyond what callers pass in), or any shared mutable state: the
// ticker registry is built once and read concurrently without locks.
package extract

import (
	"regexp"
	"strings"
	"sync/atomic"
)

// Result is the pure output of scoring one piece of raw text.
type Result struct {
	Symbols        []string
	Sentiment      float64
	Confidence     float64
	PumpIndicators []string
	RiskScore      float64
}

var cashtagPattern = regexp.MustCompile(`\$([A-Z0-9]{2,6})\b`)

// commonWordCollisions lists known-ticker symbols that are also ordinary
// English words. They only count as a symbol match when cashtag-prefixed
// or preceded by a crypto context word.
var commonWordCollisions = map[string]bool{
	"ONE":  true,
	"ALL":  true,
	"CASH": true,
	"LINK": true,
	"FUEL": true,
	"GAS":  true,
	"BAND": true,
	"SAFE": true,
}

var contextWords = []string{"crypto", "coin", "token", "chart", "price", "trading", "buy", "sell", "hodl", "moon"}

// Registry is the two-tier ticker lookup table used by ExtractSymbols. A
// *Registry is read-mostly; Reload builds a new one and swaps it in
// atomically so readers never observe a half-built table.
type Registry struct {
	ptr atomic.Pointer[registryData]
}

type registryData struct {
	tickers map[string]bool
}

// NewRegistry builds a Registry from a known ticker set. Tickers are
// upper-cased on insertion.
func NewRegistry(tickers []string) *Registry {
	r := &Registry{}
	r.Reload(tickers)
	return r
}

// Reload atomically replaces the known-ticker set.
func (r *Registry) Reload(tickers []string) {
	data := &registryData{tickers: make(map[string]bool, len(tickers))}
	for _, t := range tickers {
		data.tickers[strings.ToUpper(t)] = true
	}
	r.ptr.Store(data)
}

func (r *Registry) known(sym string) bool {
	data := r.ptr.Load()
	if data == nil {
		return false
	}
	return data.tickers[sym]
}

// DefaultTickers is a seed set of well-known tickers; deployments extend
// it via Registry.Reload from configuration.
func DefaultTickers() []string {
	return []string{
		"BTC", "ETH", "SOL", "XRP", "ADA", "DOGE", "DOT", "MATIC", "AVAX",
		"LINK", "LTC", "BCH", "ATOM", "UNI", "SHIB", "TRX", "XLM", "NEAR",
		"APT", "ARB", "OP", "FIL", "ICP", "ETC", "HBAR", "VET", "ALGO",
	}
}

var wordPattern = regexp.MustCompile(`\b[A-Za-z0-9]+\b`)

// ExtractSymbols returns the uppercased symbols found in text against reg,
// applying cashtag matches unconditionally and known-ticker matches with
// the common-word collision guard.
func ExtractSymbols(text string, reg *Registry) []string {
	seen := make(map[string]bool)
	var out []string

	for _, m := range cashtagPattern.FindAllStringSubmatch(text, -1) {
		sym := m[1]
		if !seen[sym] {
			seen[sym] = true
			out = append(out, sym)
		}
	}

	lower := strings.ToLower(text)
	hasContext := false
	for _, w := range contextWords {
		if strings.Contains(lower, w) {
			hasContext = true
			break
		}
	}

	for _, m := range wordPattern.FindAllString(text, -1) {
		sym := strings.ToUpper(m)
		if seen[sym] || !reg.known(sym) {
			continue
		}
		if commonWordCollisions[sym] && !hasContext {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}

	return out
}

// sentiment lexicon: token -> coefficient. Kept small and explicit rather
// than loaded from a file; deployments wanting a larger lexicon can wrap
// ExtractSymbols/ScoreSentiment with their own token tables.
var positiveLexicon = map[string]float64{
	"bullish": 1.0, "moon": 0.8, "pump": 0.6, "rally": 0.9, "breakout": 0.8,
	"surge": 0.8, "accumulate": 0.6, "undervalued": 0.7, "buy": 0.5,
	"strong": 0.5, "gains": 0.7, "rocket": 0.7, "green": 0.4, "up": 0.3,
}

var negativeLexicon = map[string]float64{
	"bearish": -1.0, "dump": -0.8, "crash": -1.0, "sell": -0.5, "scam": -1.0,
	"rug": -1.0, "weak": -0.5, "down": -0.3, "red": -0.4, "fear": -0.6,
	"capitulation": -0.9, "overvalued": -0.6, "fud": -0.7,
}

// ScoreSentiment computes token-weighted sentiment in [-1,1] and a
// confidence proportional to the number of lexicon tokens matched.
func ScoreSentiment(text string) (sentiment, confidence float64) {
	lower := strings.ToLower(text)
	tokens := wordPattern.FindAllString(lower, -1)

	var sum float64
	var matches int
	for _, tok := range tokens {
		if c, ok := positiveLexicon[tok]; ok {
			sum += c
			matches++
		} else if c, ok := negativeLexicon[tok]; ok {
			sum += c
			matches++
		}
	}

	if matches == 0 {
		return 0, 0
	}

	sentiment = sum / float64(matches)
	if sentiment > 1 {
		sentiment = 1
	} else if sentiment < -1 {
		sentiment = -1
	}

	confidence = float64(matches) / 5.0
	if confidence > 1 {
		confidence = 1
	}
	return sentiment, confidence
}

type pumpFamily struct {
	name string
	re   *regexp.Regexp
}

var pumpFamilies = []pumpFamily{
	{"urgency", regexp.MustCompile(`(?i)\b(moon|1000x|100x|to the moon|last chance|don'?t miss)\b`)},
	{"coordination", regexp.MustCompile(`(?i)\b(pump at|load up|buy now|all in|coordinated)\b`)},
	{"influencer", regexp.MustCompile(`(?i)\b(guru says|insider|whale alert|according to [a-z]+ influencer)\b`)},
}

// DetectPumpIndicators returns the tags of every pump-indicator family
// that matched text. Score turns the tag count into the risk
// contribution (0.35 per tag, capped at 1.0).
func DetectPumpIndicators(text string) []string {
	var tags []string
	for _, f := range pumpFamilies {
		if f.re.MatchString(text) {
			tags = append(tags, f.name)
		}
	}
	return tags
}

// Score runs the full extractor+scorer pipeline over text. Result has no
// isNew flag: callers with access to the Activity Log derive it
// separately (adapter.Base.Enrich uses Log.HasSymbolSince).
func Score(text string, reg *Registry) Result {
	symbols := ExtractSymbols(text, reg)
	sentiment, confidence := ScoreSentiment(text)
	pumpTags := DetectPumpIndicators(text)

	risk := 0.0
	for range pumpTags {
		risk += 0.35
	}
	if risk > 1 {
		risk = 1
	}

	return Result{
		Symbols:        symbols,
		Sentiment:      sentiment,
		Confidence:     confidence,
		PumpIndicators: pumpTags,
		RiskScore:      risk,
	}
}
