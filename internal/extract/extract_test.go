package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractSymbols_Cashtag(t *testing.T) {
	reg := NewRegistry(DefaultTickers())
	syms := ExtractSymbols("loading up on $SOL and $ARB today", reg)
	assert.ElementsMatch(t, []string{"SOL", "ARB"}, syms)
}

func TestExtractSymbols_KnownTicker(t *testing.T) {
	reg := NewRegistry(DefaultTickers())
	syms := ExtractSymbols("BTC is breaking out hard", reg)
	assert.Contains(t, syms, "BTC")
}

func TestExtractSymbols_CommonWordCollisionGuarded(t *testing.T) {
	reg := NewRegistry(append(DefaultTickers(), "ONE"))
	syms := ExtractSymbols("I want one more coffee please", reg)
	assert.NotContains(t, syms, "ONE")
}

func TestExtractSymbols_CommonWordAllowedWithContext(t *testing.T) {
	reg := NewRegistry(append(DefaultTickers(), "ONE"))
	syms := ExtractSymbols("ONE coin is looking bullish on the chart today", reg)
	assert.Contains(t, syms, "ONE")
}

func TestScoreSentiment_Positive(t *testing.T) {
	s, conf := ScoreSentiment("this is bullish, a strong breakout with real gains")
	assert.Greater(t, s, 0.0)
	assert.Greater(t, conf, 0.0)
}

func TestScoreSentiment_Negative(t *testing.T) {
	s, _ := ScoreSentiment("total crash, this looks like a scam and a rug")
	assert.Less(t, s, 0.0)
}

func TestScoreSentiment_NoTokens(t *testing.T) {
	s, conf := ScoreSentiment("the weather today is mild")
	assert.Equal(t, 0.0, s)
	assert.Equal(t, 0.0, conf)
}

func TestDetectPumpIndicators(t *testing.T) {
	tags := DetectPumpIndicators("load up now, this is going to the moon, 1000x incoming")
	assert.Contains(t, tags, "urgency")
	assert.Contains(t, tags, "coordination")
}

func TestScore_RiskScoreCapped(t *testing.T) {
	reg := NewRegistry(DefaultTickers())
	r := Score("moon 1000x, pump at load up now, whale alert insider says buy", reg)
	require.LessOrEqual(t, r.RiskScore, 1.0)
	assert.Greater(t, r.RiskScore, 0.0)
}

func TestRegistryReload_AtomicSwap(t *testing.T) {
	reg := NewRegistry([]string{"BTC"})
	assert.True(t, reg.known("BTC"))
	assert.False(t, reg.known("ETH"))
	reg.Reload([]string{"ETH"})
	assert.True(t, reg.known("ETH"))
	assert.False(t, reg.known("BTC"))
}
