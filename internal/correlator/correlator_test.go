package correlator

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/cryptorun/internal/activitylog"
	"github.com/sawpanic/cryptorun/internal/model"
)

func newRunningLog(t *testing.T) *activitylog.Log {
	t.Helper()
	log := activitylog.New(activitylog.DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	go log.Run(ctx)
	t.Cleanup(func() {
		cancel()
		log.Close()
	})
	return log
}

func publish(t *testing.T, log *activitylog.Log, platform model.Platform, symbol string, sentiment float64) {
	t.Helper()
	err := log.Log(context.Background(), model.Event{
		ID:          string(platform) + "-" + symbol + "-" + time.Now().String(),
		Platform:    platform,
		TimestampMs: time.Now().UnixMilli(),
		Symbols:     []string{symbol},
		Sentiment:   sentiment,
	})
	require.NoError(t, err)
}

func TestCorrelator_SinglePlatformNoSignal(t *testing.T) {
	log := newRunningLog(t)
	c := New(DefaultConfig(), log, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	publish(t, log, model.PlatformRSS, "BTC", 0.4)
	publish(t, log, model.PlatformRSS, "BTC", 0.4)
	time.Sleep(50 * time.Millisecond)

	_, active := c.ActiveSignal("BTC")
	require.False(t, active)
}

func TestCorrelator_CrossPlatformSignal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MentionThreshold = 4
	log := newRunningLog(t)
	c := New(cfg, log, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	for i := 0; i < 3; i++ {
		publish(t, log, model.PlatformRSS, "BTC", 0.2)
	}
	for i := 0; i < 2; i++ {
		publish(t, log, model.PlatformCryptoPanic, "BTC", 0.2)
	}

	require.Eventually(t, func() bool {
		_, active := c.ActiveSignal("BTC")
		return active
	}, time.Second, 5*time.Millisecond)
}

func TestCorrelator_CriticalUpgradeOnHighRisk(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MentionThreshold = 2
	log := newRunningLog(t)
	c := New(cfg, log, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	err := log.Log(context.Background(), model.Event{
		ID:          "r1",
		Platform:    model.PlatformRSS,
		TimestampMs: time.Now().UnixMilli(),
		Symbols:     []string{"ETH"},
		RiskScore:   0.9,
	})
	require.NoError(t, err)
	err = log.Log(context.Background(), model.Event{
		ID:          "c1",
		Platform:    model.PlatformCryptoPanic,
		TimestampMs: time.Now().UnixMilli(),
		Symbols:     []string{"ETH"},
		RiskScore:   0.9,
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		sig, active := c.ActiveSignal("ETH")
		return active && sig.RiskLevel == RiskCritical
	}, time.Second, 5*time.Millisecond)
}

func TestCorrelator_DebounceSuppressesSameLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MentionThreshold = 2
	cfg.CooldownMs = time.Hour
	log := newRunningLog(t)
	c := New(cfg, log, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	publish(t, log, model.PlatformRSS, "SOL", 0.1)
	publish(t, log, model.PlatformCryptoPanic, "SOL", 0.1)

	require.Eventually(t, func() bool {
		_, active := c.ActiveSignal("SOL")
		return active
	}, time.Second, 5*time.Millisecond)

	first, _ := c.ActiveSignal("SOL")

	publish(t, log, model.PlatformTwitter, "SOL", 0.1)
	time.Sleep(50 * time.Millisecond)

	second, _ := c.ActiveSignal("SOL")
	require.Equal(t, first.FirstCrossedAt, second.FirstCrossedAt)

	emitted := 0
	for len(c.Signals()) > 0 {
		<-c.Signals()
		emitted++
	}
	require.Equal(t, 1, emitted)
}
