package breaker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestBreaker(cfg Config) (*Breaker, *fakeClock) {
	b := New(cfg)
	fc := &fakeClock{t: time.Now()}
	b.now = fc.now
	return b, fc
}

func TestBreaker_ClosedToOpen_OnFailureThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 3
	cfg.MonitoringPeriod = 100 * time.Millisecond
	cfg.ResetTimeout = time.Second
	b, _ := newTestBreaker(cfg)

	events, unsub := b.Subscribe()
	defer unsub()

	failingOp := func(ctx context.Context) error {
		return fmt.Errorf("boom: %w", ErrAPIError)
	}

	for i := 0; i < 3; i++ {
		err := b.Execute(context.Background(), failingOp)
		require.Error(t, err)
	}

	assert.Equal(t, StateOpen, b.State())

	openedCount := 0
	for {
		select {
		case ev := <-events:
			if ev.Type == EventCircuitOpened {
				openedCount++
			}
		default:
			goto done
		}
	}
done:
	assert.Equal(t, 1, openedCount)

	err := b.Execute(context.Background(), func(ctx context.Context) error {
		t.Fatal("op must not be invoked while OPEN")
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreaker_OpenToHalfOpenToClosed(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.MonitoringPeriod = time.Minute
	cfg.ResetTimeout = time.Second
	b, fc := newTestBreaker(cfg)

	require.Error(t, b.Execute(context.Background(), func(ctx context.Context) error {
		return fmt.Errorf("x: %w", ErrAPIError)
	}))
	require.Equal(t, StateOpen, b.State())

	fc.advance(1050 * time.Millisecond)

	calls := 0
	err := b.Execute(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_HalfOpenToOpen_OnFailure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.ResetTimeout = time.Second
	b, fc := newTestBreaker(cfg)

	require.Error(t, b.Execute(context.Background(), func(ctx context.Context) error {
		return fmt.Errorf("x: %w", ErrAPIError)
	}))
	fc.advance(1050 * time.Millisecond)

	err := b.Execute(context.Background(), func(ctx context.Context) error {
		return fmt.Errorf("still failing: %w", ErrAPIError)
	})
	require.Error(t, err)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_DailyLossTrips(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxDailyLoss = 500
	b, _ := newTestBreaker(cfg)

	b.UpdateDailyPnL(-500.01)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_ConsecutiveLossesTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConsecutiveLosses = 3
	b, _ := newTestBreaker(cfg)

	b.RecordTrade(-10)
	b.RecordTrade(-10)
	assert.Equal(t, StateClosed, b.State())
	b.RecordTrade(-10)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreaker_PositiveTradeResetsConsecutiveLosses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConsecutiveLosses = 3
	b, _ := newTestBreaker(cfg)

	b.RecordTrade(-10)
	b.RecordTrade(-10)
	b.RecordTrade(5)
	b.RecordTrade(-10)
	b.RecordTrade(-10)
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_FailuresOutsideMonitoringPeriodDontCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 2
	cfg.MonitoringPeriod = 50 * time.Millisecond
	b, fc := newTestBreaker(cfg)

	require.Error(t, b.Execute(context.Background(), func(ctx context.Context) error {
		return fmt.Errorf("x: %w", ErrAPIError)
	}))
	fc.advance(100 * time.Millisecond)
	require.Error(t, b.Execute(context.Background(), func(ctx context.Context) error {
		return fmt.Errorf("y: %w", ErrAPIError)
	}))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_EmergencyStopAndForceClose(t *testing.T) {
	b, fc := newTestBreaker(DefaultConfig())
	events, unsub := b.Subscribe()
	defer unsub()

	b.EmergencyStop("kill")
	assert.Equal(t, StateOpen, b.State())

	fc.advance(time.Hour)
	err := b.Execute(context.Background(), func(ctx context.Context) error {
		t.Fatal("must not invoke op during emergency stop")
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)

	stopCount := 0
	for {
		select {
		case ev := <-events:
			if ev.Type == EventEmergencyStop {
				stopCount++
			}
		default:
			goto done
		}
	}
done:
	assert.Equal(t, 1, stopCount)

	b.ForceClose()
	assert.Equal(t, StateClosed, b.State())
}

func TestBreaker_TradeLossDoesNotDoubleCountTowardFailureWindow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 1
	cfg.EnableAutoHalt = false
	b, _ := newTestBreaker(cfg)

	err := b.Execute(context.Background(), func(ctx context.Context) error {
		return fmt.Errorf("loss: %w", ErrTradeLoss)
	})
	require.Error(t, err)
	assert.Equal(t, 0, b.Stats().RecentFailures)
}
