package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/cryptorun/internal/adapter"
	"github.com/sawpanic/cryptorun/internal/model"
)

type fakeAdapter struct {
	platform  model.Platform
	startErr  error
	started   bool
	stopped   bool
	panicOnStart bool
}

func (f *fakeAdapter) Platform() model.Platform { return f.platform }

func (f *fakeAdapter) Start(ctx context.Context) error {
	if f.panicOnStart {
		panic("boom")
	}
	f.started = true
	return f.startErr
}

func (f *fakeAdapter) Stop() { f.stopped = true }

func (f *fakeAdapter) Stats() adapter.Stats {
	state := adapter.StateIdle
	if f.started {
		state = adapter.StateRunning
	}
	return adapter.Stats{State: state}
}

func TestOrchestrator_Lifecycle(t *testing.T) {
	o := New(zerolog.Nop())
	a := &fakeAdapter{platform: model.PlatformRSS}

	require.Equal(t, PhaseUninitialized, o.Phase())
	require.NoError(t, o.Initialize(Config{Adapters: []adapter.Adapter{a}}))
	require.Equal(t, PhaseReady, o.Phase())

	require.NoError(t, o.Start(context.Background()))
	require.Equal(t, PhaseRunning, o.Phase())
	require.True(t, o.IsActive())
	require.True(t, a.started)

	require.NoError(t, o.Stop())
	require.Equal(t, PhaseStopped, o.Phase())
	require.True(t, a.stopped)
	require.False(t, o.IsActive())
}

func TestOrchestrator_AdapterPanicDoesNotCrashOrchestrator(t *testing.T) {
	o := New(zerolog.Nop())
	a := &fakeAdapter{platform: model.PlatformTwitter, panicOnStart: true}

	require.NoError(t, o.Initialize(Config{Adapters: []adapter.Adapter{a}}))
	require.NoError(t, o.Start(context.Background()))
	require.Equal(t, PhaseRunning, o.Phase())
	require.False(t, a.started)

	require.NoError(t, o.Stop())
}

func TestOrchestrator_StatsAggregatesAdapters(t *testing.T) {
	o := New(zerolog.Nop())
	a1 := &fakeAdapter{platform: model.PlatformRSS}
	a2 := &fakeAdapter{platform: model.PlatformCryptoPanic}

	require.NoError(t, o.Initialize(Config{Adapters: []adapter.Adapter{a1, a2}}))
	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	stats := o.Stats()
	require.Len(t, stats.PerAdapter, 2)
	require.Equal(t, 2, stats.ActiveDataSources)
}

func TestOrchestrator_StopBeforeStartRejected(t *testing.T) {
	o := New(zerolog.Nop())
	require.Error(t, o.Stop())
}

func TestOrchestrator_UpdateConfigWhileRunning(t *testing.T) {
	o := New(zerolog.Nop())
	a1 := &fakeAdapter{platform: model.PlatformRSS}
	require.NoError(t, o.Initialize(Config{Adapters: []adapter.Adapter{a1}}))
	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	a2 := &fakeAdapter{platform: model.PlatformLunarCrush}
	require.NoError(t, o.UpdateConfig(context.Background(), []adapter.Adapter{a2}))

	require.Eventually(t, func() bool {
		return a1.stopped && a2.started
	}, time.Second, 5*time.Millisecond)
}
