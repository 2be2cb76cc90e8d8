// Package orchestrator wires the configured source adapters, the
// Activity Log, and the Correlator into one supervised lifecycle.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/cryptorun/internal/activitylog"
	"github.com/sawpanic/cryptorun/internal/adapter"
	"github.com/sawpanic/cryptorun/internal/correlator"
	"github.com/sawpanic/cryptorun/internal/extract"
)

// Phase is the Orchestrator's lifecycle state.
type Phase string

const (
	PhaseUninitialized Phase = "uninitialized"
	PhaseInitializing  Phase = "initializing"
	PhaseReady         Phase = "ready"
	PhaseRunning       Phase = "running"
	PhaseStopping      Phase = "stopping"
	PhaseStopped       Phase = "stopped"
)

// DefaultStopTimeout bounds how long Stop waits for in-flight publishes
// to drain before giving up.
const DefaultStopTimeout = 10 * time.Second

// Config is the set of adapters to run plus shared tuning.
type Config struct {
	Adapters      []adapter.Adapter
	StopTimeout   time.Duration
	Correlator    correlator.Config
}

// SourceStatus reports one adapter's state for aggregate stats.
type SourceStatus struct {
	Platform string
	State    adapter.State
}

// Stats is the Orchestrator-level aggregate view.
type Stats struct {
	TotalEvents       int64
	ActiveDataSources int
	DataSourceStatus  []SourceStatus
	PerAdapter        map[string]adapter.Stats
}

// Orchestrator supervises the source adapters, the shared Activity Log,
// and the Correlator, exposing one coherent start/stop lifecycle.
type Orchestrator struct {
	mu    sync.RWMutex
	phase Phase

	cfg      Config
	log      *activitylog.Log
	registry *extract.Registry
	corr     *correlator.Correlator

	logCancel  context.CancelFunc
	corrCancel context.CancelFunc
	wg         sync.WaitGroup

	logger zerolog.Logger
}

func New(logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		phase:  PhaseUninitialized,
		logger: logger,
	}
}

// Initialize constructs the Activity Log, ticker Registry, and
// Correlator. It fails fast if called out of order; the adapter set in
// cfg is stored as given, without validation.
func (o *Orchestrator) Initialize(cfg Config) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.phase != PhaseUninitialized && o.phase != PhaseStopped {
		return fmt.Errorf("orchestrator: cannot initialize from phase %s", o.phase)
	}
	o.phase = PhaseInitializing

	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.Correlator == (correlator.Config{}) {
		cfg.Correlator = correlator.DefaultConfig()
	}

	o.cfg = cfg
	o.log = activitylog.New(activitylog.DefaultConfig())
	o.registry = extract.NewRegistry(extract.DefaultTickers())
	o.corr = correlator.New(cfg.Correlator, o.log, o.logger)

	o.phase = PhaseReady
	return nil
}

// Start runs the Activity Log delivery worker, the Correlator, and every
// configured adapter. It returns once all adapters have been asked to
// start (at least reaching a "connecting" state); it does not wait for
// them to reach "running".
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.phase != PhaseReady {
		return fmt.Errorf("orchestrator: cannot start from phase %s", o.phase)
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.logCancel = cancel

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.log.Run(runCtx)
	}()

	corrCtx, corrCancel := context.WithCancel(ctx)
	o.corrCancel = corrCancel
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.corr.Run(corrCtx); err != nil && corrCtx.Err() == nil {
			o.logger.Error().Err(err).Msg("correlator stopped unexpectedly")
		}
	}()

	for _, a := range o.cfg.Adapters {
		o.startAdapter(runCtx, a)
	}

	o.phase = PhaseRunning
	return nil
}

// startAdapter launches one adapter under panic recovery: a panic raised
// by the adapter's Start call is logged and does not take down the
// Orchestrator. The adapter's state is left unchanged, and panics inside
// the worker goroutines an adapter starts are not recovered here.
func (o *Orchestrator) startAdapter(ctx context.Context, a adapter.Adapter) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().
				Interface("panic", r).
				Str("platform", string(a.Platform())).
				Msg("orchestrator: adapter start panicked")
		}
	}()

	if err := a.Start(ctx); err != nil {
		o.logger.Error().
			Err(err).
			Str("platform", string(a.Platform())).
			Msg("orchestrator: adapter failed to start")
	}
}

// Stop stops all adapters, waits for in-flight publishes to drain
// bounded by the configured stop timeout, then closes the Activity
// Log and Correlator subscriptions.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	if o.phase != PhaseRunning {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator: cannot stop from phase %s", o.phase)
	}
	o.phase = PhaseStopping
	adapters := o.cfg.Adapters
	timeout := o.cfg.StopTimeout
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, a := range adapters {
			o.stopAdapter(a)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		o.logger.Warn().Msg("orchestrator: stop timed out waiting for adapters to drain")
	}

	if o.corrCancel != nil {
		o.corrCancel()
	}
	if o.logCancel != nil {
		o.logCancel()
	}
	o.log.Close()
	o.wg.Wait()

	o.mu.Lock()
	o.phase = PhaseStopped
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) stopAdapter(a adapter.Adapter) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().
				Interface("panic", r).
				Str("platform", string(a.Platform())).
				Msg("orchestrator: adapter stop panicked")
		}
	}()
	a.Stop()
}

// IsActive reports whether the Orchestrator is in the running phase.
func (o *Orchestrator) IsActive() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.phase == PhaseRunning
}

// Phase returns the current lifecycle phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.phase
}

// GetConfig returns the Orchestrator's active configuration.
func (o *Orchestrator) GetConfig() Config {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg
}

// Log returns the Activity Log constructed by Initialize. Callers build
// their adapter set against this instance before calling SetAdapters.
func (o *Orchestrator) Log() *activitylog.Log {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.log
}

// Registry returns the ticker-extraction Registry constructed by
// Initialize, for the same reason as Log.
func (o *Orchestrator) Registry() *extract.Registry {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.registry
}

// SetAdapters attaches the adapter set built against Log/Registry. Must
// be called after Initialize and before Start.
func (o *Orchestrator) SetAdapters(adapters []adapter.Adapter) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.phase != PhaseReady {
		return fmt.Errorf("orchestrator: cannot set adapters from phase %s", o.phase)
	}
	o.cfg.Adapters = adapters
	return nil
}

// GetActiveSignals delegates to the Correlator.
func (o *Orchestrator) GetActiveSignals() []correlator.CrossPlatformSignal {
	o.mu.RLock()
	corr := o.corr
	o.mu.RUnlock()
	if corr == nil {
		return nil
	}
	return corr.ActiveSignals()
}

// Stats aggregates per-adapter stats plus the Activity Log's total.
func (o *Orchestrator) Stats() Stats {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := Stats{PerAdapter: make(map[string]adapter.Stats, len(o.cfg.Adapters))}
	if o.log != nil {
		out.TotalEvents = int64(o.log.Count())
	}

	for _, a := range o.cfg.Adapters {
		stats := a.Stats()
		platform := string(a.Platform())
		out.PerAdapter[platform] = stats
		out.DataSourceStatus = append(out.DataSourceStatus, SourceStatus{Platform: platform, State: stats.State})
		if stats.State == adapter.StateRunning || stats.State == adapter.StateConnecting {
			out.ActiveDataSources++
		}
	}
	return out
}

// UpdateConfig performs an atomic per-adapter pause/reconfigure/resume.
// Only legal while READY or RUNNING. The Orchestrator's adapter set is
// swapped wholesale: callers construct the replacement set with the new
// tuning already applied.
func (o *Orchestrator) UpdateConfig(ctx context.Context, newAdapters []adapter.Adapter) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.phase != PhaseReady && o.phase != PhaseRunning {
		return fmt.Errorf("orchestrator: UpdateConfig illegal in phase %s", o.phase)
	}

	wasRunning := o.phase == PhaseRunning
	if wasRunning {
		for _, a := range o.cfg.Adapters {
			o.stopAdapter(a)
		}
	}

	o.cfg.Adapters = newAdapters

	if wasRunning {
		for _, a := range newAdapters {
			o.startAdapter(ctx, a)
		}
	}
	return nil
}
