// Package breaker implements the trading circuit breaker: a three-state
// gate (CLOSED/OPEN/HALF_OPEN) combining a sliding failure-rate window
// with trading-specific risk trips (daily loss, drawdown, consecutive
// losses). It generalizes a simpler consecutive-failure breaker design
// for HTTP provider calls, additionally tracking PnL/drawdown metrics and
// emitting named transition events rather than just exposing a Stats
// snapshot.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrCircuitOpen is returned by Execute without invoking the operation.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// Classification causes. Wrap one of these with fmt.Errorf("%w: ...")
	// from calling code so Classify can route the failure correctly.
	ErrAPIError      = errors.New("api error")
	ErrTradeLoss     = errors.New("trade loss")
	ErrDrawdownBreach = errors.New("drawdown breach")
	ErrRiskBreach    = errors.New("risk breach")
)

// FailureClass tags why an operation failed.
type FailureClass string

const (
	ClassAPIError   FailureClass = "api_error"
	ClassTradeLoss  FailureClass = "trade_loss"
	ClassDrawdown   FailureClass = "drawdown"
	ClassRiskBreach FailureClass = "risk_breach"
	ClassUnknown    FailureClass = "unknown"
)

// Classify inspects err and returns its FailureClass. Only ClassAPIError,
// ClassUnknown and ClassRiskBreach contribute to the failure-window trip;
// ClassTradeLoss and ClassDrawdown are already represented via metrics and
// must not double-count.
func Classify(err error) FailureClass {
	switch {
	case err == nil:
		return ClassUnknown
	case errors.Is(err, ErrTradeLoss):
		return ClassTradeLoss
	case errors.Is(err, ErrDrawdownBreach):
		return ClassDrawdown
	case errors.Is(err, ErrRiskBreach):
		return ClassRiskBreach
	case errors.Is(err, ErrAPIError):
		return ClassAPIError
	default:
		return ClassUnknown
	}
}

func (c FailureClass) countsTowardTrip() bool {
	return c == ClassAPIError || c == ClassUnknown || c == ClassRiskBreach
}

// State is one of CLOSED, OPEN, HALF_OPEN.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// EventType names a breaker transition or notable action, matching the
// observable events a subscriber can expect.
type EventType string

const (
	EventOperationSuccess EventType = "operation_success"
	EventOperationFailure EventType = "operation_failure"
	EventFailureRecorded  EventType = "failure_recorded"
	EventCircuitOpened    EventType = "circuit_opened"
	EventCircuitHalfOpen  EventType = "circuit_half_open"
	EventCircuitClosed    EventType = "circuit_closed"
	EventEmergencyStop    EventType = "emergency_stop"
	EventTradeRecorded    EventType = "trade_recorded"
	EventDailyReset       EventType = "daily_reset"
	EventConfigUpdated    EventType = "config_updated"
)

// TransitionEvent is published on the breaker's subscription channels.
type TransitionEvent struct {
	Type   EventType
	At     time.Time
	State  State
	Reason string
}

// Config holds the breaker's trip thresholds.
type Config struct {
	FailureThreshold     int
	MonitoringPeriod     time.Duration
	ResetTimeout         time.Duration
	MaxDailyLoss         float64
	MaxDrawdown          float64
	MaxConsecutiveLosses int
	EnableAutoHalt       bool
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold:     5,
		MonitoringPeriod:     time.Minute,
		ResetTimeout:         30 * time.Second,
		MaxDailyLoss:         1000,
		MaxDrawdown:          0.2,
		MaxConsecutiveLosses: 3,
		EnableAutoHalt:       true,
	}
}

// ConfigPartial carries optional overrides for UpdateConfig; nil fields
// are left unchanged.
type ConfigPartial struct {
	FailureThreshold     *int
	MonitoringPeriod     *time.Duration
	ResetTimeout         *time.Duration
	MaxDailyLoss         *float64
	MaxDrawdown          *float64
	MaxConsecutiveLosses *int
	EnableAutoHalt       *bool
}

// Metrics holds the trading-specific state the breaker also trips on.
type Metrics struct {
	DailyPnL          float64
	TotalPnL          float64
	Drawdown          float64
	ConsecutiveLosses int
	LastTradeAt       time.Time
}

type failureRecord struct {
	at    time.Time
	class FailureClass
}

// Breaker is the trading circuit breaker described by the core spec.
type Breaker struct {
	mu sync.Mutex

	config  Config
	state   State
	metrics Metrics

	failures           []failureRecord // pruned to MonitoringPeriod; drives trip
	diagnosticFailures []failureRecord // pruned to 24h; read-only diagnostics

	openedAt         time.Time
	emergencyStopped bool

	now func() time.Time

	subMu sync.RWMutex
	subs  map[uint64]chan TransitionEvent
	nextSub uint64
}

// New constructs a Breaker in the CLOSED state.
func New(cfg Config) *Breaker {
	return &Breaker{
		config: cfg,
		state:  StateClosed,
		now:    time.Now,
		subs:   make(map[uint64]chan TransitionEvent),
	}
}

// Subscribe returns a channel receiving every transition/notable event
// from this point forward. The channel is buffered and non-blocking:
// a slow subscriber misses events rather than stalling the breaker.
func (b *Breaker) Subscribe() (<-chan TransitionEvent, func()) {
	b.subMu.Lock()
	id := b.nextSub
	b.nextSub++
	ch := make(chan TransitionEvent, 64)
	b.subs[id] = ch
	b.subMu.Unlock()

	unsubscribe := func() {
		b.subMu.Lock()
		defer b.subMu.Unlock()
		if c, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(c)
		}
	}
	return ch, unsubscribe
}

func (b *Breaker) emit(ev TransitionEvent) {
	b.subMu.RLock()
	defer b.subMu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs op if the breaker allows it. Returns ErrCircuitOpen
// immediately, without invoking op, when the breaker is OPEN and has not
// yet reached its reset timeout.
func (b *Breaker) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	if !b.allowRequest() {
		return ErrCircuitOpen
	}

	err := op(ctx)
	b.recordOutcome(err)
	if err != nil {
		return fmt.Errorf("operation failed: %w", err)
	}
	return nil
}

func (b *Breaker) allowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		return true
	case StateOpen:
		if b.emergencyStopped {
			return false
		}
		if b.now().Sub(b.openedAt) >= b.config.ResetTimeout {
			b.setStateLocked(StateHalfOpen, "reset timeout elapsed")
			return true
		}
		return false
	default:
		return false
	}
}

func (b *Breaker) recordOutcome(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.onSuccessLocked()
		return
	}
	b.onFailureLocked(Classify(err))
}

func (b *Breaker) onSuccessLocked() {
	b.emit(TransitionEvent{Type: EventOperationSuccess, At: b.now(), State: b.state})
	if b.state == StateHalfOpen {
		b.setStateLocked(StateClosed, "probe succeeded")
		b.failures = nil
	}
}

func (b *Breaker) onFailureLocked(class FailureClass) {
	now := b.now()
	b.emit(TransitionEvent{Type: EventOperationFailure, At: now, State: b.state, Reason: string(class)})

	rec := failureRecord{at: now, class: class}
	b.diagnosticFailures = append(b.diagnosticFailures, rec)
	b.pruneDiagnosticLocked(now)

	if class.countsTowardTrip() {
		b.failures = append(b.failures, rec)
		b.pruneFailuresLocked(now)
		b.emit(TransitionEvent{Type: EventFailureRecorded, At: now, State: b.state, Reason: string(class)})
	}

	if b.state == StateHalfOpen {
		b.setStateLocked(StateOpen, "probe failed")
		return
	}

	b.evaluateTripLocked()
}

func (b *Breaker) pruneFailuresLocked(now time.Time) {
	cutoff := now.Add(-b.config.MonitoringPeriod)
	i := 0
	for i < len(b.failures) && b.failures[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.failures = append([]failureRecord(nil), b.failures[i:]...)
	}
}

func (b *Breaker) pruneDiagnosticLocked(now time.Time) {
	cutoff := now.Add(-24 * time.Hour)
	i := 0
	for i < len(b.diagnosticFailures) && b.diagnosticFailures[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		b.diagnosticFailures = append([]failureRecord(nil), b.diagnosticFailures[i:]...)
	}
}

// recentFailureCount returns the count of trip-counting failures within
// MonitoringPeriod as of now.
func (b *Breaker) recentFailureCount() int {
	now := b.now()
	b.pruneFailuresLocked(now)
	return len(b.failures)
}

func (b *Breaker) evaluateTripLocked() {
	if !b.config.EnableAutoHalt || b.emergencyStopped {
		return
	}
	if b.state == StateOpen {
		return
	}

	reason := ""
	switch {
	case b.recentFailureCount() >= b.config.FailureThreshold:
		reason = "Recent failure threshold exceeded"
	case b.config.MaxDailyLoss > 0 && b.metrics.DailyPnL <= -b.config.MaxDailyLoss:
		reason = "Daily loss limit exceeded"
	case b.config.MaxDrawdown > 0 && b.metrics.Drawdown >= b.config.MaxDrawdown:
		reason = "Maximum drawdown exceeded"
	case b.config.MaxConsecutiveLosses > 0 && b.metrics.ConsecutiveLosses >= b.config.MaxConsecutiveLosses:
		reason = "Maximum consecutive losses exceeded"
	default:
		return
	}

	b.openedAt = b.now()
	b.setStateLocked(StateOpen, reason)
}

// setStateLocked transitions state and emits exactly one event, provided
// the target state differs from the current one. Caller holds b.mu.
func (b *Breaker) setStateLocked(target State, reason string) {
	if b.state == target {
		return
	}
	b.state = target

	var evType EventType
	switch target {
	case StateOpen:
		evType = EventCircuitOpened
		b.openedAt = b.now()
	case StateHalfOpen:
		evType = EventCircuitHalfOpen
	case StateClosed:
		evType = EventCircuitClosed
	}
	b.emit(TransitionEvent{Type: evType, At: b.now(), State: target, Reason: reason})
}

// UpdateDailyPnL sets the current daily PnL and evaluates trip
// conditions.
func (b *Breaker) UpdateDailyPnL(v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics.DailyPnL = v
	b.evaluateTripLocked()
}

// UpdateDrawdown sets the current drawdown fraction and evaluates trip
// conditions.
func (b *Breaker) UpdateDrawdown(v float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics.Drawdown = v
	b.evaluateTripLocked()
}

// RecordTrade ingests a realized trade PnL, updates totals and the
// consecutive-loss counter, and evaluates trip conditions.
func (b *Breaker) RecordTrade(pnl float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.metrics.TotalPnL += pnl
	b.metrics.DailyPnL += pnl
	b.metrics.LastTradeAt = b.now()
	if pnl < 0 {
		b.metrics.ConsecutiveLosses++
	} else {
		b.metrics.ConsecutiveLosses = 0
	}

	b.emit(TransitionEvent{Type: EventTradeRecorded, At: b.now(), State: b.state})
	b.evaluateTripLocked()
}

// ResetDailyMetrics zeroes the daily PnL counter (e.g. at a UTC day
// rollover) and emits daily_reset.
func (b *Breaker) ResetDailyMetrics() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.metrics.DailyPnL = 0
	b.emit(TransitionEvent{Type: EventDailyReset, At: b.now(), State: b.state})
}

// UpdateConfig merges non-nil fields from partial into the live config.
// It never resets state or metrics.
func (b *Breaker) UpdateConfig(partial ConfigPartial) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if partial.FailureThreshold != nil {
		b.config.FailureThreshold = *partial.FailureThreshold
	}
	if partial.MonitoringPeriod != nil {
		b.config.MonitoringPeriod = *partial.MonitoringPeriod
	}
	if partial.ResetTimeout != nil {
		b.config.ResetTimeout = *partial.ResetTimeout
	}
	if partial.MaxDailyLoss != nil {
		b.config.MaxDailyLoss = *partial.MaxDailyLoss
	}
	if partial.MaxDrawdown != nil {
		b.config.MaxDrawdown = *partial.MaxDrawdown
	}
	if partial.MaxConsecutiveLosses != nil {
		b.config.MaxConsecutiveLosses = *partial.MaxConsecutiveLosses
	}
	if partial.EnableAutoHalt != nil {
		b.config.EnableAutoHalt = *partial.EnableAutoHalt
	}
	b.emit(TransitionEvent{Type: EventConfigUpdated, At: b.now(), State: b.state})
}

// ForceOpen manually opens the circuit; normal reset-timeout based
// recovery to HALF_OPEN still applies.
func (b *Breaker) ForceOpen(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.openedAt = b.now()
	b.setStateLocked(StateOpen, reason)
}

// ForceClose manually closes the circuit, clears the emergency-stop
// latch, and resets the failure window.
func (b *Breaker) ForceClose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.emergencyStopped = false
	b.failures = nil
	b.setStateLocked(StateClosed, "manual close")
}

// EmergencyStop forces OPEN and disables automatic OPEN->HALF_OPEN
// recovery until ForceClose is called.
func (b *Breaker) EmergencyStop(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.emergencyStopped = true
	b.openedAt = b.now()
	if b.state != StateOpen {
		b.state = StateOpen
	}
	b.emit(TransitionEvent{Type: EventEmergencyStop, At: b.now(), State: StateOpen, Reason: reason})
}

// Snapshot is a point-in-time read of the breaker's observable state.
type Snapshot struct {
	State                State
	Config               Config
	Metrics              Metrics
	RecentFailures       int
	OpenedAt             time.Time
	EmergencyStopped     bool
	DiagnosticFailures24h int
}

// Stats returns a consistent snapshot of the breaker's state.
func (b *Breaker) Stats() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:                 b.state,
		Config:                b.config,
		Metrics:               b.metrics,
		RecentFailures:        b.recentFailureCount(),
		OpenedAt:              b.openedAt,
		EmergencyStopped:      b.emergencyStopped,
		DiagnosticFailures24h: len(b.diagnosticFailures),
	}
}
