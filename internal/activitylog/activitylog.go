// Package activitylog implements the in-memory, time-ordered event store
// described by the data orchestrator's ingestion pipeline: a single
// delivery worker assigns a monotone sequence number to every inserted
// Event and fans it out to bounded per-subscriber queues, so a slow
// subscriber can never block ingestion.
package activitylog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/cryptorun/internal/durable"
	"github.com/sawpanic/cryptorun/internal/model"
)

const (
	DefaultMaxEntries         = 50000
	DefaultMaxAge             = 24 * time.Hour
	DefaultIngressQueueSize   = 4096
	DefaultSubscriberQueueCap = 1024
)

// Severity buckets events by RiskScore for the BySeverity view.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

func SeverityOf(e model.Event) Severity {
	switch {
	case e.RiskScore >= 0.8:
		return SeverityCritical
	case e.RiskScore >= 0.6:
		return SeverityHigh
	case e.RiskScore >= 0.3:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Entry pairs an Event with its insertion sequence.
type Entry struct {
	Event model.Event
	Seq   uint64
}

// Delivery is what a subscriber channel carries. If LaggedCount > 0 the
// Entry is the zero value and the subscriber should treat it as a gap
// notification covering that many dropped events, immediately followed
// (in subsequent receives) by entries from after the gap.
type Delivery struct {
	Entry       Entry
	LaggedCount int
}

// Config controls retention and backpressure behavior.
type Config struct {
	MaxEntries         int
	MaxAge             time.Duration
	IngressQueueSize   int
	SubscriberQueueCap int
	Durable            durable.Writer // optional; nil disables durable writes
}

func DefaultConfig() Config {
	return Config{
		MaxEntries:         DefaultMaxEntries,
		MaxAge:             DefaultMaxAge,
		IngressQueueSize:   DefaultIngressQueueSize,
		SubscriberQueueCap: DefaultSubscriberQueueCap,
	}
}

type subscriber struct {
	id      uint64
	ch      chan Delivery
	mu      sync.Mutex
	dropped int
}

// Log is the Activity Log. Construct with New and call Run in a goroutine
// before publishing; Close stops the delivery worker.
type Log struct {
	cfg Config

	ingress chan model.Event

	mu      sync.RWMutex
	entries []Entry
	nextSeq uint64

	subMu   sync.RWMutex
	subs    map[uint64]*subscriber
	nextSub uint64

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

// New constructs an Activity Log. Run must be started before any Log call
// that expects delivery to subscribers.
func New(cfg Config) *Log {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.IngressQueueSize <= 0 {
		cfg.IngressQueueSize = DefaultIngressQueueSize
	}
	if cfg.SubscriberQueueCap <= 0 {
		cfg.SubscriberQueueCap = DefaultSubscriberQueueCap
	}
	return &Log{
		cfg:     cfg,
		ingress: make(chan model.Event, cfg.IngressQueueSize),
		subs:    make(map[uint64]*subscriber),
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Run is the single delivery worker. It must run in its own goroutine for
// the lifetime of the Log.
func (l *Log) Run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.closed:
			return
		case ev := <-l.ingress:
			l.insert(ev)
		}
	}
}

// Close stops the delivery worker and waits for it to exit.
func (l *Log) Close() {
	l.closeOnce.Do(func() { close(l.closed) })
	<-l.done
}

// Log appends an event. It is safe to call concurrently from many
// producers; it blocks only until the ingress queue accepts the event
// (callers that need a publish timeout should select on a context
// deadline around this call, as adapters do per their publishTimeout).
func (l *Log) Log(ctx context.Context, e model.Event) error {
	select {
	case l.ingress <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.closed:
		return fmt.Errorf("activitylog: closed")
	}
}

// TryLog attempts a non-blocking insert; returns false if the ingress
// queue is full or the log is closed.
func (l *Log) TryLog(e model.Event) bool {
	select {
	case <-l.closed:
		return false
	default:
	}
	select {
	case l.ingress <- e:
		return true
	default:
		return false
	}
}

func (l *Log) insert(e model.Event) {
	l.mu.Lock()
	seq := l.nextSeq
	l.nextSeq++
	entry := Entry{Event: e, Seq: seq}
	l.entries = append(l.entries, entry)
	l.evictLocked()
	l.mu.Unlock()

	l.fanout(entry)

	if l.cfg.Durable != nil {
		go l.writeDurable(entry)
	}
}

func (l *Log) evictLocked() {
	cutoff := time.Now().Add(-l.cfg.MaxAge).UnixMilli()
	start := 0
	for start < len(l.entries) && l.entries[start].Event.TimestampMs < cutoff {
		start++
	}
	if over := len(l.entries) - start - l.cfg.MaxEntries; over > 0 {
		start += over
	}
	if start > 0 {
		l.entries = append([]Entry(nil), l.entries[start:]...)
	}
}

func (l *Log) writeDurable(entry Entry) {
	payload, err := json.Marshal(entry.Event)
	if err != nil {
		log.Error().Err(err).Msg("activitylog: marshal for durable write failed")
		return
	}
	key := fmt.Sprintf("archive:%s:%d", entry.Event.Timestamp().Format("2006-01-02"), entry.Seq)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.cfg.Durable.Put(ctx, key, payload, 90*24*time.Hour); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("activitylog: durable write failed, in-memory insert unaffected")
	}
}

func (l *Log) fanout(entry Entry) {
	l.subMu.RLock()
	defer l.subMu.RUnlock()
	for _, s := range l.subs {
		s.deliver(entry)
	}
}

func (s *subscriber) deliver(entry Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dropped > 0 {
		select {
		case s.ch <- Delivery{LaggedCount: s.dropped}:
			s.dropped = 0
		default:
			s.dropped++
			return
		}
	}

	select {
	case s.ch <- Delivery{Entry: entry}:
	default:
		s.dropped++
	}
}

// Subscription is a handle returned by Subscribe.
type Subscription struct {
	id uint64
	ch <-chan Delivery
	l  *Log
}

// C returns the channel subscribers read deliveries from.
func (s *Subscription) C() <-chan Delivery { return s.ch }

// Unsubscribe removes the subscription and closes its channel.
func (s *Subscription) Unsubscribe() {
	s.l.subMu.Lock()
	defer s.l.subMu.Unlock()
	if sub, ok := s.l.subs[s.id]; ok {
		delete(s.l.subs, s.id)
		close(sub.ch)
	}
}

// Subscribe registers a new subscriber and returns a handle whose channel
// receives every subsequent Log in insertion order, subject to the
// bounded-queue/lagged policy described on Delivery.
func (l *Log) Subscribe() *Subscription {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	id := l.nextSub
	l.nextSub++
	sub := &subscriber{id: id, ch: make(chan Delivery, l.cfg.SubscriberQueueCap)}
	l.subs[id] = sub
	return &Subscription{id: id, ch: sub.ch, l: l}
}

// RecentSince returns entries whose timestamp is >= now-dur, in insertion
// order.
func (l *Log) RecentSince(dur time.Duration) []model.Event {
	cutoff := time.Now().Add(-dur).UnixMilli()
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []model.Event
	for _, e := range l.entries {
		if e.Event.TimestampMs >= cutoff {
			out = append(out, e.Event)
		}
	}
	return out
}

// Range returns entries with timestamp in [start, end], in insertion order.
func (l *Log) Range(start, end time.Time) []model.Event {
	s, e := start.UnixMilli(), end.UnixMilli()
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []model.Event
	for _, entry := range l.entries {
		if entry.Event.TimestampMs >= s && entry.Event.TimestampMs <= e {
			out = append(out, entry.Event)
		}
	}
	return out
}

// ByPlatform returns all retained events from platform p, in insertion
// order.
func (l *Log) ByPlatform(p model.Platform) []model.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []model.Event
	for _, entry := range l.entries {
		if entry.Event.Platform == p {
			out = append(out, entry.Event)
		}
	}
	return out
}

// BySeverity returns all retained events bucketed at severity s.
func (l *Log) BySeverity(s Severity) []model.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []model.Event
	for _, entry := range l.entries {
		if SeverityOf(entry.Event) == s {
			out = append(out, entry.Event)
		}
	}
	return out
}

// Count returns the number of retained entries.
func (l *Log) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// HasSymbolSince reports whether sym appears on any retained event within
// the last dur. Used by adapters to compute Event.IsNew.
func (l *Log) HasSymbolSince(sym string, dur time.Duration) bool {
	cutoff := time.Now().Add(-dur).UnixMilli()
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.entries) - 1; i >= 0; i-- {
		entry := l.entries[i]
		if entry.Event.TimestampMs < cutoff {
			break
		}
		if entry.Event.HasSymbol(sym) {
			return true
		}
	}
	return false
}
