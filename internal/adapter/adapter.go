// Package adapter defines the Source Adapter contract and the common
// plumbing (dedup LRU, stats, state machine, publish-with-backpressure)
// shared by every concrete adapter (RSS, pushshift-Reddit, Twitter,
// CryptoPanic, LunarCrush).
package adapter

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/cryptorun/internal/activitylog"
	"github.com/sawpanic/cryptorun/internal/extract"
	"github.com/sawpanic/cryptorun/internal/model"
)

// State describes an adapter's lifecycle position.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateRunning    State = "running"
	StateBackoff    State = "backoff"
	StateFailed     State = "failed"
)

const (
	DefaultDedupCapacity = 10000
	DefaultPublishTimeout = 500 * time.Millisecond
	DefaultMaxBackoff     = 5 * time.Minute
)

// Stats is the adapter's observable health snapshot.
type Stats struct {
	EventsEmitted int64
	ErrorsLast1m  int64
	DroppedEvents int64
	LastEventAt   time.Time
	State         State
}

// Adapter is the contract every source implementation satisfies.
type Adapter interface {
	Platform() model.Platform
	Start(ctx context.Context) error
	Stop()
	Stats() Stats
}

// dedupLRU is a fixed-capacity, thread-safe LRU set of seen item ids.
type dedupLRU struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	index    map[string]*list.Element
}

func newDedupLRU(capacity int) *dedupLRU {
	if capacity <= 0 {
		capacity = DefaultDedupCapacity
	}
	return &dedupLRU{
		capacity: capacity,
		ll:       list.New(),
		index:    make(map[string]*list.Element),
	}
}

// seen reports whether id was already recorded, and records it if not.
func (d *dedupLRU) seen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.index[id]; ok {
		d.ll.MoveToFront(el)
		return true
	}

	el := d.ll.PushFront(id)
	d.index[id] = el
	if d.ll.Len() > d.capacity {
		oldest := d.ll.Back()
		if oldest != nil {
			d.ll.Remove(oldest)
			delete(d.index, oldest.Value.(string))
		}
	}
	return false
}

// errorWindow tracks error timestamps within the trailing minute.
type errorWindow struct {
	mu   sync.Mutex
	ats  []time.Time
}

func (w *errorWindow) record(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ats = append(w.ats, now)
	w.prune(now)
}

func (w *errorWindow) count(now time.Time) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.prune(now)
	return len(w.ats)
}

func (w *errorWindow) prune(now time.Time) {
	cutoff := now.Add(-time.Minute)
	i := 0
	for i < len(w.ats) && w.ats[i].Before(cutoff) {
		i++
	}
	w.ats = w.ats[i:]
}

// Base provides the common fields and helpers concrete adapters embed.
type Base struct {
	platform model.Platform
	log      *activitylog.Log
	registry *extract.Registry
	publishTimeout time.Duration

	dedup  *dedupLRU
	errors errorWindow

	state         atomic.Value // State
	eventsEmitted int64
	droppedEvents int64
	lastEventAtMu sync.Mutex
	lastEventAt   time.Time

	logger zerolog.Logger
}

// NewBase constructs the shared adapter scaffolding.
func NewBase(platform model.Platform, alog *activitylog.Log, registry *extract.Registry, dedupCapacity int) *Base {
	b := &Base{
		platform:       platform,
		log:            alog,
		registry:       registry,
		publishTimeout: DefaultPublishTimeout,
		dedup:          newDedupLRU(dedupCapacity),
		logger:         log.With().Str("adapter", string(platform)).Logger(),
	}
	b.state.Store(StateIdle)
	return b
}

func (b *Base) Platform() model.Platform { return b.platform }

func (b *Base) setState(s State) {
	b.state.Store(s)
}

func (b *Base) getState() State {
	return b.state.Load().(State)
}

func (b *Base) Stats() Stats {
	b.lastEventAtMu.Lock()
	last := b.lastEventAt
	b.lastEventAtMu.Unlock()

	return Stats{
		EventsEmitted: atomic.LoadInt64(&b.eventsEmitted),
		ErrorsLast1m:  int64(b.errors.count(time.Now())),
		DroppedEvents: atomic.LoadInt64(&b.droppedEvents),
		LastEventAt:   last,
		State:         b.getState(),
	}
}

func (b *Base) recordError() {
	b.errors.record(time.Now())
}

// Dedup reports whether sourceItemID has already been seen by this
// adapter, recording it if not.
func (b *Base) Dedup(sourceItemID string) bool {
	return b.dedup.seen(sourceItemID)
}

// Enrich runs the shared symbol-extraction/sentiment-scoring pipeline and
// fills in IsNew from the Activity Log.
func (b *Base) Enrich(e model.Event) model.Event {
	result := extract.Score(e.Text, b.registry)
	e.Symbols = result.Symbols
	e.Sentiment = result.Sentiment
	e.Confidence = result.Confidence
	e.PumpIndicators = result.PumpIndicators
	e.RiskScore = result.RiskScore

	e.IsNew = true
	for _, sym := range e.Symbols {
		if b.log.HasSymbolSince(sym, 24*time.Hour) {
			e.IsNew = false
			break
		}
	}
	return e
}

// Publish attempts to deliver e to the Activity Log within
// publishTimeout; on timeout it drops the event and increments
// droppedEvents, per the backpressure policy.
func (b *Base) Publish(ctx context.Context, e model.Event) {
	pubCtx, cancel := context.WithTimeout(ctx, b.publishTimeout)
	defer cancel()

	if err := b.log.Log(pubCtx, e); err != nil {
		atomic.AddInt64(&b.droppedEvents, 1)
		b.logger.Warn().Err(err).Msg("event dropped: activity log publish timed out")
		return
	}

	atomic.AddInt64(&b.eventsEmitted, 1)
	b.lastEventAtMu.Lock()
	b.lastEventAt = time.Now()
	b.lastEventAtMu.Unlock()
}

// Backoff computes exponential backoff with a cap, given the attempt
// count (1-indexed) and base delay.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
