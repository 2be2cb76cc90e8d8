package adapter

import (
	"bufio"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sawpanic/cryptorun/internal/model"
)

func rawItemToEvent(platform model.Platform, item RawItem) model.Event {
	return model.Event{
		ID:          item.ID,
		Platform:    platform,
		Source:      item.Source,
		TimestampMs: item.TimestampMs,
		Text:        item.Text,
		Author:      item.Author,
		Engagement:  item.Engagement,
	}
}

// StreamConfig configures a StreamingAdapter's reconnect behavior.
type StreamConfig struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	HealthyAfter   time.Duration // duration of uninterrupted streaming that resets backoff
	IdleReadTimeout time.Duration
}

func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		InitialBackoff:  30 * time.Second,
		MaxBackoff:      5 * time.Minute,
		HealthyAfter:    60 * time.Second,
		IdleReadTimeout: 90 * time.Second,
	}
}

// ConnectFunc establishes one streaming connection and returns a scanner
// over newline-delimited raw lines, plus a closer. It is called once per
// (re)connect attempt.
type ConnectFunc func(ctx context.Context) (*bufio.Scanner, func() error, error)

// LineHandler turns one raw line from the stream into RawItem(s). A line
// that doesn't parse should return (nil, nil): such lines are skipped,
// never escalated. A non-nil error is counted in the adapter's error
// window and the line is skipped.
type LineHandler func(line string) ([]RawItem, error)

// StreamingAdapter drives the Twitter filtered-stream adapter: one
// connection at a time, exponential reconnect backoff, reset after a
// sustained healthy read period.
type StreamingAdapter struct {
	*Base
	cfg     StreamConfig
	connect ConnectFunc
	handle  LineHandler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewStreamingAdapter(base *Base, cfg StreamConfig, connect ConnectFunc, handle LineHandler) *StreamingAdapter {
	return &StreamingAdapter{Base: base, cfg: cfg, connect: connect, handle: handle}
}

func (s *StreamingAdapter) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.setState(StateConnecting)

	s.wg.Add(1)
	go s.loop(runCtx)
	return nil
}

func (s *StreamingAdapter) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *StreamingAdapter) loop(ctx context.Context) {
	defer s.wg.Done()

	backoff := s.cfg.InitialBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		scanner, closeFn, err := s.connect(ctx)
		if err != nil {
			s.recordError()
			var authErr *AuthError
			if errors.As(err, &authErr) {
				s.setState(StateFailed)
				return
			}
			s.setState(StateBackoff)
			if !sleepOrDone(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, s.cfg.MaxBackoff)
			continue
		}

		s.setState(StateRunning)
		connectedAt := time.Now()
		healthy := s.readLoop(ctx, scanner)
		if closeFn != nil {
			_ = closeFn()
		}

		if healthy && time.Since(connectedAt) >= s.cfg.HealthyAfter {
			backoff = s.cfg.InitialBackoff
		} else {
			backoff = nextBackoff(backoff, s.cfg.MaxBackoff)
		}

		if ctx.Err() != nil {
			return
		}
		s.setState(StateBackoff)
		if !sleepOrDone(ctx, backoff) {
			return
		}
	}
}

// readLoop consumes lines until the scanner ends or ctx is cancelled.
// Returns true if the connection ran without the scanner failing.
func (s *StreamingAdapter) readLoop(ctx context.Context, scanner *bufio.Scanner) bool {
	for scanner.Scan() {
		if ctx.Err() != nil {
			return true
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		items, err := s.handle(line)
		if err != nil {
			s.recordError()
			continue
		}
		for _, item := range items {
			if s.Dedup(item.ID) {
				continue
			}
			e := s.Enrich(rawItemToEvent(s.Platform(), item))
			s.Publish(ctx, e)
		}
	}
	return scanner.Err() == nil
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	return next
}
