package archiver

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/cryptorun/internal/durable"
)

// FallbackConfig tunes the gobreaker instance guarding one stage of the
// durable-write chain.
type FallbackConfig struct {
	Name        string
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
}

func DefaultFallbackConfig(name string) FallbackConfig {
	return FallbackConfig{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
	}
}

// FallbackWriter chains durable.Writer stages (e.g. Postgres primary,
// Redis secondary, an in-memory-only no-op as the final stage), each
// guarded by its own gobreaker.CircuitBreaker keyed by store name. This
// is independent from the trading circuit breaker in package breaker:
// gobreaker's ReadyToTrip only sees request counts, which is all a
// storage fallback chain needs.
type FallbackWriter struct {
	stages   []stage
	logger   zerolog.Logger
}

type stage struct {
	name    string
	writer  durable.Writer
	breaker *gobreaker.CircuitBreaker
}

// NewFallbackWriter builds a chain. writers and configs must be the
// same length and ordered primary-first.
func NewFallbackWriter(writers []durable.Writer, configs []FallbackConfig, logger zerolog.Logger) *FallbackWriter {
	stages := make([]stage, len(writers))
	for i, w := range writers {
		cfg := configs[i]
		settings := gobreaker.Settings{
			Name:        cfg.Name,
			MaxRequests: cfg.MaxRequests,
			Interval:    cfg.Interval,
			Timeout:     cfg.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.Requests >= 5 && counts.TotalFailures*2 >= counts.Requests
			},
		}
		stages[i] = stage{name: cfg.Name, writer: w, breaker: gobreaker.NewCircuitBreaker(settings)}
	}
	return &FallbackWriter{stages: stages, logger: logger}
}

// Put tries each stage in order, stopping at the first that succeeds.
// A stage with an open breaker is skipped without being called.
func (f *FallbackWriter) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var lastErr error
	for _, s := range f.stages {
		_, err := s.breaker.Execute(func() (interface{}, error) {
			return nil, s.writer.Put(ctx, key, value, ttl)
		})
		if err == nil {
			return nil
		}
		f.logger.Warn().Err(err).Str("stage", s.name).Msg("archiver: fallback stage failed")
		lastErr = err
	}
	return fmt.Errorf("archiver: all durable-write stages failed: %w", lastErr)
}

// Get delegates to the first stage implementing durable.Reader,
// skipping stages whose breaker is open.
func (f *FallbackWriter) Get(ctx context.Context, key string) ([]byte, error) {
	for _, s := range f.stages {
		reader, ok := s.writer.(durable.Reader)
		if !ok || s.breaker.State() == gobreaker.StateOpen {
			continue
		}
		if v, err := reader.Get(ctx, key); err == nil {
			return v, nil
		}
	}
	return nil, fmt.Errorf("archiver: no readable stage for key %s", key)
}

// NoopWriter is the chain's terminal stage: it accepts every write
// without persisting, representing "extend-cache-TTL-only" degraded
// operation when every durable backend is unavailable.
type NoopWriter struct{}

func (NoopWriter) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}
