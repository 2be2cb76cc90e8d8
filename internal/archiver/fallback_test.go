package archiver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/cryptorun/internal/durable"
)

type failingWriter struct{ err error }

func (f *failingWriter) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return f.err
}

func TestFallbackWriter_FallsThroughToSecondStage(t *testing.T) {
	primary := &failingWriter{err: errors.New("primary down")}
	secondary := newMemWriter()

	fw := NewFallbackWriter(
		[]durable.Writer{primary, secondary},
		[]FallbackConfig{DefaultFallbackConfig("primary"), DefaultFallbackConfig("secondary")},
		zerolog.Nop(),
	)

	require.NoError(t, fw.Put(context.Background(), "k", []byte("v"), time.Minute))
	v, err := secondary.Get(context.Background(), "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
}

func TestFallbackWriter_AllStagesFail(t *testing.T) {
	primary := &failingWriter{err: errors.New("down")}
	secondary := &failingWriter{err: errors.New("also down")}

	fw := NewFallbackWriter(
		[]durable.Writer{primary, secondary},
		[]FallbackConfig{DefaultFallbackConfig("primary"), DefaultFallbackConfig("secondary")},
		zerolog.Nop(),
	)

	err := fw.Put(context.Background(), "k", []byte("v"), time.Minute)
	require.Error(t, err)
}
