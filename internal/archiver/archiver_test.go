package archiver

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/cryptorun/internal/activitylog"
	"github.com/sawpanic/cryptorun/internal/durable"
	"github.com/sawpanic/cryptorun/internal/model"
)

type memWriter struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemWriter() *memWriter { return &memWriter{data: make(map[string][]byte)} }

func (m *memWriter) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[key] = cp
	return nil
}

func (m *memWriter) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	return v, nil
}

var _ durable.Writer = (*memWriter)(nil)
var _ durable.Reader = (*memWriter)(nil)

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

func TestArchiver_AggregatesTopSymbolsAndCriticalAlerts(t *testing.T) {
	log := newRunningLog(t)
	writer := newMemWriter()
	a := New(DefaultConfig(writer), log, zerolog.Nop())

	require.NoError(t, log.Log(context.Background(), model.Event{
		ID: "e1", Platform: model.PlatformRSS, TimestampMs: time.Now().UnixMilli(),
		Symbols: []string{"BTC"}, RiskScore: 0.1,
	}))
	require.NoError(t, log.Log(context.Background(), model.Event{
		ID: "e2", Platform: model.PlatformRSS, TimestampMs: time.Now().UnixMilli(),
		Symbols: []string{"BTC"}, RiskScore: 0.95,
	}))
	require.NoError(t, log.Log(context.Background(), model.Event{
		ID: "e3", Platform: model.PlatformRSS, TimestampMs: time.Now().UnixMilli(),
		Symbols: []string{"ETH"}, RiskScore: 0.2,
	}))
	require.Eventually(t, func() bool { return log.Count() == 3 }, time.Second, time.Millisecond)

	entry, err := a.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, entry.TotalEvents)
	require.Equal(t, "BTC", entry.TopSymbols[0].Symbol)
	require.Equal(t, 2, entry.TopSymbols[0].Mentions)
	require.Contains(t, entry.CriticalAlerts, "e2")
}

func TestArchiver_PersistsEntryAndIndex(t *testing.T) {
	log := newRunningLog(t)
	writer := newMemWriter()
	a := New(DefaultConfig(writer), log, zerolog.Nop())

	require.NoError(t, log.Log(context.Background(), model.Event{
		ID: "e1", Platform: model.PlatformRSS, TimestampMs: time.Now().UnixMilli(), Symbols: []string{"SOL"},
	}))

	_, err := a.Run(context.Background())
	require.NoError(t, err)

	writer.mu.Lock()
	defer writer.mu.Unlock()
	var foundEntry, foundDaily, foundIndex bool
	for k := range writer.data {
		switch {
		case k == indexKey:
			foundIndex = true
		case len(k) > len("archive:daily:") && k[:len("archive:daily:")] == "archive:daily:":
			foundDaily = true
		case len(k) > len("archive:") && k[:len("archive:")] == "archive:":
			foundEntry = true
		}
	}
	require.True(t, foundEntry)
	require.True(t, foundDaily)
	require.True(t, foundIndex)

	var index []string
	require.NoError(t, json.Unmarshal(writer.data[indexKey], &index))
	require.Len(t, index, 1)
}

func TestArchiver_NilWriterIsNoop(t *testing.T) {
	log := newRunningLog(t)
	a := New(Config{}, log, zerolog.Nop())

	entry, err := a.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 0, entry.TotalEvents)
}
