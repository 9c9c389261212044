package orch

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		n++
	}
	return n
}

func TestRotationByEventDate(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLogger(dir, 100, 200, nil, zerolog.Nop())
	require.NoError(t, err)

	day1 := time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC).UnixMilli()
	day2 := time.Date(2024, 3, 2, 0, 1, 0, 0, time.UTC).UnixMilli()
	l.Enqueue(KindMetrics, day1, map[string]any{"n": 1})
	l.Enqueue(KindMetrics, day2, map[string]any{"n": 2})
	l.Enqueue(KindDecision, day2, map[string]any{"n": 3})
	l.Close()

	require.Equal(t, 1, countLines(t, filepath.Join(dir, "metrics_20240301.jsonl")))
	require.Equal(t, 1, countLines(t, filepath.Join(dir, "metrics_20240302.jsonl")))
	require.Equal(t, 1, countLines(t, filepath.Join(dir, "decision_20240302.jsonl")))
}

func TestCloseDrainsQueue(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLogger(dir, 1_000, 200, nil, zerolog.Nop())
	require.NoError(t, err)
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).UnixMilli()
	for i := 0; i < 500; i++ {
		l.Enqueue(KindExecution, ts, map[string]any{"i": i})
	}
	l.Close()
	require.Equal(t, 500, countLines(t, filepath.Join(dir, "execution_20240301.jsonl")))

	// Enqueue after Close is a no-op.
	l.Enqueue(KindExecution, ts, map[string]any{"late": true})
	require.Equal(t, 500, countLines(t, filepath.Join(dir, "execution_20240301.jsonl")))
}

func TestOverflowDropsAndCounts(t *testing.T) {
	// No flusher: the queue fills and overflow must drop, not block.
	l := &Logger{
		queue:     make(chan logEntry, 2),
		threshold: 3,
		files:     map[string]*os.File{},
		log:       zerolog.Nop(),
	}
	for i := 0; i < 6; i++ {
		l.Enqueue(KindMetrics, 1, map[string]any{"i": i})
	}
	require.EqualValues(t, 4, l.DropTotal())
	require.EqualValues(t, 4, l.Health().DropWindow)
}

func TestDropSpikeFiresHaltAndResetsWindow(t *testing.T) {
	l := &Logger{
		queue:     make(chan logEntry, 1),
		threshold: 3,
		files:     map[string]*os.File{},
		log:       zerolog.Nop(),
	}
	var got int64
	l.SetDropSpikeHandler(func(n int64) { got = n })

	for i := 0; i < 5; i++ {
		l.Enqueue(KindMetrics, 1, nil)
	}
	l.checkDropSpike()
	require.EqualValues(t, 4, got)
	require.EqualValues(t, 0, l.Health().DropWindow, "window resets after the check")

	// Below threshold: no callback.
	got = -1
	l.Enqueue(KindMetrics, 1, nil)
	l.checkDropSpike()
	require.EqualValues(t, -1, got)
}
