package orch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Rajchodisetti/orderflow-engine/internal/observ"
)

// LogKind selects one of the three logical JSONL streams.
type LogKind string

const (
	KindMetrics   LogKind = "metrics"
	KindExecution LogKind = "execution"
	KindDecision  LogKind = "decision"
)

const dropCheckInterval = 10 * time.Second

type logEntry struct {
	kind        LogKind
	eventTimeMS int64
	payload     any
}

// Logger writes the orchestrator's three JSONL streams through a single
// bounded queue drained by one flusher goroutine. Files rotate on the
// UTC date of each entry's event time, not the wall clock. Enqueue never
// blocks: on overflow the entry is dropped and counted, and a sustained
// drop spike trips the configured halt callback.
type Logger struct {
	dir        string
	queue      chan logEntry
	threshold  int64
	dropTotal  atomic.Int64
	dropWindow atomic.Int64

	spikeMu sync.Mutex
	onSpike func(n int64)

	files   map[string]*os.File
	stateMu sync.RWMutex
	closed  bool
	done    chan struct{}
	wg      sync.WaitGroup
	met     *observ.Metrics
	log     zerolog.Logger
}

func NewLogger(dir string, queueLimit int, dropHaltThreshold int64, met *observ.Metrics, log zerolog.Logger) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	l := &Logger{
		dir:       dir,
		queue:     make(chan logEntry, queueLimit),
		threshold: dropHaltThreshold,
		files:     map[string]*os.File{},
		done:      make(chan struct{}),
		met:       met,
		log:       log.With().Str("comp", "orch_logger").Logger(),
	}
	l.wg.Add(2)
	go l.flusher()
	go l.dropWatcher()
	return l, nil
}

// SetDropSpikeHandler installs the halt callback invoked with the window
// drop count when it reaches the threshold.
func (l *Logger) SetDropSpikeHandler(fn func(n int64)) {
	l.spikeMu.Lock()
	defer l.spikeMu.Unlock()
	l.onSpike = fn
}

// Enqueue queues one line for kind, stamped into the file for the UTC
// date of eventTimeMS. Drops on overflow.
func (l *Logger) Enqueue(kind LogKind, eventTimeMS int64, payload any) {
	l.stateMu.RLock()
	defer l.stateMu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- logEntry{kind: kind, eventTimeMS: eventTimeMS, payload: payload}:
		if l.met != nil {
			l.met.LoggerQueueLen.Set(float64(len(l.queue)))
		}
	default:
		l.dropTotal.Add(1)
		l.dropWindow.Add(1)
		if l.met != nil {
			l.met.LoggerDrops.Inc()
		}
	}
}

func (l *Logger) flusher() {
	defer l.wg.Done()
	for entry := range l.queue {
		l.write(entry)
	}
}

func (l *Logger) write(e logEntry) {
	f, err := l.fileFor(e.kind, e.eventTimeMS)
	if err != nil {
		l.log.Error().Err(err).Str("kind", string(e.kind)).Msg("open stream file")
		return
	}
	b, err := json.Marshal(e.payload)
	if err != nil {
		l.log.Error().Err(err).Str("kind", string(e.kind)).Msg("marshal entry")
		return
	}
	if _, err := f.Write(append(b, '\n')); err != nil {
		l.log.Error().Err(err).Str("kind", string(e.kind)).Msg("write entry")
	}
}

func (l *Logger) fileFor(kind LogKind, eventTimeMS int64) (*os.File, error) {
	date := time.UnixMilli(eventTimeMS).UTC().Format("20060102")
	key := string(kind) + "_" + date
	if f, ok := l.files[key]; ok {
		return f, nil
	}
	path := filepath.Join(l.dir, key+".jsonl")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	l.files[key] = f
	return f, nil
}

func (l *Logger) dropWatcher() {
	defer l.wg.Done()
	ticker := time.NewTicker(dropCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.checkDropSpike()
		}
	}
}

// checkDropSpike resets the window counter and fires the halt callback
// when the last window's drops reached the threshold.
func (l *Logger) checkDropSpike() {
	n := l.dropWindow.Swap(0)
	if n < l.threshold {
		return
	}
	l.log.Error().Int64("dropped", n).Msg("drop spike, signaling halt")
	l.spikeMu.Lock()
	fn := l.onSpike
	l.spikeMu.Unlock()
	if fn != nil {
		fn(n)
	}
}

// Health reports queue and drop counters.
func (l *Logger) Health() observ.LoggerHealth {
	return observ.LoggerHealth{
		QueueLen:   len(l.queue),
		DropTotal:  l.dropTotal.Load(),
		DropWindow: l.dropWindow.Load(),
	}
}

// DropTotal is the lifetime count of dropped entries.
func (l *Logger) DropTotal() int64 { return l.dropTotal.Load() }

// Close drains the queue, closes every file handle and stops the
// watcher. Enqueue becomes a no-op.
func (l *Logger) Close() {
	l.stateMu.Lock()
	if l.closed {
		l.stateMu.Unlock()
		return
	}
	l.closed = true
	close(l.done)
	close(l.queue)
	l.stateMu.Unlock()
	l.wg.Wait()
	for key, f := range l.files {
		if err := f.Close(); err != nil {
			l.log.Error().Err(err).Str("file", key).Msg("close stream file")
		}
	}
}
