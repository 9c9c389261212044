package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/Rajchodisetti/orderflow-engine/internal/book"
	"github.com/Rajchodisetti/orderflow-engine/internal/observ"
)

const (
	restTimeout          = 10 * time.Second
	staleAfterErrors     = 4
	defaultRetryAfterSec = 60
	snapshotDepthLimit   = 1000
)

var (
	ErrRateLimited = errors.New("feed: rest rate limited")
	ErrRestTimeout = errors.New("feed: rest timeout")
)

type fetchState struct {
	lastAttemptMS     int64
	lastOkMS          int64
	backoffMS         int64
	consecutiveErrors int
	resyncing         bool
}

// SnapshotConfig bounds the fetcher's throttles.
type SnapshotConfig struct {
	RESTURL       string
	MinIntervalMS int64
	BackoffMinMS  int64
	BackoffMaxMS  int64
}

// SnapshotFetcher fetches REST depth snapshots under hostile rate
// limits: a per-symbol backoff in [BackoffMinMS, BackoffMaxMS], a
// process-wide backoff armed by 429/418 Retry-After, a global request
// rate floor, and a circuit breaker around the HTTP call. Unseeded
// symbols bypass the per-symbol throttle but never the global gate.
type SnapshotFetcher struct {
	cfg     SnapshotConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	met     *observ.Metrics
	log     zerolog.Logger

	mu                   sync.Mutex
	states               map[string]*fetchState
	globalBackoffUntilMS int64

	now func() int64
}

func NewSnapshotFetcher(cfg SnapshotConfig, met *observ.Metrics, log zerolog.Logger) *SnapshotFetcher {
	return &SnapshotFetcher{
		cfg:    cfg,
		client: &http.Client{Timeout: restTimeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "depth_snapshot",
			Timeout: 30 * time.Second,
		}),
		limiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 2),
		met:     met,
		log:     log.With().Str("comp", "snapshot_fetcher").Logger(),
		states:  map[string]*fetchState{},
		now:     func() int64 { return time.Now().UnixMilli() },
	}
}

func (f *SnapshotFetcher) stateFor(symbol string) *fetchState {
	st, ok := f.states[symbol]
	if !ok {
		st = &fetchState{backoffMS: f.cfg.BackoffMinMS}
		f.states[symbol] = st
	}
	return st
}

// Request asks for a snapshot of b's symbol. It returns immediately;
// throttled or duplicate requests are silently elided, otherwise the
// fetch runs in its own goroutine.
func (f *SnapshotFetcher) Request(b *book.Book) {
	now := f.now()
	symbol := b.Symbol()

	f.mu.Lock()
	if now < f.globalBackoffUntilMS {
		f.mu.Unlock()
		return
	}
	st := f.stateFor(symbol)
	if st.resyncing {
		f.mu.Unlock()
		return
	}
	if s := b.State(); s == book.Live || s == book.Stale {
		wait := f.cfg.MinIntervalMS
		if st.backoffMS > wait {
			wait = st.backoffMS
		}
		if now-st.lastAttemptMS < wait {
			f.mu.Unlock()
			return
		}
	}
	st.resyncing = true
	st.lastAttemptMS = now
	f.mu.Unlock()

	b.MarkResyncing()
	go f.fetch(b)
}

func (f *SnapshotFetcher) fetch(b *book.Book) {
	symbol := b.Symbol()
	ctx, cancel := context.WithTimeout(context.Background(), restTimeout)
	defer cancel()
	if err := f.limiter.Wait(ctx); err != nil {
		f.finishError(b, ErrRestTimeout)
		return
	}

	snap, err := f.get(ctx, symbol)
	if err != nil {
		f.finishError(b, err)
		return
	}

	b.ApplySnapshot(snap)
	f.mu.Lock()
	st := f.stateFor(symbol)
	st.resyncing = false
	st.consecutiveErrors = 0
	st.backoffMS = f.cfg.BackoffMinMS
	st.lastOkMS = f.now()
	f.mu.Unlock()
	if f.met != nil {
		f.met.SnapshotFetches.WithLabelValues(symbol, "ok").Inc()
	}
}

func (f *SnapshotFetcher) get(ctx context.Context, symbol string) (book.Snapshot, error) {
	url := fmt.Sprintf("%s/fapi/v1/depth?symbol=%s&limit=%d", f.cfg.RESTURL, symbol, snapshotDepthLimit)
	raw, err := f.breaker.Execute(func() (any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := f.client.Do(req)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, ErrRestTimeout
			}
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 418 {
			f.armGlobalBackoff(resp.Header.Get("Retry-After"))
			return nil, fmt.Errorf("%w: status %d", ErrRateLimited, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("depth snapshot: unexpected status %d", resp.StatusCode)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		var ws wireSnapshot
		if err := json.Unmarshal(body, &ws); err != nil {
			return nil, err
		}
		return ws.toSnapshot()
	})
	if err != nil {
		return book.Snapshot{}, err
	}
	return raw.(book.Snapshot), nil
}

func (f *SnapshotFetcher) armGlobalBackoff(retryAfter string) {
	sec, err := strconv.Atoi(retryAfter)
	if err != nil || sec <= 0 {
		sec = defaultRetryAfterSec
	}
	f.mu.Lock()
	f.globalBackoffUntilMS = f.now() + int64(sec)*1000
	f.mu.Unlock()
	f.log.Warn().Int("retry_after_sec", sec).Msg("global rest backoff armed")
}

func (f *SnapshotFetcher) finishError(b *book.Book, err error) {
	symbol := b.Symbol()
	f.mu.Lock()
	st := f.stateFor(symbol)
	st.resyncing = false
	st.consecutiveErrors++
	st.backoffMS *= 2
	if st.backoffMS > f.cfg.BackoffMaxMS {
		st.backoffMS = f.cfg.BackoffMaxMS
	}
	errs := st.consecutiveErrors
	f.mu.Unlock()

	kind := "http_error"
	switch {
	case errors.Is(err, ErrRateLimited):
		kind = "rate_limit"
	case errors.Is(err, ErrRestTimeout):
		kind = "timeout"
	}
	if f.met != nil {
		f.met.SnapshotErrors.WithLabelValues(symbol, kind).Inc()
		f.met.SnapshotFetches.WithLabelValues(symbol, "error").Inc()
	}
	f.log.Error().Err(err).Str("symbol", symbol).Int("consecutive", errs).Msg("snapshot fetch failed")

	if errs >= staleAfterErrors {
		b.MarkStale()
	}
}

// GlobalBackoffUntilMS reports the shared backoff gate for health output.
func (f *SnapshotFetcher) GlobalBackoffUntilMS() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.globalBackoffUntilMS
}
