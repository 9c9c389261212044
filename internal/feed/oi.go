package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// OIMark is the latest polled open-interest value for a symbol. The
// poller writes it; the ingestion goroutine takes it and folds it into
// the legacy metrics, keeping those single-writer.
type OIMark struct {
	mu     sync.Mutex
	value  float64
	timeMS int64
	fresh  bool
}

func (m *OIMark) set(value float64, timeMS int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = value
	m.timeMS = timeMS
	m.fresh = true
}

// Take returns the mark once per update.
func (m *OIMark) Take() (float64, int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.fresh {
		return 0, 0, false
	}
	m.fresh = false
	return m.value, m.timeMS, true
}

type wireOpenInterest struct {
	OpenInterest string `json:"openInterest"`
	Symbol       string `json:"symbol"`
	Time         int64  `json:"time"`
}

// OIPoller periodically fetches per-symbol open interest over REST;
// there is no stream for it on the futures feed.
type OIPoller struct {
	restURL  string
	client   *http.Client
	interval time.Duration
	ing      *Ingestor
	log      zerolog.Logger
}

func NewOIPoller(restURL string, interval time.Duration, ing *Ingestor, log zerolog.Logger) *OIPoller {
	return &OIPoller{
		restURL:  restURL,
		client:   &http.Client{Timeout: restTimeout},
		interval: interval,
		ing:      ing,
		log:      log.With().Str("comp", "oi_poller").Logger(),
	}
}

func (o *OIPoller) Run(ctx context.Context) {
	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for sym, p := range o.ing.Pipelines() {
				value, timeMS, err := o.fetch(ctx, sym)
				if err != nil {
					o.log.Warn().Err(err).Str("symbol", sym).Msg("open interest poll failed")
					continue
				}
				p.OI.set(value, timeMS)
			}
		}
	}
}

func (o *OIPoller) fetch(ctx context.Context, symbol string) (float64, int64, error) {
	url := fmt.Sprintf("%s/fapi/v1/openInterest?symbol=%s", o.restURL, symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, 0, err
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, 0, fmt.Errorf("open interest: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, 0, err
	}
	var w wireOpenInterest
	if err := json.Unmarshal(body, &w); err != nil {
		return 0, 0, err
	}
	value, err := strconv.ParseFloat(w.OpenInterest, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse open interest %q: %w", w.OpenInterest, err)
	}
	return value, w.Time, nil
}
