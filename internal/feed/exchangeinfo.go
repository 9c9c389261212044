package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const exchangeInfoTTL = time.Hour

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType string `json:"filterType"`
			TickSize   string `json:"tickSize"`
		} `json:"filters"`
	} `json:"symbols"`
}

// ExchangeInfo is the process-wide tick-size cache. The only write path
// is its own fetcher, triggered on miss or TTL expiry.
type ExchangeInfo struct {
	restURL string
	client  *http.Client
	log     zerolog.Logger

	mu        sync.Mutex
	fetchedAt time.Time
	ticks     map[string]decimal.Decimal
}

func NewExchangeInfo(restURL string, log zerolog.Logger) *ExchangeInfo {
	return &ExchangeInfo{
		restURL: restURL,
		client:  &http.Client{Timeout: restTimeout},
		log:     log.With().Str("comp", "exchange_info").Logger(),
		ticks:   map[string]decimal.Decimal{},
	}
}

// TickSize returns the symbol's price tick, fetching the exchange info
// when the cache is cold or expired.
func (e *ExchangeInfo) TickSize(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if time.Since(e.fetchedAt) > exchangeInfoTTL || len(e.ticks) == 0 {
		if err := e.refreshLocked(ctx); err != nil {
			e.log.Warn().Err(err).Msg("exchange info refresh failed")
		}
	}
	t, ok := e.ticks[symbol]
	return t, ok
}

func (e *ExchangeInfo) refreshLocked(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.restURL+"/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("exchange info: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var parsed exchangeInfoResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return err
	}
	next := make(map[string]decimal.Decimal, len(parsed.Symbols))
	for _, s := range parsed.Symbols {
		for _, f := range s.Filters {
			if f.FilterType != "PRICE_FILTER" {
				continue
			}
			tick, err := decimal.NewFromString(f.TickSize)
			if err == nil && tick.IsPositive() {
				next[s.Symbol] = tick
			}
		}
	}
	e.ticks = next
	e.fetchedAt = time.Now()
	return nil
}
