package feed

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Rajchodisetti/orderflow-engine/internal/book"
	"github.com/Rajchodisetti/orderflow-engine/internal/metrics"
	"github.com/Rajchodisetti/orderflow-engine/internal/observ"
	"github.com/Rajchodisetti/orderflow-engine/internal/tape"
)

// Pipeline bundles the per-symbol market state owned by the ingestion
// goroutine. Only the Book and the OI mark are shared (each locks
// internally); everything else is touched exclusively on this goroutine.
type Pipeline struct {
	Symbol     string
	Book       *book.Book
	Tape       *tape.Tape
	CVD        *tape.CVD
	Legacy     *metrics.Legacy
	Absorption *tape.Absorption
	OI         *OIMark
}

// IngestorConfig carries the feed knobs from config.
type IngestorConfig struct {
	WSURL            string
	TradeWindowMS    int64
	MaxGapTolerance  int64
	CVDTimeframesSec []int64
	ReconnectDelay   time.Duration
}

// Ingestor maintains exactly one multiplexed stream subscription over
// the current union of required symbols, demuxes depth and trade
// messages, and drives the per-symbol pipelines. Reconnects use a fixed
// delay; REST rate limiting lives in SnapshotFetcher.
type Ingestor struct {
	cfg         IngestorConfig
	fetcher     *SnapshotFetcher
	broadcaster *Broadcaster
	info        *ExchangeInfo
	met         *observ.Metrics
	log         zerolog.Logger

	mu        sync.Mutex
	pipelines map[string]*Pipeline
	required  []string
	conn      *websocket.Conn
	connected bool
}

func NewIngestor(cfg IngestorConfig, fetcher *SnapshotFetcher, broadcaster *Broadcaster, met *observ.Metrics, log zerolog.Logger) *Ingestor {
	return &Ingestor{
		cfg:         cfg,
		fetcher:     fetcher,
		broadcaster: broadcaster,
		met:         met,
		log:         log.With().Str("comp", "ingestor").Logger(),
		pipelines:   map[string]*Pipeline{},
	}
}

// SetExchangeInfo attaches the tick-size cache; on each stream connect,
// every pipeline book gets its price keys rounded to the venue tick.
func (in *Ingestor) SetExchangeInfo(info *ExchangeInfo) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.info = info
}

// SetSymbols reconciles the required symbol set. A changed set tears
// down the current connection; the run loop redials with the new union.
func (in *Ingestor) SetSymbols(symbols []string) {
	next := make([]string, 0, len(symbols))
	for _, s := range symbols {
		next = append(next, strings.ToUpper(s))
	}
	sort.Strings(next)

	in.mu.Lock()
	same := len(next) == len(in.required)
	if same {
		for i := range next {
			if next[i] != in.required[i] {
				same = false
				break
			}
		}
	}
	if same {
		in.mu.Unlock()
		return
	}
	in.required = next
	for _, s := range next {
		if _, ok := in.pipelines[s]; !ok {
			in.pipelines[s] = in.newPipeline(s)
		}
	}
	conn := in.conn
	in.mu.Unlock()

	in.log.Info().Strs("symbols", next).Msg("subscription set changed")
	if conn != nil {
		// Forces the read loop to redial with the new stream union.
		_ = conn.Close()
	}
}

func (in *Ingestor) newPipeline(symbol string) *Pipeline {
	return &Pipeline{
		Symbol:     symbol,
		Book:       book.New(symbol, in.cfg.MaxGapTolerance, in.log),
		Tape:       tape.New(in.cfg.TradeWindowMS),
		CVD:        tape.NewCVD(in.cfg.CVDTimeframesSec),
		Legacy:     metrics.NewLegacy(),
		Absorption: tape.NewAbsorption(),
		OI:         &OIMark{},
	}
}

// Pipelines returns the current pipelines, for health output.
func (in *Ingestor) Pipelines() map[string]*Pipeline {
	in.mu.Lock()
	defer in.mu.Unlock()
	out := make(map[string]*Pipeline, len(in.pipelines))
	for k, v := range in.pipelines {
		out[k] = v
	}
	return out
}

// Connected reports whether a stream is currently up.
func (in *Ingestor) Connected() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.connected
}

// Run dials and reads until ctx ends, reconnecting after the fixed
// delay on any close.
func (in *Ingestor) Run(ctx context.Context) {
	for ctx.Err() == nil {
		url := in.streamURL()
		if url == "" {
			if !sleepCtx(ctx, in.cfg.ReconnectDelay) {
				return
			}
			continue
		}
		if err := in.connectAndRead(ctx, url); err != nil && ctx.Err() == nil {
			in.log.Warn().Err(err).Msg("stream closed, reconnecting")
			if in.met != nil {
				in.met.FeedReconnects.Inc()
			}
		}
		if !sleepCtx(ctx, in.cfg.ReconnectDelay) {
			return
		}
	}
}

func (in *Ingestor) streamURL() string {
	in.mu.Lock()
	defer in.mu.Unlock()
	if len(in.required) == 0 {
		return ""
	}
	streams := make([]string, 0, len(in.required)*2)
	for _, s := range in.required {
		ls := strings.ToLower(s)
		streams = append(streams, ls+"@depth@100ms", ls+"@aggTrade")
	}
	return in.cfg.WSURL + "?streams=" + strings.Join(streams, "/")
}

func (in *Ingestor) connectAndRead(ctx context.Context, url string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	in.mu.Lock()
	in.conn = conn
	in.connected = true
	in.mu.Unlock()
	defer func() {
		in.mu.Lock()
		in.conn = nil
		in.connected = false
		in.mu.Unlock()
		_ = conn.Close()
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	in.log.Info().Str("url", url).Msg("stream connected")
	in.applyTickSizes(ctx)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		in.dispatch(raw)
	}
}

func (in *Ingestor) applyTickSizes(ctx context.Context) {
	in.mu.Lock()
	info := in.info
	pipelines := make([]*Pipeline, 0, len(in.pipelines))
	for _, p := range in.pipelines {
		pipelines = append(pipelines, p)
	}
	in.mu.Unlock()
	if info == nil {
		return
	}
	for _, p := range pipelines {
		if tick, ok := info.TickSize(ctx, p.Symbol); ok {
			p.Book.SetTickSize(tick)
		}
	}
}

func (in *Ingestor) dispatch(raw []byte) {
	var msg combinedMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		in.log.Warn().Err(err).Msg("unparseable stream frame")
		return
	}
	switch {
	case strings.Contains(msg.Stream, "@depth"):
		in.handleDepth(msg.Data)
	case strings.Contains(msg.Stream, "@aggTrade"):
		in.handleTrade(msg.Data)
	}
}

func (in *Ingestor) pipelineFor(symbol string) *Pipeline {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.pipelines[symbol]
}

func (in *Ingestor) handleDepth(data json.RawMessage) {
	var wd wireDepth
	if err := json.Unmarshal(data, &wd); err != nil {
		in.log.Warn().Err(err).Msg("unparseable depth diff")
		return
	}
	p := in.pipelineFor(wd.Symbol)
	if p == nil {
		return
	}
	diff, err := wd.toDiff()
	if err != nil {
		in.log.Warn().Err(err).Str("symbol", wd.Symbol).Msg("bad depth levels")
		return
	}

	wasUnseeded := p.Book.State() == book.Unseeded
	droppedBefore := p.Book.Stats().Dropped
	res := p.Book.ApplyDiff(diff)
	in.recordBookMetrics(p, res, p.Book.Stats().Dropped > droppedBefore)

	switch res {
	case book.Desync:
		in.fetcher.Request(p.Book)
	case book.Buffered:
		if wasUnseeded {
			// First seed is requested from here.
			in.fetcher.Request(p.Book)
		}
	case book.Applied:
		in.broadcaster.Broadcast(p, "depth", diff.EventTimeMS)
	}
}

func (in *Ingestor) handleTrade(data json.RawMessage) {
	var wt wireAggTrade
	if err := json.Unmarshal(data, &wt); err != nil {
		in.log.Warn().Err(err).Msg("unparseable trade")
		return
	}
	p := in.pipelineFor(wt.Symbol)
	if p == nil {
		return
	}
	tr, err := wt.toTrade()
	if err != nil {
		in.log.Warn().Err(err).Str("symbol", wt.Symbol).Msg("bad trade fields")
		return
	}

	p.Tape.Add(tr)
	signed := tr.Quantity
	if tr.Side == tape.Sell {
		signed = -signed
	}
	p.CVD.Add(signed, tr.EventTimeMS)
	p.Legacy.AddTrade(tr)
	if oi, at, ok := p.OI.Take(); ok {
		p.Legacy.UpdateOpenInterest(oi, at)
	}
	if mid, ok := p.Book.MidPrice(); ok {
		p.Absorption.Update(tr, mid)
	}
	in.broadcaster.Broadcast(p, "trade", tr.EventTimeMS)
}

func (in *Ingestor) recordBookMetrics(p *Pipeline, res book.ApplyResult, dropped bool) {
	if in.met == nil {
		return
	}
	switch res {
	case book.Applied:
		if dropped {
			in.met.DiffsDropped.WithLabelValues(p.Symbol).Inc()
		} else {
			in.met.DiffsApplied.WithLabelValues(p.Symbol).Inc()
		}
	case book.Buffered:
		in.met.DiffsBuffered.WithLabelValues(p.Symbol).Inc()
	case book.Desync:
		in.met.Desyncs.WithLabelValues(p.Symbol).Inc()
	}
	in.met.BookState.WithLabelValues(p.Symbol).Set(float64(p.Book.State()))
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
