package feed

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/Rajchodisetti/orderflow-engine/internal/book"
	"github.com/Rajchodisetti/orderflow-engine/internal/metrics"
	"github.com/Rajchodisetti/orderflow-engine/internal/observ"
	"github.com/Rajchodisetti/orderflow-engine/internal/tape"
)

const fanoutDepth = 20

// Publisher pushes a fan-out payload to subscribed WebSocket clients.
type Publisher interface {
	Publish(symbol string, payload []byte)
}

// MetricsSink receives gated envelopes; the orchestrator implements it.
type MetricsSink interface {
	Ingest(env metrics.Envelope)
}

// FanoutMessage is the client-facing broadcast shape.
type FanoutMessage struct {
	Type         string                        `json:"type"`
	Symbol       string                        `json:"symbol"`
	EventTimeMS  int64                         `json:"event_time_ms"`
	State        string                        `json:"state"`
	TimeAndSales tape.Stats                    `json:"timeAndSales"`
	CVD          map[string]tape.FrameSnapshot `json:"cvd"`
	Absorption   tape.AbsorptionState          `json:"absorption"`
	Legacy       *metrics.Snapshot             `json:"legacyMetrics"`
	Bids         [][2]float64                  `json:"bids"`
	Asks         [][2]float64                  `json:"asks"`
	BestBid      float64                       `json:"bestBid"`
	BestAsk      float64                       `json:"bestAsk"`
	SpreadPct    float64                       `json:"spreadPct"`
	MidPrice     float64                       `json:"midPrice"`
	LastUpdateID int64                         `json:"lastUpdateId"`
}

// Broadcaster throttles per-symbol metric emission and fans the
// envelope out to WebSocket subscribers and the orchestrator. It runs
// on the ingestion goroutine, so a trade's metric update and broadcast
// complete before the next feed message is read.
type Broadcaster struct {
	throttleMS int64
	hub        Publisher
	sink       MetricsSink
	lastEmit   map[string]int64
	met        *observ.Metrics
	log        zerolog.Logger

	now func() int64
}

func NewBroadcaster(throttleMS int64, hub Publisher, sink MetricsSink, met *observ.Metrics, log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		throttleMS: throttleMS,
		hub:        hub,
		sink:       sink,
		lastEmit:   map[string]int64{},
		met:        met,
		log:        log.With().Str("comp", "broadcaster").Logger(),
		now:        func() int64 { return time.Now().UnixMilli() },
	}
}

// Broadcast emits the current metric snapshot for p unless the symbol
// emitted within the throttle window.
func (br *Broadcaster) Broadcast(p *Pipeline, reason string, eventTimeMS int64) {
	now := br.now()
	if last, ok := br.lastEmit[p.Symbol]; ok && now-last < br.throttleMS {
		return
	}
	br.lastEmit[p.Symbol] = now

	bids, asks := p.Book.TopLevels(fanoutDepth)
	tapeStats := p.Tape.Snapshot(eventTimeMS)
	legacy := p.Legacy.Snapshot(bids, asks)

	env := metrics.Envelope{
		Symbol:              p.Symbol,
		CanonicalTimeMS:     now,
		ExchangeEventTimeMS: eventTimeMS,
		PrintsPerSecond:     tapeStats.PrintsPerSecond,
		Legacy:              legacy,
	}
	var msg FanoutMessage
	if len(bids) > 0 && len(asks) > 0 {
		env.BestBid = bids[0].Price
		env.BestAsk = asks[0].Price
		mid := (env.BestBid + env.BestAsk) / 2
		if mid > 0 {
			env.SpreadPct = (env.BestAsk - env.BestBid) / mid
			msg.MidPrice = mid
		}
	}

	if br.met != nil {
		br.met.Broadcasts.WithLabelValues(p.Symbol, reason).Inc()
	}
	if br.sink != nil {
		br.sink.Ingest(env)
	}
	if br.hub == nil {
		return
	}

	msg.Type = "metrics"
	msg.Symbol = p.Symbol
	msg.EventTimeMS = eventTimeMS
	msg.State = p.Book.State().String()
	msg.TimeAndSales = tapeStats
	msg.CVD = p.CVD.Snapshot(eventTimeMS)
	msg.Absorption = p.Absorption.State(eventTimeMS)
	msg.Legacy = legacy
	msg.Bids = lo.Map(bids, func(l book.FloatLevel, _ int) [2]float64 { return [2]float64{l.Price, l.Size} })
	msg.Asks = lo.Map(asks, func(l book.FloatLevel, _ int) [2]float64 { return [2]float64{l.Price, l.Size} })
	msg.BestBid = env.BestBid
	msg.BestAsk = env.BestAsk
	msg.SpreadPct = env.SpreadPct
	msg.LastUpdateID = p.Book.LastUpdateID()

	payload, err := json.Marshal(msg)
	if err != nil {
		br.log.Error().Err(err).Str("symbol", p.Symbol).Msg("marshal fanout message")
		return
	}
	br.hub.Publish(p.Symbol, payload)
}
