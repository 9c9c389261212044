package feed

import (
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/orderflow-engine/internal/book"
	"github.com/Rajchodisetti/orderflow-engine/internal/metrics"
	"github.com/Rajchodisetti/orderflow-engine/internal/tape"
)

type captureSink struct {
	envs []metrics.Envelope
}

func (c *captureSink) Ingest(env metrics.Envelope) { c.envs = append(c.envs, env) }

type captureHub struct {
	payloads [][]byte
}

func (c *captureHub) Publish(symbol string, payload []byte) {
	c.payloads = append(c.payloads, payload)
}

func testPipeline() *Pipeline {
	b := book.New("BTCUSDT", 100, zerolog.Nop())
	b.ApplySnapshot(book.Snapshot{
		LastUpdateID: 100,
		Bids: []book.Level{{Price: decimal.NewFromInt(100), Size: decimal.NewFromInt(3)}},
		Asks: []book.Level{{Price: decimal.NewFromInt(101), Size: decimal.NewFromInt(2)}},
	})
	return &Pipeline{
		Symbol:     "BTCUSDT",
		Book:       b,
		Tape:       tape.New(60_000),
		CVD:        tape.NewCVD([]int64{60, 300, 900}),
		Legacy:     metrics.NewLegacy(),
		Absorption: tape.NewAbsorption(),
	}
}

func newTestBroadcaster(sink MetricsSink, hub Publisher) (*Broadcaster, *int64) {
	br := NewBroadcaster(250, hub, sink, nil, zerolog.Nop())
	now := int64(1_000)
	br.now = func() int64 { return now }
	return br, &now
}

func TestThrottlePerSymbol(t *testing.T) {
	sink := &captureSink{}
	br, now := newTestBroadcaster(sink, nil)
	p := testPipeline()

	br.Broadcast(p, "depth", 990)
	*now += 100
	br.Broadcast(p, "depth", 991)
	require.Len(t, sink.envs, 1, "second emission inside 250ms suppressed")

	*now += 200
	br.Broadcast(p, "trade", 992)
	require.Len(t, sink.envs, 2)
}

func TestEnvelopeContents(t *testing.T) {
	sink := &captureSink{}
	br, _ := newTestBroadcaster(sink, nil)
	p := testPipeline()
	p.Tape.Add(tape.Trade{Price: 100.5, Quantity: 1, Side: tape.Buy, EventTimeMS: 980})
	p.Legacy.AddTrade(tape.Trade{Price: 100.5, Quantity: 1, Side: tape.Buy, EventTimeMS: 980})

	br.Broadcast(p, "trade", 990)
	require.Len(t, sink.envs, 1)
	env := sink.envs[0]
	require.Equal(t, "BTCUSDT", env.Symbol)
	require.EqualValues(t, 1_000, env.CanonicalTimeMS)
	require.EqualValues(t, 990, env.ExchangeEventTimeMS)
	require.Equal(t, 100.0, env.BestBid)
	require.Equal(t, 101.0, env.BestAsk)
	require.InDelta(t, 1.0/100.5, env.SpreadPct, 1e-9)
	require.NotNil(t, env.Legacy)
	require.Greater(t, env.PrintsPerSecond, 0.0)
}

func TestEmptyBookYieldsNilLegacy(t *testing.T) {
	sink := &captureSink{}
	br, _ := newTestBroadcaster(sink, nil)
	p := testPipeline()
	p.Book = book.New("BTCUSDT", 100, zerolog.Nop()) // unseeded, empty

	br.Broadcast(p, "trade", 990)
	require.Len(t, sink.envs, 1)
	require.Nil(t, sink.envs[0].Legacy)
}

func TestFanoutPayloadShape(t *testing.T) {
	hub := &captureHub{}
	br, _ := newTestBroadcaster(&captureSink{}, hub)
	p := testPipeline()

	br.Broadcast(p, "depth", 990)
	require.Len(t, hub.payloads, 1)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(hub.payloads[0], &msg))
	require.Equal(t, "metrics", msg["type"])
	require.Equal(t, "BTCUSDT", msg["symbol"])
	require.Equal(t, "LIVE", msg["state"])
	require.Contains(t, msg, "timeAndSales")
	require.Contains(t, msg, "cvd")
	require.Contains(t, msg, "absorption")
	require.Contains(t, msg, "bids")
	require.Contains(t, msg, "asks")
	require.EqualValues(t, 100, msg["lastUpdateId"])
	cvd, ok := msg["cvd"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, cvd, "tf1m")
	require.Contains(t, cvd, "tf5m")
	require.Contains(t, cvd, "tf15m")
}
