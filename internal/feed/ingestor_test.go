package feed

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/orderflow-engine/internal/book"
)

func newTestIngestor(sink MetricsSink) *Ingestor {
	br := NewBroadcaster(0, nil, sink, nil, zerolog.Nop())
	f := NewSnapshotFetcher(SnapshotConfig{
		RESTURL:       "http://127.0.0.1:1", // never reachable; error path only
		MinIntervalMS: 60_000,
		BackoffMinMS:  5_000,
		BackoffMaxMS:  120_000,
	}, nil, zerolog.Nop())
	in := NewIngestor(IngestorConfig{
		WSURL:            "wss://example.invalid/stream",
		TradeWindowMS:    60_000,
		MaxGapTolerance:  100,
		CVDTimeframesSec: []int64{60, 300, 900},
	}, f, br, nil, zerolog.Nop())
	in.SetSymbols([]string{"BTCUSDT"})
	return in
}

func seedPipeline(in *Ingestor) *Pipeline {
	p := in.Pipelines()["BTCUSDT"]
	p.Book.ApplySnapshot(book.Snapshot{
		LastUpdateID: 100,
		Bids:         []book.Level{{Price: decimal.NewFromInt(100), Size: decimal.NewFromInt(1)}},
		Asks:         []book.Level{{Price: decimal.NewFromInt(101), Size: decimal.NewFromInt(1)}},
	})
	return p
}

func TestDispatchDepthAppliesAndBroadcasts(t *testing.T) {
	sink := &captureSink{}
	in := newTestIngestor(sink)
	p := seedPipeline(in)

	in.dispatch([]byte(`{"stream":"btcusdt@depth@100ms","data":` +
		`{"e":"depthUpdate","E":1000,"s":"BTCUSDT","U":101,"u":101,"b":[["100","5"]],"a":[]}}`))

	require.EqualValues(t, 101, p.Book.LastUpdateID())
	require.Len(t, sink.envs, 1)
	require.Equal(t, 100.0, sink.envs[0].BestBid)
}

func TestDispatchTradeFeedsPipeline(t *testing.T) {
	sink := &captureSink{}
	in := newTestIngestor(sink)
	p := seedPipeline(in)

	in.dispatch([]byte(`{"stream":"btcusdt@aggTrade","data":` +
		`{"e":"aggTrade","E":2000,"s":"BTCUSDT","p":"100.5","q":"2","T":1995,"m":false}}`))

	require.Equal(t, 1, p.Tape.Snapshot(2_000).Count)
	require.Len(t, sink.envs, 1)
	require.Greater(t, sink.envs[0].PrintsPerSecond, 0.0)
}

func TestDispatchUnknownSymbolIgnored(t *testing.T) {
	sink := &captureSink{}
	in := newTestIngestor(sink)

	in.dispatch([]byte(`{"stream":"ethusdt@aggTrade","data":` +
		`{"e":"aggTrade","E":2000,"s":"ETHUSDT","p":"1","q":"1","T":1,"m":false}}`))
	require.Empty(t, sink.envs)
}

func TestSetSymbolsIsIdempotent(t *testing.T) {
	in := newTestIngestor(&captureSink{})
	before := in.Pipelines()["BTCUSDT"]
	in.SetSymbols([]string{"btcusdt"})
	require.Same(t, before, in.Pipelines()["BTCUSDT"], "same set must not rebuild pipelines")
}
