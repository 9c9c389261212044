package actor

import (
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/orderflow-engine/internal/decision"
	"github.com/Rajchodisetti/orderflow-engine/internal/exec"
	"github.com/Rajchodisetti/orderflow-engine/internal/gate"
	"github.com/Rajchodisetti/orderflow-engine/internal/metrics"
)

type recorder struct {
	mu      sync.Mutex
	records []decision.Record
	actions [][]decision.Action
	meta    map[string]OrderMeta
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnRecord: func(rec decision.Record) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.records = append(r.records, rec)
		},
		OnActions: func(symbol string, actions []decision.Action, env metrics.Envelope) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.actions = append(r.actions, actions)
		},
		LookupOrderMeta: func(orderID string) (OrderMeta, bool) {
			r.mu.Lock()
			defer r.mu.Unlock()
			m, ok := r.meta[orderID]
			return m, ok
		},
	}
}

func testCfg() decision.Config {
	return decision.Config{InitialMarginUSDT: 50, MaxLeverage: 5, CooldownMinMS: 2_000, CooldownMaxMS: 60_000}
}

func newTestActor(r *recorder) *Actor {
	price := func(string, decision.OrderSide, string) (float64, bool) { return 100, true }
	return New("BTCUSDT", testCfg(), price, r.callbacks(), zerolog.Nop())
}

func metricsEnvelope(canonical int64, deltaZ float64) Envelope {
	return Envelope{Metrics: &MetricsMsg{
		Env: metrics.Envelope{
			Symbol:              "BTCUSDT",
			CanonicalTimeMS:     canonical,
			ExchangeEventTimeMS: canonical - 10,
			PrintsPerSecond:     4,
			Legacy:              &metrics.Snapshot{DeltaZ: deltaZ, CVDSlope: 0.2, OBIDeep: 0.3},
		},
		Gate: gate.Result{Mode: gate.V1NoLatency, Passed: true},
	}}
}

func execEnvelope(ev exec.Event) Envelope {
	return Envelope{Exec: &ev}
}

func TestMetricsProduceOrderedRecords(t *testing.T) {
	r := &recorder{meta: map[string]OrderMeta{}}
	a := newTestActor(r)
	for i := int64(1); i <= 50; i++ {
		a.Enqueue(metricsEnvelope(i*100, 0)) // deltaZ 0 -> NOOP only
	}
	a.Flush()

	r.mu.Lock()
	defer r.mu.Unlock()
	require.Len(t, r.records, 50)
	for i := 1; i < len(r.records); i++ {
		require.Greater(t, r.records[i].CanonicalTimeMS, r.records[i-1].CanonicalTimeMS,
			"records must stay in enqueue order")
	}
	require.Empty(t, r.actions, "NOOP-only evaluations never dispatch")
}

func TestNonNoopDispatchesActions(t *testing.T) {
	r := &recorder{meta: map[string]OrderMeta{}}
	a := newTestActor(r)
	a.Enqueue(metricsEnvelope(100, 2.0))
	a.Flush()

	r.mu.Lock()
	defer r.mu.Unlock()
	require.Len(t, r.actions, 1)
	require.Equal(t, decision.EntryProbe, r.actions[0][0].Type)
}

func TestHaltResume(t *testing.T) {
	r := &recorder{meta: map[string]OrderMeta{}}
	a := newTestActor(r)
	a.Enqueue(execEnvelope(exec.Event{Type: exec.SystemHalt, Symbol: "BTCUSDT", EventTimeMS: 1}))
	a.Flush()
	require.True(t, a.Snapshot().Halted)

	a.Enqueue(execEnvelope(exec.Event{Type: exec.SystemResume, Symbol: "BTCUSDT", EventTimeMS: 2}))
	a.Flush()
	require.False(t, a.Snapshot().Halted)
}

func TestOrderUpdateLifecycle(t *testing.T) {
	r := &recorder{meta: map[string]OrderMeta{}}
	a := newTestActor(r)

	a.Enqueue(execEnvelope(exec.Event{
		Type: exec.OrderUpdate, Symbol: "BTCUSDT", EventTimeMS: 1,
		Order: &exec.OrderPayload{OrderID: "o1", Status: "NEW", Side: decision.SideBuy},
	}))
	a.Flush()
	st := a.Snapshot()
	require.Len(t, st.OpenOrders, 1)
	require.True(t, st.HasOpenEntryOrder)

	a.Enqueue(execEnvelope(exec.Event{
		Type: exec.OrderUpdate, Symbol: "BTCUSDT", EventTimeMS: 2,
		Order: &exec.OrderPayload{OrderID: "o1", Status: "FILLED", Side: decision.SideBuy},
	}))
	a.Flush()
	st = a.Snapshot()
	require.Empty(t, st.OpenOrders)
	require.False(t, st.HasOpenEntryOrder)
}

func TestOpenOrdersSnapshotReplaces(t *testing.T) {
	r := &recorder{meta: map[string]OrderMeta{}}
	a := newTestActor(r)
	a.Enqueue(execEnvelope(exec.Event{
		Type: exec.OrderUpdate, Symbol: "BTCUSDT", EventTimeMS: 1,
		Order: &exec.OrderPayload{OrderID: "stale", Status: "NEW"},
	}))
	a.Enqueue(execEnvelope(exec.Event{
		Type: exec.OpenOrdersSnapshot, Symbol: "BTCUSDT", EventTimeMS: 2,
		OpenOrders: []exec.OrderPayload{{OrderID: "fresh", Status: "NEW", ReduceOnly: true}},
	}))
	a.Flush()
	st := a.Snapshot()
	require.Len(t, st.OpenOrders, 1)
	require.Contains(t, st.OpenOrders, "fresh")
	require.False(t, st.HasOpenEntryOrder, "only reduce-only orders remain")
}

func TestTradeUpdateDerivesExecQuality(t *testing.T) {
	r := &recorder{meta: map[string]OrderMeta{
		"o1": {SentAtMS: 1_000, ExpectedPrice: 100},
	}}
	a := newTestActor(r)
	a.Enqueue(execEnvelope(exec.Event{
		Type: exec.TradeUpdate, Symbol: "BTCUSDT", EventTimeMS: 4_500,
		Trade: &exec.TradePayload{OrderID: "o1", Price: 100.5, Quantity: 1},
	}))
	a.Flush()

	st := a.Snapshot()
	require.Equal(t, []int64{3_500}, st.ExecQuality.RecentLatencyMS)
	require.InDelta(t, 50, st.ExecQuality.RecentSlippageBps[0], 1e-9)
	require.True(t, st.ExecQuality.Poor, "3.5s avg latency and 50bps slippage is poor")
}

func TestTradeUpdateUnknownOrderIgnored(t *testing.T) {
	r := &recorder{meta: map[string]OrderMeta{}}
	a := newTestActor(r)
	a.Enqueue(execEnvelope(exec.Event{
		Type: exec.TradeUpdate, Symbol: "BTCUSDT", EventTimeMS: 10,
		Trade: &exec.TradePayload{OrderID: "mystery", Price: 100, Quantity: 1},
	}))
	a.Flush()
	require.Empty(t, a.Snapshot().ExecQuality.RecentLatencyMS)
}

func TestAddMetaIncrementsAddsUsed(t *testing.T) {
	r := &recorder{meta: map[string]OrderMeta{
		"add1": {SentAtMS: 0, ExpectedPrice: 100, IsAdd: true},
	}}
	a := newTestActor(r)
	a.Enqueue(execEnvelope(exec.Event{
		Type: exec.AccountUpdate, Symbol: "BTCUSDT", EventTimeMS: 1,
		Account: &exec.AccountPayload{PositionAmt: 1, EntryPrice: 100},
	}))
	a.Enqueue(execEnvelope(exec.Event{
		Type: exec.TradeUpdate, Symbol: "BTCUSDT", EventTimeMS: 2,
		Trade: &exec.TradePayload{OrderID: "add1", Price: 100, Quantity: 1},
	}))
	a.Flush()
	require.Equal(t, 1, a.Snapshot().Position.AddsUsed)
}

func TestAccountUpdatePositionLifecycle(t *testing.T) {
	r := &recorder{meta: map[string]OrderMeta{}}
	a := newTestActor(r)

	// Cache tape context for the later cooldown computation.
	a.Enqueue(metricsEnvelope(100, 10))

	a.Enqueue(execEnvelope(exec.Event{
		Type: exec.AccountUpdate, Symbol: "BTCUSDT", EventTimeMS: 1_000,
		Account: &exec.AccountPayload{PositionAmt: -2, EntryPrice: 100, UnrealizedPnLPct: 0.1, AvailableBalance: 500},
	}))
	a.Flush()
	st := a.Snapshot()
	require.NotNil(t, st.Position)
	require.Equal(t, decision.Short, st.Position.Side)
	require.Equal(t, 2.0, st.Position.Qty)
	require.Equal(t, 0.1, st.Position.PeakPnLPct)
	require.Equal(t, 500.0, st.AvailableBalance)

	// Peak ratchets up, never down.
	a.Enqueue(execEnvelope(exec.Event{
		Type: exec.AccountUpdate, Symbol: "BTCUSDT", EventTimeMS: 2_000,
		Account: &exec.AccountPayload{PositionAmt: -2, EntryPrice: 100, UnrealizedPnLPct: 0.05},
	}))
	a.Flush()
	require.Equal(t, 0.1, a.Snapshot().Position.PeakPnLPct)

	// Flat account closes the position and arms the cooldown:
	// 200*(|10| + 4/10) = 2080ms.
	a.Enqueue(execEnvelope(exec.Event{
		Type: exec.AccountUpdate, Symbol: "BTCUSDT", EventTimeMS: 3_000,
		Account: &exec.AccountPayload{PositionAmt: 0},
	}))
	a.Flush()
	st = a.Snapshot()
	require.Nil(t, st.Position)
	require.EqualValues(t, 3_000, st.LastExitEventTimeMS)
	require.EqualValues(t, 3_000+2_080, st.CooldownUntilMS)
}

func TestFlushWaitsForQueue(t *testing.T) {
	r := &recorder{meta: map[string]OrderMeta{}}
	a := newTestActor(r)
	for i := int64(0); i < 200; i++ {
		a.Enqueue(metricsEnvelope(i+1, 0))
	}
	a.Flush()
	require.Zero(t, a.QueueDepth())
}
