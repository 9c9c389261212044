package actor

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/Rajchodisetti/orderflow-engine/internal/decision"
	"github.com/Rajchodisetti/orderflow-engine/internal/exec"
	"github.com/Rajchodisetti/orderflow-engine/internal/gate"
	"github.com/Rajchodisetti/orderflow-engine/internal/metrics"
)

// OrderMeta is captured by the orchestrator when an order is sent and
// looked up here when its fills arrive, to derive latency and slippage.
type OrderMeta struct {
	SentAtMS      int64
	ExpectedPrice float64
	IsAdd         bool
}

// MetricsMsg pairs a gated envelope with its gate verdict.
type MetricsMsg struct {
	Env  metrics.Envelope
	Gate gate.Result
}

// Envelope is the actor queue unit: exactly one of Metrics or Exec set.
type Envelope struct {
	Metrics *MetricsMsg
	Exec    *exec.Event
}

// Callbacks wires the actor back to the orchestrator by value; the actor
// never hands out references to its live state.
type Callbacks struct {
	OnRecord        func(rec decision.Record)
	OnActions       func(symbol string, actions []decision.Action, env metrics.Envelope)
	LookupOrderMeta func(orderID string) (OrderMeta, bool)
}

// Actor owns one symbol's state and processes envelopes strictly in
// enqueue order, one at a time. Enqueue never blocks on processing; the
// drain goroutine does not pick up the next envelope until the current
// action list is fully dispatched.
type Actor struct {
	symbol string
	cfg    decision.Config
	price  decision.PriceFunc
	cb     Callbacks
	log    zerolog.Logger

	mu    sync.Mutex
	cond  *sync.Cond
	queue []Envelope
	busy  bool

	// Owned by the drain goroutine; read externally only when idle.
	state      *decision.SymbolState
	lastDeltaZ float64
	lastPPS    float64
}

func New(symbol string, cfg decision.Config, price decision.PriceFunc, cb Callbacks, log zerolog.Logger) *Actor {
	a := &Actor{
		symbol: symbol,
		cfg:    cfg,
		price:  price,
		cb:     cb,
		state:  decision.NewSymbolState(symbol),
		log:    log.With().Str("comp", "actor").Str("symbol", symbol).Logger(),
	}
	a.cond = sync.NewCond(&a.mu)
	return a
}

func (a *Actor) Symbol() string { return a.symbol }

// Enqueue appends and schedules a drain if none is running.
func (a *Actor) Enqueue(env Envelope) {
	a.mu.Lock()
	a.queue = append(a.queue, env)
	start := !a.busy
	if start {
		a.busy = true
	}
	a.mu.Unlock()
	if start {
		go a.drain()
	}
}

func (a *Actor) drain() {
	for {
		a.mu.Lock()
		if len(a.queue) == 0 {
			a.busy = false
			a.cond.Broadcast()
			a.mu.Unlock()
			return
		}
		env := a.queue[0]
		a.queue = a.queue[1:]
		a.mu.Unlock()
		a.process(env)
	}
}

// Flush blocks until the queue is empty and no envelope is in flight.
func (a *Actor) Flush() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for a.busy || len(a.queue) > 0 {
		a.cond.Wait()
	}
}

// QueueDepth reports pending envelopes.
func (a *Actor) QueueDepth() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue)
}

// Snapshot deep-copies the state. Callers must ensure the actor is idle
// (Flush) to get a consistent view.
func (a *Actor) Snapshot() *decision.SymbolState {
	return a.state.Clone()
}

func (a *Actor) process(env Envelope) {
	switch {
	case env.Metrics != nil:
		a.processMetrics(env.Metrics)
	case env.Exec != nil:
		a.processExec(env.Exec)
	}
}

func (a *Actor) processMetrics(msg *MetricsMsg) {
	if msg.Env.Legacy != nil {
		// Cached for the cooldown computed when a later exit fills.
		a.lastDeltaZ = msg.Env.Legacy.DeltaZ
		a.lastPPS = msg.Env.PrintsPerSecond
	}

	actions := decision.Evaluate(a.symbol, msg.Env.ExchangeEventTimeMS, msg.Gate, msg.Env, a.state, a.cfg, a.price)
	rec := decision.Record{
		Symbol:              a.symbol,
		CanonicalTimeMS:     msg.Env.CanonicalTimeMS,
		ExchangeEventTimeMS: msg.Env.ExchangeEventTimeMS,
		Gate:                msg.Gate,
		Actions:             actions,
		State:               a.state.Clone(),
	}
	if a.cb.OnRecord != nil {
		a.cb.OnRecord(rec)
	}
	for _, act := range actions {
		if act.Type != decision.Noop {
			if a.cb.OnActions != nil {
				a.cb.OnActions(a.symbol, actions, msg.Env)
			}
			break
		}
	}
}

func (a *Actor) processExec(ev *exec.Event) {
	switch ev.Type {
	case exec.SystemHalt:
		a.state.Halted = true
		a.log.Warn().Str("reason", ev.Reason).Msg("halted")
	case exec.SystemResume:
		a.state.Halted = false
		a.log.Info().Msg("resumed")
	case exec.OrderUpdate:
		a.applyOrderUpdate(ev)
	case exec.OpenOrdersSnapshot:
		a.applyOpenOrdersSnapshot(ev)
	case exec.TradeUpdate:
		a.applyTradeUpdate(ev)
	case exec.AccountUpdate:
		a.applyAccountUpdate(ev)
	}
}

var terminalOrderStatus = map[string]bool{
	"FILLED":   true,
	"CANCELED": true,
	"REJECTED": true,
	"EXPIRED":  true,
}

func (a *Actor) applyOrderUpdate(ev *exec.Event) {
	o := ev.Order
	if o == nil {
		return
	}
	if terminalOrderStatus[o.Status] {
		delete(a.state.OpenOrders, o.OrderID)
	} else {
		a.state.OpenOrders[o.OrderID] = decision.OpenOrder{
			OrderID:       o.OrderID,
			ClientOrderID: o.ClientOrderID,
			Side:          o.Side,
			ReduceOnly:    o.ReduceOnly,
			Status:        o.Status,
		}
	}
	a.state.RecomputeOpenEntry()
}

func (a *Actor) applyOpenOrdersSnapshot(ev *exec.Event) {
	next := make(map[string]decision.OpenOrder, len(ev.OpenOrders))
	for _, o := range ev.OpenOrders {
		next[o.OrderID] = decision.OpenOrder{
			OrderID:       o.OrderID,
			ClientOrderID: o.ClientOrderID,
			Side:          o.Side,
			ReduceOnly:    o.ReduceOnly,
			Status:        o.Status,
		}
	}
	a.state.OpenOrders = next
	a.state.RecomputeOpenEntry()
}

func (a *Actor) applyTradeUpdate(ev *exec.Event) {
	tr := ev.Trade
	if tr == nil || a.cb.LookupOrderMeta == nil {
		return
	}
	meta, ok := a.cb.LookupOrderMeta(tr.OrderID)
	if !ok {
		return
	}
	latency := ev.EventTimeMS - meta.SentAtMS
	if latency < 0 {
		latency = 0
	}
	var slippageBps float64
	if meta.ExpectedPrice > 0 {
		diff := tr.Price - meta.ExpectedPrice
		if diff < 0 {
			diff = -diff
		}
		slippageBps = diff / meta.ExpectedPrice * 10000
	}
	a.state.RecordExecSample(latency, slippageBps)
	if meta.IsAdd && a.state.Position != nil {
		if a.state.Position.AddsUsed < 2 {
			a.state.Position.AddsUsed++
		}
	}
}

func (a *Actor) applyAccountUpdate(ev *exec.Event) {
	acc := ev.Account
	if acc == nil {
		return
	}
	a.state.AvailableBalance = acc.AvailableBalance
	a.state.WalletBalance = acc.WalletBalance

	if acc.PositionAmt == 0 {
		if a.state.Position != nil {
			cooldown := decision.CooldownMS(a.lastDeltaZ, a.lastPPS, a.cfg)
			a.state.LastExitEventTimeMS = ev.EventTimeMS
			a.state.CooldownUntilMS = ev.EventTimeMS + cooldown
			a.state.Position = nil
			a.log.Info().Int64("cooldown_ms", cooldown).Msg("position closed")
		}
		return
	}

	side := decision.Long
	if acc.PositionAmt < 0 {
		side = decision.Short
	}
	qty := acc.PositionAmt
	if qty < 0 {
		qty = -qty
	}
	prev := a.state.Position
	pos := &decision.Position{
		Side:             side,
		Qty:              qty,
		EntryPrice:       acc.EntryPrice,
		UnrealizedPnLPct: acc.UnrealizedPnLPct,
	}
	if prev != nil && prev.Side == side {
		pos.AddsUsed = prev.AddsUsed
		pos.PeakPnLPct = prev.PeakPnLPct
	}
	if acc.UnrealizedPnLPct > pos.PeakPnLPct {
		pos.PeakPnLPct = acc.UnrealizedPnLPct
	}
	a.state.Position = pos
}
