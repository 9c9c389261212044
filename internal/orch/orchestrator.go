package orch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Rajchodisetti/orderflow-engine/internal/actor"
	"github.com/Rajchodisetti/orderflow-engine/internal/decision"
	"github.com/Rajchodisetti/orderflow-engine/internal/exec"
	"github.com/Rajchodisetti/orderflow-engine/internal/gate"
	"github.com/Rajchodisetti/orderflow-engine/internal/metrics"
	"github.com/Rajchodisetti/orderflow-engine/internal/observ"
)

const connectorCallTimeout = 10 * time.Second

// MetricsLine is the metrics-stream JSONL shape; ReplayRunner reads it
// back verbatim.
type MetricsLine struct {
	CanonicalTimeMS     int64             `json:"canonical_time_ms"`
	ExchangeEventTimeMS int64             `json:"exchange_event_time_ms"`
	Symbol              string            `json:"symbol"`
	Gate                *gate.Result      `json:"gate"`
	Metrics             *metrics.Envelope `json:"metrics"`
}

// ExecutionLine wraps a raw connector event plus a small state
// projection.
type ExecutionLine struct {
	EventTimeMS int64       `json:"event_time_ms"`
	Symbol      string      `json:"symbol"`
	Event       *exec.Event `json:"event"`
	RealizedPnL float64     `json:"realized_pnl"`
}

type Config struct {
	Gate             gate.Config
	Decision         decision.Config
	ExecutionEnabled bool
}

// Orchestrator owns the per-symbol actors, wires the connector to them,
// serializes order submission, and maintains the decision ledger.
type Orchestrator struct {
	cfg       Config
	connector exec.Connector
	logger    *Logger
	met       *observ.Metrics
	log       zerolog.Logger

	mu          sync.Mutex
	actors      map[string]*actor.Actor
	execSymbols map[string]struct{}
	orderMeta   map[string]actor.OrderMeta
	ledger      []decision.Record
	realizedPnL map[string]float64
	touch       map[string]touchPrices
	connected   bool

	// onSymbolsChanged lets the feed layer reconcile subscriptions when
	// the execution symbol set changes.
	onSymbolsChanged func(symbols []string)
}

func New(cfg Config, connector exec.Connector, logger *Logger, met *observ.Metrics, log zerolog.Logger) *Orchestrator {
	o := &Orchestrator{
		cfg:         cfg,
		connector:   connector,
		logger:      logger,
		met:         met,
		log:         log.With().Str("comp", "orchestrator").Logger(),
		actors:      map[string]*actor.Actor{},
		execSymbols: map[string]struct{}{},
		orderMeta:   map[string]actor.OrderMeta{},
		realizedPnL: map[string]float64{},
		touch:       map[string]touchPrices{},
		connected:   true,
	}
	if logger != nil {
		logger.SetDropSpikeHandler(func(n int64) {
			o.HaltAll(fmt.Sprintf("logger_drop_spike:%d", n))
		})
	}
	return o
}

// SetSymbolsChangedHook registers the subscription-reconcile callback.
func (o *Orchestrator) SetSymbolsChangedHook(fn func(symbols []string)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.onSymbolsChanged = fn
}

// touchPrices is the last seen top of book per symbol, kept as the
// expected-price fallback when no venue ticker is reachable (replay).
type touchPrices struct {
	bid float64
	ask float64
}

// Run consumes connector events until the stream closes or ctx ends.
func (o *Orchestrator) Run(ctx context.Context) {
	if o.connector == nil {
		return
	}
	events := o.connector.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			o.OnExecutionEvent(ev)
		}
	}
}

// Ingest gates a fresh envelope, logs the metrics line, and hands it to
// the symbol's actor. Envelopes for symbols outside a non-empty
// execution set are dropped.
func (o *Orchestrator) Ingest(env metrics.Envelope) {
	if !o.tracksSymbol(env.Symbol) {
		return
	}
	o.recordTouch(env)
	g := gate.Evaluate(env, o.cfg.Gate)
	if !g.Passed && o.met != nil {
		o.met.GateRejects.WithLabelValues(env.Symbol, g.Reason).Inc()
	}
	if o.logger != nil {
		o.logger.Enqueue(KindMetrics, env.ExchangeEventTimeMS, MetricsLine{
			CanonicalTimeMS:     env.CanonicalTimeMS,
			ExchangeEventTimeMS: env.ExchangeEventTimeMS,
			Symbol:              env.Symbol,
			Gate:                &g,
			Metrics:             &env,
		})
	}
	o.actorFor(env.Symbol).Enqueue(actor.Envelope{Metrics: &actor.MetricsMsg{Env: env, Gate: g}})
}

// IngestLoggedMetrics replays an already-gated envelope without
// re-logging or re-gating.
func (o *Orchestrator) IngestLoggedMetrics(env metrics.Envelope, g gate.Result) {
	if !o.tracksSymbol(env.Symbol) {
		return
	}
	o.recordTouch(env)
	o.actorFor(env.Symbol).Enqueue(actor.Envelope{Metrics: &actor.MetricsMsg{Env: env, Gate: g}})
}

func (o *Orchestrator) recordTouch(env metrics.Envelope) {
	if env.BestBid <= 0 || env.BestAsk <= 0 {
		return
	}
	o.mu.Lock()
	o.touch[env.Symbol] = touchPrices{bid: env.BestBid, ask: env.BestAsk}
	o.mu.Unlock()
}

// OnExecutionEvent tallies realized pnl, logs the execution line, and
// routes the event to the owning actor (or all actors for unaddressed
// halts/resumes).
func (o *Orchestrator) OnExecutionEvent(ev exec.Event) {
	var realized float64
	if ev.Type == exec.TradeUpdate && ev.Trade != nil {
		o.mu.Lock()
		o.realizedPnL[ev.Symbol] += ev.Trade.RealizedPnL
		realized = o.realizedPnL[ev.Symbol]
		o.mu.Unlock()
	}
	if o.logger != nil {
		o.logger.Enqueue(KindExecution, ev.EventTimeMS, ExecutionLine{
			EventTimeMS: ev.EventTimeMS,
			Symbol:      ev.Symbol,
			Event:       &ev,
			RealizedPnL: realized,
		})
	}
	o.route(ev)
}

// IngestExecutionReplay routes a logged execution event without
// re-logging it.
func (o *Orchestrator) IngestExecutionReplay(ev exec.Event) {
	if ev.Type == exec.TradeUpdate && ev.Trade != nil {
		o.mu.Lock()
		o.realizedPnL[ev.Symbol] += ev.Trade.RealizedPnL
		o.mu.Unlock()
	}
	o.route(ev)
}

func (o *Orchestrator) route(ev exec.Event) {
	if ev.Symbol == "" && (ev.Type == exec.SystemHalt || ev.Type == exec.SystemResume) {
		for _, a := range o.actorList() {
			evCopy := ev
			a.Enqueue(actor.Envelope{Exec: &evCopy})
		}
		return
	}
	if !o.tracksSymbol(ev.Symbol) {
		return
	}
	o.actorFor(ev.Symbol).Enqueue(actor.Envelope{Exec: &ev})
}

// HaltAll enqueues SYSTEM_HALT with the given reason to every live
// actor. Resume requires an explicit SYSTEM_RESUME from the connector
// path.
func (o *Orchestrator) HaltAll(reason string) {
	now := time.Now().UnixMilli()
	for _, a := range o.actorList() {
		ev := exec.Event{Type: exec.SystemHalt, Symbol: a.Symbol(), EventTimeMS: now, Reason: reason}
		a.Enqueue(actor.Envelope{Exec: &ev})
	}
}

// SetConnected flips execution gating on connector stream state.
func (o *Orchestrator) SetConnected(connected bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.connected = connected
}

func (o *Orchestrator) tracksSymbol(symbol string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.execSymbols) == 0 {
		return true
	}
	_, ok := o.execSymbols[symbol]
	return ok
}

func (o *Orchestrator) actorList() []*actor.Actor {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*actor.Actor, 0, len(o.actors))
	for _, a := range o.actors {
		out = append(out, a)
	}
	return out
}

func (o *Orchestrator) actorFor(symbol string) *actor.Actor {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.actorForLocked(symbol)
}

func (o *Orchestrator) actorForLocked(symbol string) *actor.Actor {
	if a, ok := o.actors[symbol]; ok {
		return a
	}
	a := actor.New(symbol, o.cfg.Decision, o.expectedPrice, actor.Callbacks{
		OnRecord:        o.onRecord,
		OnActions:       o.executeActions,
		LookupOrderMeta: o.lookupOrderMeta,
	}, o.log)
	o.actors[symbol] = a
	return a
}

// expectedPrice asks the venue ticker, falling back to the last seen
// envelope touch. The fallback keeps replay deterministic with no venue
// attached.
func (o *Orchestrator) expectedPrice(symbol string, side decision.OrderSide, orderType string) (float64, bool) {
	if o.connector != nil {
		if p, ok := o.connector.ExpectedPrice(symbol, side, orderType); ok {
			return p, true
		}
	}
	o.mu.Lock()
	t, ok := o.touch[symbol]
	o.mu.Unlock()
	if !ok {
		return 0, false
	}
	if side == decision.SideBuy {
		return t.ask, t.ask > 0
	}
	return t.bid, t.bid > 0
}

func (o *Orchestrator) lookupOrderMeta(orderID string) (actor.OrderMeta, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	m, ok := o.orderMeta[orderID]
	return m, ok
}

func (o *Orchestrator) onRecord(rec decision.Record) {
	o.mu.Lock()
	o.ledger = append(o.ledger, rec)
	o.mu.Unlock()
	if o.met != nil {
		for _, act := range rec.Actions {
			o.met.DecisionActions.WithLabelValues(rec.Symbol, string(act.Type)).Inc()
		}
	}
	if o.logger != nil {
		o.logger.Enqueue(KindDecision, rec.CanonicalTimeMS, rec)
	}
}

// executeActions turns decision actions into connector calls, in order.
// A failed call is logged and never retried; the next decision
// reconsiders state.
func (o *Orchestrator) executeActions(symbol string, actions []decision.Action, env metrics.Envelope) {
	o.mu.Lock()
	enabled := o.cfg.ExecutionEnabled && o.connected && o.connector != nil
	o.mu.Unlock()
	if !enabled {
		return
	}
	for _, act := range actions {
		switch act.Type {
		case decision.Noop:
			continue
		case decision.CancelOpenEntryOrders:
			o.cancelEntryOrders(symbol)
		case decision.ExitMarket, decision.EntryProbe, decision.AddPosition:
			o.placeMarketOrder(act)
		}
	}
}

func (o *Orchestrator) cancelEntryOrders(symbol string) {
	// The actor is blocked in this callback, so its open-order view is
	// stable here.
	a := o.actorFor(symbol)
	ctx, cancel := context.WithTimeout(context.Background(), connectorCallTimeout)
	defer cancel()
	for _, ord := range a.Snapshot().OpenOrders {
		if ord.ReduceOnly {
			continue
		}
		if err := o.connector.CancelOrder(ctx, symbol, ord.OrderID, ord.ClientOrderID); err != nil {
			o.log.Error().Err(err).Str("symbol", symbol).Str("order_id", ord.OrderID).Msg("cancel entry order")
			if o.met != nil {
				o.met.ConnectorErrors.WithLabelValues(symbol, "cancel_order").Inc()
			}
		}
	}
}

func (o *Orchestrator) placeMarketOrder(act decision.Action) {
	req := exec.OrderRequest{
		Symbol:        act.Symbol,
		Side:          act.Side,
		Type:          "MARKET",
		Quantity:      act.Quantity,
		ReduceOnly:    act.ReduceOnly,
		ClientOrderID: uuid.NewString(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), connectorCallTimeout)
	defer cancel()
	sentAt := time.Now().UnixMilli()
	ack, err := o.connector.PlaceOrder(ctx, req)
	if err != nil {
		o.log.Error().Err(err).Str("symbol", act.Symbol).Str("type", string(act.Type)).Msg("place order")
		if o.met != nil {
			o.met.ConnectorErrors.WithLabelValues(act.Symbol, "place_order").Inc()
		}
		return
	}
	o.mu.Lock()
	o.orderMeta[ack.OrderID] = actor.OrderMeta{
		SentAtMS:      sentAt,
		ExpectedPrice: act.ExpectedPrice,
		IsAdd:         act.Type == decision.AddPosition,
	}
	o.mu.Unlock()
	if o.met != nil {
		o.met.OrdersPlaced.WithLabelValues(act.Symbol, string(act.Side)).Inc()
	}
	o.log.Info().
		Str("symbol", act.Symbol).
		Str("type", string(act.Type)).
		Str("side", string(act.Side)).
		Float64("qty", act.Quantity).
		Str("order_id", ack.OrderID).
		Msg("order placed")
}

// SetExecutionSymbols reconciles the tracked set: dropped symbols get
// their open orders canceled and their actor and pnl tally discarded;
// new symbols get an actor up front. The connector then refreshes
// subscriptions and re-syncs state.
func (o *Orchestrator) SetExecutionSymbols(ctx context.Context, symbols []string) error {
	next := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		next[s] = struct{}{}
	}

	o.mu.Lock()
	var dropped []string
	for s := range o.execSymbols {
		if _, keep := next[s]; !keep {
			dropped = append(dropped, s)
		}
	}
	o.execSymbols = next
	for _, s := range dropped {
		delete(o.actors, s)
		delete(o.realizedPnL, s)
	}
	for s := range next {
		o.actorForLocked(s)
	}
	hook := o.onSymbolsChanged
	o.mu.Unlock()

	if o.connector != nil {
		for _, s := range dropped {
			if err := o.connector.CancelAllOpenOrders(ctx, s); err != nil {
				o.log.Error().Err(err).Str("symbol", s).Msg("cancel orders for dropped symbol")
			}
		}
	}
	if hook != nil {
		hook(symbols)
	}
	if o.connector != nil {
		if err := o.connector.SyncState(ctx); err != nil {
			return fmt.Errorf("sync state: %w", err)
		}
	}
	return nil
}

// FlushAll waits for every actor to go idle.
func (o *Orchestrator) FlushAll() {
	for _, a := range o.actorList() {
		a.Flush()
	}
}

// Ledger returns a copy of the decision ledger.
func (o *Orchestrator) Ledger() []decision.Record {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]decision.Record(nil), o.ledger...)
}

// RealizedPnL returns the per-symbol realized pnl tallies.
func (o *Orchestrator) RealizedPnL() map[string]float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]float64, len(o.realizedPnL))
	for k, v := range o.realizedPnL {
		out[k] = v
	}
	return out
}

// StateSnapshots deep-copies each actor's state, keyed by symbol. Call
// after FlushAll for a consistent view.
func (o *Orchestrator) StateSnapshots() map[string]*decision.SymbolState {
	out := map[string]*decision.SymbolState{}
	for _, a := range o.actorList() {
		out[a.Symbol()] = a.Snapshot()
	}
	return out
}

// ResetForReplay clears actors, order metadata, pnl tallies and the
// ledger.
func (o *Orchestrator) ResetForReplay() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.actors = map[string]*actor.Actor{}
	o.orderMeta = map[string]actor.OrderMeta{}
	o.ledger = nil
	o.realizedPnL = map[string]float64{}
	o.touch = map[string]touchPrices{}
}
