package exec

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Rajchodisetti/orderflow-engine/internal/decision"
)

// PriceSource resolves a marketable price for the paper venue, normally
// backed by the live book's touch.
type PriceSource func(symbol string, side decision.OrderSide) (float64, bool)

type paperPosition struct {
	amt   float64 // signed
	entry float64
}

// PaperConnector implements Connector against simulated fills: every
// market order fills at the sourced price plus jittered slippage after
// jittered latency. The run command uses it for local runs.
type PaperConnector struct {
	mu         sync.Mutex
	prices     PriceSource
	events     chan Event
	positions  map[string]*paperPosition
	balance    float64
	latencyMin int
	latencyMax int
	slipMin    int
	slipMax    int
	closed     bool
	log        zerolog.Logger
}

func NewPaperConnector(prices PriceSource, balance float64, latencyMsMin, latencyMsMax, slippageBpsMin, slippageBpsMax int, log zerolog.Logger) *PaperConnector {
	if latencyMsMax < latencyMsMin {
		latencyMsMax = latencyMsMin
	}
	if slippageBpsMax < slippageBpsMin {
		slippageBpsMax = slippageBpsMin
	}
	return &PaperConnector{
		prices:     prices,
		events:     make(chan Event, 256),
		positions:  map[string]*paperPosition{},
		balance:    balance,
		latencyMin: latencyMsMin,
		latencyMax: latencyMsMax,
		slipMin:    slippageBpsMin,
		slipMax:    slippageBpsMax,
		log:        log.With().Str("comp", "paper_connector").Logger(),
	}
}

func (p *PaperConnector) PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error) {
	price, ok := p.prices(req.Symbol, req.Side)
	if !ok {
		return OrderAck{}, ErrNoPrice
	}
	latency := p.latencyMin + rand.Intn(p.latencyMax-p.latencyMin+1)
	slipBps := p.slipMin + rand.Intn(p.slipMax-p.slipMin+1)
	slip := 1.0 + float64(slipBps)/10000.0
	if req.Side == decision.SideBuy {
		price *= slip
	} else {
		price /= slip
	}

	orderID := uuid.NewString()
	fillAt := time.Now().Add(time.Duration(latency) * time.Millisecond)
	time.AfterFunc(time.Until(fillAt), func() {
		p.fill(req, orderID, price, fillAt.UnixMilli())
	})
	return OrderAck{OrderID: orderID}, nil
}

func (p *PaperConnector) fill(req OrderRequest, orderID string, price float64, eventTimeMS int64) {
	p.mu.Lock()
	pos := p.positions[req.Symbol]
	if pos == nil {
		pos = &paperPosition{}
		p.positions[req.Symbol] = pos
	}
	delta := req.Quantity
	if req.Side == decision.SideSell {
		delta = -delta
	}
	var realized float64
	if pos.amt != 0 && (pos.amt > 0) != (delta > 0) {
		closedQty := min(abs(delta), abs(pos.amt))
		dir := 1.0
		if pos.amt < 0 {
			dir = -1.0
		}
		realized = (price - pos.entry) * closedQty * dir
		p.balance += realized
	}
	next := pos.amt + delta
	if next != 0 && (pos.amt == 0 || (pos.amt > 0) == (next > 0) && abs(next) > abs(pos.amt)) {
		pos.entry = (pos.entry*abs(pos.amt) + price*abs(delta)) / abs(next)
	}
	pos.amt = next
	if pos.amt == 0 {
		pos.entry = 0
	}
	account := AccountPayload{
		AvailableBalance: p.balance,
		WalletBalance:    p.balance,
		PositionAmt:      pos.amt,
		EntryPrice:       pos.entry,
	}
	defer p.mu.Unlock()
	if p.closed {
		return
	}

	p.emit(Event{
		Type: OrderUpdate, Symbol: req.Symbol, EventTimeMS: eventTimeMS,
		Order: &OrderPayload{
			OrderID: orderID, ClientOrderID: req.ClientOrderID, Side: req.Side,
			Status: "FILLED", ReduceOnly: req.ReduceOnly, Quantity: req.Quantity, Price: price,
		},
	})
	p.emit(Event{
		Type: TradeUpdate, Symbol: req.Symbol, EventTimeMS: eventTimeMS,
		Trade: &TradePayload{OrderID: orderID, Price: price, Quantity: req.Quantity, RealizedPnL: realized},
	})
	p.emit(Event{Type: AccountUpdate, Symbol: req.Symbol, EventTimeMS: eventTimeMS, Account: &account})
}

func (p *PaperConnector) emit(ev Event) {
	select {
	case p.events <- ev:
	default:
		p.log.Warn().Str("type", string(ev.Type)).Msg("paper event channel full, dropping")
	}
}

func (p *PaperConnector) CancelOrder(ctx context.Context, symbol, orderID, clientOrderID string) error {
	// Paper market orders never rest.
	return nil
}

func (p *PaperConnector) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	return nil
}

func (p *PaperConnector) ExpectedPrice(symbol string, side decision.OrderSide, orderType string) (float64, bool) {
	return p.prices(symbol, side)
}

func (p *PaperConnector) Events() <-chan Event { return p.events }

func (p *PaperConnector) SyncState(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now().UnixMilli()
	for sym, pos := range p.positions {
		p.emit(Event{
			Type: AccountUpdate, Symbol: sym, EventTimeMS: now,
			Account: &AccountPayload{
				AvailableBalance: p.balance,
				WalletBalance:    p.balance,
				PositionAmt:      pos.amt,
				EntryPrice:       pos.entry,
			},
		})
		p.emit(Event{Type: OpenOrdersSnapshot, Symbol: sym, EventTimeMS: now, OpenOrders: []OrderPayload{}})
	}
	return nil
}

// Close stops event emission; in-flight fills after Close are discarded.
func (p *PaperConnector) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.events)
	}
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
