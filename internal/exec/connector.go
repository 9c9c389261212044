package exec

import (
	"context"

	"github.com/Rajchodisetti/orderflow-engine/internal/decision"
)

// EventType tags events pushed from the execution venue's user stream.
type EventType string

const (
	AccountUpdate      EventType = "ACCOUNT_UPDATE"
	OrderUpdate        EventType = "ORDER_UPDATE"
	TradeUpdate        EventType = "TRADE_UPDATE"
	OpenOrdersSnapshot EventType = "OPEN_ORDERS_SNAPSHOT"
	SystemHalt         EventType = "SYSTEM_HALT"
	SystemResume       EventType = "SYSTEM_RESUME"
)

// AccountPayload mirrors the venue's account push for one symbol.
// PositionAmt is signed: positive long, negative short, zero flat.
type AccountPayload struct {
	AvailableBalance float64 `json:"available_balance"`
	WalletBalance    float64 `json:"wallet_balance"`
	PositionAmt      float64 `json:"position_amt"`
	EntryPrice       float64 `json:"entry_price"`
	UnrealizedPnLPct float64 `json:"unrealized_pnl_pct"`
}

type OrderPayload struct {
	OrderID       string             `json:"order_id"`
	ClientOrderID string             `json:"client_order_id"`
	Side          decision.OrderSide `json:"side"`
	Status        string             `json:"status"` // NEW, PARTIALLY_FILLED, FILLED, CANCELED, REJECTED, EXPIRED
	ReduceOnly    bool               `json:"reduce_only"`
	Quantity      float64            `json:"quantity"`
	Price         float64            `json:"price"`
}

type TradePayload struct {
	OrderID     string  `json:"order_id"`
	Price       float64 `json:"price"`
	Quantity    float64 `json:"quantity"`
	RealizedPnL float64 `json:"realized_pnl"`
}

// Event is the tagged union crossing from the connector into the
// orchestrator. Exactly one payload field is set for its type; halts and
// resumes with an empty Symbol address every tracked symbol.
type Event struct {
	Type        EventType       `json:"type"`
	Symbol      string          `json:"symbol"`
	EventTimeMS int64           `json:"event_time_ms"`
	Reason      string          `json:"reason,omitempty"`
	Account     *AccountPayload `json:"account,omitempty"`
	Order       *OrderPayload   `json:"order,omitempty"`
	Trade       *TradePayload   `json:"trade,omitempty"`
	OpenOrders  []OrderPayload  `json:"open_orders,omitempty"`
}

// OrderRequest is the only order shape the core submits.
type OrderRequest struct {
	Symbol        string
	Side          decision.OrderSide
	Type          string // MARKET | LIMIT
	Quantity      float64
	Price         float64 // LIMIT only
	ReduceOnly    bool
	ClientOrderID string
}

type OrderAck struct {
	OrderID string
}

// Connector is the execution venue contract the core depends on. The
// signed-request wrapper behind it is out of scope here; PaperConnector
// implements the same contract for local runs and tests.
type Connector interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)
	CancelOrder(ctx context.Context, symbol, orderID, clientOrderID string) error
	CancelAllOpenOrders(ctx context.Context, symbol string) error
	// ExpectedPrice returns best ask for BUY and best bid for SELL from
	// the venue ticker; false when the ticker has no price.
	ExpectedPrice(symbol string, side decision.OrderSide, orderType string) (float64, bool)
	// Events yields the typed user-stream events; closed on shutdown.
	Events() <-chan Event
	// SyncState emits ACCOUNT_UPDATE + OPEN_ORDERS_SNAPSHOT for each
	// tracked symbol on demand.
	SyncState(ctx context.Context) error
}
