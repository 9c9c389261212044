package decision

import "github.com/Rajchodisetti/orderflow-engine/internal/gate"

type ActionType string

const (
	Noop                  ActionType = "NOOP"
	EntryProbe            ActionType = "ENTRY_PROBE"
	AddPosition           ActionType = "ADD_POSITION"
	ExitMarket            ActionType = "EXIT_MARKET"
	CancelOpenEntryOrders ActionType = "CANCEL_OPEN_ENTRY_ORDERS"
)

type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// Action is one tagged decision output. Order-producing variants carry
// side, quantity, reduceOnly and the expected market price at decision
// time.
type Action struct {
	Type          ActionType `json:"type"`
	Symbol        string     `json:"symbol"`
	EventTimeMS   int64      `json:"event_time_ms"`
	Reason        string     `json:"reason"`
	Side          OrderSide  `json:"side,omitempty"`
	Quantity      float64    `json:"quantity,omitempty"`
	ReduceOnly    bool       `json:"reduce_only,omitempty"`
	ExpectedPrice float64    `json:"expected_price,omitempty"`
}

// Record is the immutable decision trail unit: the inputs, the action
// list, and a state snapshot taken at decision time.
type Record struct {
	Symbol              string       `json:"symbol"`
	CanonicalTimeMS     int64        `json:"canonical_time_ms"`
	ExchangeEventTimeMS int64        `json:"exchange_event_time_ms"`
	Gate                gate.Result  `json:"gate"`
	Actions             []Action     `json:"actions"`
	State               *SymbolState `json:"state"`
}
