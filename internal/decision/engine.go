package decision

import (
	"math"

	"github.com/Rajchodisetti/orderflow-engine/internal/gate"
	"github.com/Rajchodisetti/orderflow-engine/internal/metrics"
)

type Config struct {
	InitialMarginUSDT float64
	MaxLeverage       float64
	CooldownMinMS     int64
	CooldownMaxMS     int64
}

// PriceFunc resolves the expected fill price for a market order from the
// execution venue's ticker. Returns false when no price is available.
type PriceFunc func(symbol string, side OrderSide, orderType string) (float64, bool)

const (
	profitLockPeakMin  = 0.5
	profitLockDrawdown = 0.2
	reversalDeltaZ     = 3.0
	reversalCVDSlope   = 0.5
	addMinPnLPct       = 0.10
	maxAdds            = 2
)

// Evaluate maps (gate result, metrics, symbol state) to an ordered
// action list. Pure apart from the injected price lookup; never returns
// an empty list.
func Evaluate(symbol string, eventTimeMS int64, g gate.Result, env metrics.Envelope, st *SymbolState, cfg Config, expectedPrice PriceFunc) []Action {
	noop := func(reason string) Action {
		return Action{Type: Noop, Symbol: symbol, EventTimeMS: eventTimeMS, Reason: reason}
	}

	if !g.Passed {
		return []Action{noop("gate_fail:" + g.Reason)}
	}

	var actions []Action
	if st.Halted && st.HasOpenEntryOrder {
		actions = append(actions, Action{
			Type: CancelOpenEntryOrders, Symbol: symbol, EventTimeMS: eventTimeMS,
			Reason: "halted_with_open_entry",
		})
	}

	if st.Position == nil {
		actions = append(actions, evaluateFlat(symbol, eventTimeMS, env, st, cfg, expectedPrice, noop)...)
	} else {
		actions = append(actions, evaluatePosition(symbol, eventTimeMS, env, st, cfg, expectedPrice)...)
	}

	if len(actions) == 0 {
		actions = []Action{noop("no_signal")}
	}
	return actions
}

func evaluateFlat(symbol string, eventTimeMS int64, env metrics.Envelope, st *SymbolState, cfg Config, expectedPrice PriceFunc, noop func(string) Action) []Action {
	switch {
	case st.Halted:
		return []Action{noop("halted")}
	case st.HasOpenEntryOrder:
		return []Action{noop("open_entry_order")}
	case len(st.OpenOrders) > 0:
		return []Action{noop("open_orders")}
	case eventTimeMS < st.CooldownUntilMS:
		return []Action{noop("cooldown")}
	}

	side, ok := directionOf(env)
	if !ok {
		return []Action{noop("no_direction")}
	}
	price, ok := expectedPrice(symbol, side, "MARKET")
	if !ok || price <= 0 {
		return []Action{noop("no_expected_price")}
	}
	qty := probeQty(cfg, price)
	if qty <= 0 {
		return []Action{noop("qty_too_small")}
	}
	return []Action{{
		Type: EntryProbe, Symbol: symbol, EventTimeMS: eventTimeMS,
		Reason: "entry_probe", Side: side, Quantity: qty, ExpectedPrice: price,
	}}
}

func evaluatePosition(symbol string, eventTimeMS int64, env metrics.Envelope, st *SymbolState, cfg Config, expectedPrice PriceFunc) []Action {
	pos := st.Position
	exitSide := SideSell
	if pos.Side == Short {
		exitSide = SideBuy
	}
	exit := func(reason string) []Action {
		price, _ := expectedPrice(symbol, exitSide, "MARKET")
		return []Action{{
			Type: ExitMarket, Symbol: symbol, EventTimeMS: eventTimeMS,
			Reason: reason, Side: exitSide, Quantity: pos.Qty,
			ReduceOnly: true, ExpectedPrice: price,
		}}
	}

	// Terminal exits, first match wins.
	if pos.PeakPnLPct > profitLockPeakMin && pos.PeakPnLPct-pos.UnrealizedPnLPct > profitLockDrawdown {
		return exit("profit_lock_drawdown")
	}
	dz, slope := env.Legacy.DeltaZ, env.Legacy.CVDSlope
	if pos.Side == Long && dz < -reversalDeltaZ && slope < -reversalCVDSlope {
		return exit("reversal_exit_long")
	}
	if pos.Side == Short && dz > reversalDeltaZ && slope > reversalCVDSlope {
		return exit("reversal_exit_short")
	}
	if st.ExecQuality.Poor && len(st.ExecQuality.RecentLatencyMS) >= 3 {
		return exit("exec_quality_exit")
	}

	// Add-to-winner.
	if !st.Halted && pos.AddsUsed < maxAdds && pos.UnrealizedPnLPct > addMinPnLPct && !st.ExecQuality.Poor {
		if side, ok := directionOf(env); ok && sameDirection(side, pos.Side) {
			price, ok := expectedPrice(symbol, side, "MARKET")
			if ok && price > 0 {
				if qty := probeQty(cfg, price); qty > 0 {
					return []Action{{
						Type: AddPosition, Symbol: symbol, EventTimeMS: eventTimeMS,
						Reason: "add_to_winner", Side: side, Quantity: qty, ExpectedPrice: price,
					}}
				}
			}
		}
	}
	return nil
}

func directionOf(env metrics.Envelope) (OrderSide, bool) {
	switch {
	case env.Legacy.DeltaZ > 0:
		return SideBuy, true
	case env.Legacy.DeltaZ < 0:
		return SideSell, true
	}
	return "", false
}

func sameDirection(side OrderSide, pos PositionSide) bool {
	return (side == SideBuy && pos == Long) || (side == SideSell && pos == Short)
}

// probeQty sizes entries and adds at initial margin times leverage,
// rounded to 6 decimals. Sizing by risk_per_trade_percent was floated in
// the strategy notes but never wired; the margin formula stands.
func probeQty(cfg Config, price float64) float64 {
	qty := cfg.InitialMarginUSDT * cfg.MaxLeverage / price
	return math.Round(qty*1e6) / 1e6
}

// CooldownMS derives the post-exit re-entry cooldown from the last seen
// delta Z and tape intensity, clamped to the configured bounds.
func CooldownMS(deltaZ, printsPerSecond float64, cfg Config) int64 {
	ms := int64(math.Round(200 * (math.Abs(deltaZ) + printsPerSecond/10)))
	if ms < cfg.CooldownMinMS {
		ms = cfg.CooldownMinMS
	}
	if ms > cfg.CooldownMaxMS {
		ms = cfg.CooldownMaxMS
	}
	return ms
}
