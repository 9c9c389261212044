package feed

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Rajchodisetti/orderflow-engine/internal/book"
	"github.com/Rajchodisetti/orderflow-engine/internal/tape"
)

// Combined-stream wire shapes for the futures market data feed.

type combinedMsg struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type wireDepth struct {
	EventType string      `json:"e"`
	EventTime int64       `json:"E"`
	Symbol    string      `json:"s"`
	FirstID   int64       `json:"U"`
	FinalID   int64       `json:"u"`
	Bids      [][2]string `json:"b"`
	Asks      [][2]string `json:"a"`
}

type wireAggTrade struct {
	EventType    string `json:"e"`
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	BuyerIsMaker bool   `json:"m"`
}

type wireSnapshot struct {
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

func parseLevels(raw [][2]string) ([]book.Level, error) {
	out := make([]book.Level, 0, len(raw))
	for _, pair := range raw {
		price, err := decimal.NewFromString(pair[0])
		if err != nil {
			return nil, fmt.Errorf("parse price %q: %w", pair[0], err)
		}
		size, err := decimal.NewFromString(pair[1])
		if err != nil {
			return nil, fmt.Errorf("parse size %q: %w", pair[1], err)
		}
		out = append(out, book.Level{Price: price, Size: size})
	}
	return out, nil
}

func (w wireDepth) toDiff() (book.Diff, error) {
	bids, err := parseLevels(w.Bids)
	if err != nil {
		return book.Diff{}, err
	}
	asks, err := parseLevels(w.Asks)
	if err != nil {
		return book.Diff{}, err
	}
	return book.Diff{
		FirstUpdateID: w.FirstID,
		FinalUpdateID: w.FinalID,
		EventTimeMS:   w.EventTime,
		Bids:          bids,
		Asks:          asks,
	}, nil
}

// toTrade normalizes the maker flag: buyer-is-maker means the taker hit
// the bid, so the aggressive side is sell.
func (w wireAggTrade) toTrade() (tape.Trade, error) {
	price, err := decimal.NewFromString(w.Price)
	if err != nil {
		return tape.Trade{}, fmt.Errorf("parse price %q: %w", w.Price, err)
	}
	qty, err := decimal.NewFromString(w.Quantity)
	if err != nil {
		return tape.Trade{}, fmt.Errorf("parse quantity %q: %w", w.Quantity, err)
	}
	side := tape.Buy
	if w.BuyerIsMaker {
		side = tape.Sell
	}
	p, _ := price.Float64()
	q, _ := qty.Float64()
	eventTime := w.TradeTime
	if eventTime == 0 {
		eventTime = w.EventTime
	}
	return tape.Trade{Price: p, Quantity: q, Side: side, EventTimeMS: eventTime}, nil
}

func (w wireSnapshot) toSnapshot() (book.Snapshot, error) {
	bids, err := parseLevels(w.Bids)
	if err != nil {
		return book.Snapshot{}, err
	}
	asks, err := parseLevels(w.Asks)
	if err != nil {
		return book.Snapshot{}, err
	}
	return book.Snapshot{LastUpdateID: w.LastUpdateID, Bids: bids, Asks: asks}, nil
}
