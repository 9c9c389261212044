package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/orderflow-engine/internal/book"
	"github.com/Rajchodisetti/orderflow-engine/internal/tape"
)

func levels(sizes ...float64) []book.FloatLevel {
	out := make([]book.FloatLevel, len(sizes))
	for i, s := range sizes {
		out[i] = book.FloatLevel{Price: 100 + float64(i), Size: s}
	}
	return out
}

func TestOBIDeep(t *testing.T) {
	bids := levels(3, 3, 3)
	asks := levels(1, 1, 1)
	// (9 - 3) / 12
	require.InDelta(t, 0.5, OBIDeep(bids, asks), 1e-9)
	require.InDelta(t, 0.0, OBIDeep(nil, nil), 1e-9)
}

func TestOBIWeightedFavorsTouch(t *testing.T) {
	// Same totals, but bid size sits at the touch while ask size is deep.
	bids := levels(4, 1, 1)
	asks := levels(1, 1, 4)
	require.Greater(t, OBIWeighted(bids, asks), 0.0)
	require.InDelta(t, 0.0, OBIDeep(bids, asks), 1e-9)
}

func TestSnapshotNilOnEmptySide(t *testing.T) {
	l := NewLegacy()
	require.Nil(t, l.Snapshot(levels(1), nil))
	require.Nil(t, l.Snapshot(nil, levels(1)))
	require.NotNil(t, l.Snapshot(levels(1), levels(1)))
}

func TestDeltaZNeedsHistory(t *testing.T) {
	l := NewLegacy()
	l.AddTrade(tape.Trade{Quantity: 5, Side: tape.Buy, EventTimeMS: 1_000})
	require.Zero(t, l.DeltaZ())
}

func TestDeltaZFlagsOutlierBuying(t *testing.T) {
	l := NewLegacy()
	// Eleven quiet seconds of alternating flow, then a violent buy burst.
	for i := 0; i < 11; i++ {
		side := tape.Buy
		if i%2 == 1 {
			side = tape.Sell
		}
		l.AddTrade(tape.Trade{Quantity: 1, Side: side, EventTimeMS: int64(i+1) * 1_000})
	}
	l.AddTrade(tape.Trade{Quantity: 50, Side: tape.Buy, EventTimeMS: 12_500})
	require.Greater(t, l.DeltaZ(), 3.0)
}

func TestCVDSlopeSign(t *testing.T) {
	up := NewLegacy()
	down := NewLegacy()
	for i := 0; i < 20; i++ {
		ts := int64(i+1) * 1_000
		up.AddTrade(tape.Trade{Quantity: 2, Side: tape.Buy, EventTimeMS: ts})
		down.AddTrade(tape.Trade{Quantity: 2, Side: tape.Sell, EventTimeMS: ts})
	}
	require.Greater(t, up.CVDSlope(), 0.0)
	require.Less(t, down.CVDSlope(), 0.0)
}

func TestOIDelta(t *testing.T) {
	l := NewLegacy()
	require.Zero(t, l.OIDelta())
	l.UpdateOpenInterest(1_000, 1_000)
	l.UpdateOpenInterest(1_250, 61_000)
	require.InDelta(t, 250, l.OIDelta(), 1e-9)
}

func TestOBIDivergence(t *testing.T) {
	l := NewLegacy()
	bids := levels(4, 1, 1)
	asks := levels(1, 1, 4)
	s := l.Snapshot(bids, asks)
	require.InDelta(t, s.OBIWeighted-s.OBIDeep, s.OBIDivergence, 1e-9)
}
