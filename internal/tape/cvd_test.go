package tape

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCVDLabelsAndSums(t *testing.T) {
	c := NewCVD([]int64{60, 300, 900})
	c.Add(5, 1_000)
	c.Add(-2, 2_000)

	snap := c.Snapshot(2_000)
	require.Len(t, snap, 3)
	for _, label := range []string{"tf1m", "tf5m", "tf15m"} {
		require.Contains(t, snap, label)
		require.InDelta(t, 3.0, snap[label].CVD, 1e-9)
	}
}

func TestCVDWindowPrunes(t *testing.T) {
	c := NewCVD([]int64{60})
	c.Add(5, 1_000)
	c.Add(1, 70_000)
	snap := c.Snapshot(70_000)
	require.InDelta(t, 1.0, snap["tf1m"].CVD, 1e-9, "sample outside 1m window dropped")
}

func TestCVDDeltaIsNewestQuarter(t *testing.T) {
	c := NewCVD([]int64{60})
	c.Add(10, 1_000)  // oldest quarter
	c.Add(4, 55_000)  // newest quarter
	snap := c.Snapshot(60_000)
	require.InDelta(t, 4.0, snap["tf1m"].Delta, 1e-9)
}

func TestExhaustionFlagsDeceleratingMove(t *testing.T) {
	c := NewCVD([]int64{60})
	now := int64(60_000)
	// Quarters (15s each, oldest->newest) sum to 0, 8, 4, 1: buy flow
	// that keeps its direction but decelerates.
	c.Add(8, now-40_000)
	c.Add(4, now-20_000)
	c.Add(1, now-5_000)
	snap := c.Snapshot(now)
	require.True(t, snap["tf1m"].Exhaustion)
}

func TestNoExhaustionWhenAccelerating(t *testing.T) {
	c := NewCVD([]int64{60})
	now := int64(60_000)
	c.Add(1, now-40_000)
	c.Add(4, now-20_000)
	c.Add(8, now-5_000)
	snap := c.Snapshot(now)
	require.False(t, snap["tf1m"].Exhaustion)
}

func TestAbsorptionFlatMidHeavySells(t *testing.T) {
	a := NewAbsorption()
	for i := 0; i < 10; i++ {
		a.Update(Trade{Price: 100, Quantity: 5, Side: Sell, EventTimeMS: int64(i) * 100}, 100.0)
	}
	st := a.State(1_000)
	require.True(t, st.BidAbsorbing)
	require.False(t, st.AskAbsorbing)
	require.Equal(t, 50.0, st.Volume)
}

func TestNoAbsorptionWhenMidMoves(t *testing.T) {
	a := NewAbsorption()
	for i := 0; i < 10; i++ {
		a.Update(Trade{Price: 100, Quantity: 5, Side: Sell, EventTimeMS: int64(i) * 100}, 100.0-float64(i)*0.1)
	}
	st := a.State(1_000)
	require.False(t, st.BidAbsorbing)
}
