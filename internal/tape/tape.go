package tape

import "sort"

// Side is the taker (aggressor) side of a trade.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Trade is one aggregated trade. EventTimeMS is exchange event time; all
// tape windows are indexed by it, never by wall clock.
type Trade struct {
	Price       float64 `json:"price"`
	Quantity    float64 `json:"quantity"`
	Side        Side    `json:"side"`
	EventTimeMS int64   `json:"event_time_ms"`
}

// Histogram buckets trade sizes. Thresholds sit at the 33rd/66th
// quantile once the window holds at least 10 samples, else at 1 and 10.
type Histogram struct {
	SmallMax float64 `json:"small_max"`
	LargeMin float64 `json:"large_min"`
	Small    int     `json:"small"`
	Medium   int     `json:"medium"`
	Large    int     `json:"large"`
}

// Stats is the derived view of the tape window.
type Stats struct {
	BuyVolume          float64   `json:"buy_volume"`
	SellVolume         float64   `json:"sell_volume"`
	Count              int       `json:"count"`
	PrintsPerSecond    float64   `json:"prints_per_second"`
	BidHitAskLiftRatio float64   `json:"bid_hit_ask_lift_ratio"`
	BurstCount         int       `json:"burst_count"`
	SizeHistogram      Histogram `json:"size_histogram"`
}

// Tape is a sliding window of aggressive trades for one symbol, owned by
// the ingestion goroutine.
type Tape struct {
	windowMS int64
	trades   []Trade
}

func New(windowMS int64) *Tape {
	return &Tape{windowMS: windowMS}
}

func (t *Tape) Add(tr Trade) {
	t.trades = append(t.trades, tr)
	t.prune(tr.EventTimeMS)
}

func (t *Tape) prune(nowMS int64) {
	cutoff := nowMS - t.windowMS
	i := 0
	for i < len(t.trades) && t.trades[i].EventTimeMS < cutoff {
		i++
	}
	if i > 0 {
		t.trades = append(t.trades[:0], t.trades[i:]...)
	}
}

// Snapshot derives the window stats as of nowMS.
func (t *Tape) Snapshot(nowMS int64) Stats {
	t.prune(nowMS)
	s := Stats{}
	sizes := make([]float64, 0, len(t.trades))
	hits, lifts := 0, 0
	for _, tr := range t.trades {
		if tr.Side == Buy {
			s.BuyVolume += tr.Quantity
			lifts++
		} else {
			s.SellVolume += tr.Quantity
			hits++
		}
		sizes = append(sizes, tr.Quantity)
	}
	s.Count = len(t.trades)
	s.PrintsPerSecond = float64(s.Count) / (float64(t.windowMS) / 1000.0)
	if lifts > 0 {
		s.BidHitAskLiftRatio = float64(hits) / float64(lifts)
	} else if hits > 0 {
		s.BidHitAskLiftRatio = float64(hits)
	}
	s.BurstCount = t.burst()
	s.SizeHistogram = histogram(sizes)
	return s
}

// burst counts the trailing run of same-side trades.
func (t *Tape) burst() int {
	n := len(t.trades)
	if n == 0 {
		return 0
	}
	side := t.trades[n-1].Side
	run := 1
	for i := n - 2; i >= 0 && t.trades[i].Side == side; i-- {
		run++
	}
	return run
}

func histogram(sizes []float64) Histogram {
	h := Histogram{SmallMax: 1, LargeMin: 10}
	if len(sizes) >= 10 {
		sorted := append([]float64(nil), sizes...)
		sort.Float64s(sorted)
		h.SmallMax = sorted[len(sorted)*33/100]
		h.LargeMin = sorted[len(sorted)*66/100]
	}
	for _, sz := range sizes {
		switch {
		case sz <= h.SmallMax:
			h.Small++
		case sz >= h.LargeMin:
			h.Large++
		default:
			h.Medium++
		}
	}
	return h
}
