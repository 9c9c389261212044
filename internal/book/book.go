package book

import (
	"sync"

	"github.com/emirpasic/gods/maps/treemap"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// State is the UI-facing lifecycle of a per-symbol book. Metrics are only
// meaningful while the book is Live.
type State int

const (
	Unseeded State = iota
	Resyncing
	Live
	Stale
)

func (s State) String() string {
	switch s {
	case Unseeded:
		return "UNSEEDED"
	case Resyncing:
		return "RESYNCING"
	case Live:
		return "LIVE"
	case Stale:
		return "STALE"
	}
	return "UNKNOWN"
}

// ApplyResult classifies the outcome of ApplyDiff.
type ApplyResult int

const (
	Applied ApplyResult = iota
	Buffered
	Desync
)

// Level is one price level. Size zero on a diff means delete.
type Level struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// FloatLevel is the read-side projection used by envelopes and fan-out.
type FloatLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// Diff is an incremental depth update covering update ids
// [FirstUpdateID, FinalUpdateID].
type Diff struct {
	FirstUpdateID int64 // U
	FinalUpdateID int64 // u
	EventTimeMS   int64
	Bids          []Level
	Asks          []Level
}

// Snapshot is a full REST depth image.
type Snapshot struct {
	LastUpdateID int64
	Bids         []Level
	Asks         []Level
}

type Stats struct {
	Applied  int64
	Dropped  int64
	Buffered int64
	Desyncs  int64
}

// BufferCap bounds diffs held while unseeded or resyncing; the oldest is
// dropped on overflow.
const BufferCap = 1000

// Book is a sequence-validated L2 book for one symbol. Writes come from
// the ingestion goroutine and the snapshot fetcher; reads from the
// broadcaster and health handler.
type Book struct {
	mu           sync.RWMutex
	symbol       string
	maxGap       int64
	bids         *treemap.Map // price desc
	asks         *treemap.Map // price asc
	lastUpdateID int64
	state        State
	buffer       []Diff
	stats        Stats
	lastFirstID  int64
	lastFinalID  int64
	tick         decimal.Decimal
	log          zerolog.Logger
}

func descDecimal(a, b interface{}) int {
	return b.(decimal.Decimal).Cmp(a.(decimal.Decimal))
}

func ascDecimal(a, b interface{}) int {
	return a.(decimal.Decimal).Cmp(b.(decimal.Decimal))
}

func New(symbol string, maxGap int64, log zerolog.Logger) *Book {
	return &Book{
		symbol: symbol,
		maxGap: maxGap,
		bids:   treemap.NewWith(descDecimal),
		asks:   treemap.NewWith(ascDecimal),
		state:  Unseeded,
		log:    log.With().Str("comp", "book").Str("symbol", symbol).Logger(),
	}
}

// SetTickSize enables rounding of incoming price keys to the venue
// tick, so string variants of the same level collapse onto one key.
func (b *Book) SetTickSize(tick decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tick = tick
}

func (b *Book) roundPrice(p decimal.Decimal) decimal.Decimal {
	if b.tick.IsZero() {
		return p
	}
	return p.Div(b.tick).Round(0).Mul(b.tick)
}

// ApplySnapshot seeds the book, transitions to Live, and replays any
// buffered diffs in arrival order. Buffered diffs fully covered by the
// snapshot (u <= lastUpdateId) are discarded.
func (b *Book) ApplySnapshot(s Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids.Clear()
	b.asks.Clear()
	for _, l := range s.Bids {
		if l.Size.IsPositive() {
			b.bids.Put(b.roundPrice(l.Price), l.Size)
		}
	}
	for _, l := range s.Asks {
		if l.Size.IsPositive() {
			b.asks.Put(b.roundPrice(l.Price), l.Size)
		}
	}
	b.lastUpdateID = s.LastUpdateID
	b.state = Live

	pending := b.buffer
	b.buffer = nil
	replayed := 0
	for _, d := range pending {
		if d.FinalUpdateID <= b.lastUpdateID {
			continue
		}
		if b.applyDiffLocked(d) == Applied {
			replayed++
		}
	}
	b.log.Info().
		Int64("last_update_id", b.lastUpdateID).
		Int("buffered", len(pending)).
		Int("replayed", replayed).
		Msg("snapshot applied")
}

// ApplyDiff validates the diff's sequence span against the book and
// applies, buffers, or rejects it.
func (b *Book) ApplyDiff(d Diff) ApplyResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.applyDiffLocked(d)
}

func (b *Book) applyDiffLocked(d Diff) ApplyResult {
	b.lastFirstID, b.lastFinalID = d.FirstUpdateID, d.FinalUpdateID

	if b.state == Unseeded || b.state == Resyncing {
		if len(b.buffer) >= BufferCap {
			b.buffer = b.buffer[1:]
		}
		b.buffer = append(b.buffer, d)
		b.stats.Buffered++
		return Buffered
	}

	if d.FinalUpdateID <= b.lastUpdateID {
		// Already covered by the snapshot or an earlier diff.
		b.stats.Dropped++
		return Applied
	}

	gap := d.FirstUpdateID - (b.lastUpdateID + 1)
	switch {
	case gap <= 0 && d.FinalUpdateID >= b.lastUpdateID+1:
		b.apply(d)
		return Applied
	case gap > 0 && gap <= b.maxGap:
		// Tolerant mode: a small hole costs bounded accuracy but avoids a
		// REST resync.
		b.apply(d)
		return Applied
	default:
		b.stats.Desyncs++
		b.log.Warn().
			Int64("gap", gap).
			Int64("first_id", d.FirstUpdateID).
			Int64("last_update_id", b.lastUpdateID).
			Msg("sequence desync")
		return Desync
	}
}

func (b *Book) apply(d Diff) {
	for _, l := range d.Bids {
		p := b.roundPrice(l.Price)
		if l.Size.IsZero() {
			b.bids.Remove(p)
		} else {
			b.bids.Put(p, l.Size)
		}
	}
	for _, l := range d.Asks {
		p := b.roundPrice(l.Price)
		if l.Size.IsZero() {
			b.asks.Remove(p)
		} else {
			b.asks.Put(p, l.Size)
		}
	}
	b.lastUpdateID = d.FinalUpdateID
	b.stats.Applied++
	if b.state == Stale {
		b.state = Live
	}
}

// MarkResyncing flips the book into the buffering state while a snapshot
// is in flight.
func (b *Book) MarkResyncing() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Unseeded {
		b.state = Resyncing
	}
}

// MarkStale records persistent snapshot failure; diffs keep applying and
// the first applied one restores Live.
func (b *Book) MarkStale() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = Stale
}

func (b *Book) Symbol() string { return b.symbol }

func (b *Book) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *Book) LastUpdateID() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdateID
}

func (b *Book) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stats
}

// LastSeenSpan reports the (U, u) pair of the most recent diff observed,
// applied or not.
func (b *Book) LastSeenSpan() (int64, int64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastFirstID, b.lastFinalID
}

func (b *Book) BestBid() (FloatLevel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return bestOf(b.bids)
}

func (b *Book) BestAsk() (FloatLevel, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return bestOf(b.asks)
}

func bestOf(m *treemap.Map) (FloatLevel, bool) {
	k, v := m.Min()
	if k == nil {
		return FloatLevel{}, false
	}
	p, _ := k.(decimal.Decimal).Float64()
	s, _ := v.(decimal.Decimal).Float64()
	return FloatLevel{Price: p, Size: s}, true
}

// MidPrice returns the midpoint of the touch, or false when either side
// is empty.
func (b *Book) MidPrice() (float64, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	return (bid.Price + ask.Price) / 2, true
}

// SpreadPct is the touch spread as a fraction of the mid.
func (b *Book) SpreadPct() (float64, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return 0, false
	}
	mid := (bid.Price + ask.Price) / 2
	if mid <= 0 {
		return 0, false
	}
	return (ask.Price - bid.Price) / mid, true
}

// TopLevels returns up to n best levels per side, bids descending and
// asks ascending.
func (b *Book) TopLevels(n int) (bids, asks []FloatLevel) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return levelsOf(b.bids, n), levelsOf(b.asks, n)
}

func levelsOf(m *treemap.Map, n int) []FloatLevel {
	out := make([]FloatLevel, 0, n)
	it := m.Iterator()
	for it.Next() && len(out) < n {
		p, _ := it.Key().(decimal.Decimal).Float64()
		s, _ := it.Value().(decimal.Decimal).Float64()
		out = append(out, FloatLevel{Price: p, Size: s})
	}
	return out
}
