package metrics

import (
	"math"

	"github.com/Rajchodisetti/orderflow-engine/internal/book"
	"github.com/Rajchodisetti/orderflow-engine/internal/tape"
)

const (
	deltaZWindowSec  = 120
	cvdSlopeWindowMS = 60_000
	oiWindowMS       = 300_000
	obiWeightedDepth = 5
	obiDeepDepth     = 20
)

// Snapshot carries the derived indicators gated and consumed downstream.
type Snapshot struct {
	OBIWeighted   float64 `json:"obi_weighted"`
	OBIDeep       float64 `json:"obi_deep"`
	OBIDivergence float64 `json:"obi_divergence"`
	DeltaZ        float64 `json:"delta_z"`
	CVDSlope      float64 `json:"cvd_slope"`
	OIDelta       float64 `json:"oi_delta"`
}

type secBucket struct {
	sec    int64
	signed float64
}

type sample struct {
	timeMS int64
	value  float64
}

// Legacy derives per-symbol indicators from the trade flow and periodic
// open-interest marks. Owned by the ingestion goroutine.
type Legacy struct {
	buckets    []secBucket
	cvdCum     float64
	cvdSamples []sample
	oiSamples  []sample
}

func NewLegacy() *Legacy {
	return &Legacy{}
}

// AddTrade folds one trade into the delta-Z buckets and the CVD series.
func (l *Legacy) AddTrade(tr tape.Trade) {
	signed := tr.Quantity
	if tr.Side == tape.Sell {
		signed = -signed
	}
	sec := tr.EventTimeMS / 1000
	if n := len(l.buckets); n > 0 && l.buckets[n-1].sec == sec {
		l.buckets[n-1].signed += signed
	} else {
		l.buckets = append(l.buckets, secBucket{sec: sec, signed: signed})
	}
	l.pruneBuckets(sec)

	l.cvdCum += signed
	l.cvdSamples = append(l.cvdSamples, sample{timeMS: tr.EventTimeMS, value: l.cvdCum})
	l.cvdSamples = pruneSamples(l.cvdSamples, tr.EventTimeMS-cvdSlopeWindowMS)
}

func (l *Legacy) pruneBuckets(nowSec int64) {
	cutoff := nowSec - deltaZWindowSec
	i := 0
	for i < len(l.buckets) && l.buckets[i].sec < cutoff {
		i++
	}
	if i > 0 {
		l.buckets = append(l.buckets[:0], l.buckets[i:]...)
	}
}

// UpdateOpenInterest records an open-interest mark.
func (l *Legacy) UpdateOpenInterest(oi float64, timeMS int64) {
	l.oiSamples = append(l.oiSamples, sample{timeMS: timeMS, value: oi})
	l.oiSamples = pruneSamples(l.oiSamples, timeMS-oiWindowMS)
}

func pruneSamples(s []sample, cutoff int64) []sample {
	i := 0
	for i < len(s) && s[i].timeMS < cutoff {
		i++
	}
	if i > 0 {
		s = append(s[:0], s[i:]...)
	}
	return s
}

// DeltaZ z-scores the latest one-second signed-volume bucket against the
// rest of the window. Zero until the window has enough history.
func (l *Legacy) DeltaZ() float64 {
	n := len(l.buckets)
	if n < 10 {
		return 0
	}
	latest := l.buckets[n-1].signed
	var sum, sumSq float64
	for _, b := range l.buckets[:n-1] {
		sum += b.signed
		sumSq += b.signed * b.signed
	}
	m := float64(n - 1)
	mean := sum / m
	variance := sumSq/m - mean*mean
	if variance <= 0 {
		return 0
	}
	return (latest - mean) / math.Sqrt(variance)
}

// CVDSlope is the least-squares slope of the recent CVD series in
// signed volume per minute.
func (l *Legacy) CVDSlope() float64 {
	n := len(l.cvdSamples)
	if n < 2 {
		return 0
	}
	t0 := l.cvdSamples[0].timeMS
	var sumX, sumY, sumXY, sumXX float64
	for _, s := range l.cvdSamples {
		x := float64(s.timeMS - t0)
		sumX += x
		sumY += s.value
		sumXY += x * s.value
		sumXX += x * x
	}
	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	perMS := (fn*sumXY - sumX*sumY) / denom
	return perMS * 60_000
}

// OIDelta is the open-interest change across the retained window.
func (l *Legacy) OIDelta() float64 {
	if len(l.oiSamples) < 2 {
		return 0
	}
	return l.oiSamples[len(l.oiSamples)-1].value - l.oiSamples[0].value
}

// Snapshot materializes the indicator set against the current book.
func (l *Legacy) Snapshot(bids, asks []book.FloatLevel) *Snapshot {
	if len(bids) == 0 || len(asks) == 0 {
		return nil
	}
	weighted := OBIWeighted(bids, asks)
	deep := OBIDeep(bids, asks)
	return &Snapshot{
		OBIWeighted:   weighted,
		OBIDeep:       deep,
		OBIDivergence: weighted - deep,
		DeltaZ:        l.DeltaZ(),
		CVDSlope:      l.CVDSlope(),
		OIDelta:       l.OIDelta(),
	}
}

// OBIWeighted is the signed bid/ask imbalance over the top levels with
// weights decaying by distance from the touch.
func OBIWeighted(bids, asks []book.FloatLevel) float64 {
	var b, a float64
	for i, l := range bids {
		if i >= obiWeightedDepth {
			break
		}
		b += l.Size / float64(i+1)
	}
	for i, l := range asks {
		if i >= obiWeightedDepth {
			break
		}
		a += l.Size / float64(i+1)
	}
	return imbalance(b, a)
}

// OBIDeep is the plain imbalance over the deep book window.
func OBIDeep(bids, asks []book.FloatLevel) float64 {
	var b, a float64
	for i, l := range bids {
		if i >= obiDeepDepth {
			break
		}
		b += l.Size
	}
	for i, l := range asks {
		if i >= obiDeepDepth {
			break
		}
		a += l.Size
	}
	return imbalance(b, a)
}

func imbalance(b, a float64) float64 {
	total := b + a
	if total == 0 {
		return 0
	}
	return (b - a) / total
}
