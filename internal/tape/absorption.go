package tape

// Absorption watches for heavy one-sided aggression that fails to move
// the mid: resting liquidity on the opposite side is soaking it up.

const (
	absorptionWindowMS   = 5_000
	absorptionMaxMovePct = 0.0005
)

type absSample struct {
	timeMS int64
	volume float64
	side   Side
	mid    float64
}

type AbsorptionState struct {
	BidAbsorbing bool    `json:"bid_absorbing"`
	AskAbsorbing bool    `json:"ask_absorbing"`
	Volume       float64 `json:"volume"`
}

type Absorption struct {
	samples []absSample
}

func NewAbsorption() *Absorption {
	return &Absorption{}
}

func (a *Absorption) Update(tr Trade, mid float64) {
	if mid <= 0 {
		return
	}
	a.samples = append(a.samples, absSample{
		timeMS: tr.EventTimeMS,
		volume: tr.Quantity,
		side:   tr.Side,
		mid:    mid,
	})
	a.prune(tr.EventTimeMS)
}

func (a *Absorption) prune(nowMS int64) {
	cutoff := nowMS - absorptionWindowMS
	i := 0
	for i < len(a.samples) && a.samples[i].timeMS < cutoff {
		i++
	}
	if i > 0 {
		a.samples = append(a.samples[:0], a.samples[i:]...)
	}
}

func (a *Absorption) State(nowMS int64) AbsorptionState {
	a.prune(nowMS)
	var st AbsorptionState
	if len(a.samples) < 2 {
		return st
	}
	first, last := a.samples[0].mid, a.samples[len(a.samples)-1].mid
	movePct := abs(last-first) / first
	if movePct > absorptionMaxMovePct {
		return st
	}
	var buyVol, sellVol float64
	for _, s := range a.samples {
		if s.side == Buy {
			buyVol += s.volume
		} else {
			sellVol += s.volume
		}
	}
	// Sells hammering a flat mid mean bids absorb, and vice versa.
	if sellVol > buyVol*2 {
		st.BidAbsorbing = true
		st.Volume = sellVol
	} else if buyVol > sellVol*2 {
		st.AskAbsorbing = true
		st.Volume = buyVol
	}
	return st
}
