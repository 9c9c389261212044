package metrics

// Envelope is the gated unit flowing from the broadcaster into the
// orchestrator. CanonicalTimeMS is stamped from the wall clock at ingest;
// ExchangeEventTimeMS is the venue's event time.
type Envelope struct {
	Symbol              string    `json:"symbol"`
	CanonicalTimeMS     int64     `json:"canonical_time_ms"`
	ExchangeEventTimeMS int64     `json:"exchange_event_time_ms"`
	SpreadPct           float64   `json:"spread_pct"`
	PrintsPerSecond     float64   `json:"prints_per_second"`
	BestBid             float64   `json:"best_bid"`
	BestAsk             float64   `json:"best_ask"`
	Legacy              *Snapshot `json:"legacy_metrics"`
}
