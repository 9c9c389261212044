package gate

import (
	"math"

	"github.com/Rajchodisetti/orderflow-engine/internal/metrics"
)

// Mode selects the check set.
type Mode string

const (
	V1NoLatency      Mode = "V1_NO_LATENCY"
	V2NetworkLatency Mode = "V2_NETWORK_LATENCY"
)

// Failure reasons, in priority order.
const (
	ReasonMissingMetrics        = "missing_metrics"
	ReasonSpreadTooWide         = "spread_too_wide"
	ReasonInsufficientLiquidity = "insufficient_liquidity"
	ReasonNetworkLatencyTooHigh = "network_latency_too_high"
)

type Config struct {
	Mode                Mode
	MaxSpreadPct        float64
	MinOBIDeep          float64
	MaxNetworkLatencyMS int64
}

// Result is the gate verdict. NetworkLatencyMS stays nil under V1; V1
// never gates on latency.
type Result struct {
	Mode             Mode            `json:"mode"`
	Passed           bool            `json:"passed"`
	Reason           string          `json:"reason,omitempty"`
	NetworkLatencyMS *int64          `json:"network_latency_ms"`
	Checks           map[string]bool `json:"checks"`
}

// Evaluate is pure: same envelope and config always yield the same
// result.
func Evaluate(env metrics.Envelope, cfg Config) Result {
	r := Result{Mode: cfg.Mode, Checks: map[string]bool{}}

	r.Checks["metrics_present"] = metricsPresent(env)
	if !r.Checks["metrics_present"] {
		r.Reason = ReasonMissingMetrics
		return r
	}

	r.Checks["spread"] = env.SpreadPct <= cfg.MaxSpreadPct
	r.Checks["liquidity"] = math.Abs(env.Legacy.OBIDeep) >= cfg.MinOBIDeep

	if cfg.Mode == V2NetworkLatency {
		lat := env.CanonicalTimeMS - env.ExchangeEventTimeMS
		if lat < 0 {
			lat = 0
		}
		r.NetworkLatencyMS = &lat
		r.Checks["latency"] = lat <= cfg.MaxNetworkLatencyMS
	}

	switch {
	case !r.Checks["spread"]:
		r.Reason = ReasonSpreadTooWide
	case !r.Checks["liquidity"]:
		r.Reason = ReasonInsufficientLiquidity
	case cfg.Mode == V2NetworkLatency && !r.Checks["latency"]:
		r.Reason = ReasonNetworkLatencyTooHigh
	default:
		r.Passed = true
	}
	return r
}

func metricsPresent(env metrics.Envelope) bool {
	if env.Legacy == nil {
		return false
	}
	for _, v := range []float64{
		env.SpreadPct,
		env.Legacy.OBIDeep,
		env.Legacy.DeltaZ,
		env.Legacy.CVDSlope,
		env.PrintsPerSecond,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
