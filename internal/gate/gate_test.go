package gate

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Rajchodisetti/orderflow-engine/internal/metrics"
)

func passingEnv() metrics.Envelope {
	return metrics.Envelope{
		Symbol:              "BTCUSDT",
		CanonicalTimeMS:     1_000,
		ExchangeEventTimeMS: 990,
		SpreadPct:           0.01,
		PrintsPerSecond:     4,
		BestBid:             100,
		BestAsk:             100.1,
		Legacy: &metrics.Snapshot{
			OBIDeep:  0.3,
			DeltaZ:   1.1,
			CVDSlope: 0.2,
		},
	}
}

func v1Config() Config {
	return Config{Mode: V1NoLatency, MaxSpreadPct: 0.08, MinOBIDeep: 0.05}
}

func TestV1Pass(t *testing.T) {
	r := Evaluate(passingEnv(), v1Config())
	require.True(t, r.Passed)
	require.Empty(t, r.Reason)
	require.Nil(t, r.NetworkLatencyMS, "V1 never reports latency")
}

func TestV2LatencyFail(t *testing.T) {
	env := passingEnv()
	env.CanonicalTimeMS = 2_000
	env.ExchangeEventTimeMS = 1
	cfg := v1Config()
	cfg.Mode = V2NetworkLatency
	cfg.MaxNetworkLatencyMS = 100

	r := Evaluate(env, cfg)
	require.False(t, r.Passed)
	require.Equal(t, ReasonNetworkLatencyTooHigh, r.Reason)
	require.NotNil(t, r.NetworkLatencyMS)
	require.EqualValues(t, 1_999, *r.NetworkLatencyMS)
}

func TestV2LatencyClampedAtZero(t *testing.T) {
	env := passingEnv()
	env.CanonicalTimeMS = 100
	env.ExchangeEventTimeMS = 500
	cfg := v1Config()
	cfg.Mode = V2NetworkLatency
	cfg.MaxNetworkLatencyMS = 100

	r := Evaluate(env, cfg)
	require.True(t, r.Passed)
	require.EqualValues(t, 0, *r.NetworkLatencyMS)
}

func TestMissingMetrics(t *testing.T) {
	env := passingEnv()
	env.Legacy = nil
	r := Evaluate(env, v1Config())
	require.False(t, r.Passed)
	require.Equal(t, ReasonMissingMetrics, r.Reason)

	env = passingEnv()
	env.Legacy.CVDSlope = math.NaN()
	r = Evaluate(env, v1Config())
	require.Equal(t, ReasonMissingMetrics, r.Reason)
}

func TestReasonPriority(t *testing.T) {
	// Wide spread and thin book together: spread wins.
	env := passingEnv()
	env.SpreadPct = 0.5
	env.Legacy.OBIDeep = 0.0
	r := Evaluate(env, v1Config())
	require.Equal(t, ReasonSpreadTooWide, r.Reason)

	// Thin book alone.
	env = passingEnv()
	env.Legacy.OBIDeep = 0.01
	r = Evaluate(env, v1Config())
	require.Equal(t, ReasonInsufficientLiquidity, r.Reason)
}

func TestNegativeOBIDeepPassesLiquidity(t *testing.T) {
	env := passingEnv()
	env.Legacy.OBIDeep = -0.3
	r := Evaluate(env, v1Config())
	require.True(t, r.Passed, "liquidity check uses |obi_deep|")
}

func TestPurity(t *testing.T) {
	env := passingEnv()
	cfg := v1Config()
	a := Evaluate(env, cfg)
	b := Evaluate(env, cfg)
	require.Equal(t, a, b)
}
