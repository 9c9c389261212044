package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
feed:
  symbols: [BTCUSDT, ETHUSDT]
`)
	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, c.Feed.Symbols)
	require.Equal(t, "V1", c.Gate.Mode)
	require.EqualValues(t, 250, c.Feed.BroadcastThrottleMS)
	require.EqualValues(t, 100, c.Feed.MaxGapTolerance)
	require.EqualValues(t, 5_000, c.Logger.QueueLimit)
	require.EqualValues(t, 200, c.Logger.DropHaltThreshold)
	require.Equal(t, []int64{60, 300, 900}, c.Feed.CVDTimeframesSec)
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
gate:
  mode: V2
  max_network_latency_ms: 150
decision:
  initial_margin_usdt: 25
  max_leverage: 10
`)
	c, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "V2", c.Gate.Mode)
	require.EqualValues(t, 150, c.Gate.MaxNetworkLatencyMS)
	require.Equal(t, 25.0, c.Decision.InitialMarginUSDT)
	require.Equal(t, 10.0, c.Decision.MaxLeverage)
}

func TestLoadRejectsBadMode(t *testing.T) {
	path := writeConfig(t, "gate:\n  mode: V3\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsInvertedBounds(t *testing.T) {
	path := writeConfig(t, `
decision:
  cooldown_min_ms: 10000
  cooldown_max_ms: 500
`)
	_, err := Load(path)
	require.Error(t, err)
}
