package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Feed struct {
	WSURL                 string   `yaml:"ws_url"`
	RESTURL               string   `yaml:"rest_url"`
	Symbols               []string `yaml:"symbols"`
	TradeWindowMS         int64    `yaml:"trade_window_ms"`
	BroadcastThrottleMS   int64    `yaml:"broadcast_throttle_ms"`
	SnapshotMinIntervalMS int64    `yaml:"snapshot_min_interval_ms"`
	SnapshotBackoffMinMS  int64    `yaml:"snapshot_backoff_min_ms"`
	SnapshotBackoffMaxMS  int64    `yaml:"snapshot_backoff_max_ms"`
	MaxGapTolerance       int64    `yaml:"max_gap_tolerance"`
	CVDTimeframesSec      []int64  `yaml:"cvd_timeframes_sec"`
	ReconnectDelayMS      int64    `yaml:"reconnect_delay_ms"`
	OIPollIntervalMS      int64    `yaml:"oi_poll_interval_ms"`
}

type Gate struct {
	Mode                string  `yaml:"mode"` // V1 | V2
	MaxSpreadPct        float64 `yaml:"max_spread_pct"`
	MinOBIDeep          float64 `yaml:"min_obi_deep"`
	MaxNetworkLatencyMS int64   `yaml:"max_network_latency_ms"` // V2 only
}

type Decision struct {
	InitialMarginUSDT float64 `yaml:"initial_margin_usdt"`
	MaxLeverage       float64 `yaml:"max_leverage"`
	CooldownMinMS     int64   `yaml:"cooldown_min_ms"`
	CooldownMaxMS     int64   `yaml:"cooldown_max_ms"`
}

type Logger struct {
	QueueLimit        int   `yaml:"queue_limit"`
	DropHaltThreshold int64 `yaml:"drop_halt_threshold"`
}

type Execution struct {
	Enabled bool     `yaml:"enabled"`
	Symbols []string `yaml:"symbols"` // empty = accept all observed symbols
}

type Paper struct {
	LatencyMsMin   int `yaml:"latency_ms_min"`
	LatencyMsMax   int `yaml:"latency_ms_max"`
	SlippageBpsMin int `yaml:"slippage_bps_min"`
	SlippageBpsMax int `yaml:"slippage_bps_max"`
}

type Root struct {
	LogLevel   string    `yaml:"log_level"`
	ListenAddr string    `yaml:"listen_addr"`
	LogsDir    string    `yaml:"logs_dir"`
	Feed       Feed      `yaml:"feed"`
	Gate       Gate      `yaml:"gate"`
	Decision   Decision  `yaml:"decision"`
	Logger     Logger    `yaml:"logger"`
	Execution  Execution `yaml:"execution"`
	Paper      Paper     `yaml:"paper"`
}

func Load(path string) (Root, error) {
	var c Root
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	c.applyDefaults()
	if err := c.validate(); err != nil {
		return c, err
	}
	return c, nil
}

// Default returns a Root with every default applied and no symbols.
func Default() Root {
	var c Root
	c.applyDefaults()
	return c
}

func (c *Root) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ListenAddr == "" {
		c.ListenAddr = ":8080"
	}
	if c.LogsDir == "" {
		c.LogsDir = "logs"
	}
	if c.Feed.WSURL == "" {
		c.Feed.WSURL = "wss://fstream.binance.com/stream"
	}
	if c.Feed.RESTURL == "" {
		c.Feed.RESTURL = "https://fapi.binance.com"
	}
	if c.Feed.TradeWindowMS == 0 {
		c.Feed.TradeWindowMS = 60_000
	}
	if c.Feed.BroadcastThrottleMS == 0 {
		c.Feed.BroadcastThrottleMS = 250
	}
	if c.Feed.SnapshotMinIntervalMS == 0 {
		c.Feed.SnapshotMinIntervalMS = 60_000
	}
	if c.Feed.SnapshotBackoffMinMS == 0 {
		c.Feed.SnapshotBackoffMinMS = 5_000
	}
	if c.Feed.SnapshotBackoffMaxMS == 0 {
		c.Feed.SnapshotBackoffMaxMS = 120_000
	}
	if c.Feed.MaxGapTolerance == 0 {
		c.Feed.MaxGapTolerance = 100
	}
	if len(c.Feed.CVDTimeframesSec) == 0 {
		c.Feed.CVDTimeframesSec = []int64{60, 300, 900}
	}
	if c.Feed.ReconnectDelayMS == 0 {
		c.Feed.ReconnectDelayMS = 5_000
	}
	if c.Feed.OIPollIntervalMS == 0 {
		c.Feed.OIPollIntervalMS = 60_000
	}
	if c.Gate.Mode == "" {
		c.Gate.Mode = "V1"
	}
	if c.Gate.MaxSpreadPct == 0 {
		c.Gate.MaxSpreadPct = 0.08
	}
	if c.Gate.MinOBIDeep == 0 {
		c.Gate.MinOBIDeep = 0.05
	}
	if c.Gate.MaxNetworkLatencyMS == 0 {
		c.Gate.MaxNetworkLatencyMS = 1_000
	}
	if c.Decision.InitialMarginUSDT == 0 {
		c.Decision.InitialMarginUSDT = 50
	}
	if c.Decision.MaxLeverage == 0 {
		c.Decision.MaxLeverage = 5
	}
	if c.Decision.CooldownMinMS == 0 {
		c.Decision.CooldownMinMS = 2_000
	}
	if c.Decision.CooldownMaxMS == 0 {
		c.Decision.CooldownMaxMS = 60_000
	}
	if c.Logger.QueueLimit == 0 {
		c.Logger.QueueLimit = 5_000
	}
	if c.Logger.DropHaltThreshold == 0 {
		c.Logger.DropHaltThreshold = 200
	}
	if c.Paper.LatencyMsMax == 0 {
		c.Paper.LatencyMsMax = 150
	}
	if c.Paper.SlippageBpsMax == 0 {
		c.Paper.SlippageBpsMax = 5
	}
}

func (c *Root) validate() error {
	if c.Gate.Mode != "V1" && c.Gate.Mode != "V2" {
		return fmt.Errorf("gate.mode must be V1 or V2, got %q", c.Gate.Mode)
	}
	if c.Feed.SnapshotBackoffMinMS > c.Feed.SnapshotBackoffMaxMS {
		return fmt.Errorf("snapshot backoff bounds inverted: %d > %d",
			c.Feed.SnapshotBackoffMinMS, c.Feed.SnapshotBackoffMaxMS)
	}
	if c.Decision.CooldownMinMS > c.Decision.CooldownMaxMS {
		return fmt.Errorf("cooldown bounds inverted: %d > %d",
			c.Decision.CooldownMinMS, c.Decision.CooldownMaxMS)
	}
	return nil
}
