package observ

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the process-wide instrument set. A single instance is wired
// through the feed, orchestrator and logger at startup.
type Metrics struct {
	DiffsApplied    *prometheus.CounterVec
	DiffsDropped    *prometheus.CounterVec
	DiffsBuffered   *prometheus.CounterVec
	Desyncs         *prometheus.CounterVec
	SnapshotFetches *prometheus.CounterVec
	SnapshotErrors  *prometheus.CounterVec
	Broadcasts      *prometheus.CounterVec
	GateRejects     *prometheus.CounterVec
	DecisionActions *prometheus.CounterVec
	OrdersPlaced    *prometheus.CounterVec
	ConnectorErrors *prometheus.CounterVec
	LoggerDrops     prometheus.Counter
	LoggerQueueLen  prometheus.Gauge
	BookState       *prometheus.GaugeVec
	ActorQueueDepth *prometheus.GaugeVec
	FeedReconnects  prometheus.Counter
	WSClients       prometheus.Gauge

	reg *prometheus.Registry
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		DiffsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "book_diffs_applied_total", Help: "Depth diffs applied to the book.",
		}, []string{"symbol"}),
		DiffsDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "book_diffs_dropped_total", Help: "Stale depth diffs dropped as benign.",
		}, []string{"symbol"}),
		DiffsBuffered: f.NewCounterVec(prometheus.CounterOpts{
			Name: "book_diffs_buffered_total", Help: "Depth diffs buffered while unseeded or resyncing.",
		}, []string{"symbol"}),
		Desyncs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "book_desyncs_total", Help: "Sequence desyncs beyond the tolerant gap.",
		}, []string{"symbol"}),
		SnapshotFetches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "snapshot_fetches_total", Help: "REST depth snapshot fetches by outcome.",
		}, []string{"symbol", "outcome"}),
		SnapshotErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "snapshot_errors_total", Help: "REST depth snapshot failures by kind.",
		}, []string{"symbol", "kind"}),
		Broadcasts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "broadcasts_total", Help: "Metric envelopes emitted past the throttle.",
		}, []string{"symbol", "reason"}),
		GateRejects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gate_rejects_total", Help: "Gate failures by reason.",
		}, []string{"symbol", "reason"}),
		DecisionActions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "decision_actions_total", Help: "Decision actions emitted by type.",
		}, []string{"symbol", "type"}),
		OrdersPlaced: f.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_placed_total", Help: "Orders submitted to the execution venue.",
		}, []string{"symbol", "side"}),
		ConnectorErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "connector_errors_total", Help: "Execution connector call failures.",
		}, []string{"symbol", "op"}),
		LoggerDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "logger_drops_total", Help: "JSONL entries dropped on queue overflow.",
		}),
		LoggerQueueLen: f.NewGauge(prometheus.GaugeOpts{
			Name: "logger_queue_len", Help: "Current logger queue length.",
		}),
		BookState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "book_state", Help: "Book lifecycle state (0 unseeded, 1 resyncing, 2 live, 3 stale).",
		}, []string{"symbol"}),
		ActorQueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "actor_queue_depth", Help: "Pending envelopes per symbol actor.",
		}, []string{"symbol"}),
		FeedReconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "feed_reconnects_total", Help: "Market data stream reconnects.",
		}),
		WSClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "ws_clients", Help: "Connected fan-out WebSocket clients.",
		}),
		reg: reg,
	}
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }
