package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for MarginLedger. A nil *Metrics is
// valid everywhere it is accepted and records nothing.
type Metrics struct {
	// --- Engine ---
	CommandsApplied  *prometheus.CounterVec
	CommandsRejected *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	OplogID          prometheus.Gauge
	StateHashDur     prometheus.Histogram
	OpenPositions    prometheus.Gauge
	PendingOrders    prometheus.Gauge

	ConsistencyErrors *prometheus.CounterVec

	// --- Monitors ---
	MonitorRuns     *prometheus.CounterVec
	MonitorDuration *prometheus.HistogramVec
	MonitorSkipped  *prometheus.CounterVec
	AutoClosed      *prometheus.CounterVec

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Tick feed ---
	TicksReceived  prometheus.Counter
	TicksRejected  *prometheus.CounterVec
	FeedReconnects prometheus.Counter

	// --- Persistence ---
	PersistEntriesWritten prometheus.Counter
	PersistBatchSize      prometheus.Histogram
	PersistBatchDur       prometheus.Histogram
	PersistErrors         *prometheus.CounterVec
	PersistRetry          prometheus.Counter
	PersistLastID         prometheus.Gauge

	// --- Snapshot & replay ---
	SnapshotTaken      prometheus.Counter
	SnapshotDuration   prometheus.Histogram
	SnapshotSizeBytes  prometheus.Gauge
	SnapshotLastID     prometheus.Gauge
	ReplayEntriesTotal prometheus.Counter
	ReplayDuration     prometheus.Gauge

	// --- RPC ---
	RPCRequests *prometheus.CounterVec
	RPCDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers on reg, so tests can use a private registry.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Engine
		CommandsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marginledger_commands_applied_total",
			Help: "Commands applied and logged by the engine",
		}, []string{"method"}),

		CommandsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marginledger_commands_rejected_total",
			Help: "Commands rejected with a non-zero code",
		}, []string{"method", "code"}),

		CommandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marginledger_command_apply_duration_seconds",
			Help:    "Time to apply a single command",
			Buckets: latencyBuckets,
		}, []string{"method"}),

		OplogID: f.NewGauge(prometheus.GaugeOpts{
			Name: "marginledger_oplog_id",
			Help: "Id of the last op-log entry applied",
		}),

		StateHashDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "marginledger_state_hash_duration_seconds",
			Help:    "Time to chain one entry into the state hash",
			Buckets: latencyBuckets,
		}),

		OpenPositions: f.NewGauge(prometheus.GaugeOpts{
			Name: "marginledger_open_positions",
			Help: "Open positions across all symbols",
		}),

		PendingOrders: f.NewGauge(prometheus.GaugeOpts{
			Name: "marginledger_pending_orders",
			Help: "Pending limit and break orders across all symbols",
		}),

		ConsistencyErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marginledger_consistency_errors_total",
			Help: "Postings that failed after a command had committed",
		}, []string{"op"}),

		// Monitors
		MonitorRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marginledger_monitor_runs_total",
			Help: "Monitor sweeps executed",
		}, []string{"monitor"}),

		MonitorDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marginledger_monitor_duration_seconds",
			Help:    "Monitor sweep duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"monitor"}),

		MonitorSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marginledger_monitor_skipped_total",
			Help: "Monitor ticks skipped because the previous sweep was still running",
		}, []string{"monitor"}),

		AutoClosed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marginledger_auto_closed_total",
			Help: "Orders closed, activated or cancelled by a monitor",
		}, []string{"reason"}),

		// Channel & Backpressure
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marginledger_channel_size",
			Help: "Current channel buffer usage",
		}, []string{"channel"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marginledger_channel_capacity",
			Help: "Channel buffer capacity",
		}, []string{"channel"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marginledger_channel_utilization_ratio",
			Help: "Channel size / capacity",
		}, []string{"channel"}),

		ProjectionDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marginledger_projection_drops_total",
			Help: "Notifications dropped because the projection channel was full",
		}, []string{"channel"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "marginledger_publish_drops_total",
			Help: "Notifications the publisher failed to deliver",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "marginledger_persist_backpressure_total",
			Help: "Times the engine blocked on a full persist channel",
		}),

		// Tick feed
		TicksReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "marginledger_ticks_received_total",
			Help: "Quotes accepted from the tick feed",
		}),

		TicksRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marginledger_ticks_rejected_total",
			Help: "Quotes dropped by the tick feed",
		}, []string{"reason"}),

		FeedReconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "marginledger_feed_reconnects_total",
			Help: "Tick feed reconnect attempts",
		}),

		// Persistence
		PersistEntriesWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "marginledger_persist_entries_written_total",
			Help: "Op-log entries committed",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "marginledger_persist_batch_size",
			Help:    "Entries per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "marginledger_persist_batch_duration_seconds",
			Help:    "Op-log batch write time",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marginledger_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "marginledger_persist_retry_total",
			Help: "Persistence retries",
		}),

		PersistLastID: f.NewGauge(prometheus.GaugeOpts{
			Name: "marginledger_persist_last_id",
			Help: "Last persisted op-log id",
		}),

		// Snapshot & replay
		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "marginledger_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "marginledger_snapshot_duration_seconds",
			Help:    "Snapshot creation time",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "marginledger_snapshot_size_bytes",
			Help: "Last snapshot size",
		}),

		SnapshotLastID: f.NewGauge(prometheus.GaugeOpts{
			Name: "marginledger_snapshot_last_id",
			Help: "Op-log id covered by the last snapshot",
		}),

		ReplayEntriesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "marginledger_replay_entries_total",
			Help: "Op-log entries replayed on startup",
		}),

		ReplayDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "marginledger_replay_duration_seconds",
			Help: "Total replay time",
		}),

		// RPC
		RPCRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "marginledger_rpc_requests_total",
			Help: "RPC requests by result code",
		}, []string{"method", "code"}),

		RPCDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marginledger_rpc_duration_seconds",
			Help:    "RPC latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"method"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	if m == nil {
		return
	}
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
