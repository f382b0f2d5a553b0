package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for PowerVault.
type Metrics struct {
	// --- Engine ---
	CommandsApplied  *prometheus.CounterVec
	CommandsRejected *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	Journals         *prometheus.CounterVec
	Sequence         prometheus.Gauge

	// --- Vault economics ---
	NormalizationFactor prometheus.Gauge
	FundingApplied      prometheus.Counter
	VaultsOpen          prometheus.Gauge
	Liquidations        *prometheus.CounterVec
	SystemStatus        prometheus.Gauge
	PausesLeft          prometheus.Gauge

	// --- Channels & backpressure ---
	ChannelSize     *prometheus.GaugeVec
	ProjectionDrops *prometheus.CounterVec
	PublishDrops    prometheus.Counter
	BreakerState    *prometheus.GaugeVec

	// --- Idempotency & ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	NonceRegressions      prometheus.Counter

	// --- Ingestion ---
	IngestToApply *prometheus.HistogramVec
	PriceTicks    *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken    prometheus.Counter
	SnapshotDuration prometheus.Histogram
	SnapshotLastSeq  prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec

	// --- Risk solvers ---
	SolverRuns *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. Passing nil
// uses the process-wide default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000005, 0.00001, 0.000025, 0.00005, 0.0001,
		0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01, 0.05,
	}

	return &Metrics{
		CommandsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "powervault_commands_applied_total",
			Help: "Commands committed by the engine",
		}, []string{"command"}),

		CommandsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "powervault_commands_rejected_total",
			Help: "Commands rejected (dedup, nonce, validation)",
		}, []string{"command", "reason"}),

		CommandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "powervault_command_duration_seconds",
			Help:    "Time to execute one command",
			Buckets: latencyBuckets,
		}, []string{"command"}),

		Journals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "powervault_journals_total",
			Help: "Journal entries committed",
		}, []string{"journal_type"}),

		Sequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "powervault_sequence",
			Help: "Next global sequence number",
		}),

		NormalizationFactor: f.NewGauge(prometheus.GaugeOpts{
			Name: "powervault_normalization_factor",
			Help: "Current normalization factor (float approximation)",
		}),

		FundingApplied: f.NewCounter(prometheus.CounterOpts{
			Name: "powervault_funding_applied_total",
			Help: "Normalization factor updates",
		}),

		VaultsOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "powervault_vaults",
			Help: "Vault ids allocated",
		}),

		Liquidations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "powervault_liquidations_total",
			Help: "Liquidations by outcome",
		}, []string{"outcome"}),

		SystemStatus: f.NewGauge(prometheus.GaugeOpts{
			Name: "powervault_system_status",
			Help: "0 live, 1 paused, 2 shut down",
		}),

		PausesLeft: f.NewGauge(prometheus.GaugeOpts{
			Name: "powervault_pauses_left",
			Help: "Remaining owner pauses",
		}),

		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "powervault_channel_size",
			Help: "Current channel buffer usage",
		}, []string{"channel"}),

		ProjectionDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "powervault_projection_drops_total",
			Help: "Outputs dropped on the projection channel",
		}, []string{"projection"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "powervault_publish_drops_total",
			Help: "Outbound events dropped by the publisher",
		}),

		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "powervault_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		}, []string{"breaker"}),

		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "powervault_idempotency_duplicates_total",
			Help: "Duplicate commands by tier",
		}, []string{"command", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "powervault_dedup_lru_size",
			Help: "Idempotency LRU entries",
		}),

		NonceRegressions: f.NewCounter(prometheus.CounterOpts{
			Name: "powervault_nonce_regressions_total",
			Help: "Commands rejected for a stale caller nonce",
		}),

		IngestToApply: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "powervault_ingest_to_apply_seconds",
			Help:    "NATS receive to engine commit",
			Buckets: latencyBuckets,
		}, []string{"command"}),

		PriceTicks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "powervault_price_ticks_total",
			Help: "Pool observations ingested",
		}, []string{"pool"}),

		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "powervault_persist_events_written_total",
			Help: "Envelopes written to the event log",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "powervault_persist_journals_written_total",
			Help: "Journals written",
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "powervault_persist_batch_duration_seconds",
			Help:    "Postgres batch commit time",
			Buckets: prometheus.DefBuckets,
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "powervault_persist_errors_total",
			Help: "Persistence errors by stage",
		}, []string{"stage"}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "powervault_persist_last_sequence",
			Help: "Last sequence committed to Postgres",
		}),

		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "powervault_snapshot_taken_total",
			Help: "Snapshots written",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "powervault_snapshot_duration_seconds",
			Help:    "Snapshot write time",
			Buckets: prometheus.DefBuckets,
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "powervault_snapshot_last_sequence",
			Help: "Sequence of the latest snapshot",
		}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "powervault_query_requests_total",
			Help: "HTTP query requests",
		}, []string{"endpoint", "code"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "powervault_query_duration_seconds",
			Help:    "HTTP query latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),

		SolverRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "powervault_solver_runs_total",
			Help: "Risk solver runs by solver and convergence",
		}, []string{"solver", "converged"}),
	}
}

// SetChannelMetrics records channel usage for one named channel.
func (m *Metrics) SetChannelMetrics(name string, size int) {
	if m == nil {
		return
	}
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
}
