package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for CoverPool.
type Metrics struct {
	// --- Core Processing ---
	CoreCommandsApplied  *prometheus.CounterVec
	CoreCommandsRejected *prometheus.CounterVec
	CoreCommandDuration  *prometheus.HistogramVec
	CoreJournals         *prometheus.CounterVec
	CoreStateHashDur     prometheus.Histogram
	CoreSequence         prometheus.Gauge
	CoreWeek             prometheus.Gauge

	// --- Latency ---
	IngestToApply       *prometheus.HistogramVec
	PersistBatchDur     prometheus.Histogram
	ProjectionUpdateDur *prometheus.HistogramVec

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency & Ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	DedupTier2Duration    prometheus.Histogram
	DedupTier2Errors      prometheus.Counter
	WeekRegressions       *prometheus.CounterVec

	// --- Pool ---
	PoolCollateral     prometheus.Gauge
	PoolTotalShares    prometheus.Gauge
	PoolAmountPerShare prometheus.Gauge
	PoolProviders      prometheus.Gauge
	PremiumPaid        prometheus.Counter
	PremiumAccrued     prometheus.Counter
	ManagementFees     *prometheus.CounterVec
	RefundsReserved    prometheus.Counter
	RefundsPaid        prometheus.Counter
	ClaimsPaid         prometheus.Counter
	WithdrawalsPaid    prometheus.Counter
	WithdrawalFees     prometheus.Counter
	GovernanceRequests *prometheus.CounterVec

	// --- Keeper ---
	KeeperRuns     *prometheus.CounterVec
	KeeperDuration *prometheus.HistogramVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry registers on reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not collide.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	ingestBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		// Core Processing
		CoreCommandsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coverpool_core_commands_applied_total",
			Help: "Commands successfully applied by core",
		}, []string{"command"}),

		CoreCommandsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coverpool_core_commands_rejected_total",
			Help: "Commands rejected (dedup, week order, validation)",
		}, []string{"command", "reason"}),

		CoreCommandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coverpool_core_command_apply_duration_seconds",
			Help:    "Time to apply a single command in core",
			Buckets: latencyBuckets,
		}, []string{"command"}),

		CoreJournals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coverpool_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreStateHashDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "coverpool_core_state_hash_duration_seconds",
			Help:    "Time to compute state hash",
			Buckets: latencyBuckets,
		}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "coverpool_core_sequence",
			Help: "Current global sequence number",
		}),

		CoreWeek: f.NewGauge(prometheus.GaugeOpts{
			Name: "coverpool_core_week",
			Help: "Latest week applied by core",
		}),

		// Latency
		IngestToApply: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coverpool_ingest_to_apply_seconds",
			Help:    "Command receive to core apply complete",
			Buckets: ingestBuckets,
		}, []string{"source"}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "coverpool_persist_batch_duration_seconds",
			Help:    "Time to commit one persistence batch",
			Buckets: prometheus.DefBuckets,
		}),

		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coverpool_projection_update_duration_seconds",
			Help:    "Time to apply one output to a projection",
			Buckets: prometheus.DefBuckets,
		}, []string{"projection"}),

		// Channel & Backpressure
		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coverpool_channel_size",
			Help: "Current items in channel",
		}, []string{"channel"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coverpool_channel_capacity",
			Help: "Channel buffer capacity",
		}, []string{"channel"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "coverpool_channel_utilization",
			Help: "Channel size / capacity",
		}, []string{"channel"}),

		ProjectionDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coverpool_projection_drops_total",
			Help: "Outputs dropped because the projection channel was full",
		}, []string{"projection"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "coverpool_publish_drops_total",
			Help: "Outbound pool events that failed to publish",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "coverpool_persist_backpressure_total",
			Help: "Times core blocked on a full persist channel",
		}),

		// Idempotency & Ordering
		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coverpool_idempotency_duplicates_total",
			Help: "Duplicate commands detected",
		}, []string{"command", "tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "coverpool_dedup_lru_size",
			Help: "Current LRU entry count",
		}),

		DedupLRUEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "coverpool_dedup_lru_evictions_total",
			Help: "LRU evictions",
		}),

		DedupTier2Duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "coverpool_dedup_tier2_lookup_seconds",
			Help:    "Postgres dedup lookup latency",
			Buckets: prometheus.DefBuckets,
		}),

		DedupTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "coverpool_dedup_tier2_errors_total",
			Help: "Postgres dedup lookups that failed",
		}),

		WeekRegressions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coverpool_week_regressions_total",
			Help: "Commands carrying a week earlier than the last applied week",
		}, []string{"command", "action"}),

		// Pool
		PoolCollateral: f.NewGauge(prometheus.GaugeOpts{
			Name: "coverpool_pool_collateral",
			Help: "Total base value of the pool",
		}),

		PoolTotalShares: f.NewGauge(prometheus.GaugeOpts{
			Name: "coverpool_pool_total_shares",
			Help: "Outstanding pool shares",
		}),

		PoolAmountPerShare: f.NewGauge(prometheus.GaugeOpts{
			Name: "coverpool_pool_amount_per_share",
			Help: "Base value per share",
		}),

		PoolProviders: f.NewGauge(prometheus.GaugeOpts{
			Name: "coverpool_pool_providers",
			Help: "Capital providers known to the pool",
		}),

		PremiumPaid: f.NewCounter(prometheus.CounterOpts{
			Name: "coverpool_premium_paid_total",
			Help: "Premium pulled from buyers into escrow",
		}),

		PremiumAccrued: f.NewCounter(prometheus.CounterOpts{
			Name: "coverpool_premium_accrued_total",
			Help: "Premium recognized into the pool",
		}),

		ManagementFees: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coverpool_management_fees_total",
			Help: "Management fees by tier",
		}, []string{"tier"}),

		RefundsReserved: f.NewCounter(prometheus.CounterOpts{
			Name: "coverpool_refunds_reserved_total",
			Help: "Premium held back at accrual for over-capacity weeks",
		}),

		RefundsPaid: f.NewCounter(prometheus.CounterOpts{
			Name: "coverpool_refunds_paid_total",
			Help: "Premium refunded to buyers",
		}),

		ClaimsPaid: f.NewCounter(prometheus.CounterOpts{
			Name: "coverpool_claims_paid_total",
			Help: "Claim payouts executed",
		}),

		WithdrawalsPaid: f.NewCounter(prometheus.CounterOpts{
			Name: "coverpool_withdrawals_paid_total",
			Help: "Net withdrawal amounts paid to providers",
		}),

		WithdrawalFees: f.NewCounter(prometheus.CounterOpts{
			Name: "coverpool_withdrawal_fees_total",
			Help: "Withdrawal fees retained by the pool",
		}),

		GovernanceRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coverpool_governance_requests_total",
			Help: "Governance requests by kind and transition",
		}, []string{"kind", "transition"}),

		// Keeper
		KeeperRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coverpool_keeper_runs_total",
			Help: "Keeper job executions",
		}, []string{"job", "outcome"}),

		KeeperDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coverpool_keeper_duration_seconds",
			Help:    "Keeper job duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),

		// Persistence
		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "coverpool_persist_events_written_total",
			Help: "Event envelopes written to Postgres",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "coverpool_persist_journals_written_total",
			Help: "Journal rows written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "coverpool_persist_batch_size",
			Help:    "Outputs per persistence batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coverpool_persist_errors_total",
			Help: "Persistence failures by operation",
		}, []string{"op"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "coverpool_persist_retry_total",
			Help: "Persistence batch retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "coverpool_persist_last_sequence",
			Help: "Highest sequence committed to Postgres",
		}),

		// Snapshot
		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "coverpool_snapshot_taken_total",
			Help: "Snapshots written",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "coverpool_snapshot_duration_seconds",
			Help:    "Time to capture and write a snapshot",
			Buckets: prometheus.DefBuckets,
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "coverpool_snapshot_size_bytes",
			Help: "Size of the latest snapshot",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "coverpool_snapshot_last_sequence",
			Help: "Sequence of the latest snapshot",
		}),

		ReplayEventsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "coverpool_replay_events_total",
			Help: "Events replayed during recovery",
		}),

		ReplayDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "coverpool_replay_duration_seconds",
			Help: "Duration of the last recovery replay",
		}),

		// Query API
		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coverpool_query_requests_total",
			Help: "Query API requests",
		}, []string{"route"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "coverpool_query_duration_seconds",
			Help:    "Query API latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),

		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "coverpool_query_errors_total",
			Help: "Query API errors",
		}, []string{"route", "code"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
