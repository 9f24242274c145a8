package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for VaultLedger.
type Metrics struct {
	// --- Engine ---
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreJournals       *prometheus.CounterVec
	CoreSequence       prometheus.Gauge
	CommandsExecuted   *prometheus.CounterVec
	CommandDuration    *prometheus.HistogramVec

	// --- Vault state ---
	VaultTotalWeight   prometheus.Gauge
	VaultStakedRecords prometheus.Gauge
	VaultHeldRevenue   prometheus.Gauge
	VaultTreasuryOwed  prometheus.Gauge
	VaultPrincipal     *prometheus.GaugeVec
	VaultCarry         *prometheus.GaugeVec
	VaultPaidTotal     prometheus.Counter
	VaultForfeitTotal  prometheus.Counter
	VaultClaimsCapped  prometheus.Counter
	VaultCycles        *prometheus.CounterVec
	VaultVenueRetries  *prometheus.CounterVec

	// --- Channel & backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency & ordering ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	DedupTier2Errors      prometheus.Counter
	ReplaySequenceGap     prometheus.Counter

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    prometheus.Gauge

	// --- Snapshot & replay ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   prometheus.Gauge
	ReplayEventsTotal prometheus.Counter
	ReplayDuration    prometheus.Gauge

	// --- Projection ---
	ProjectionUpdateDur *prometheus.HistogramVec
	ProjectionLastSeq   prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec

	// --- Ingestion ---
	IngestMessages *prometheus.CounterVec
	PublishErrors  prometheus.Counter

	// --- Scheduler ---
	SchedulerTicks *prometheus.CounterVec
}

// NewMetrics creates all metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith creates all metrics on reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05,
	}
	// commands include chain round trips
	commandBuckets := []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120}

	return &Metrics{
		CoreEventsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_core_events_applied_total",
			Help: "Events committed by the engine",
		}, []string{"event_type"}),

		CoreEventsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_core_events_rejected_total",
			Help: "Events rejected (duplicate, invariant)",
		}, []string{"event_type", "reason"}),

		CoreEventDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_core_event_apply_duration_seconds",
			Help:    "Time to commit a single event",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreJournals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_core_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		CoreSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_core_sequence",
			Help: "Next sequence the engine will assign",
		}),

		CommandsExecuted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_commands_executed_total",
			Help: "Commands executed by outcome",
		}, []string{"kind", "outcome"}),

		CommandDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_command_duration_seconds",
			Help:    "Command execution time including collaborator calls",
			Buckets: commandBuckets,
		}, []string{"kind"}),

		VaultTotalWeight: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_total_weight",
			Help: "Sum of staked record weights",
		}),

		VaultStakedRecords: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_staked_records",
			Help: "Number of staked records",
		}),

		VaultHeldRevenue: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_held_revenue_base_units",
			Help: "Revenue held while no weight was staked, plus rounding dust",
		}),

		VaultTreasuryOwed: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_treasury_owed_base_units",
			Help: "Tax booked but not yet swept",
		}),

		VaultPrincipal: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_principal_base_units",
			Help: "Principal retained in the vault",
		}, []string{"asset"}),

		VaultCarry: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_carry_base_units",
			Help: "Harvested fees from aborted cycles awaiting the next cycle",
		}, []string{"asset"}),

		VaultPaidTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_rewards_paid_base_units_total",
			Help: "Settlement asset paid to stakers",
		}),

		VaultForfeitTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_rewards_forfeited_base_units_total",
			Help: "Entitlement forfeited on capped unstakes",
		}),

		VaultClaimsCapped: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_claims_capped_total",
			Help: "Claims scaled down by the settlement balance guard",
		}),

		VaultCycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_rebalance_cycles_total",
			Help: "Rebalance cycles by outcome",
		}, []string{"outcome"}),

		VaultVenueRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_venue_retries_total",
			Help: "Retried venue calls",
		}, []string{"op"}),

		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_channel_size",
			Help: "Current channel buffer usage",
		}, []string{"channel"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_channel_capacity",
			Help: "Channel buffer capacity",
		}, []string{"channel"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vault_channel_utilization_ratio",
			Help: "Channel utilization (size/capacity)",
		}, []string{"channel"}),

		ProjectionDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_projection_drops_total",
			Help: "Outputs dropped because the projection channel was full",
		}, []string{"event_type"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_publish_drops_total",
			Help: "Outbound events dropped because the publish channel was full",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_backpressure_total",
			Help: "Times the engine blocked on a full persist channel",
		}),

		IdempotencyDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_idempotency_duplicates_total",
			Help: "Duplicate requests by dedup tier",
		}, []string{"tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_dedup_lru_size",
			Help: "Idempotency LRU entries",
		}),

		DedupLRUEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_dedup_lru_evictions_total",
			Help: "Idempotency LRU evictions",
		}),

		DedupTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_dedup_tier2_errors_total",
			Help: "Postgres dedup lookups that failed",
		}),

		ReplaySequenceGap: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_replay_sequence_gaps_total",
			Help: "Gaps or hash breaks found while replaying the event log",
		}),

		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_events_written_total",
			Help: "Events written to the event log",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_journals_written_total",
			Help: "Journal entries written",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_persist_batch_size",
			Help:    "Events per persisted batch",
			Buckets: []float64{1, 5, 10, 50, 100, 250, 500, 1000},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_persist_batch_duration_seconds",
			Help:    "Time to write one batch",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_persist_errors_total",
			Help: "Persistence errors by operation",
		}, []string{"operation"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_persist_retries_total",
			Help: "Persistence batch retries",
		}),

		PersistLastSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_persist_last_sequence",
			Help: "Last sequence durably written",
		}),

		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_snapshots_taken_total",
			Help: "Snapshots written",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vault_snapshot_duration_seconds",
			Help:    "Time to write a snapshot",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_snapshot_size_bytes",
			Help: "Size of the last snapshot",
		}),

		SnapshotLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_snapshot_last_sequence",
			Help: "Sequence of the last snapshot",
		}),

		ReplayEventsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_replay_events_total",
			Help: "Events replayed during recovery",
		}),

		ReplayDuration: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_replay_duration_seconds",
			Help: "Duration of the last recovery replay",
		}),

		ProjectionUpdateDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_projection_update_duration_seconds",
			Help:    "Time to update projections for one event",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5},
		}, []string{"event_type"}),

		ProjectionLastSeq: f.NewGauge(prometheus.GaugeOpts{
			Name: "vault_projection_last_sequence",
			Help: "Projection watermark",
		}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_query_requests_total",
			Help: "Query API requests",
		}, []string{"method"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vault_query_duration_seconds",
			Help:    "Query API latency",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"method"}),

		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_query_errors_total",
			Help: "Query API errors by status code",
		}, []string{"method", "code"}),

		IngestMessages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_ingest_messages_total",
			Help: "Inbound command messages by kind and disposition",
		}, []string{"kind", "disposition"}),

		PublishErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "vault_publish_errors_total",
			Help: "Outbound event publishes that failed",
		}),

		SchedulerTicks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "vault_scheduler_ticks_total",
			Help: "Rebalance scheduler ticks by outcome",
		}, []string{"outcome"}),
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
