package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for LootLedger.
type Metrics struct {
	// --- Draws & selection ---
	DrawsGenerated    prometheus.Counter
	DrawVerifications *prometheus.CounterVec
	SelectionsTotal   *prometheus.CounterVec
	SelectionDuration prometheus.Histogram

	// --- Price locks ---
	LocksCreated     prometheus.Counter
	LockValidations  *prometheus.CounterVec
	LockSweepEvicted prometheus.Counter
	LocksActive      prometheus.Gauge

	// --- Transaction validation & replay ---
	TxValidations        *prometheus.CounterVec
	ReplayRejections     *prometheus.CounterVec
	ReplayEntries        prometheus.Gauge
	ReplaySweepEvicted   prometheus.Counter
	ReplayTier2Duration  prometheus.Histogram
	OnchainVerifications *prometheus.CounterVec

	// --- Settlement ---
	OutcomesOpened    *prometheus.CounterVec
	Decisions         *prometheus.CounterVec
	SettledMinorUnits *prometheus.CounterVec
	DecisionDuration  *prometheus.HistogramVec

	// --- External calls ---
	ExternalCallDuration *prometheus.HistogramVec
	ExternalCallRetries  *prometheus.CounterVec
	ExternalCallFailures *prometheus.CounterVec

	// --- Event log persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchSize     prometheus.Histogram
	PersistBatchDur      prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistRetry         prometheus.Counter

	// --- Channels ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	PublishDrops       prometheus.Counter
	ProjectionDrops    prometheus.Counter

	// --- Balance projection ---
	ProjectionBatches *prometheus.CounterVec

	// --- Ingestion ---
	PaymentEventsReceived *prometheus.CounterVec

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics on the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers metrics on reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not collide.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	fastBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}
	networkBuckets := []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

	return &Metrics{
		DrawsGenerated: f.NewCounter(prometheus.CounterOpts{
			Name: "loot_draws_generated_total",
			Help: "Random draws generated",
		}),

		DrawVerifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "loot_draw_verifications_total",
			Help: "Draw verifications by result",
		}, []string{"result"}),

		SelectionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "loot_selections_total",
			Help: "Weighted selections per offering",
		}, []string{"offering_id"}),

		SelectionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "loot_selection_duration_seconds",
			Help:    "Time to walk a weighted pool",
			Buckets: fastBuckets,
		}),

		LocksCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "loot_price_locks_created_total",
			Help: "Price locks created or overwritten",
		}),

		LockValidations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "loot_price_lock_validations_total",
			Help: "Price lock validations by result code",
		}, []string{"result"}),

		LockSweepEvicted: f.NewCounter(prometheus.CounterOpts{
			Name: "loot_price_lock_sweep_evicted_total",
			Help: "Locks evicted by the background sweep",
		}),

		LocksActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "loot_price_locks_active",
			Help: "Unused, unexpired locks at last sweep",
		}),

		TxValidations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "loot_tx_validations_total",
			Help: "Transaction validations by stage and result",
		}, []string{"stage", "result"}),

		ReplayRejections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "loot_replay_rejections_total",
			Help: "Replayed signatures caught (store/postgres)",
		}, []string{"tier"}),

		ReplayEntries: f.NewGauge(prometheus.GaugeOpts{
			Name: "loot_replay_entries",
			Help: "Processed signatures held in memory",
		}),

		ReplaySweepEvicted: f.NewCounter(prometheus.CounterOpts{
			Name: "loot_replay_sweep_evicted_total",
			Help: "Processed signatures evicted after TTL",
		}),

		ReplayTier2Duration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "loot_replay_tier2_duration_seconds",
			Help:    "Postgres signature lookup latency",
			Buckets: networkBuckets,
		}),

		OnchainVerifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "loot_onchain_verifications_total",
			Help: "Post-submission ledger re-verifications by result",
		}, []string{"result"}),

		OutcomesOpened: f.NewCounterVec(prometheus.CounterOpts{
			Name: "loot_outcomes_opened_total",
			Help: "Settlement outcomes opened",
		}, []string{"offering_id"}),

		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "loot_decisions_total",
			Help: "Decisions by choice and result",
		}, []string{"choice", "result"}),

		SettledMinorUnits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "loot_buyback_settled_minor_units_total",
			Help: "Buyback amounts paid out in minor units",
		}, []string{"currency"}),

		DecisionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loot_decision_duration_seconds",
			Help:    "End-to-end decision latency",
			Buckets: networkBuckets,
		}, []string{"choice"}),

		ExternalCallDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loot_external_call_duration_seconds",
			Help:    "Latency of a single external call attempt",
			Buckets: networkBuckets,
		}, []string{"call"}),

		ExternalCallRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "loot_external_call_retries_total",
			Help: "External call retries",
		}, []string{"call"}),

		ExternalCallFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "loot_external_call_failures_total",
			Help: "External calls that exhausted the retry budget",
		}, []string{"call"}),

		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "loot_persist_events_written_total",
			Help: "Settlement events written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "loot_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "loot_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "loot_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "loot_persist_retry_total",
			Help: "Persistence retries",
		}),

		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "loot_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "loot_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "loot_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "loot_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		ProjectionDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "loot_projection_drops_total",
			Help: "Events dropped due to full projection channel",
		}),

		ProjectionBatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "loot_projection_batches_total",
			Help: "Journal batches seen by the balance projection by result",
		}, []string{"result"}),

		PaymentEventsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "loot_payment_events_received_total",
			Help: "Inbound payment confirmations by result",
		}, []string{"result"}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "loot_query_requests_total",
			Help: "HTTP requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loot_query_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: networkBuckets,
		}, []string{"endpoint"}),
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
