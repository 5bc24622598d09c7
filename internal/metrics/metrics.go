// Package metrics provides Prometheus metrics for the candle indexer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "candle_indexer"

// Metrics holds all Prometheus metrics for the indexer.
type Metrics struct {
	// Event metrics
	EventsProcessed *prometheus.CounterVec
	EventsSkipped   *prometheus.CounterVec
	EventErrors     *prometheus.CounterVec
	EventLatency    *prometheus.HistogramVec

	// Candle metrics
	CandlesCreated    prometheus.Counter
	CandlesUpdated    prometheus.Counter
	CandlesBackfilled prometheus.Counter

	// Price metrics
	PriceUnavailable prometheus.Counter
	ZeroPrices       *prometheus.CounterVec

	// Processor metrics
	LastProcessedBlock    prometheus.Gauge
	ChainHead             prometheus.Gauge
	SyncFailures          prometheus.Counter
	ConsecutiveSyncErrors prometheus.Gauge
}

// New registers every metric with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "processed_total",
			Help:      "Total number of events applied to candles by type",
		}, []string{"event_type"}),
		EventsSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "skipped_total",
			Help:      "Total number of events skipped by reason",
		}, []string{"reason"}),
		EventErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "errors_total",
			Help:      "Total number of events that failed and await redelivery",
		}, []string{"event_type"}),
		EventLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "latency_seconds",
			Help:      "Time to handle one event in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),

		CandlesCreated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "candles",
			Name:      "created_total",
			Help:      "Total number of candles created by trades",
		}),
		CandlesUpdated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "candles",
			Name:      "updated_total",
			Help:      "Total number of candle updates by trades",
		}),
		CandlesBackfilled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "candles",
			Name:      "backfilled_total",
			Help:      "Total number of empty candles created to fill gaps",
		}),

		PriceUnavailable: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "unavailable_total",
			Help:      "Total number of events whose on-chain price reads were exhausted",
		}),
		ZeroPrices: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pricing",
			Name:      "zero_total",
			Help:      "Total number of events priced at zero by type",
		}, []string{"event_type"}),

		LastProcessedBlock: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "last_processed_block",
			Help:      "Last block whose logs were fully handled",
		}),
		ChainHead: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "chain_head_block",
			Help:      "Latest block reported by the RPC endpoint",
		}),
		SyncFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "sync_failures_total",
			Help:      "Block ranges that failed and will be retried",
		}),
		ConsecutiveSyncErrors: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "processor",
			Name:      "consecutive_sync_errors",
			Help:      "Failed syncs since the last successful one",
		}),
	}
}

// NewNop returns metrics registered on a private registry, for tests and
// callers that do not export metrics.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
