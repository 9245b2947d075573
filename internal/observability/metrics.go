package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the service exports. It satisfies the
// engine's Metrics interface and is shared with the persistence and
// projection workers.
type Metrics struct {
	opsProcessed    *prometheus.CounterVec
	opsSkipped      *prometheus.CounterVec
	processDuration *prometheus.HistogramVec

	projectionDropped prometheus.Counter
	projectionApplied prometheus.Counter

	persistBatchSize  prometheus.Histogram
	persistFlushes    prometheus.Counter
	persistRetries    prometheus.Counter
	persistedReceipts prometheus.Counter

	ingestParseFailures prometheus.Counter
	poolsTracked        prometheus.Gauge
}

// NewMetrics registers all collectors on reg and returns the bundle.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		opsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ammcore",
			Name:      "operations_processed_total",
			Help:      "Operations run through the engine, by type and outcome.",
		}, []string{"op_type", "outcome"}),
		opsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ammcore",
			Name:      "operations_skipped_total",
			Help:      "Operations acked without processing, by reason.",
		}, []string{"reason"}),
		processDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ammcore",
			Name:      "operation_duration_seconds",
			Help:      "End-to-end engine processing time per operation.",
			Buckets:   prometheus.ExponentialBuckets(50e-6, 2, 14),
		}, []string{"op_type"}),
		projectionDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ammcore",
			Name:      "projection_updates_dropped_total",
			Help:      "Pool updates dropped because the projection channel was full.",
		}),
		projectionApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ammcore",
			Name:      "projection_updates_applied_total",
			Help:      "Pool updates written to the projection tables.",
		}),
		persistBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ammcore",
			Name:      "persist_batch_size",
			Help:      "Receipts per persistence flush.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		persistFlushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ammcore",
			Name:      "persist_flushes_total",
			Help:      "Persistence flushes committed.",
		}),
		persistRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ammcore",
			Name:      "persist_retries_total",
			Help:      "Persistence flush attempts that failed and were retried.",
		}),
		persistedReceipts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ammcore",
			Name:      "persisted_receipts_total",
			Help:      "Receipts durably written.",
		}),
		ingestParseFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ammcore",
			Name:      "ingest_parse_failures_total",
			Help:      "Messages that failed to parse into operations.",
		}),
		poolsTracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ammcore",
			Name:      "pools_tracked",
			Help:      "Pools registered in the engine.",
		}),
	}

	reg.MustRegister(
		m.opsProcessed,
		m.opsSkipped,
		m.processDuration,
		m.projectionDropped,
		m.projectionApplied,
		m.persistBatchSize,
		m.persistFlushes,
		m.persistRetries,
		m.persistedReceipts,
		m.ingestParseFailures,
		m.poolsTracked,
	)
	return m
}

func (m *Metrics) OpProcessed(opType, outcome string) {
	m.opsProcessed.WithLabelValues(opType, outcome).Inc()
}

func (m *Metrics) OpSkipped(reason string) {
	m.opsSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) ProcessDuration(opType string, d time.Duration) {
	m.processDuration.WithLabelValues(opType).Observe(d.Seconds())
}

func (m *Metrics) ProjectionDropped() { m.projectionDropped.Inc() }
func (m *Metrics) ProjectionApplied() { m.projectionApplied.Inc() }

func (m *Metrics) PersistFlush(batchSize int) {
	m.persistFlushes.Inc()
	m.persistBatchSize.Observe(float64(batchSize))
	m.persistedReceipts.Add(float64(batchSize))
}

func (m *Metrics) PersistRetry()       { m.persistRetries.Inc() }
func (m *Metrics) IngestParseFailure() { m.ingestParseFailures.Inc() }

func (m *Metrics) PoolsTracked(n int) { m.poolsTracked.Set(float64(n)) }
