package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpDurationHistogram *prometheus.HistogramVec
	settlementCounter     *prometheus.CounterVec
	queueDepthGauge       prometheus.Gauge
	idempotencyCounter    *prometheus.CounterVec
	workerRunCounter      *prometheus.CounterVec
	reconciliationCounter *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		settlementCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "settlement_outcomes_total",
			Help: "Settlement attempts by transaction kind and outcome",
		}, []string{"kind", "outcome"})

		queueDepthGauge = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "settlement_queue_depth",
			Help: "Ready plus delayed entries on the settlement queue",
		})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		reconciliationCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "reconciliation_anomalies_total",
			Help: "Anomalies found by the reconciliation sweep",
		}, []string{"kind"})

		prometheus.MustRegister(
			httpDurationHistogram,
			settlementCounter,
			queueDepthGauge,
			idempotencyCounter,
			workerRunCounter,
			reconciliationCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementSettlement(kind, outcome string) {
	if settlementCounter == nil {
		return
	}
	settlementCounter.WithLabelValues(kind, outcome).Inc()
}

func SetQueueDepth(depth int64) {
	if queueDepthGauge == nil {
		return
	}
	queueDepthGauge.Set(float64(depth))
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}

func IncrementReconciliationAnomaly(kind string) {
	if reconciliationCounter == nil {
		return
	}
	reconciliationCounter.WithLabelValues(kind).Inc()
}
