package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "noncegate"

// PrometheusRecorder exports metrics as Prometheus collectors.
type PrometheusRecorder struct {
	noncesIssued          prometheus.Counter
	nonceConsumes         *prometheus.CounterVec
	authentications       *prometheus.CounterVec
	authorizations        *prometheus.CounterVec
	authorizationDuration prometheus.Histogram
	usagePublished        *prometheus.CounterVec
	usageProcessed        *prometheus.CounterVec
	usageBatchSize        prometheus.Histogram
	usageBatchDuration    prometheus.Histogram
	usageQueueDepth       prometheus.Gauge
	usageIngestLag        prometheus.Histogram
}

// NewPrometheus creates a PrometheusRecorder and registers its collectors.
func NewPrometheus(reg prometheus.Registerer) *PrometheusRecorder {
	r := &PrometheusRecorder{
		noncesIssued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nonces_issued_total",
			Help:      "Total number of sign-in nonces issued.",
		}),
		nonceConsumes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "nonce_consumes_total",
			Help:      "Nonce consume attempts by outcome.",
		}, []string{"outcome"}),
		authentications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authentications_total",
			Help:      "Sign-in attempts by outcome.",
		}, []string{"outcome"}),
		authorizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorizations_total",
			Help:      "API key authorization decisions by outcome.",
		}, []string{"outcome"}),
		authorizationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "authorization_duration_seconds",
			Help:      "Latency of API key authorization.",
			Buckets:   prometheus.DefBuckets,
		}),
		usagePublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_records_published_total",
			Help:      "Usage records handed to the pipeline by status.",
		}, []string{"status"}),
		usageProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_records_processed_total",
			Help:      "Usage records processed by the worker by status.",
		}, []string{"status"}),
		usageBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "usage_batch_size",
			Help:      "Number of usage records per persisted batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		usageBatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "usage_batch_duration_seconds",
			Help:      "Time spent persisting one usage batch.",
			Buckets:   prometheus.DefBuckets,
		}),
		usageQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "usage_queue_depth",
			Help:      "Pending plus unread usage records in the stream.",
		}),
		usageIngestLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "usage_ingest_lag_seconds",
			Help:      "Delay between a request and its usage row being stored.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}),
	}

	reg.MustRegister(
		r.noncesIssued,
		r.nonceConsumes,
		r.authentications,
		r.authorizations,
		r.authorizationDuration,
		r.usagePublished,
		r.usageProcessed,
		r.usageBatchSize,
		r.usageBatchDuration,
		r.usageQueueDepth,
		r.usageIngestLag,
	)
	return r
}

// IncNonceIssued increments the issued counter.
func (r *PrometheusRecorder) IncNonceIssued() {
	r.noncesIssued.Inc()
}

// IncNonceConsume counts a consume outcome.
func (r *PrometheusRecorder) IncNonceConsume(outcome string) {
	r.nonceConsumes.WithLabelValues(outcome).Inc()
}

// IncAuthentication counts a sign-in outcome.
func (r *PrometheusRecorder) IncAuthentication(outcome string) {
	r.authentications.WithLabelValues(outcome).Inc()
}

// IncAuthorization counts an API key decision.
func (r *PrometheusRecorder) IncAuthorization(outcome string) {
	r.authorizations.WithLabelValues(outcome).Inc()
}

// ObserveAuthorizationDuration records decision latency.
func (r *PrometheusRecorder) ObserveAuthorizationDuration(duration time.Duration) {
	r.authorizationDuration.Observe(duration.Seconds())
}

// IncUsagePublished counts usage records handed to the pipeline.
func (r *PrometheusRecorder) IncUsagePublished(status string) {
	r.usagePublished.WithLabelValues(status).Inc()
}

// IncUsageProcessed counts usage records leaving the pipeline.
func (r *PrometheusRecorder) IncUsageProcessed(status string) {
	r.usageProcessed.WithLabelValues(status).Inc()
}

// ObserveUsageBatchSize records a batch size.
func (r *PrometheusRecorder) ObserveUsageBatchSize(size int) {
	r.usageBatchSize.Observe(float64(size))
}

// ObserveUsageBatchDuration records batch persistence time.
func (r *PrometheusRecorder) ObserveUsageBatchDuration(duration time.Duration) {
	r.usageBatchDuration.Observe(duration.Seconds())
}

// SetUsageQueueDepth records the pending stream depth.
func (r *PrometheusRecorder) SetUsageQueueDepth(depth int64) {
	r.usageQueueDepth.Set(float64(depth))
}

// ObserveUsageIngestLag records the publish-to-insert lag.
func (r *PrometheusRecorder) ObserveUsageIngestLag(lag time.Duration) {
	r.usageIngestLag.Observe(lag.Seconds())
}
