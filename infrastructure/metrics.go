// infrastructure/metrics.go
package infrastructure

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitovidale/video-ingest-service/domain"
)

const metricsNamespace = "video_ingest"

// Metrics owns a private registry so tests can build as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	UploadsInitiated   *prometheus.CounterVec
	Callbacks          *prometheus.CounterVec
	JobsPublished      *prometheus.CounterVec
	PublishDuration    *prometheus.HistogramVec
	LegacyNotifyErrors prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		UploadsInitiated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "uploads_initiated_total",
			Help:      "Upload initiations by result",
		}, []string{"result"}),
		Callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "callbacks_total",
			Help:      "Upload-complete callbacks by outcome",
		}, []string{"outcome"}),
		JobsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "jobs_published_total",
			Help:      "Processing jobs handed to the queue",
		}, []string{"backend", "result"}),
		PublishDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "publish_duration_seconds",
			Help:      "Time until the broker acknowledged a job",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend"}),
		LegacyNotifyErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "legacy_notify_errors_total",
			Help:      "Failed writes to the legacy processor socket",
		}),
	}
	m.registry.MustRegister(
		m.UploadsInitiated,
		m.Callbacks,
		m.JobsPublished,
		m.PublishDuration,
		m.LegacyNotifyErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// InstrumentedQueue records result and latency of every publish.
type InstrumentedQueue struct {
	domain.MessageQueueService
	backend string
	metrics *Metrics
	now     func() time.Time
}

func NewInstrumentedQueue(inner domain.MessageQueueService, backend string, metrics *Metrics) *InstrumentedQueue {
	return &InstrumentedQueue{MessageQueueService: inner, backend: backend, metrics: metrics, now: time.Now}
}

func (q *InstrumentedQueue) PublishVideoProcessing(ctx context.Context, message domain.VideoProcessingMessage) (*domain.PublishAck, error) {
	start := q.now()
	ack, err := q.MessageQueueService.PublishVideoProcessing(ctx, message)
	q.metrics.PublishDuration.WithLabelValues(q.backend).Observe(q.now().Sub(start).Seconds())

	result := "ok"
	if err != nil {
		result = domain.Kind(err)
	}
	q.metrics.JobsPublished.WithLabelValues(q.backend, result).Inc()
	return ack, err
}
