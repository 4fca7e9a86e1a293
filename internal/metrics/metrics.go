// Package metrics exposes Prometheus counters for the upload and consistency
// flows. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	pagesUploaded   prometheus.Counter
	retries         *prometheus.CounterVec
	partialFailures *prometheus.CounterVec
	inconsistencies *prometheus.CounterVec
	uploadDuration  *prometheus.HistogramVec
	objectsRemoved  prometheus.Counter
	objectsMoved    prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		pagesUploaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "dergi_pages_uploaded_total",
			Help: "Page images stored in the blob store",
		}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dergi_retry_attempts_total",
			Help: "Retries performed after a failed attempt, by operation",
		}, []string{"operation"}),
		partialFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dergi_partial_failures_total",
			Help: "Operations that completed only part of their items",
		}, []string{"operation"}),
		inconsistencies: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dergi_inconsistencies_total",
			Help: "Storage changes that could not be mirrored in the metadata store",
		}, []string{"operation"}),
		uploadDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name: "dergi_upload_duration_seconds",
			Help: "End to end issue upload duration",
			Buckets: []float64{
				1,   // 1s
				5,   // 5s
				15,  // 15s
				60,  // 1m
				180, // 3m
				600, // 10m
			},
		}, []string{"status"}),
		objectsRemoved: factory.NewCounter(prometheus.CounterOpts{
			Name: "dergi_objects_deleted_total",
			Help: "Objects removed by issue deletes",
		}),
		objectsMoved: factory.NewCounter(prometheus.CounterOpts{
			Name: "dergi_objects_moved_total",
			Help: "Objects moved by issue renames",
		}),
	}
}

func (m *Metrics) PageUploaded() {
	if m == nil {
		return
	}
	m.pagesUploaded.Inc()
}

func (m *Metrics) Retry(operation string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(operation).Inc()
}

func (m *Metrics) PartialFailure(operation string) {
	if m == nil {
		return
	}
	m.partialFailures.WithLabelValues(operation).Inc()
}

func (m *Metrics) Inconsistency(operation string) {
	if m == nil {
		return
	}
	m.inconsistencies.WithLabelValues(operation).Inc()
}

func (m *Metrics) ObjectsDeleted(n int) {
	if m == nil {
		return
	}
	m.objectsRemoved.Add(float64(n))
}

func (m *Metrics) ObjectsMoved(n int) {
	if m == nil {
		return
	}
	m.objectsMoved.Add(float64(n))
}

// ObserveUpload records the duration since start under status "ok" or "error".
func (m *Metrics) ObserveUpload(start time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.uploadDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
}
