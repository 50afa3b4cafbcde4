// Package prometheus provides the Prometheus-backed implementations
// registered into pkg/metrics's nil-safe indirection at init time,
// following the same two-package split the teacher uses for its S3
// metrics (pkg/metrics defines the interfaces and the registry; this
// package owns every concrete collector).
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/snapvault/pkg/metrics"
)

func init() {
	metrics.RegisterBlobStoreMetricsConstructor(NewBlobStoreMetrics)
}

type blobStoreMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTransferred  *prometheus.CounterVec
}

// NewBlobStoreMetrics constructs the Prometheus collectors backing
// metrics.BlobStoreMetrics, registered against the shared registry.
func NewBlobStoreMetrics() metrics.BlobStoreMetrics {
	reg := metrics.GetRegistry()
	return &blobStoreMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "snapvault_blobstore_operations_total",
				Help: "Total number of blob store operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "snapvault_blobstore_operation_duration_milliseconds",
				Help:    "Duration of blob store operations in milliseconds",
				Buckets: []float64{5, 25, 100, 500, 1000, 5000, 10000, 30000},
			},
			[]string{"operation"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "snapvault_blobstore_bytes_transferred_total",
				Help: "Total bytes transferred via blob store operations",
			},
			[]string{"operation", "direction"},
		),
	}
}

func (m *blobStoreMetrics) ObserveOperation(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds() * 1000)
}

func (m *blobStoreMetrics) RecordBytes(operation string, bytes int64) {
	if m == nil || bytes <= 0 {
		return
	}
	direction := "write"
	if operation == "ReadBlob" {
		direction = "read"
	}
	m.bytesTransferred.WithLabelValues(operation, direction).Add(float64(bytes))
}
