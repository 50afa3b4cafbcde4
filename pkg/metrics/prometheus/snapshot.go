package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/snapvault/pkg/metrics"
)

func init() {
	metrics.RegisterRateLimiterMetricsConstructor(NewRateLimiterMetrics)
	metrics.RegisterSnapshotMetricsConstructor(NewSnapshotMetrics)
	metrics.RegisterRestoreMetricsConstructor(NewRestoreMetrics)
}

type rateLimiterMetrics struct {
	blockedSeconds *prometheus.CounterVec
}

// NewRateLimiterMetrics constructs the collectors backing
// metrics.RateLimiterMetrics.
func NewRateLimiterMetrics() metrics.RateLimiterMetrics {
	reg := metrics.GetRegistry()
	return &rateLimiterMetrics{
		blockedSeconds: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "snapvault_ratelimiter_blocked_seconds_total",
				Help: "Cumulative time spent blocked on the snapshot/restore rate limiter",
			},
			[]string{"direction"},
		),
	}
}

func (m *rateLimiterMetrics) RecordBlocked(direction string, d time.Duration) {
	if m == nil {
		return
	}
	m.blockedSeconds.WithLabelValues(direction).Add(d.Seconds())
}

type snapshotMetrics struct {
	phaseDuration  *prometheus.HistogramVec
	filesUploaded  prometheus.Counter
	bytesUploaded  prometheus.Counter
	filesSkipped   prometheus.Counter
}

// NewSnapshotMetrics constructs the collectors backing
// metrics.SnapshotMetrics.
func NewSnapshotMetrics() metrics.SnapshotMetrics {
	reg := metrics.GetRegistry()
	return &snapshotMetrics{
		phaseDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "snapvault_snapshot_phase_duration_milliseconds",
				Help:    "Duration of snapshot creation/deletion phases",
				Buckets: []float64{10, 100, 1000, 10000, 60000, 300000},
			},
			[]string{"phase"},
		),
		filesUploaded: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "snapvault_snapshot_files_uploaded_total",
			Help: "Total number of files uploaded across all snapshots",
		}),
		bytesUploaded: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "snapvault_snapshot_bytes_uploaded_total",
			Help: "Total bytes uploaded across all snapshots",
		}),
		filesSkipped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "snapvault_snapshot_files_skipped_total",
			Help: "Total number of files skipped due to deduplication against an existing catalog entry",
		}),
	}
}

func (m *snapshotMetrics) RecordSnapshotDuration(phase string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Observe(d.Seconds() * 1000)
	_ = err
}

func (m *snapshotMetrics) RecordFilesUploaded(count int, bytes int64) {
	if m == nil {
		return
	}
	m.filesUploaded.Add(float64(count))
	m.bytesUploaded.Add(float64(bytes))
}

func (m *snapshotMetrics) RecordFilesSkipped(count int) {
	if m == nil {
		return
	}
	m.filesSkipped.Add(float64(count))
}

type restoreMetrics struct {
	duration      prometheus.Histogram
	filesRestored prometheus.Counter
	bytesRestored prometheus.Counter
	failures      prometheus.Counter
}

// NewRestoreMetrics constructs the collectors backing
// metrics.RestoreMetrics.
func NewRestoreMetrics() metrics.RestoreMetrics {
	reg := metrics.GetRegistry()
	return &restoreMetrics{
		duration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "snapvault_restore_duration_milliseconds",
			Help:    "Duration of restore operations",
			Buckets: []float64{100, 1000, 10000, 60000, 300000, 1800000},
		}),
		filesRestored: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "snapvault_restore_files_total",
			Help: "Total number of files restored",
		}),
		bytesRestored: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "snapvault_restore_bytes_total",
			Help: "Total bytes restored",
		}),
		failures: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "snapvault_restore_failures_total",
			Help: "Total number of failed restore operations",
		}),
	}
}

func (m *restoreMetrics) RecordRestoreDuration(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.duration.Observe(d.Seconds() * 1000)
	if err != nil {
		m.failures.Inc()
	}
}

func (m *restoreMetrics) RecordFilesRestored(count int, bytes int64) {
	if m == nil {
		return
	}
	m.filesRestored.Add(float64(count))
	m.bytesRestored.Add(float64(bytes))
}
