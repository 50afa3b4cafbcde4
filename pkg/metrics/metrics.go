// Package metrics exposes a nil-safe indirection over the repository
// engine's Prometheus instrumentation, the same pattern the teacher uses
// for its S3 content store: callers hold an interface value that is
// either a real Prometheus-backed implementation or nil, and every method
// on the nil case is a no-op, so instrumentation can be wired
// unconditionally without an "if metrics enabled" branch at every call
// site.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	mu       sync.RWMutex
	enabled  bool
	registry *prometheus.Registry
)

// InitRegistry enables metrics collection and creates the Prometheus
// registry that every constructor in this package registers against.
// Must be called before any New*Metrics constructor for that constructor
// to return a non-nil value.
func InitRegistry() *prometheus.Registry {
	mu.Lock()
	defer mu.Unlock()
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	enabled = true
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}

// GetRegistry returns the active registry, initializing one if needed.
func GetRegistry() *prometheus.Registry {
	mu.RLock()
	if registry != nil {
		defer mu.RUnlock()
		return registry
	}
	mu.RUnlock()
	return InitRegistry()
}

// BlobStoreMetrics is implemented by every C1 backend's instrumentation:
// per-operation latency/outcome and byte counters for the blob store
// layer (localfs, s3store).
type BlobStoreMetrics interface {
	ObserveOperation(operation string, duration time.Duration, err error)
	RecordBytes(operation string, bytes int64)
}

// RateLimiterMetrics tracks time spent blocked by the token-bucket
// limiter wrapping snapshot/restore streams (C3).
type RateLimiterMetrics interface {
	RecordBlocked(direction string, d time.Duration)
}

// SnapshotMetrics tracks throughput and outcome of snapshot creation and
// deletion (C7/C8).
type SnapshotMetrics interface {
	RecordSnapshotDuration(phase string, d time.Duration, err error)
	RecordFilesUploaded(count int, bytes int64)
	RecordFilesSkipped(count int)
}

// RestoreMetrics tracks throughput and outcome of restore operations (C9).
type RestoreMetrics interface {
	RecordRestoreDuration(d time.Duration, err error)
	RecordFilesRestored(count int, bytes int64)
}

// newBlobStoreMetrics is installed by pkg/metrics/prometheus's init(), via
// RegisterBlobStoreMetricsConstructor, mirroring the teacher's
// constructor-indirection pattern for breaking the metrics<->prometheus
// import cycle.
var newBlobStoreMetrics func() BlobStoreMetrics
var newRateLimiterMetrics func() RateLimiterMetrics
var newSnapshotMetrics func() SnapshotMetrics
var newRestoreMetrics func() RestoreMetrics

// RegisterBlobStoreMetricsConstructor is called by
// pkg/metrics/prometheus's init() to install the real constructor.
func RegisterBlobStoreMetricsConstructor(c func() BlobStoreMetrics) { newBlobStoreMetrics = c }

// RegisterRateLimiterMetricsConstructor is called by
// pkg/metrics/prometheus's init().
func RegisterRateLimiterMetricsConstructor(c func() RateLimiterMetrics) { newRateLimiterMetrics = c }

// RegisterSnapshotMetricsConstructor is called by pkg/metrics/prometheus's
// init().
func RegisterSnapshotMetricsConstructor(c func() SnapshotMetrics) { newSnapshotMetrics = c }

// RegisterRestoreMetricsConstructor is called by pkg/metrics/prometheus's
// init().
func RegisterRestoreMetricsConstructor(c func() RestoreMetrics) { newRestoreMetrics = c }

// NewBlobStoreMetrics returns a Prometheus-backed BlobStoreMetrics, or nil
// if metrics are not enabled.
func NewBlobStoreMetrics() BlobStoreMetrics {
	if !IsEnabled() || newBlobStoreMetrics == nil {
		return nil
	}
	return newBlobStoreMetrics()
}

// NewRateLimiterMetrics returns a Prometheus-backed RateLimiterMetrics, or
// nil if metrics are not enabled.
func NewRateLimiterMetrics() RateLimiterMetrics {
	if !IsEnabled() || newRateLimiterMetrics == nil {
		return nil
	}
	return newRateLimiterMetrics()
}

// NewSnapshotMetrics returns a Prometheus-backed SnapshotMetrics, or nil
// if metrics are not enabled.
func NewSnapshotMetrics() SnapshotMetrics {
	if !IsEnabled() || newSnapshotMetrics == nil {
		return nil
	}
	return newSnapshotMetrics()
}

// NewRestoreMetrics returns a Prometheus-backed RestoreMetrics, or nil if
// metrics are not enabled.
func NewRestoreMetrics() RestoreMetrics {
	if !IsEnabled() || newRestoreMetrics == nil {
		return nil
	}
	return newRestoreMetrics()
}
