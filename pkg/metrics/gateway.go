package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// GatewayMetrics records filesystem operation outcomes, S3 traffic, cache
// effectiveness, and WebDAV lock table size.
type GatewayMetrics interface {
	// ObserveOperation records one filesystem operation with its outcome.
	ObserveOperation(op string, d time.Duration, err error)
	// RecordBytes counts bytes moved through the gateway per direction
	// ("upload" or "download").
	RecordBytes(direction string, n int64)
	// RecordCache counts a directory cache lookup outcome ("hit"/"miss").
	RecordCache(outcome string)
	// SetLockCount publishes the current lock table size.
	SetLockCount(n int)
	// RecordMultipart counts a multipart lifecycle event
	// ("initiated"/"completed"/"aborted").
	RecordMultipart(event string)
}

// NewGatewayMetrics creates a Prometheus-backed GatewayMetrics, or a no-op
// implementation when metrics are disabled.
func NewGatewayMetrics() GatewayMetrics {
	if !IsEnabled() {
		return noopMetrics{}
	}

	reg := GetRegistry()
	return &gatewayMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "quarry_fs_operations_total",
				Help: "Total filesystem operations by operation and status",
			},
			[]string{"operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quarry_fs_operation_duration_seconds",
				Help:    "Duration of filesystem operations",
				Buckets: []float64{0.005, 0.05, 0.25, 1, 5, 30, 120},
			},
			[]string{"operation"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "quarry_bytes_transferred_total",
				Help: "Bytes streamed through the gateway by direction",
			},
			[]string{"direction"},
		),
		cacheLookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "quarry_dircache_lookups_total",
				Help: "Directory cache lookups by outcome",
			},
			[]string{"outcome"},
		),
		locksActive: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "quarry_webdav_locks_active",
				Help: "Current number of entries in the WebDAV lock table",
			},
		),
		multipartEvents: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "quarry_multipart_events_total",
				Help: "Multipart upload lifecycle events",
			},
			[]string{"event"},
		),
	}
}

type gatewayMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTransferred  *prometheus.CounterVec
	cacheLookups      *prometheus.CounterVec
	locksActive       prometheus.Gauge
	multipartEvents   *prometheus.CounterVec
}

func (m *gatewayMetrics) ObserveOperation(op string, d time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.operationsTotal.WithLabelValues(op, status).Inc()
	m.operationDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *gatewayMetrics) RecordBytes(direction string, n int64) {
	if n > 0 {
		m.bytesTransferred.WithLabelValues(direction).Add(float64(n))
	}
}

func (m *gatewayMetrics) RecordCache(outcome string) {
	m.cacheLookups.WithLabelValues(outcome).Inc()
}

func (m *gatewayMetrics) SetLockCount(n int) {
	m.locksActive.Set(float64(n))
}

func (m *gatewayMetrics) RecordMultipart(event string) {
	m.multipartEvents.WithLabelValues(event).Inc()
}

// noopMetrics is the zero-overhead implementation used when metrics are
// disabled.
type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, time.Duration, error) {}
func (noopMetrics) RecordBytes(string, int64)                     {}
func (noopMetrics) RecordCache(string)                            {}
func (noopMetrics) SetLockCount(int)                              {}
func (noopMetrics) RecordMultipart(string)                        {}
