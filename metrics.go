package vfs

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the prometheus collectors of a VFS
type Metrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	crossTransport    *prometheus.CounterVec
	bytesTransferred  *prometheus.CounterVec
	watchesActive     prometheus.Gauge
}

// NewMetrics registers the VFS collectors on reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		operationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vfs_operations_total",
				Help: "Total number of VFS operations",
			},
			[]string{"op", "mount", "result"},
		),
		operationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vfs_operation_duration_seconds",
				Help:    "VFS operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op", "mount"},
		),
		crossTransport: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vfs_cross_transport_total",
				Help: "Copy and move operations bridged through read and write",
			},
			[]string{"op", "source", "destination"},
		),
		bytesTransferred: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vfs_bytes_transferred_total",
				Help: "Bytes read from or written to transports",
			},
			[]string{"direction", "mount"},
		),
		watchesActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "vfs_watches_active",
				Help: "Number of registered watches",
			},
		),
	}
}

// resultLabel maps an error onto a low-cardinality label
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsCanceled(err):
		return "canceled"
	default:
		return kindLabel(kindOf(err))
	}
}

func kindLabel(kind error) string {
	switch kind {
	case ErrMountNotFound:
		return "mount_not_found"
	case ErrReadOnly:
		return "read_only"
	case ErrFileExists:
		return "exists"
	case ErrNotSupported:
		return "not_supported"
	case ErrConversionFailure:
		return "conversion"
	case ErrInvalidArgument:
		return "invalid_argument"
	default:
		return "backend"
	}
}

func (m *Metrics) observe(op, mount string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.operationsTotal.WithLabelValues(op, mount, resultLabel(err)).Inc()
	m.operationDuration.WithLabelValues(op, mount).Observe(time.Since(start).Seconds())
}

func (m *Metrics) bridged(op, source, destination string) {
	if m == nil {
		return
	}
	m.crossTransport.WithLabelValues(op, source, destination).Inc()
}

func (m *Metrics) transferred(direction, mount string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.bytesTransferred.WithLabelValues(direction, mount).Add(float64(n))
}

func (m *Metrics) setWatches(n int) {
	if m == nil {
		return
	}
	m.watchesActive.Set(float64(n))
}
