// Package metrics exposes prometheus instrumentation for the canvas server
// and the auto-sync controller.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Registry holds all canvas metrics on a private prometheus registry.
// A nil *Registry is valid and records nothing.
type Registry struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	CanvasSavesTotal    *prometheus.CounterVec
	CanvasSaveDuration  prometheus.Histogram
	CanvasLoadsTotal    *prometheus.CounterVec
	CanvasNodes         prometheus.Gauge
	CanvasEdges         prometheus.Gauge
	StoreOperationTotal *prometheus.CounterVec
	ArchiveTotal        *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewRegistry creates a registry with every metric registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{registry: reg}
	factory := promauto.With(reg)

	r.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canvas_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)
	r.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "canvas_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	r.CanvasSavesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canvas_saves_total",
			Help: "Total number of canvas save attempts",
		},
		[]string{"status"},
	)
	r.CanvasSaveDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "canvas_save_duration_seconds",
			Help:    "Canvas save round trip in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)
	r.CanvasLoadsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canvas_loads_total",
			Help: "Total number of canvas load attempts",
		},
		[]string{"status"},
	)
	r.CanvasNodes = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "canvas_nodes",
			Help: "Number of nodes in the last saved or loaded canvas",
		},
	)
	r.CanvasEdges = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "canvas_edges",
			Help: "Number of edges in the last saved or loaded canvas",
		},
	)
	r.StoreOperationTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canvas_store_operations_total",
			Help: "Total number of workflow store operations",
		},
		[]string{"operation", "status"},
	)
	r.ArchiveTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "canvas_archive_snapshots_total",
			Help: "Total number of canvas snapshots archived",
		},
		[]string{"status"},
	)

	return r
}

// Prometheus returns the underlying registry for exposition.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.registry
}

// RecordHTTPRequest records one served request.
func (r *Registry) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	if r == nil {
		return
	}
	r.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	r.HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordSave records one canvas save attempt.
func (r *Registry) RecordSave(err error, duration time.Duration, nodes, edges int) {
	if r == nil {
		return
	}
	r.CanvasSaveDuration.Observe(duration.Seconds())
	if err != nil {
		r.CanvasSavesTotal.WithLabelValues(StatusError).Inc()
		return
	}
	r.CanvasSavesTotal.WithLabelValues(StatusSuccess).Inc()
	r.CanvasNodes.Set(float64(nodes))
	r.CanvasEdges.Set(float64(edges))
}

// RecordLoad records one canvas load attempt.
func (r *Registry) RecordLoad(err error, nodes, edges int) {
	if r == nil {
		return
	}
	if err != nil {
		r.CanvasLoadsTotal.WithLabelValues(StatusError).Inc()
		return
	}
	r.CanvasLoadsTotal.WithLabelValues(StatusSuccess).Inc()
	r.CanvasNodes.Set(float64(nodes))
	r.CanvasEdges.Set(float64(edges))
}

// RecordStoreOperation records one store call.
func (r *Registry) RecordStoreOperation(operation string, err error) {
	if r == nil {
		return
	}
	r.StoreOperationTotal.WithLabelValues(operation, statusOf(err)).Inc()
}

// RecordArchive records one snapshot upload.
func (r *Registry) RecordArchive(err error) {
	if r == nil {
		return
	}
	r.ArchiveTotal.WithLabelValues(statusOf(err)).Inc()
}

func statusOf(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusSuccess
}
