// Package metrics holds the Prometheus collectors of the feed server.
// All recording methods are safe on a nil *Metrics.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics of the feed server.
type Metrics struct {
	// HTTP
	RequestsTotal   *prometheus.CounterVec   // feedkeeper_http_requests_total{method,route,status}
	RequestDuration *prometheus.HistogramVec // feedkeeper_http_request_duration_seconds{method,route}

	// Images
	ImagesStored         prometheus.Counter     // feedkeeper_images_stored_total
	ImagesReclaimed      prometheus.Counter     // feedkeeper_images_reclaimed_total
	ImageReclaimFailures *prometheus.CounterVec // feedkeeper_image_reclaim_failures_total{reason}
	ImagesSwept          prometheus.Counter     // feedkeeper_images_swept_total
	ReconciledLinksTotal *prometheus.CounterVec // feedkeeper_reconciled_links_total{action}
	ReconcileRunsTotal   *prometheus.CounterVec // feedkeeper_reconcile_runs_total{result}
}

// New registers the collectors on registry. A nil registry means
// prometheus.DefaultRegisterer.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	f := promauto.With(registry)

	return &Metrics{
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "feedkeeper_http_requests_total",
			Help: "Total HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),

		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "feedkeeper_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),

		ImagesStored: f.NewCounter(prometheus.CounterOpts{
			Name: "feedkeeper_images_stored_total",
			Help: "Total uploaded images written to storage",
		}),

		ImagesReclaimed: f.NewCounter(prometheus.CounterOpts{
			Name: "feedkeeper_images_reclaimed_total",
			Help: "Total images removed from storage",
		}),

		ImageReclaimFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "feedkeeper_image_reclaim_failures_total",
			Help: "Image removals that were given up on, by reason",
		}, []string{"reason"}),

		ImagesSwept: f.NewCounter(prometheus.CounterOpts{
			Name: "feedkeeper_images_swept_total",
			Help: "Unreferenced images removed by reconciliation",
		}),

		ReconciledLinksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "feedkeeper_reconciled_links_total",
			Help: "user_posts rows repaired or pruned by reconciliation",
		}, []string{"action"}),

		ReconcileRunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "feedkeeper_reconcile_runs_total",
			Help: "Reconciliation passes by result",
		}, []string{"result"}),
	}
}

// RecordRequest records one served HTTP request.
func (m *Metrics) RecordRequest(method, route string, status int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(durationSeconds)
}

func (m *Metrics) ImageStored() {
	if m == nil {
		return
	}
	m.ImagesStored.Inc()
}

func (m *Metrics) ImageReclaimed() {
	if m == nil {
		return
	}
	m.ImagesReclaimed.Inc()
}

// ReclaimFailed counts an image removal that was abandoned.
func (m *Metrics) ReclaimFailed(reason string) {
	if m == nil {
		return
	}
	m.ImageReclaimFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) ImagesSweptAdd(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ImagesSwept.Add(float64(n))
}

// LinksReconciled records user_posts rows changed by action ("repaired" or "pruned").
func (m *Metrics) LinksReconciled(action string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.ReconciledLinksTotal.WithLabelValues(action).Add(float64(n))
}

// ReconcileRun records the outcome of one reconciliation pass.
func (m *Metrics) ReconcileRun(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.ReconcileRunsTotal.WithLabelValues(result).Inc()
}
