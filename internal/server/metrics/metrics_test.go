package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NotNil(t, m)

	m.RecordRequest("GET", "/feed/posts", 200, 0.01)
	m.ImageStored()
	m.ImageReclaimed()
	m.ReclaimFailed("storage")
	m.ImagesSweptAdd(2)
	m.LinksReconciled("repaired", 3)
	m.ReconcileRun(true)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"feedkeeper_http_requests_total",
		"feedkeeper_http_request_duration_seconds",
		"feedkeeper_images_stored_total",
		"feedkeeper_images_reclaimed_total",
		"feedkeeper_image_reclaim_failures_total",
		"feedkeeper_images_swept_total",
		"feedkeeper_reconciled_links_total",
		"feedkeeper_reconcile_runs_total",
	} {
		assert.True(t, names[want], "missing metric %s", want)
	}
}

func TestRecording(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordRequest("POST", "/feed/post", 201, 0.2)
	m.RecordRequest("POST", "/feed/post", 201, 0.1)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("POST", "/feed/post", "201")))

	m.ReclaimFailed("storage")
	m.ReclaimFailed("invalid_ref")
	m.ReclaimFailed("storage")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ImageReclaimFailures.WithLabelValues("storage")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ImageReclaimFailures.WithLabelValues("invalid_ref")))

	m.ImagesSweptAdd(0)
	m.ImagesSweptAdd(-1)
	m.ImagesSweptAdd(4)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.ImagesSwept))

	m.LinksReconciled("pruned", 0)
	m.LinksReconciled("pruned", 5)
	assert.Equal(t, 5.0, testutil.ToFloat64(m.ReconciledLinksTotal.WithLabelValues("pruned")))

	m.ReconcileRun(false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReconcileRunsTotal.WithLabelValues("error")))
}

func TestNilMetrics_NoPanic(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.RecordRequest("GET", "/", 200, 0)
		m.ImageStored()
		m.ImageReclaimed()
		m.ReclaimFailed("x")
		m.ImagesSweptAdd(1)
		m.LinksReconciled("repaired", 1)
		m.ReconcileRun(true)
	})
}
