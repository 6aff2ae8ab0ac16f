package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/feedkeeper/internal/logging"
	"github.com/dmitrijs2005/feedkeeper/internal/server/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSweeper struct {
	mu         sync.Mutex
	calls      int
	referenced map[string]struct{}
	olderThan  time.Duration
	swept      int
	err        error
}

func (s *fakeSweeper) Sweep(ctx context.Context, referenced map[string]struct{}, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.referenced = referenced
	s.olderThan = olderThan
	return s.swept, s.err
}

func (s *fakeSweeper) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newReconciler(t *testing.T, f *fakeDB, sw *fakeSweeper) (*Reconciler, *metrics.Metrics) {
	t.Helper()
	db, _ := newSQLMockDB(t)
	m := metrics.New(prometheus.NewRegistry())
	return NewReconciler(db, &fakeRepoManager{f: f}, sw, time.Hour, logging.NewDiscardLogger(), m), m
}

func TestReconcile_RepairsAndPrunesLinks(t *testing.T) {
	f := newFakeDB()
	alice := f.addUser("a@b.co", "Alice")
	bob := f.addUser("b@b.co", "Bob")
	p1 := f.addPost(alice.ID, "one", "images/1.png")
	p2 := f.addPost(alice.ID, "two", "images/2.png")

	// p1 lost its link, bob holds a link to a post he did not write,
	// and alice holds a link to a post that no longer exists
	f.links[alice.ID] = []string{p2.ID, "gone"}
	f.links[bob.ID] = []string{p2.ID}

	sw := &fakeSweeper{swept: 3}
	r, m := newReconciler(t, f, sw)

	report, err := r.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &ReconcileReport{LinksRepaired: 1, LinksPruned: 2, ImagesSwept: 3}, report)

	assert.True(t, f.linked(alice.ID, p1.ID))
	assert.True(t, f.linked(alice.ID, p2.ID))
	assert.False(t, f.linked(alice.ID, "gone"))
	assert.False(t, f.linked(bob.ID, p2.ID))

	assert.Equal(t, map[string]struct{}{"images/1.png": {}, "images/2.png": {}}, sw.referenced)
	assert.Equal(t, time.Hour, sw.olderThan)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReconciledLinksTotal.WithLabelValues("repaired")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ReconciledLinksTotal.WithLabelValues("pruned")))
}

func TestReconcile_Errors(t *testing.T) {
	t.Run("repair", func(t *testing.T) {
		f := newFakeDB()
		f.errs["users.RepairLinks"] = errBoom{}
		sw := &fakeSweeper{}
		r, _ := newReconciler(t, f, sw)

		_, err := r.Reconcile(context.Background())
		require.ErrorContains(t, err, "repair links")
		assert.Zero(t, sw.callCount())
	})

	t.Run("image references", func(t *testing.T) {
		f := newFakeDB()
		f.errs["posts.ImageURLs"] = errBoom{}
		sw := &fakeSweeper{}
		r, _ := newReconciler(t, f, sw)

		_, err := r.Reconcile(context.Background())
		require.ErrorContains(t, err, "list image references")
		assert.Zero(t, sw.callCount())
	})

	t.Run("sweep", func(t *testing.T) {
		sw := &fakeSweeper{err: errors.New("bucket gone")}
		r, _ := newReconciler(t, newFakeDB(), sw)

		_, err := r.Reconcile(context.Background())
		require.ErrorContains(t, err, "bucket gone")
	})
}

func TestRun_ZeroIntervalRunsOnce(t *testing.T) {
	sw := &fakeSweeper{}
	r, m := newReconciler(t, newFakeDB(), sw)

	require.NoError(t, r.Run(context.Background(), 0))
	assert.Equal(t, 1, sw.callCount())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReconcileRunsTotal.WithLabelValues("ok")))
}

func TestRun_RepeatsUntilCanceled(t *testing.T) {
	sw := &fakeSweeper{}
	r, _ := newReconciler(t, newFakeDB(), sw)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx, 5*time.Millisecond) }()

	require.Eventually(t, func() bool { return sw.callCount() >= 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestRun_FailedPassIsCounted(t *testing.T) {
	sw := &fakeSweeper{err: errors.New("down")}
	r, m := newReconciler(t, newFakeDB(), sw)

	require.NoError(t, r.Run(context.Background(), 0))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReconcileRunsTotal.WithLabelValues("error")))
}
