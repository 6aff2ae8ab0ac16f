package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/feedkeeper/internal/logging"
	"github.com/dmitrijs2005/feedkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/feedkeeper/internal/server/repositories/repomanager"
)

// ImageSweeper deletes stored images outside the referenced set.
type ImageSweeper interface {
	Sweep(ctx context.Context, referenced map[string]struct{}, olderThan time.Duration) (int, error)
}

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	LinksRepaired int64
	LinksPruned   int64
	ImagesSwept   int
}

// Reconciler restores the post/user link invariant and removes image files
// no post references, such as those left behind by a crash between upload
// and commit. Images younger than grace are left alone since their post may
// still be on its way.
type Reconciler struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	images      ImageSweeper
	grace       time.Duration
	log         logging.Logger
	metrics     *metrics.Metrics
}

func NewReconciler(db *sql.DB, m repomanager.RepositoryManager, images ImageSweeper, grace time.Duration,
	log logging.Logger, mt *metrics.Metrics) *Reconciler {
	return &Reconciler{
		db:          db,
		repomanager: m,
		images:      images,
		grace:       grace,
		log:         log.With("module", "reconciler"),
		metrics:     mt,
	}
}

// Reconcile runs one pass.
func (r *Reconciler) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	users := r.repomanager.Users(r.db)
	report := &ReconcileReport{}

	var err error
	report.LinksRepaired, err = users.RepairLinks(ctx)
	if err != nil {
		return nil, fmt.Errorf("repair links: %w", err)
	}
	r.metrics.LinksReconciled("repaired", report.LinksRepaired)

	report.LinksPruned, err = users.PruneLinks(ctx)
	if err != nil {
		return nil, fmt.Errorf("prune links: %w", err)
	}
	r.metrics.LinksReconciled("pruned", report.LinksPruned)

	urls, err := r.repomanager.Posts(r.db).ImageURLs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list image references: %w", err)
	}
	referenced := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		referenced[u] = struct{}{}
	}

	report.ImagesSwept, err = r.images.Sweep(ctx, referenced, r.grace)
	if err != nil {
		return nil, fmt.Errorf("sweep images: %w", err)
	}

	return report, nil
}

// Run reconciles once immediately and then every interval until ctx is
// done. A zero interval means only the initial pass. Failed passes are
// logged and do not stop the loop.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) error {
	r.runOnce(ctx)

	if interval <= 0 {
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Reconciler) runOnce(ctx context.Context) {
	report, err := r.Reconcile(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.metrics.ReconcileRun(false)
		r.log.Error(ctx, "reconciliation failed", "error", err)
		return
	}
	r.metrics.ReconcileRun(true)
	r.log.Info(ctx, "reconciliation finished",
		"links_repaired", report.LinksRepaired,
		"links_pruned", report.LinksPruned,
		"images_swept", report.ImagesSwept)
}
