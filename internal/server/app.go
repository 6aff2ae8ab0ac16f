// Package server wires the feed server together: database, migrations,
// image storage, services, the HTTP API and the background reconciler.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/feedkeeper/internal/logging"
	"github.com/dmitrijs2005/feedkeeper/internal/server/config"
	"github.com/dmitrijs2005/feedkeeper/internal/server/httpapi"
	"github.com/dmitrijs2005/feedkeeper/internal/server/images"
	"github.com/dmitrijs2005/feedkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/feedkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/feedkeeper/internal/server/services"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
)

// Seams for tests.
var (
	openDB = func(dsn string) (*sql.DB, error) {
		return sql.Open("pgx", dsn)
	}
	newRepositoryManager = repomanager.NewPostgresRepositoryManager
	newS3Store           = images.NewS3Store
	pingBackoff          = func() retry.Backoff {
		return retry.WithMaxRetries(5, retry.NewExponential(500*time.Millisecond))
	}
)

type App struct {
	config     *config.Config
	logger     logging.Logger
	db         *sql.DB
	server     *httpapi.Server
	reconciler *services.Reconciler
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {

	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel)

	db, err := openDB(c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	app, err := newApp(ctx, c, logger, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return app, nil
}

func newApp(ctx context.Context, c *config.Config, logger logging.Logger, db *sql.DB) (*App, error) {

	if err := pingDB(ctx, db, logger); err != nil {
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	rm := newRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	routerOpts := httpapi.Options{
		Logger:         logger,
		Metrics:        m,
		Gatherer:       registry,
		MaxUploadBytes: c.MaxUploadBytes,
	}

	var store images.Store
	switch c.ImageBackend {
	case config.ImageBackendLocal:
		ls, err := images.NewLocalStore(c.ImageDir)
		if err != nil {
			return nil, fmt.Errorf("image dir error: %w", err)
		}
		store = ls
		routerOpts.ImageDir = ls.Dir()
	case config.ImageBackendS3:
		s3s, err := newS3Store(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("s3 init error: %w", err)
		}
		store = s3s
		routerOpts.Presigner = s3s
	default:
		return nil, fmt.Errorf("unknown image backend %q", c.ImageBackend)
	}

	im := images.NewManager(store, logger, m)

	us := services.NewUserService(db, rm, c)
	ps := services.NewPostService(db, rm, im, c.PageSize)
	routerOpts.Feed = services.NewFeedService(us, ps, im)

	return &App{
		config:     c,
		logger:     logger,
		db:         db,
		server:     httpapi.NewServer(c.HTTPAddr, httpapi.NewRouter(routerOpts), logger),
		reconciler: services.NewReconciler(db, rm, im, c.OrphanImageGrace, logger, m),
	}, nil
}

func pingDB(ctx context.Context, db *sql.DB, logger logging.Logger) error {
	return retry.Do(ctx, pingBackoff(), func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			logger.Warn(ctx, "database not ready", "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run serves HTTP and runs the reconciler until a signal arrives, ctx is
// cancelled or either of them fails.
func (app *App) Run(ctx context.Context) error {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.server.Run(ctx)
	})

	g.Go(func() error {
		return app.reconciler.Run(ctx, app.config.ReconcileInterval)
	})

	err := g.Wait()
	if err != nil {
		app.logger.Error(ctx, "app stopped with error", "error", err)
	}

	return errors.Join(err, app.db.Close())
}
