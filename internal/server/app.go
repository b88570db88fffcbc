// Package server wires the movie image service: configuration, logging, the
// record store, the cache, the media provider, metrics and the orphan
// reconciler.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/movies/internal/dbx"
	"github.com/dmitrijs2005/movies/internal/logging"
	"github.com/dmitrijs2005/movies/internal/server/cache"
	"github.com/dmitrijs2005/movies/internal/server/config"
	"github.com/dmitrijs2005/movies/internal/server/locker"
	"github.com/dmitrijs2005/movies/internal/server/media"
	"github.com/dmitrijs2005/movies/internal/server/metrics"
	"github.com/dmitrijs2005/movies/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/movies/internal/server/services"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

type App struct {
	config     *config.Config
	logger     logging.Logger
	db         *sql.DB
	redis      redis.UniversalClient
	images     *services.ImageService
	reconciler *services.OrphanReconciler
}

var (
	openDB = func(dsn string) (*sql.DB, error) {
		return sql.Open("pgx", dsn)
	}
	newProvider = func(ctx context.Context, cfg media.S3Config, l logging.Logger) (media.Provider, error) {
		return media.NewS3Provider(ctx, cfg, l)
	}
)

// NewApp connects the backing stores described by c. out receives the logs.
func NewApp(ctx context.Context, c *config.Config, out io.Writer) (*App, error) {
	logger := logging.New(out, c.LogLevel, c.LogFormat)
	app := &App{config: c, logger: logger}

	var (
		rm   repomanager.RepositoryManager
		conn dbx.DBTX
	)
	if c.DatabaseDSN != "" {
		db, err := openDB(c.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("db init error: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("db ping error: %w", err)
		}
		pm := repomanager.NewPostgresRepositoryManager()
		if err := pm.RunMigrations(ctx, db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrations error: %w", err)
		}
		app.db, rm, conn = db, pm, db
	} else {
		logger.Warn(ctx, "no database DSN configured, using in-memory store")
		rm = repomanager.NewInMemoryRepositoryManager()
	}

	var (
		store cache.Store
		lock  locker.Locker
	)
	if c.RedisURL != "" {
		client, err := cache.NewRedisClient(ctx, c.RedisURL)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.redis = client
		store = cache.NewRedisStore(client, c.CacheKeyPrefix)
		lock = locker.NewRedisLocker(client, c.CacheKeyPrefix)
	} else {
		logger.Warn(ctx, "no redis configured, using in-process cache and lock")
		store = cache.NewMemoryStore(c.CacheKeyPrefix, 10*time.Minute)
		lock = locker.NewLocalLocker()
	}

	provider, err := newProvider(ctx, media.S3Config{
		Region:          c.S3Region,
		Bucket:          c.S3Bucket,
		Endpoint:        c.S3Endpoint,
		AccessKey:       c.S3AccessKey,
		SecretKey:       c.S3SecretKey,
		UsePathStyle:    c.S3UsePathStyle,
		DeliveryBaseURL: c.MediaBaseURL,
		MaxUploadBytes:  c.MaxUploadBytes,
	}, logger)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("media provider init error: %w", err)
	}

	app.images = services.NewImageService(rm.Images(conn), rm.Movies(conn), provider, store, logger,
		services.WithCacheTTL(c.ImageCacheTTL, c.MovieImagesCacheTTL))
	app.reconciler = services.NewOrphanReconciler(app.images, lock, logger,
		services.WithInterval(c.ReconcileInterval))
	return app, nil
}

// Images exposes the coordinator to the presentation layer.
func (app *App) Images() *services.ImageService {
	return app.images
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run starts the reconciler and the metrics server and blocks until ctx is
// cancelled or a signal arrives. With ReconcileOnce it runs a single sweep
// and returns.
func (app *App) Run(ctx context.Context) error {
	defer app.Close()

	if app.config.ReconcileOnce {
		res, err := app.reconciler.Sweep(ctx)
		if err != nil {
			return fmt.Errorf("orphan sweep: %w", err)
		}
		app.logger.Info(ctx, "orphan sweep done", "removed", res.Removed, "skipped", res.Skipped)
		return nil
	}

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()
	app.initSignalHandler(cancelFunc)

	app.logger.Info(ctx, "Starting app...")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return app.reconciler.Run(gctx)
	})
	if app.config.MetricsAddr != "" {
		g.Go(func() error {
			return metrics.NewServer(app.config.MetricsAddr, app.logger).Run(gctx)
		})
	}

	err := g.Wait()
	app.logger.Info(ctx, "App stopped")
	return err
}

// Close releases the database and Redis connections.
func (app *App) Close() {
	var errs []error
	if app.db != nil {
		errs = append(errs, app.db.Close())
		app.db = nil
	}
	if app.redis != nil {
		errs = append(errs, app.redis.Close())
		app.redis = nil
	}
	if err := errors.Join(errs...); err != nil {
		app.logger.Warn(context.Background(), "close failed", "error", err)
	}
}
