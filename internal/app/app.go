package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"image-store/internal/broker"
	kafka_impl "image-store/internal/broker/kafka"
	"image-store/internal/cache"
	"image-store/internal/config"
	admin_h "image-store/internal/http-server/handler/admin"
	image_h "image-store/internal/http-server/handler/image"
	"image-store/internal/http-server/router"
	"image-store/internal/importer"
	redis_catalog "image-store/internal/repository/catalog/redis"
	postgres_repo "image-store/internal/repository/photo/db/postgres"
	"image-store/internal/scheduler"
	image_uc "image-store/internal/usecase/image"

	_ "github.com/lib/pq"
	goredis "github.com/redis/go-redis/v9"
	"github.com/wb-go/wbf/dbpg"
	"github.com/wb-go/wbf/zlog"
)

type App struct {
	cfg       *config.Config
	server    *http.Server
	logger    *zlog.Zerolog
	db        *dbpg.DB
	redis     *goredis.Client
	scheduler *scheduler.Scheduler
	importer  *importer.Importer
	publisher *broker.PhotoPublisher
}

// NewApp connects the stores and loads the photo reference data. Any failure
// here is fatal for the service.
func NewApp(ctx context.Context, cfg *config.Config, logger *zlog.Zerolog) (*App, error) {
	retries := cfg.DefaultRetryStrategy()

	password, err := cfg.DBPassword()
	if err != nil {
		return nil, fmt.Errorf("failed to read database password: %w", err)
	}

	dbOpts := &dbpg.Options{
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
	}

	db, err := dbpg.New(cfg.DBDSN(password), []string{}, dbOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = db.Master.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	c := cache.New(cfg.Cache.TTL)

	photos := postgres_repo.NewPhotoStore(db, retries, c, logger)
	if err := photos.Bootstrap(ctx); err != nil {
		_ = rdb.Close()
		_ = db.Master.Close()
		return nil, err
	}

	catalog := redis_catalog.NewCatalog(rdb, cfg, logger)

	client := &http.Client{Timeout: cfg.Processor.RequestTimeout}
	sched := scheduler.New(cfg, client, photos, catalog, c, logger)

	var publisher *broker.PhotoPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = broker.NewPhotoPublisher(kafka_impl.NewProducerClient(cfg), retries, logger)
		sched.SetPublisher(publisher)
		logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.PhotosTopic).Msg("Photo events enabled")
	}

	imp := importer.New(cfg, catalog, sched, logger)

	imageUsecase := image_uc.NewImageUsecase(catalog, photos, logger)

	h := &router.Handler{
		ImageHandler: image_h.NewImageHandler(imageUsecase, cfg.Server.MaxUploadSize, logger),
		AdminHandler: admin_h.NewAdminHandler(sched, catalog, photos, logger),
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Addr,
		Handler:      router.SetupRouter(h),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &App{
		cfg:       cfg,
		server:    server,
		logger:    logger,
		db:        db,
		redis:     rdb,
		scheduler: sched,
		importer:  imp,
		publisher: publisher,
	}, nil
}

func (a *App) Run() error {
	a.logger.Info().
		Str("addr", a.cfg.Server.Addr).
		Str("processor", a.cfg.ProcessorURL()).
		Int("max_threads", a.cfg.Scheduler.MaxThreads).
		Int("max_queue", a.cfg.Scheduler.MaxQueue).
		Msg("Starting server")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go handleSignals(a.logger, cancel)

	importCtx, stopImport := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.importer.Run(importCtx)
	}()

	serverErr := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	var runErr error
	select {
	case err := <-serverErr:
		a.logger.Error().Err(err).Msg("Server error")
		runErr = err
	case <-ctx.Done():
	}

	a.logger.Info().Msg("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error().Err(err).Msg("Server shutdown failed")
	}

	stopImport()
	wg.Wait()

	a.scheduler.Stop()
	if err := a.scheduler.Wait(shutdownCtx); err != nil {
		a.logger.Warn().Err(err).Msg("Thumbnail jobs still running at shutdown")
	}

	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close producer")
		}
	}

	if err := a.redis.Close(); err != nil {
		a.logger.Error().Err(err).Msg("Failed to close redis client")
	}

	if a.db != nil && a.db.Master != nil {
		a.db.Master.Close()
	}

	a.logger.Info().Msg("Server stopped gracefully")
	return runErr
}

func handleSignals(logger *zlog.Zerolog, cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("Received signal")
	cancel()
}
