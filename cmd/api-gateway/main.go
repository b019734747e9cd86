package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/qbank-api/api/swagger"
	"github.com/noah-isme/qbank-api/internal/handler"
	"github.com/noah-isme/qbank-api/internal/repository"
	"github.com/noah-isme/qbank-api/internal/service"
	"github.com/noah-isme/qbank-api/pkg/cache"
	"github.com/noah-isme/qbank-api/pkg/config"
	"github.com/noah-isme/qbank-api/pkg/database"
	"github.com/noah-isme/qbank-api/pkg/document"
	"github.com/noah-isme/qbank-api/pkg/jobs"
	"github.com/noah-isme/qbank-api/pkg/logger"
	"github.com/noah-isme/qbank-api/pkg/storage"
)

// @title Question Bank Files API
// @version 1.0.0
// @description File lifecycle and document assembly for question sets
// @BasePath /
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close() //nolint:errcheck

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db, logr); err != nil {
			return err
		}
	}

	blobs, err := newBlobStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}

	metrics := service.NewMetricsService()
	checks := map[string]database.Pinger{"postgres": db}

	var cacheSvc *service.CacheService
	if cfg.Cache.Enabled {
		client, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, caching disabled", zap.Error(err))
		} else {
			defer client.Close() //nolint:errcheck
			checks["redis"] = cache.Pinger{Client: client}
			cacheSvc = newCacheService(client, metrics, cfg, logr)
		}
	}

	files := repository.NewFileRepository(db)
	sets := repository.NewQuestionSetRepository(db)
	audit := repository.NewAuditRepository(db)

	// Background workers outlive the signal context so in-flight requests
	// can still schedule cleanup while the server drains.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	cleaner := service.NewBlobCleaner(blobs, metrics, logr, jobs.QueueConfig{
		Workers:    cfg.Cleanup.Workers,
		MaxRetries: cfg.Cleanup.Retries,
		RetryDelay: cfg.Cleanup.RetryDelay,
	})
	cleaner.Start(workerCtx)

	var sweeper *service.OrphanSweeper
	if cfg.Cleanup.SweepEnabled {
		sweeper = service.NewOrphanSweeper(blobs, files, audit, metrics, logr, cfg.Cleanup.SweepInterval, cfg.Cleanup.SweepGrace)
		sweeper.Start(workerCtx)
	}
	stopWorkers := func() {
		if sweeper != nil {
			sweeper.Stop()
		}
		cleaner.Stop()
		cancelWorkers()
	}

	converter := document.NewConverter(
		document.NewOfficeConverter(cfg.Converter.Binary, cfg.Converter.Timeout),
		document.NewTextRenderer(),
	)
	gate := service.NewAuthorizationGate(cfg.Files.AllowAnyAuthenticated, logr)
	signer := storage.NewSignedURLSigner(cfg.Files.SignedURLSecret, cfg.Files.SignedURLTTL)

	fileSvc := service.NewFileService(files, sets, blobs, cleaner, gate, audit, cacheSvc, signer, metrics, logr, service.FileServiceConfig{
		MaxFileSize:  cfg.Files.MaxFileSizeBytes,
		APIPrefix:    cfg.APIPrefix,
		TemplatePath: cfg.Files.TemplatePath,
	})
	assemblySvc := service.NewAssemblyService(files, sets, blobs, converter, metrics, logr)
	authSvc := service.NewAuthService(logr, service.AuthConfig{AccessTokenSecret: cfg.JWT.Secret})

	validate := validator.New()
	handlers := routeHandlers{
		files:    handler.NewFileHandler(fileSvc, validate),
		assembly: handler.NewAssemblyHandler(assemblySvc, validate, logr),
		metrics:  newMetricsHandler(metrics, checks, sweeper),
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}
	router := newRouter(cfg, logr, authSvc, metrics, handlers)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		stopWorkers()
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	stopWorkers()
	return err
}

func newBlobStore(ctx context.Context, cfg config.StorageConfig) (storage.BlobStore, error) {
	switch cfg.Driver {
	case config.StorageDriverMinio:
		return storage.NewMinioStorage(ctx, cfg)
	case config.StorageDriverLocal, "":
		return storage.NewLocalStorage(cfg.Dir)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func newCacheService(client *redis.Client, metrics *service.MetricsService, cfg *config.Config, logr *zap.Logger) *service.CacheService {
	repo := repository.NewCacheRepository(client, logr)
	return service.NewCacheService(repo, metrics, cfg.Cache.TTL, logr, true)
}

// newMetricsHandler keeps a disabled sweeper out of the handler as a nil interface.
func newMetricsHandler(metrics *service.MetricsService, checks map[string]database.Pinger, sweeper *service.OrphanSweeper) *handler.MetricsHandler {
	if sweeper == nil {
		return handler.NewMetricsHandler(metrics, checks, nil)
	}
	return handler.NewMetricsHandler(metrics, checks, sweeper)
}
