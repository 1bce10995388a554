package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/lostfound-api/internal/handler"
	"github.com/noah-isme/lostfound-api/internal/middleware"
	"github.com/noah-isme/lostfound-api/internal/repository"
	"github.com/noah-isme/lostfound-api/internal/service"
	"github.com/noah-isme/lostfound-api/internal/upload"
	"github.com/noah-isme/lostfound-api/pkg/cache"
	"github.com/noah-isme/lostfound-api/pkg/config"
	"github.com/noah-isme/lostfound-api/pkg/database"
	"github.com/noah-isme/lostfound-api/pkg/export"
	"github.com/noah-isme/lostfound-api/pkg/jobs"
	"github.com/noah-isme/lostfound-api/pkg/storage"
)

const shutdownTimeout = 30 * time.Second

// App holds the wired services shared by the API server and the operator CLI.
type App struct {
	Config *config.Config
	Logger *zap.Logger

	DB    *sqlx.DB
	Redis *redis.Client

	Metrics       *service.MetricsService
	Tokens        *service.TokenService
	Artifacts     *service.ArtifactStore
	Uploads       *service.UploadService
	Items         *service.ItemService
	Claims        *service.ClaimService
	Adjudication  *service.AdjudicationService
	Notifications *service.NotificationDispatcher
	RateLimiter   *middleware.RateLimiter

	closeOnce sync.Once
}

// New connects to PostgreSQL (and Redis when enabled), applies migrations when configured and
// wires every service.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := database.MigrateUp(database.URL(cfg.Database)); err != nil {
			_ = db.Close()
			return nil, err
		}
		logger.Info("database migrations applied")
	}

	redisClient, err := cache.NewRedis(context.Background(), cfg.Redis)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	localStorage, err := storage.NewLocalStorage(cfg.Uploads.StorageDir)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open artifact storage: %w", err)
	}

	a := &App{Config: cfg, Logger: logger, DB: db, Redis: redisClient}
	a.wire(localStorage)
	return a, nil
}

func (a *App) wire(localStorage *storage.LocalStorage) {
	cfg, logger := a.Config, a.Logger
	validate := validator.New()

	a.Metrics = service.NewMetricsService()
	a.Tokens = service.NewTokenService(service.TokenConfig{
		Secret: cfg.JWT.Secret,
		Expiry: cfg.JWT.Expiration,
		Issuer: cfg.JWT.Issuer,
	})

	signer := storage.NewSignedURLSigner(cfg.Uploads.SignedURLSecret, cfg.Uploads.SignedURLTTL)
	a.Artifacts = service.NewArtifactStore(localStorage, signer, cfg.Uploads.PublicBaseURL, logger.Named("artifacts"))
	a.Uploads = service.NewUploadService(a.Artifacts, service.UploadConfig{
		TaskTimeout: cfg.Uploads.TaskTimeout,
		BatchTTL:    cfg.Uploads.BatchTTL,
		Lenient:     cfg.Uploads.LenientFailedSlots,
		Limits: map[service.BatchKind]upload.Constraints{
			service.BatchKindItemImages:     constraints(cfg.Uploads.ItemImages),
			service.BatchKindClaimDocuments: constraints(cfg.Uploads.ClaimDocuments),
		},
	}, a.Metrics, logger.Named("uploads"))

	cacheService := service.NewCacheService(repository.NewCacheRepository(a.Redis, logger), a.Metrics, cfg.Matches.CacheTTL, logger, a.Redis != nil)
	a.Notifications = service.NewNotificationDispatcher(service.NewLogSink(logger.Named("notifications")), jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		MaxRetries: cfg.Notifications.Retries,
		RetryDelay: cfg.Notifications.RetryDelay,
	}, a.Metrics, logger)

	itemRepo := repository.NewItemRepository(a.DB)
	auditRepo := repository.NewAuditRepository(a.DB)
	locker := service.NewItemLocker()

	a.Items = service.NewItemService(itemRepo, a.Uploads, locker, auditRepo, validate, logger.Named("items"),
		service.WithItemCache(cacheService, cfg.Matches.CacheTTL),
		service.WithItemNotifier(a.Notifications),
		service.WithItemMetrics(a.Metrics),
		service.WithArtifactRemover(a.Artifacts),
		service.WithAuditHistory(auditRepo),
		service.WithExpiryWindow(cfg.Lifecycle.ExpiryWindow),
	)
	a.Claims = service.NewClaimService(itemRepo, a.Uploads, locker, auditRepo, validate, logger.Named("claims"),
		service.WithClaimNotifier(a.Notifications),
		service.WithClaimCache(cacheService),
	)
	a.Adjudication = service.NewAdjudicationService(itemRepo, locker, auditRepo, validate, logger.Named("adjudication"),
		service.WithAdjudicationNotifier(a.Notifications),
		service.WithAdjudicationCache(cacheService),
		service.WithAdjudicationMetrics(a.Metrics),
		service.WithHandoverReceipts(service.NewReceiptService(export.NewPDFExporter(), a.Artifacts)),
	)

	a.RateLimiter = middleware.NewRateLimiter(middleware.RateLimiterConfig{
		PerMinute: cfg.RateLimit.PerMinute,
		Burst:     cfg.RateLimit.Burst,
	}, logger)
}

func constraints(limits config.UploadLimits) upload.Constraints {
	return upload.Constraints{
		MaxSlots:     limits.MaxSlots,
		MaxSizeBytes: limits.MaxSizeBytes,
		AllowedMIMEs: limits.AllowedMIMEs,
	}
}

// Router builds the HTTP router over the wired services.
func (a *App) Router() *gin.Engine {
	maxUpload := a.Config.Uploads.ItemImages.MaxSizeBytes
	if docs := a.Config.Uploads.ClaimDocuments.MaxSizeBytes; docs > maxUpload {
		maxUpload = docs
	}
	return handler.NewRouter(handler.RouterDeps{
		APIPrefix:      a.Config.APIPrefix,
		AllowedOrigins: a.Config.CORS.AllowedOrigins,
		EnableDocs:     a.Config.Env != config.EnvProduction,
		MaxUploadBytes: maxUpload,
		Logger:         a.Logger,
		Metrics:        a.Metrics,
		Tokens:         a.Tokens,
		RateLimiter:    a.RateLimiter,
		DB:             a.DB,
		Items:          a.Items,
		Claims:         a.Claims,
		Adjudication:   a.Adjudication,
		Uploads:        a.Uploads,
		Artifacts:      a.Artifacts,
	})
}

// StartBackground launches the notification workers, the upload janitor and, when enabled,
// the expiry sweep. They stop when ctx ends.
func (a *App) StartBackground(ctx context.Context) {
	a.Notifications.Start(ctx)
	go a.Uploads.RunJanitor(ctx, 0)
	if a.Config.Lifecycle.SweepEnabled {
		a.Items.StartExpirySweep(ctx, a.Config.Lifecycle.SweepInterval)
	}
}

// Serve runs the HTTP server until ctx ends, then shuts it down gracefully.
func (a *App) Serve(ctx context.Context) error {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.Config.Port),
		Handler:           a.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Sugar().Infow("server starting", "addr", server.Addr, "env", a.Config.Env)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.Logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	a.Logger.Info("server stopped")
	return nil
}

// Close releases every resource held by the app. It is safe to call more than once.
func (a *App) Close() {
	a.closeOnce.Do(func() {
		if a.RateLimiter != nil {
			a.RateLimiter.Stop()
		}
		if a.Notifications != nil {
			a.Notifications.Stop()
		}
		if a.Uploads != nil {
			a.Uploads.Close()
		}
		if a.Redis != nil {
			if err := a.Redis.Close(); err != nil {
				a.Logger.Warn("failed to close redis", zap.Error(err))
			}
		}
		if a.DB != nil {
			if err := a.DB.Close(); err != nil {
				a.Logger.Warn("failed to close database", zap.Error(err))
			}
		}
	})
}
