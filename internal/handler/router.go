package handler

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/lostfound-api/internal/middleware"
	"github.com/noah-isme/lostfound-api/internal/models"
	"github.com/noah-isme/lostfound-api/internal/service"
	"github.com/noah-isme/lostfound-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/lostfound-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/lostfound-api/pkg/middleware/requestid"
)

// RouterDeps groups everything NewRouter wires together.
type RouterDeps struct {
	APIPrefix      string
	AllowedOrigins []string
	EnableDocs     bool
	MaxUploadBytes int64

	Logger      *zap.Logger
	Metrics     *service.MetricsService
	Tokens      middleware.TokenValidator
	RateLimiter *middleware.RateLimiter
	DB          Pinger

	Items        itemService
	Claims       claimService
	Adjudication adjudicationService
	Uploads      uploadService
	Artifacts    artifactService
}

// NewRouter builds the gin engine with the full middleware chain and every API route.
func NewRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	if deps.Logger != nil {
		r.Use(logger.GinMiddleware(deps.Logger))
	}
	r.Use(corsmiddleware.New(deps.AllowedOrigins))
	if deps.Metrics != nil {
		r.Use(middleware.Metrics(deps.Metrics, "/metrics", "/health", "/ready"))
	}

	health := NewHealthHandler(deps.Metrics, deps.DB, deps.Logger)
	r.GET("/health", health.Health)
	r.GET("/ready", health.Ready)
	r.GET("/metrics", health.Prometheus)
	if deps.EnableDocs {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	items := NewItemHandler(deps.Items)
	claims := NewClaimHandler(deps.Claims)
	adjudication := NewAdjudicationHandler(deps.Adjudication)
	uploads := NewUploadHandler(deps.Uploads, deps.MaxUploadBytes)
	artifacts := NewArtifactHandler(deps.Artifacts)

	limit := func(scope string) gin.HandlerFunc {
		if deps.RateLimiter == nil {
			return func(c *gin.Context) { c.Next() }
		}
		return deps.RateLimiter.Middleware(scope)
	}

	api := r.Group(deps.APIPrefix)
	api.GET("/artifacts/signed/:token", artifacts.Signed)

	secured := api.Group("")
	secured.Use(middleware.JWT(deps.Tokens))
	staff := middleware.RequireStaff()
	admin := middleware.RequireRoles(models.RoleAdmin)

	secured.GET("/artifacts/files/*key", artifacts.File)
	secured.POST("/artifacts/sign", artifacts.Sign)

	uploadRoutes := secured.Group("/uploads")
	uploadRoutes.POST("", limit("uploads"), uploads.Create)
	uploadRoutes.GET("/:batchId", uploads.Get)
	uploadRoutes.POST("/:batchId/files", limit("uploads"), uploads.AddFiles)
	uploadRoutes.GET("/:batchId/wait", uploads.Wait)
	uploadRoutes.DELETE("/:batchId", uploads.Discard)
	uploadRoutes.DELETE("/:batchId/slots/:slotId", uploads.RemoveSlot)
	uploadRoutes.GET("/:batchId/slots/:slotId/preview", uploads.Preview)

	itemRoutes := secured.Group("/items")
	itemRoutes.POST("", items.Report)
	itemRoutes.GET("", items.List)
	itemRoutes.POST("/expire", staff, items.BulkExpire)
	itemRoutes.POST("/sweep", staff, items.Sweep)
	itemRoutes.GET("/:id", items.Get)
	itemRoutes.DELETE("/:id", admin, items.Delete)
	itemRoutes.GET("/:id/matches", items.Matches)
	itemRoutes.GET("/:id/history", staff, items.History)
	itemRoutes.POST("/:id/claims", limit("claims"), claims.Submit)
	itemRoutes.GET("/:id/claims", claims.ListForItem)
	itemRoutes.POST("/:id/claims/:claimId/approve", staff, adjudication.Approve)
	itemRoutes.POST("/:id/claims/:claimId/reject", staff, adjudication.Reject)
	itemRoutes.POST("/:id/claims/:claimId/review", staff, adjudication.Review)
	itemRoutes.POST("/:id/return", staff, adjudication.MarkReturned)
	itemRoutes.POST("/:id/handover", staff, adjudication.Handover)

	secured.GET("/claims/mine", claims.ListMine)

	return r
}
