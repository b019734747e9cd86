package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/qbank-api/internal/handler"
	internalmiddleware "github.com/noah-isme/qbank-api/internal/middleware"
	"github.com/noah-isme/qbank-api/internal/models"
	"github.com/noah-isme/qbank-api/internal/service"
	"github.com/noah-isme/qbank-api/pkg/config"
	"github.com/noah-isme/qbank-api/pkg/logger"
	"github.com/noah-isme/qbank-api/pkg/middleware/cors"
	"github.com/noah-isme/qbank-api/pkg/middleware/requestid"
	"github.com/noah-isme/qbank-api/pkg/response"
)

type routeHandlers struct {
	files    *handler.FileHandler
	assembly *handler.AssemblyHandler
	metrics  *handler.MetricsHandler
}

func newRouter(cfg *config.Config, logr *zap.Logger, auth *service.AuthService, metrics *service.MetricsService, h routeHandlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestid.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(cors.New(cfg.CORS.AllowedOrigins))
	if metrics != nil {
		r.Use(internalmiddleware.Metrics(metrics, "/metrics", "/health", "/ready"))
	}
	r.Use(internalmiddleware.WithResponseMeta())
	r.Use(response.Debug(cfg.IsDevelopment()))

	r.GET("/health", h.metrics.Health)
	r.GET("/ready", h.metrics.Ready)
	r.GET("/metrics", h.metrics.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	// Signed links carry their own credentials.
	api.GET("/files/shared/:token", h.files.Shared)

	secured := api.Group("")
	secured.Use(internalmiddleware.JWT(auth))
	secured.Use(internalmiddleware.RequireRoles(models.RoleAdmin, models.RoleLecturer))

	files := secured.Group("/files")
	files.POST("/upload", h.files.Upload)
	files.POST("/replace", h.files.Replace)
	files.GET("/download-template", h.files.Template)
	files.GET("/download/:id", h.files.Download)
	files.GET("/preview/:id", h.files.Preview)
	files.GET("/blob/:id", h.files.Blob)
	files.GET("/:id/link", h.files.SignedLink)
	files.DELETE("/:id", h.files.SoftDelete)
	files.POST("/:id/restore", h.files.Restore)
	files.DELETE("/:id/permanent", h.files.PermanentDelete)
	files.POST("/:id/rollback", h.files.Rollback)
	files.POST("/bulk/delete", h.files.BulkSoftDelete)
	files.POST("/bulk/restore", h.files.BulkRestore)
	files.POST("/bulk/permanent-delete", h.files.BulkPermanentDelete)
	files.GET("/combine-preview/:id", h.assembly.CombinePreview)
	files.GET("/combine-download", h.assembly.CombineDownload)
	files.GET("/download-bundle", h.assembly.DownloadBundle)
	files.GET("/completeness/:questionSetId", h.files.Completeness)
	files.GET("/statistics/:questionSetId", h.files.Statistics)
	files.GET("/activity/:questionSetId", h.files.Activity)
	files.GET("/history/:questionSetId", h.files.History)

	sets := secured.Group("/questionsets")
	sets.GET("/:id/files", h.files.ListActive)
	sets.GET("/:id/deleted-files", h.files.ListDeleted)

	admin := secured.Group("/admin")
	admin.Use(internalmiddleware.RequireRoles(models.RoleAdmin))
	admin.GET("/metrics", h.metrics.Snapshot)
	admin.POST("/blobs/sweep", h.metrics.Sweep)

	return r
}
