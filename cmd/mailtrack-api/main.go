package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/mailtrack-api/api/swagger"
	"github.com/noah-isme/mailtrack-api/internal/handler"
	internalmiddleware "github.com/noah-isme/mailtrack-api/internal/middleware"
	"github.com/noah-isme/mailtrack-api/internal/models"
	"github.com/noah-isme/mailtrack-api/internal/repository"
	"github.com/noah-isme/mailtrack-api/internal/service"
	"github.com/noah-isme/mailtrack-api/migrations"
	"github.com/noah-isme/mailtrack-api/pkg/cache"
	"github.com/noah-isme/mailtrack-api/pkg/config"
	"github.com/noah-isme/mailtrack-api/pkg/database"
	"github.com/noah-isme/mailtrack-api/pkg/export"
	"github.com/noah-isme/mailtrack-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/mailtrack-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/mailtrack-api/pkg/middleware/requestid"
	"github.com/noah-isme/mailtrack-api/pkg/storage"
)

// @title Mail Tracking API
// @version 1.0.0
// @description Mail register, assignment lifecycle and permission model for a government office
// @BasePath /api/v1
// @schemes http https
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(cfg.Database.URL(), migrations.FS, "."); err != nil {
			logr.Fatal("failed to apply migrations", zap.Error(err))
		}
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	metrics := service.NewMetricsService()

	var cacheRepo service.CacheRepository
	if cfg.Redis.Enabled {
		client, err := cache.NewRedis(context.Background(), cfg.Redis)
		if err != nil {
			logr.Warn("redis unavailable, directory cache disabled", zap.Error(err))
		} else {
			repo := repository.NewCacheRepository(client)
			defer repo.Close() //nolint:errcheck
			cacheRepo = repo
		}
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.TTL, logr, cfg.Cache.Enabled && cacheRepo != nil)

	userRepo := repository.NewUserRepository(db)
	sectionRepo := repository.NewSectionRepository(db)
	mailRepo := repository.NewMailRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	files, err := storage.NewLocalStorage(cfg.Attachments.StorageDir)
	if err != nil {
		logr.Fatal("failed to prepare attachment storage", zap.Error(err))
	}
	signer := storage.NewSignedURLSigner(cfg.Attachments.SignedURLSecret, cfg.Attachments.SignedURLTTL)

	validate := validator.New()
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
		SingleSession:      cfg.JWT.SingleSession,
	})
	sectionSvc := service.NewSectionService(sectionRepo, cacheSvc)

	worker := service.NewConsolidationWorker(mailRepo, assignmentRepo, metrics, logr, cfg.Workers)
	workerCtx, stopWorker := context.WithCancel(context.Background())
	worker.Start(workerCtx)

	mailSvc := service.NewMailService(mailRepo, assignmentRepo, auditRepo, userRepo, db, worker, metrics, validate, logr)
	assignmentSvc := service.NewAssignmentService(mailRepo, assignmentRepo, auditRepo, userRepo, db, worker, metrics, validate, logr)
	auditSvc := service.NewAuditService(auditRepo, mailSvc)
	userSvc := service.NewUserService(userRepo, mailSvc, validate, cacheSvc, logr)
	attachmentSvc := service.NewAttachmentService(mailRepo, assignmentRepo, auditRepo, mailSvc, db, files, signer, metrics, logr, service.AttachmentConfig{
		MaxFileSizeBytes: cfg.Attachments.MaxFileSizeBytes,
		DownloadPath:     cfg.APIPrefix + "/attachments/download",
	})
	exportSvc := service.NewExportService(mailRepo, assignmentRepo, service.ExportConfig{
		Enabled: cfg.Exports.Enabled,
		MaxRows: cfg.Exports.MaxRows,
	}, logr, export.NewCSVExporter(), export.NewPDFExporter())

	authHandler := handler.NewAuthHandler(authSvc)
	userHandler := handler.NewUserHandler(userSvc)
	sectionHandler := handler.NewSectionHandler(sectionSvc)
	mailHandler := handler.NewMailHandler(mailSvc, exportSvc)
	assignmentHandler := handler.NewAssignmentHandler(assignmentSvc)
	attachmentHandler := handler.NewAttachmentHandler(attachmentSvc, cfg.Attachments.MaxFileSizeBytes)
	auditHandler := handler.NewAuditHandler(auditSvc)
	metricsHandler := handler.NewMetricsHandler(metrics, db)

	r := gin.New()
	r.MaxMultipartMemory = cfg.Attachments.MaxFileSizeBytes
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr, cfg.Log.SlowRequestThreshold))
	r.Use(internalmiddleware.Metrics(metrics))
	r.Use(corsmiddleware.New(corsmiddleware.Options{
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		ExposedHeaders: []string{"Content-Disposition", "X-Export-Rows", "X-Request-ID"},
	}))

	r.GET("/health", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(internalmiddleware.WithResponseMeta())

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)

	api.GET("/attachments/download", attachmentHandler.Download)

	secured := api.Group("")
	secured.Use(internalmiddleware.JWT(authSvc, userSvc))

	secured.POST("/auth/logout", authHandler.Logout)
	secured.POST("/auth/change-password", authHandler.ChangePassword)

	secured.GET("/users/me", userHandler.Me)
	secured.GET("/users/candidates", userHandler.Candidates)
	secured.GET("/users", internalmiddleware.RequireRoles(models.RoleAG, models.RoleDAG), userHandler.List)
	secured.GET("/users/:id", internalmiddleware.RequireRoles(models.RoleAG), userHandler.Get)
	secured.POST("/users", internalmiddleware.RequireRoles(models.RoleAG), userHandler.Create)
	secured.PUT("/users/:id", internalmiddleware.RequireRoles(models.RoleAG), userHandler.Update)
	secured.DELETE("/users/:id", internalmiddleware.RequireRoles(models.RoleAG), userHandler.Delete)

	secured.GET("/sections", sectionHandler.List)
	secured.GET("/sections/:id/subsections", sectionHandler.Subsections)

	mails := secured.Group("/mails")
	mails.GET("", mailHandler.List)
	mails.POST("", mailHandler.Create)
	mails.GET("/export", mailHandler.Export)
	mails.GET("/:id", mailHandler.Get)
	mails.PATCH("/:id", mailHandler.UpdateRemarks)
	mails.POST("/:id/reassign", mailHandler.Reassign)
	mails.POST("/:id/close", mailHandler.Close)
	mails.POST("/:id/reopen", mailHandler.Reopen)
	mails.PUT("/:id/current-action", mailHandler.UpdateCurrentAction)
	mails.POST("/:id/multi-assign", mailHandler.MultiAssign)
	mails.GET("/:id/assignments", mailHandler.Assignments)
	mails.GET("/:id/timeline", mailHandler.Timeline)
	mails.GET("/:id/permissions", mailHandler.Permissions)
	mails.GET("/:id/attachment", attachmentHandler.Info)
	mails.POST("/:id/attachment", attachmentHandler.Upload)

	assignments := secured.Group("/assignments")
	assignments.POST("/:id/remarks", assignmentHandler.AddRemark)
	assignments.POST("/:id/complete", assignmentHandler.Complete)
	assignments.POST("/:id/reassign", assignmentHandler.Reassign)
	assignments.POST("/:id/revoke", assignmentHandler.Revoke)

	secured.GET("/audit", auditHandler.List)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logr.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	stopWorker()
	worker.Stop()
}
