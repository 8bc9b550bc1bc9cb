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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/campus-portal-api/api/swagger"
	"github.com/noah-isme/campus-portal-api/internal/handler"
	"github.com/noah-isme/campus-portal-api/internal/middleware"
	"github.com/noah-isme/campus-portal-api/internal/models"
	"github.com/noah-isme/campus-portal-api/internal/repository"
	"github.com/noah-isme/campus-portal-api/internal/service"
	"github.com/noah-isme/campus-portal-api/pkg/cache"
	"github.com/noah-isme/campus-portal-api/pkg/config"
	"github.com/noah-isme/campus-portal-api/pkg/database"
	"github.com/noah-isme/campus-portal-api/pkg/export"
	"github.com/noah-isme/campus-portal-api/pkg/jobs"
	"github.com/noah-isme/campus-portal-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/campus-portal-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/campus-portal-api/pkg/middleware/requestid"
	"github.com/noah-isme/campus-portal-api/pkg/storage"
)

// @title Campus Portal API
// @version 1.0.0
// @description Student portal backend: profiles, change requests, announcements, calendar, fees, tickets
// @BasePath /
// @schemes http

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}

	quoteStore, err := storage.NewLocalStorage(cfg.Fees.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init quote storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Fees.SignedURLSecret, cfg.Fees.SignedURLTTL)

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	profileRepo := repository.NewProfileRepository(db)
	changeRequestRepo := repository.NewChangeRequestRepository(db)
	announcementRepo := repository.NewAnnouncementRepository(db)
	calendarRepo := repository.NewCalendarRepository(db)
	ticketRepo := repository.NewTicketRepository(db)
	feeRepo := repository.NewFeeRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()

	authSvc := service.NewAuthService(userRepo, profileRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		ResetTokenExpiry:   cfg.JWT.ResetTokenExpiration,
		Issuer:             "campus-portal-api",
	})
	changeSvc := service.NewProfileChangeService(changeRequestRepo, profileRepo, userRepo, logr)
	profileSvc := service.NewProfileService(profileRepo, userRepo, changeSvc, userRepo, logr)
	announcementSvc := service.NewAnnouncementService(announcementRepo, cacheRepo, cfg.Announcements.CacheTTL, validate, logr)
	calendarSvc := service.NewCalendarService(calendarRepo, cacheRepo, cfg.Calendar.CacheTTL, validate, logr)
	ticketSvc := service.NewTicketService(ticketRepo, userRepo, validate, logr)

	quoteWorker := service.NewFeeQuoteWorker(feeRepo, export.NewPDFExporter(), quoteStore, cfg.Fees.WorkerRetries, logr)
	quoteQueue := jobs.NewQueue("fee-quotes", quoteWorker.Handle, jobs.QueueConfig{
		Workers:    cfg.Fees.WorkerConcurrency,
		MaxRetries: cfg.Fees.WorkerRetries,
		Logger:     logr,
	})
	quoteQueue.Start(ctx)
	defer quoteQueue.Stop()
	feeSvc := service.NewFeeService(feeRepo, quoteQueue, signer, quoteStore, logr)

	authHandler := handler.NewAuthHandler(authSvc)
	profileHandler := handler.NewProfileHandler(profileSvc)
	changeHandler := handler.NewChangeRequestHandler(changeSvc)
	announcementHandler := handler.NewAnnouncementHandler(announcementSvc)
	calendarHandler := handler.NewCalendarHandler(calendarSvc)
	ticketHandler := handler.NewTicketHandler(ticketSvc)
	feeHandler := handler.NewFeeHandler(feeSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin), metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	api.POST("/auth/login", authHandler.Login)
	api.POST("/auth/refresh", authHandler.Refresh)
	api.POST("/auth/forgot-password", authHandler.ForgotPassword)
	api.POST("/auth/reset-password", authHandler.ResetPassword)

	// token-authenticated via signed URL, not JWT
	api.GET("/fees/downloads/:token", feeHandler.Download)

	// public feed; claims, when present, select the audience
	api.GET("/announcements", middleware.OptionalJWT(authSvc), announcementHandler.Feed)

	authed := api.Group("", middleware.JWT(authSvc))
	{
		authed.GET("/auth/me", authHandler.Me)
		authed.POST("/auth/logout", authHandler.Logout)
		authed.POST("/auth/change-password", authHandler.ChangePassword)

		authed.GET("/profiles/me", profileHandler.GetOwn)

		authed.POST("/change-requests", middleware.RequireRoles(models.RoleStudent), changeHandler.Submit)
		authed.GET("/change-requests", changeHandler.List)
		authed.GET("/change-requests/:id", changeHandler.Get)

		authed.GET("/announcements/:id", announcementHandler.Get)

		authed.GET("/calendar", calendarHandler.List)
		authed.GET("/calendar/:id", calendarHandler.Get)

		authed.POST("/tickets", middleware.RequireRoles(models.RoleStudent), ticketHandler.Create)
		authed.GET("/tickets", ticketHandler.List)
		authed.GET("/tickets/:id", ticketHandler.Get)

		authed.GET("/fees/programmes", feeHandler.Programmes)
		authed.POST("/fees/quotes", middleware.RequireRoles(models.RoleStudent), feeHandler.CreateQuote)
		authed.GET("/fees/quotes", feeHandler.ListQuotes)
		authed.GET("/fees/quotes/:id", feeHandler.GetQuote)
		authed.GET("/fees/quotes/:id/download-url", feeHandler.SignedURL)
	}

	admin := api.Group("/admin", middleware.JWT(authSvc), middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin))
	{
		admin.GET("/profiles", profileHandler.List)
		admin.POST("/profiles", profileHandler.Create)
		admin.GET("/profiles/:id", profileHandler.Get)

		admin.POST("/change-requests/:id/review", changeHandler.Review)
		admin.GET("/change-requests/export", changeHandler.Export)

		announcementAudit := middleware.Audit(userRepo, models.AuditActionAnnouncementWrite, "announcement")
		admin.GET("/announcements", announcementHandler.List)
		admin.POST("/announcements", announcementAudit, announcementHandler.Create)
		admin.PUT("/announcements/:id", announcementAudit, announcementHandler.Update)
		admin.DELETE("/announcements/:id", announcementAudit, announcementHandler.Delete)

		calendarAudit := middleware.Audit(userRepo, models.AuditActionCalendarWrite, "calendar_event")
		admin.POST("/calendar", calendarAudit, calendarHandler.Create)
		admin.PUT("/calendar/:id", calendarAudit, calendarHandler.Update)
		admin.DELETE("/calendar/:id", calendarAudit, calendarHandler.Delete)

		admin.POST("/tickets/:id/transition", ticketHandler.Transition)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("graceful shutdown failed", "error", err)
	}
}
