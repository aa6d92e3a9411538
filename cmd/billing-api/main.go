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

	_ "github.com/noah-isme/pesantren-billing-api/api/swagger"
	"github.com/noah-isme/pesantren-billing-api/internal/handler"
	"github.com/noah-isme/pesantren-billing-api/internal/middleware"
	"github.com/noah-isme/pesantren-billing-api/internal/models"
	"github.com/noah-isme/pesantren-billing-api/internal/repository"
	"github.com/noah-isme/pesantren-billing-api/internal/service"
	"github.com/noah-isme/pesantren-billing-api/pkg/cache"
	"github.com/noah-isme/pesantren-billing-api/pkg/config"
	"github.com/noah-isme/pesantren-billing-api/pkg/database"
	"github.com/noah-isme/pesantren-billing-api/pkg/jobs"
	"github.com/noah-isme/pesantren-billing-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/pesantren-billing-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/pesantren-billing-api/pkg/middleware/requestid"
)

// @title Pesantren Billing API
// @version 1.0.0
// @description Student registry, monthly billing batches and installment payments for a pesantren.
// @BasePath /api
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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, dashboard cache disabled", zap.Error(err))
		redisClient = nil
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	adminRepo := repository.NewAdminRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	billingRepo := repository.NewBillingRepository(db)
	paymentRepo := repository.NewPaymentRepository(db)
	dashboardRepo := repository.NewDashboardRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	var cacheRepo service.CacheRepository
	checks := map[string]handler.Pinger{"database": handler.PingFunc(db.PingContext)}
	if redisClient != nil {
		redisRepo := repository.NewCacheRepository(redisClient, "billing", logr)
		defer redisRepo.Close() //nolint:errcheck
		cacheRepo = redisRepo
		checks["cache"] = redisRepo
	}
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Dashboard.CacheTTL, logr, cfg.Redis.Enabled && redisClient != nil)
	invalidator := service.NewCacheInvalidator(cacheSvc, jobs.QueueConfig{
		Workers:    cfg.CacheJobs.Workers,
		MaxRetries: cfg.CacheJobs.Retries,
		RetryDelay: cfg.CacheJobs.RetryDelay,
		Logger:     logr,
	})
	invalidator.Start(ctx)
	defer invalidator.Stop()

	auditSvc := service.NewAuditService(auditRepo, logr)
	reconciler := service.NewReconcilerService(studentRepo, billingRepo, paymentRepo, metricsSvc, logr)
	authSvc := service.NewAuthService(service.AuthServiceParams{
		Admins:    adminRepo,
		Students:  studentRepo,
		Audit:     auditSvc,
		Metrics:   metricsSvc,
		Validator: validate,
		Logger:    logr,
		Config: service.AuthConfig{
			AccessTokenSecret: cfg.JWT.Secret,
			AccessTokenExpiry: cfg.JWT.Expiration,
			Issuer:            cfg.JWT.Issuer,
		},
	})
	studentSvc := service.NewStudentService(studentRepo, validate, logr, service.StudentServiceOptions{
		Reconciler:  reconciler,
		Invalidator: invalidator,
		BcryptCost:  cfg.Auth.BcryptCost,
	})
	billingSvc := service.NewBillingService(billingRepo, reconciler, invalidator, validate, logr)
	paymentSvc := service.NewPaymentService(service.PaymentServiceParams{
		Repo:        paymentRepo,
		Students:    studentRepo,
		Invalidator: invalidator,
		Metrics:     metricsSvc,
		Validator:   validate,
		Logger:      logr,
		MaxRetries:  cfg.Payments.MaxRetries,
	})
	dashboardSvc := service.NewDashboardService(service.DashboardServiceParams{
		Repo:    dashboardRepo,
		Batches: billingRepo,
		Cache:   cacheSvc,
		Logger:  logr,
		Config:  service.DashboardServiceConfig{CacheTTL: cfg.Dashboard.CacheTTL},
	})

	authHandler := handler.NewAuthHandler(authSvc)
	studentHandler := handler.NewStudentHandler(studentSvc)
	billingHandler := handler.NewBillingHandler(billingSvc, paymentSvc)
	paymentHandler := handler.NewPaymentHandler(paymentSvc)
	dashboardHandler := handler.NewDashboardHandler(dashboardSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, checks)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	admin := middleware.RequireRoles(models.RoleAdmin)
	adminOrSelf := middleware.RBAC(string(models.RoleAdmin), middleware.Self)

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/logout", authHandler.Logout)
	auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)

	secured := api.Group("")
	secured.Use(middleware.JWT(authSvc))

	students := secured.Group("/students")
	students.GET("", admin, studentHandler.List)
	students.GET("/:id", adminOrSelf, studentHandler.Get)
	students.POST("", admin, middleware.Audit(auditSvc, models.AuditActionStudentCreate, "student"), studentHandler.Create)
	students.PUT("/:id", admin, middleware.Audit(auditSvc, models.AuditActionStudentUpdate, "student"), studentHandler.Update)
	students.DELETE("/:id", admin, middleware.Audit(auditSvc, models.AuditActionStudentDelete, "student"), studentHandler.Delete)

	billing := secured.Group("/billing")
	billing.GET("", admin, billingHandler.List)
	billing.POST("/batch", admin, middleware.Audit(auditSvc, models.AuditActionBatchCreate, "billing_batch"), billingHandler.CreateBatch)
	billing.POST("/batch/:id/fan-out", admin, middleware.Audit(auditSvc, models.AuditActionFanOut, "billing_batch"), billingHandler.RetryFanOut)
	billing.GET("/student/:id", adminOrSelf, billingHandler.StudentObligations)
	billing.GET("/:id", admin, billingHandler.Get)

	payments := secured.Group("/payments")
	payments.GET("", admin, paymentHandler.List)
	payments.POST("", admin, middleware.Audit(auditSvc, models.AuditActionPaymentRecord, "payment_obligation"), paymentHandler.Record)
	payments.GET("/student/:id", adminOrSelf, paymentHandler.Statement)

	secured.GET("/dashboard/admin", admin, dashboardHandler.Admin)
	secured.GET("/metrics/summary", admin, metricsHandler.Snapshot)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "cache", cacheSvc.Enabled())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
