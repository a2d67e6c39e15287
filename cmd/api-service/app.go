package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	_ "github.com/lib/pq" // PostgreSQL driver

	"nudge/internal/broker"
	"nudge/internal/charge"
	"nudge/internal/config"
	"nudge/internal/constants"
	"nudge/internal/delivery"
	"nudge/internal/logger"
	"nudge/internal/rule"
	"nudge/pkg/bootstrap"
	"nudge/pkg/health"
	"nudge/pkg/metrics"
	"nudge/pkg/middleware"
	"nudge/pkg/migrations"
	"nudge/pkg/ratelimit"
	"nudge/pkg/tracing"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

type App struct {
	config         *config.Config
	logger         logger.Logger
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	redisClient    *redis.Client
	mongoClient    *mongo.Client
	producer       broker.Producer
	server         *http.Server
	router         *gin.Engine
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		config:      cfg,
		logger:      log,
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.initBroker(); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := a.initRouter(); err != nil {
		return fmt.Errorf("failed to initialize router: %w", err)
	}

	if err := a.initServer(); err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	tp, err := tracing.Init(a.config.Tracing, "api-service")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	if a.config.Database.RunMigrations {
		path := a.config.Database.MigrationsPath
		if path == "" {
			path = "migrations/postgres"
		}
		if err := migrations.RunPostgres(a.db, path, a.logger); err != nil {
			return err
		}
	}

	redisClient, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return err
	}
	a.redisClient = redisClient

	if a.config.Database.MongoDB.URI != "" {
		initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		mongoClient, err := a.dbConnector.InitMongoDB(initCtx)
		if err != nil {
			a.logger.WarnwCtx(initCtx, "MongoDB connection failed, callback audit queries disabled", "error", err)
		} else {
			a.mongoClient = mongoClient
		}
	}

	return nil
}

func (a *App) initBroker() error {
	producer, err := broker.NewProducer(a.config.Broker, a.logger)
	if err != nil {
		return err
	}
	a.producer = producer
	return nil
}

func (a *App) initRouter() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware("api-service"))
	}

	router.Use(middleware.RecoveryMiddleware(a.logger))
	router.Use(middleware.LoggerMiddleware(a.logger))
	router.Use(middleware.RequestIDMiddleware())

	var webhookMiddleware []gin.HandlerFunc
	if a.config.Webhook.RateLimit.Enabled {
		rateLimitConfig := ratelimit.RateLimitConfig{
			RPS:             a.config.Webhook.RateLimit.RPS,
			Burst:           a.config.Webhook.RateLimit.Burst,
			CleanupInterval: time.Duration(a.config.Webhook.RateLimit.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(a.config.Webhook.RateLimit.MaxAge) * time.Second,
		}
		webhookMiddleware = append(webhookMiddleware, ratelimit.RateLimitMiddleware(rateLimitConfig))
		a.logger.Infow("Webhook rate limiting enabled", "rps", rateLimitConfig.RPS, "burst", rateLimitConfig.Burst)
	}

	topics := a.config.Broker.Kafka

	var ruleRepo rule.Repository = rule.NewRepository(a.db)
	ruleRepo = rule.NewCachedRepository(ruleRepo, a.redisClient, constants.DefaultRuleCacheTTL, a.logger)
	ruleService := rule.NewService(ruleRepo, a.logger)
	ruleHandler := rule.NewHandler(ruleService, a.logger)

	chargeRepo := charge.NewRepository(a.db)
	chargeService, err := charge.NewService(chargeRepo, ruleService, a.producer, topics, a.logger)
	if err != nil {
		return err
	}
	chargeHandler := charge.NewHandler(chargeService, a.logger)

	deliveryRepo := delivery.NewRepository(a.db)
	deliveryHandler := delivery.NewHandler(deliveryRepo, a.producer, topics, a.logger)

	ruleHandler.RegisterRoutes(router)
	chargeHandler.RegisterRoutes(router)
	deliveryHandler.RegisterRoutes(router, webhookMiddleware...)

	metrics.RegisterAPIMetrics()
	metrics.RegisterDeliveryMetrics()
	metrics.RegisterBrokerMetrics()

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	healthRegistry.Register(health.NewRedisChecker(a.redisClient))
	if a.mongoClient != nil {
		healthRegistry.Register(health.NewMongoDBChecker(a.mongoClient))
	}

	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	a.router = router
	return nil
}

func (a *App) initServer() error {
	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.config.Server.Port),
		Handler:      a.router,
		ReadTimeout:  a.config.Server.ReadTimeoutSeconds * time.Second,
		WriteTimeout: a.config.Server.WriteTimeoutSeconds * time.Second,
	}
	return nil
}

func (a *App) Run(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		a.logger.InfowCtx(ctx, "Server listening", "port", a.config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return a.Shutdown(ctx)
	case err := <-errChan:
		return err
	}
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.InfowCtx(ctx, "Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()

	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("producer close error: %w", err))
		}
	}

	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
		}
	}

	dbErrs := a.dbConnector.ShutdownDatabases(ctx, a.redisClient, a.db, a.mongoClient)
	errs = append(errs, dbErrs...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}

	a.logger.InfowCtx(ctx, "Server exited successfully")
	return nil
}
