package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"nudge/internal/channel"
	"nudge/internal/charge"
	"nudge/internal/config"
	"nudge/internal/constants"
	"nudge/internal/delivery"
	"nudge/internal/dispatcher"
	"nudge/internal/logger"
	"nudge/internal/rule"
	"nudge/pkg/bootstrap"
	"nudge/pkg/health"
	"nudge/pkg/metrics"
	"nudge/pkg/migrations"
	"nudge/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector *bootstrap.DatabaseConnector
	db          *sql.DB
	redisClient *redis.Client
	mongoClient *mongo.Client

	dispatcher       *dispatcher.Dispatcher
	callbackConsumer *delivery.CallbackConsumer
	tracerProvider   *tracing.TracerProvider
	server           *http.Server
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("dispatcher-service")
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.InitBroker("dispatcher-service"); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := a.initServices(); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	tp, err := tracing.Init(a.Config.Tracing, "dispatcher-service")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterDispatcherMetrics()
	metrics.RegisterDeliveryMetrics()
	metrics.RegisterBrokerMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	if err := a.initHTTPServer(); err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	if a.Config.Database.RunMigrations {
		path := a.Config.Database.MigrationsPath
		if path == "" {
			path = "migrations/postgres"
		}
		if err := migrations.RunPostgres(a.db, path, a.Logger); err != nil {
			return err
		}
	}

	redisClient, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		return err
	}
	a.redisClient = redisClient

	if a.Config.Database.MongoDB.URI != "" {
		initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()

		mongoClient, err := a.dbConnector.InitMongoDB(initCtx)
		if err != nil {
			a.Logger.WarnwCtx(initCtx, "MongoDB connection failed, callback audit disabled", "error", err)
		} else {
			a.mongoClient = mongoClient
			if err := migrations.EnsureMongoCollection(initCtx, mongoClient.Database(a.mongoDBName())); err != nil {
				a.Logger.WarnwCtx(initCtx, "Failed to prepare callback audit collection", "error", err)
			}
		}
	}

	return nil
}

func (a *App) mongoDBName() string {
	if a.Config.Database.MongoDB.Database != "" {
		return a.Config.Database.MongoDB.Database
	}
	return constants.DefaultMongoDBName
}

func (a *App) initServices() error {
	topics := a.Config.Broker.Kafka

	var ruleRepo rule.Repository = rule.NewRepository(a.db)
	ruleRepo = rule.NewCachedRepository(ruleRepo, a.redisClient, constants.DefaultRuleCacheTTL, a.Logger)
	ruleService := rule.NewService(ruleRepo, a.Logger)

	chargeRepo := charge.NewRepository(a.db)
	deliveryRepo := delivery.NewRepository(a.db)

	registry := channel.NewRegistry(a.Config.Providers, a.Config.CircuitBreaker)

	lockTTL := constants.DefaultSweepInterval
	if a.Config.Dispatcher.IntervalSeconds > 0 {
		lockTTL = time.Duration(a.Config.Dispatcher.IntervalSeconds) * time.Second
	}
	lock := dispatcher.NewSweepLock(a.redisClient, lockTTL)

	a.dispatcher = dispatcher.New(
		chargeRepo,
		ruleService,
		deliveryRepo,
		registry,
		a.Producer,
		lock,
		a.Config.Dispatcher,
		topics,
		a.Logger,
	)

	var auditRepo delivery.AuditRepository
	if a.mongoClient != nil {
		auditRepo = delivery.NewAuditRepository(a.mongoClient.Database(a.mongoDBName()))
	}
	tracker := delivery.NewTracker(deliveryRepo, auditRepo, a.Producer, topics, a.Logger)
	a.callbackConsumer = delivery.NewCallbackConsumer(a.Consumer, tracker, topics, a.Logger)

	return nil
}

func (a *App) initHTTPServer() error {
	mux := http.NewServeMux()

	healthRegistry := health.NewCheckerRegistry()
	healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	healthRegistry.Register(health.NewRedisChecker(a.redisClient))
	if a.mongoClient != nil {
		healthRegistry.Register(health.NewMongoDBChecker(a.mongoClient))
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		h := healthRegistry.Check(r.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		fmt.Fprintf(w, `{"status":"%s","timestamp":"%s"}`, h.Status, h.Timestamp.Format(time.RFC3339))
	})

	mux.Handle("/metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler: mux,
	}

	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	if a.server != nil {
		g.Go(func() error {
			a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
			if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("HTTP server error: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		return a.dispatcher.Run(gCtx)
	})

	g.Go(func() error {
		a.Logger.InfowCtx(gCtx, "Starting callback consumer", "topic", a.Config.Broker.Kafka.CallbackTopic)
		return a.callbackConsumer.Run(gCtx)
	})

	err := g.Wait()

	if shutdownErr := a.Shutdown(context.Background()); shutdownErr != nil {
		a.Logger.Errorw("Shutdown finished with errors", "error", shutdownErr)
	}

	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
			}
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redisClient, a.db, a.mongoClient)...)

		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
