package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/midnight-protocol/midnight-protocol-sub000/config"
	"github.com/midnight-protocol/midnight-protocol-sub000/internal/handlers"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/analysis"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/completion"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/conversation"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/database"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/dispatch"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/email"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/health"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/kafka"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/middleware"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/outcome"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/pairing"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/redis"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/report"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/repositories"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/scheduling"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/startup"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/tracing"
	"github.com/midnight-protocol/midnight-protocol-sub000/pkg/tracing/exporters"
)

func main() {
	// .env is optional; real environments set variables directly
	godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, zapLogger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Service exited with error")
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) (ectologger.Logger, *zap.Logger, error) {
	var zapLogger *zap.Logger
	var err error
	if cfg.PrettyLogs {
		zapLogger, err = zap.NewDevelopment()
	} else {
		zapLogger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, nil, err
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil), zapLogger, nil
}

func run(cfg config.Config, logger ectologger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	var tracerProvider *sdktrace.TracerProvider
	if cfg.OTLPEndpoint != "" {
		exporter, err := exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
			Endpoint: cfg.OTLPEndpoint,
			Protocol: cfg.OTLPProtocol,
			Insecure: cfg.OTLPInsecure,
			Timeout:  10 * time.Second,
		})
		if err != nil {
			return fmt.Errorf("failed to create OTLP exporter: %w", err)
		}

		tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(sdkresource.NewSchemaless(
				attribute.String("service.name", cfg.AppName),
			)),
		)
		otel.SetTracerProvider(tracerProvider)
		tracing.SetTracer(tracerProvider.Tracer(cfg.AppName))
		logger.Infof("Tracing enabled: endpoint=%s protocol=%s", cfg.OTLPEndpoint, cfg.OTLPProtocol)
	}

	// Database
	db, err := database.Connect(ctx, database.Config{
		Driver:          cfg.DatabaseDriver,
		Host:            cfg.DatabaseHost,
		Port:            cfg.DatabasePort,
		User:            cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Name:            cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	// Migrations
	instance, ok := db.(*database.DatabaseInstance)
	if !ok {
		return fmt.Errorf("unexpected database instance type")
	}
	driver, err := postgres.WithInstance(instance.DB.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	migrations := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	if err := migrations.Migrate(cfg.DatabaseName, driver); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Redis
	redisClient, err := redis.NewClient(redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	locker := redis.NewLocker(redisClient, "")
	limiter := redis.NewRateLimiter(redisClient, "")

	// Kafka is optional; a nil producer disables event publishing
	var producer *kafka.Producer
	if cfg.KafkaBrokers != "" {
		producer = kafka.NewProducer(kafka.ParseConfig(cfg.KafkaBrokers, cfg.KafkaEventTopic), logger)
		defer producer.Close()
	}

	// LLM
	model, err := completion.NewModel(completion.Config{
		Provider:  cfg.LLMProvider,
		Model:     cfg.LLMModel,
		APIKey:    cfg.LLMAPIKey,
		ServerURL: cfg.LLMServerURL,
		Timeout:   cfg.LLMTimeout,
	}, logger)
	if err != nil {
		return err
	}

	// Email
	sender := email.NewClient(email.Config{
		BaseURL: cfg.EmailAPIBaseURL,
		APIKey:  cfg.EmailAPIKey,
	}, logger)

	// Repositories
	participantRepo := repositories.NewParticipantRepository(db, logger)
	matchRepo := repositories.NewMatchRepository(db, logger)
	insightRepo := repositories.NewInsightRepository(db, logger)
	conversationRepo := repositories.NewConversationRepository(db, logger)
	outcomeRepo := repositories.NewOutcomeRepository(db, logger)
	reportRepo := repositories.NewReportRepository(db, logger)
	logRepo := repositories.NewProcessingLogRepository(db, logger)

	// Pipeline stages
	analyzer := analysis.NewAnalyzer(matchRepo, insightRepo, participantRepo, model, producer, analysis.Config{
		NotifyThreshold: cfg.NotifyScoreThreshold,
		MaxAttempts:     cfg.MaxAnalysisAttempts,
		AnalysisDelay:   cfg.AnalysisDelay,
	}, logger)

	generator := pairing.NewGenerator(participantRepo, matchRepo, logRepo, analyzer, locker, producer, pairing.Config{
		BatchSize:     cfg.MatchBatchSize,
		AnalysisDelay: cfg.AnalysisDelay,
	}, logger)

	activator := scheduling.NewActivator(matchRepo, participantRepo, logRepo, locker, producer, scheduling.Config{
		PollInterval:          cfg.SchedulerPollInterval,
		BatchSize:             cfg.SchedulerBatchSize,
		ScoreThreshold:        cfg.MatchScoreThreshold,
		DefaultUTCOffsetHours: cfg.DefaultUTCOffsetHours,
	}, logger)

	outcomeAnalyzer := outcome.NewAnalyzer(conversationRepo, outcomeRepo, model, producer, logger)

	engine := conversation.NewEngine(matchRepo, conversationRepo, participantRepo, insightRepo, outcomeAnalyzer, model, producer, conversation.Config{
		MaxAttempts: cfg.MaxConversationAttempts,
	}, logger)

	aggregator := report.NewAggregator(matchRepo, outcomeRepo, insightRepo, participantRepo, reportRepo, logRepo, locker, producer, logger)

	dispatcher := dispatch.NewDispatcher(reportRepo, participantRepo, sender, limiter, logRepo, producer, dispatch.Config{
		FromAddress:     cfg.EmailFromAddress,
		FallbackAddress: cfg.EmailFallbackAddress,
		RatePerSecond:   cfg.EmailRateLimitPerSecond,
		MaxRetries:      cfg.EmailMaxRetries,
		RetryBaseDelay:  cfg.EmailRetryBaseDelay,
		RetryMaxDelay:   cfg.EmailRetryMaxDelay,
		ContactCacheTTL: cfg.ContactCacheTTL,
	}, logger)

	// HTTP server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(echomw.Recover())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))

	checker := health.NewChecker(db, redisClient, os.Getenv("APP_VERSION"))
	checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	handlers.NewParticipantHandler(participantRepo).RegisterRoutes(api)
	handlers.NewMatchHandler(matchRepo, insightRepo).RegisterRoutes(api)
	handlers.NewConversationHandler(conversationRepo).RegisterRoutes(api)
	handlers.NewReportHandler(reportRepo).RegisterRoutes(api)
	handlers.NewPipelineHandler(generator, activator, engine, outcomeAnalyzer, aggregator, dispatcher, logRepo).RegisterRoutes(api)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		ReadTimeout:       time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	boot := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	boot.AddDependency(&startup.FuncDependency{
		Name: "activator",
		StartFunc: func(ctx context.Context) error {
			return activator.Start(ctx)
		},
		StopFunc: func(ctx context.Context) error {
			return activator.Stop(ctx)
		},
	})
	boot.AddDependency(&startup.FuncDependency{
		Name:  "http-server",
		Needs: []string{"activator"},
		StartFunc: func(ctx context.Context) error {
			go func() {
				if err := e.StartServer(server); err != nil && err != http.ErrServerClosed {
					logger.WithError(err).Error("HTTP server exited")
					stop()
				}
			}()
			return nil
		},
		StopFunc: func(ctx context.Context) error {
			return e.Shutdown(ctx)
		},
	})

	if err := boot.Start(ctx); err != nil {
		return err
	}
	checker.SetReady(true)
	logger.Infof("%s listening on port %d", cfg.AppName, cfg.Port)

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	checker.SetReady(false)
	if err := boot.Stop(shutdownCtx); err != nil {
		return err
	}

	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Failed to shut down tracer provider")
		}
	}

	logger.Info("Shutdown complete")
	return nil
}
