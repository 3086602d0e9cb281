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
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/Ramsey-B/clover/config"
	aliasrepo "github.com/Ramsey-B/clover/internal/repositories/alias"
	clusterrepo "github.com/Ramsey-B/clover/internal/repositories/cluster"
	detectionrepo "github.com/Ramsey-B/clover/internal/repositories/detection"
	entityrepo "github.com/Ramsey-B/clover/internal/repositories/entity"
	extractionlogrepo "github.com/Ramsey-B/clover/internal/repositories/extractionlog"
	mergehistoryrepo "github.com/Ramsey-B/clover/internal/repositories/mergehistory"
	sourcefilerepo "github.com/Ramsey-B/clover/internal/repositories/sourcefile"
	"github.com/Ramsey-B/clover/pkg/audit"
	"github.com/Ramsey-B/clover/pkg/clustering"
	correlationengine "github.com/Ramsey-B/clover/pkg/correlation"
	"github.com/Ramsey-B/clover/pkg/database"
	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/graph"
	"github.com/Ramsey-B/clover/pkg/kafka"
	"github.com/Ramsey-B/clover/pkg/matching"
	"github.com/Ramsey-B/clover/pkg/merging"
	"github.com/Ramsey-B/clover/pkg/middleware"
	auditroutes "github.com/Ramsey-B/clover/pkg/routes/audit"
	correlationroutes "github.com/Ramsey-B/clover/pkg/routes/correlation"
	"github.com/Ramsey-B/clover/pkg/routes/health"
	"github.com/Ramsey-B/clover/pkg/routes/resolution"
	"github.com/Ramsey-B/clover/pkg/tracing"
	"github.com/Ramsey-B/clover/pkg/tracing/exporters"
)

const version = "1.0.0"

func main() {
	// .env is optional; real deployments use environment variables
	_ = godotenv.Load()

	cfg := config.Config{}
	if err := ectoenv.BindEnv(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	log := logger.WithField("app", cfg.AppName)

	db, err := connectDatabase(cfg, logger)
	if err != nil {
		log.WithError(err).Error("Failed to connect to database")
		os.Exit(1)
	}
	defer db.Close()

	if err := runMigrations(cfg, logger, db); err != nil {
		log.WithError(err).Error("Failed to run database migrations")
		os.Exit(1)
	}

	if cfg.TracingEnabled {
		shutdownTracing, err := tracing.Setup(context.Background(), tracing.Config{
			ServiceName:    cfg.AppName,
			ServiceVersion: version,
			SampleRatio:    cfg.TracingSampleRatio,
			OTLP: exporters.OTLPConfig{
				Endpoint: cfg.OTLPEndpoint,
				Protocol: cfg.OTLPProtocol,
				Insecure: cfg.OTLPInsecure,
				Timeout:  10 * time.Second,
			},
		})
		if err != nil {
			log.WithError(err).Error("Failed to set up tracing")
			os.Exit(1)
		}
		defer func() {
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(flushCtx); err != nil {
				log.WithError(err).Warn("Failed to flush traces on shutdown")
			}
		}()
	}

	var producer *kafka.Producer
	var emitter *events.Emitter
	if cfg.KafkaEnabled {
		producer = kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaOutputTopic,
			BatchSize:    cfg.KafkaBatchSize,
			BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
			RequiredAcks: cfg.KafkaRequiredAcks,
			Compression:  cfg.KafkaCompression,
		}, logger)
		defer producer.Close()
		emitter = events.NewEmitter(producer, logger)
	}

	var graphClient *graph.Client
	var projector *graph.Projector
	if cfg.GraphDBEnabled {
		graphClient, err = graph.NewClient(graph.Config{
			Host:     cfg.GraphDBHost,
			Port:     cfg.GraphDBPort,
			Username: cfg.GraphDBUser,
			Password: cfg.GraphDBPassword,
		}, logger)
		if err != nil {
			log.WithError(err).Error("Failed to create graph client")
			os.Exit(1)
		}
		defer graphClient.Close(context.Background())
		projector = graph.NewProjector(graphClient, logger)
	}

	entities := entityrepo.NewRepository(db, logger)
	clusters := clusterrepo.NewRepository(db, logger)
	aliases := aliasrepo.NewRepository(db, logger)
	detections := detectionrepo.NewRepository(db, logger)
	history := mergehistoryrepo.NewRepository(db, logger)
	extractionLog := extractionlogrepo.NewRepository(db, logger)
	sourceFiles := sourcefilerepo.NewRepository(db, logger)

	detector := matching.NewDetector(logger)
	builder := clustering.NewBuilder(logger, detector, clustering.DefaultConfig())
	correlation := correlationengine.NewEngine(logger, entities, extractionLog, sourceFiles)
	exporter := audit.NewExporter(logger, history)

	var mergeEmitter merging.Emitter
	if emitter != nil {
		mergeEmitter = emitter
	}
	merger := merging.NewEngine(logger, db, entities, clusters, history, detections, aliases, mergeEmitter)

	var detectionEmitter resolution.Emitter
	if emitter != nil {
		detectionEmitter = emitter
	}
	var mergeProjector resolution.Projector
	if projector != nil {
		mergeProjector = projector
	}

	resolutionHandler := resolution.NewHandler(
		logger,
		detector,
		builder,
		entities,
		aliases,
		detections,
		clusters,
		merger,
		history,
		detectionEmitter,
		mergeProjector,
	)
	correlationHandler := correlationroutes.NewHandler(logger, correlation)
	auditHandler := auditroutes.NewHandler(logger, exporter)

	var graphPinger health.GraphPinger
	if graphClient != nil {
		graphPinger = graphClient
	}
	checker := health.NewChecker(db, graphPinger, version)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))

	checker.RegisterRoutes(e)
	api := e.Group("/api/v1")
	resolutionHandler.Register(api)
	correlationHandler.Register(api)
	auditHandler.Register(api)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		ReadTimeout:       time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second,
		ReadHeaderTimeout: time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	go func() {
		checker.SetReady(true)
		log.WithField("port", cfg.Port).Info("Starting API server")
		if err := e.StartServer(server); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("API server stopped")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	checker.SetReady(false)
	log.Info("Shutting down API server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Failed to shut down API server cleanly")
	}
}

func newLogger(cfg config.Config) ectologger.Logger {
	var zapLogger *zap.Logger
	var err error
	if cfg.PrettyLogs {
		zapLogger, err = zap.NewDevelopment()
	} else {
		zapLogger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func connectDatabase(cfg config.Config, logger ectologger.Logger) (database.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DatabaseHost,
		cfg.DatabasePort,
		cfg.DatabaseUserName,
		cfg.DatabasePassword,
		cfg.DatabaseName,
		cfg.DatabaseSSLMode,
	)

	var db *sqlx.DB
	var err error
	for attempt := 0; attempt <= cfg.DatabaseReconnectRetryCount; attempt++ {
		db, err = sqlx.Connect(cfg.DatabaseDriver, dsn)
		if err == nil {
			break
		}
		logger.WithError(err).WithField("attempt", attempt+1).Warn("Failed to connect to database, retrying")
		time.Sleep(time.Duration(attempt+1) * time.Second)
	}
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
	db.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)

	return database.NewDatabaseInstance(db, logger), nil
}

func runMigrations(cfg config.Config, logger ectologger.Logger, db database.DB) error {
	driver, err := postgres.WithInstance(db.Unsafe().DB, &postgres.Config{})
	if err != nil {
		return err
	}

	ms := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})

	return ms.Migrate(cfg.DatabaseName, driver)
}
