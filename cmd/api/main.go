package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/embeddings"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/features"
	"github.com/Ramsey-B/fern/pkg/graph"
	"github.com/Ramsey-B/fern/pkg/kafka"
	"github.com/Ramsey-B/fern/pkg/matching"
	"github.com/Ramsey-B/fern/pkg/middleware"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/resolution"
	"github.com/Ramsey-B/fern/pkg/routes/entity"
	"github.com/Ramsey-B/fern/pkg/routes/health"
	"github.com/Ramsey-B/fern/pkg/routes/resolve"
	"github.com/Ramsey-B/fern/pkg/startup"
	"github.com/Ramsey-B/fern/pkg/tracing"
	"github.com/Ramsey-B/fern/pkg/tracing/exporters"
)

const version = "1.0.0"

func main() {
	_ = godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(&cfg)

	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(&exporters.ConsoleExporter{}))
	otel.SetTracerProvider(tp)
	tracing.SetTracer(tp.Tracer(cfg.AppName))

	if err := run(&cfg, logger); err != nil {
		logger.WithError(err).Error("service exited with error")
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) ectologger.Logger {
	var zapLogger *zap.Logger
	var err error
	if cfg.PrettyLogs {
		zapLogger, err = zap.NewDevelopment()
	} else {
		zapLogger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func run(cfg *config.Config, logger ectologger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	graphClient, err := graph.NewClient(graph.Config{
		Host:     cfg.GraphDBHost,
		Port:     cfg.GraphDBPort,
		Username: cfg.GraphDBUser,
		Password: cfg.GraphDBPassword,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create graph client: %w", err)
	}

	redisClient, err := redis.NewClient(redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create redis client: %w", err)
	}

	entityStore := graph.NewEntityStore(graphClient, logger)
	encoder := embeddings.NewOpenAIEncoder(cfg.OpenAIAPIKey, cfg.EmbeddingModel)
	extractor := features.New()

	embeddingCache := embeddings.NewCache(redisClient, encoder, entityStore, logger, embeddings.CacheConfig{
		TTL:         cfg.EmbeddingCacheTTL,
		MaxEntities: cfg.EmbeddingCacheSize,
	})

	matchCfg := matching.Config{
		SimilarityThreshold: cfg.SimilarityThreshold,
		FuzzyThreshold:      cfg.FuzzyThreshold,
		ExactLimit:          cfg.ExactMatchLimit,
		FuzzyLimit:          cfg.FuzzyMatchLimit,
		ClusteringLimit:     cfg.ClusteringLimit,
		ClusteringEps:       cfg.ClusteringEps,
		ClusteringMinPoints: cfg.ClusteringMinPoints,
		StrategyTimeout:     cfg.StrategyTimeout,
	}
	generator := matching.NewGenerator(entityStore, embeddingCache, encoder, extractor, logger, matchCfg)
	engine := matching.NewEngine(generator, logger, matchCfg)

	var producer *kafka.Producer
	var emitter resolution.EventEmitter
	if cfg.KafkaProducerEnabled {
		producer = kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaOutputTopic,
			BatchSize:    cfg.KafkaBatchSize,
			BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
			RequiredAcks: cfg.KafkaRequiredAcks,
			Compression:  cfg.KafkaCompression,
		}, logger)
		emitter = events.NewEmitter(producer, logger)
	}

	resolver := resolution.NewService(entityStore, engine, encoder, extractor, emitter, logger, resolution.Config{
		MatchThreshold: cfg.MatchThreshold,
	})

	if err := registerDependencies(logger, entityStore, resolver); err != nil {
		return fmt.Errorf("failed to register dependencies: %w", err)
	}

	checker := health.NewChecker(graphClient, redisClient, version)
	e := newServer(cfg, logger, checker)

	boot := startup.NewStartup(logger, cfg.StartupMaxAttempts)
	boot.AddDependency(&startup.Func{
		Name: "graph",
		StartFunc: func(ctx context.Context) error {
			if err := graphClient.VerifyConnectivity(ctx); err != nil {
				return err
			}
			return entityStore.EnsureConstraints(ctx)
		},
		StopFunc: graphClient.Close,
	})
	boot.AddDependency(&startup.Func{
		Name:      "redis",
		StartFunc: redisClient.Ping,
		StopFunc: func(_ context.Context) error {
			return redisClient.Close()
		},
	})
	if producer != nil {
		boot.AddDependency(&startup.Func{
			Name: "kafka",
			StopFunc: func(_ context.Context) error {
				return producer.Close()
			},
		})
	}
	boot.AddDependency(&startup.Func{
		Name:  "http",
		Needs: []string{"graph", "redis"},
		StartFunc: func(_ context.Context) error {
			go func() {
				addr := fmt.Sprintf(":%d", cfg.Port)
				if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.WithError(err).Error("http server stopped")
				}
			}()
			return nil
		},
		StopFunc: e.Shutdown,
	})

	if err := boot.Start(ctx); err != nil {
		return err
	}
	checker.SetReady(true)
	logger.WithField("port", cfg.Port).Infof("%s listening on port %d", cfg.AppName, cfg.Port)

	<-ctx.Done()
	checker.SetReady(false)
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return boot.Stop(shutdownCtx)
}

func registerDependencies(logger ectologger.Logger, store *graph.EntityStore, resolver *resolution.Service) error {
	container, err := ectoinject.NewDIDefaultContainer()
	if err != nil {
		return err
	}

	if err := ectoinject.RegisterInstance[ectologger.Logger](container, logger); err != nil {
		return err
	}
	if err := ectoinject.RegisterInstance[*graph.EntityStore](container, store); err != nil {
		return err
	}
	return ectoinject.RegisterInstance[*resolution.Service](container, resolver)
}

func newServer(cfg *config.Config, logger ectologger.Logger, checker *health.Checker) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.ReadHeaderTimeout = time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = cfg.MaxHeaderBytes

	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))

	checker.RegisterRoutes(e)

	apiV1 := e.Group("/api/v1")
	resolve.Register(apiV1.Group("/resolve"))
	entity.Register(apiV1.Group("/entities"))

	return e
}
