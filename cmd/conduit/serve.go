package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/aescanero/conduit/internal/application/graph"
	"github.com/aescanero/conduit/internal/application/orchestrator"
	"github.com/aescanero/conduit/internal/application/versions"
	"github.com/aescanero/conduit/internal/config"
	"github.com/aescanero/conduit/pkg/adapters/artifacts/minio"
	"github.com/aescanero/conduit/pkg/adapters/audit"
	memoryevents "github.com/aescanero/conduit/pkg/adapters/events/memory"
	redisevents "github.com/aescanero/conduit/pkg/adapters/events/redis"
	"github.com/aescanero/conduit/pkg/adapters/executor"
	"github.com/aescanero/conduit/pkg/adapters/llm"
	metrics "github.com/aescanero/conduit/pkg/adapters/metrics/prometheus"
	memorystorage "github.com/aescanero/conduit/pkg/adapters/storage/memory"
	"github.com/aescanero/conduit/pkg/adapters/storage/postgres"
	redisstorage "github.com/aescanero/conduit/pkg/adapters/storage/redis"
	"github.com/aescanero/conduit/pkg/api/grpc"
	"github.com/aescanero/conduit/pkg/api/http"
	"github.com/aescanero/conduit/pkg/api/websocket"
	"github.com/aescanero/conduit/pkg/ports"
)

var serveEnvFile string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control plane",
	Long:  "Start the HTTP, WebSocket and gRPC health servers together with the run coordinator.",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveEnvFile, "env-file", ".env", "Optional dotenv file read before the environment")
	rootCmd.AddCommand(serveCmd)
}

// store is the combined version and run store a backend provides
type store interface {
	ports.VersionStore
	ports.RunStore
}

// components holds everything runServe starts and stops
type components struct {
	versions *versions.Service
	runs     *orchestrator.Manager
	closers  []func()
}

func (c *components) close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(serveEnvFile)
	if err != nil {
		return err
	}

	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting conduit",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("storage_backend", cfg.StorageBackend),
		zap.String("events_backend", cfg.EventsBackend))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildComponents(ctx, cfg, prometheus.DefaultRegisterer, logger)
	if err != nil {
		return err
	}
	defer app.close()

	if err := app.runs.Start(ctx); err != nil {
		return fmt.Errorf("failed to start run coordinator: %w", err)
	}

	httpServer := http.NewServer(&http.Config{
		Port:     cfg.HTTPPort,
		Versions: app.versions,
		Runs:     app.runs,
		Gatherer: prometheus.DefaultGatherer,
		Logger:   logger,
	})
	httpServer.SetupWebSocket(websocket.NewHandler(app.runs, logger))

	grpcServer, err := grpc.NewServer(&grpc.Config{
		Port:          cfg.GRPCPort,
		Readiness:     app.runs,
		CheckInterval: cfg.Timeouts.ReadinessPoll,
		Logger:        logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create gRPC server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(httpServer.Start)
	g.Go(grpcServer.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timeouts.ShutdownTimeout)
		defer cancel()

		// the coordinator goes first so in-flight runs stop at a stage boundary
		// while the health service already reports NOT_SERVING
		if err := app.runs.Shutdown(shutdownCtx); err != nil {
			logger.Error("run coordinator shutdown error", zap.Error(err))
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", zap.Error(err))
		}
		if err := grpcServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("gRPC server shutdown error", zap.Error(err))
		}
		return nil
	})

	logger.Info("conduit started",
		zap.Int("http_port", cfg.HTTPPort),
		zap.Int("grpc_port", cfg.GRPCPort),
		zap.Int("worker_pool_size", cfg.Workers.PoolSize))

	err = g.Wait()
	logger.Info("conduit shut down complete")
	return err
}

// buildComponents connects the configured backends and assembles the
// version service and run coordinator
func buildComponents(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, logger *zap.Logger) (*components, error) {
	app := &components{}
	ok := false
	defer func() {
		if !ok {
			app.close()
		}
	}()

	var redisClient *goredis.Client
	if cfg.UsesRedis() {
		redisClient = goredis.NewClient(&goredis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			MaxRetries:   cfg.Redis.MaxRetries,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		app.closers = append(app.closers, func() {
			if err := redisClient.Close(); err != nil {
				logger.Error("Redis close error", zap.Error(err))
			}
		})

		if err := redisClient.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		logger.Info("connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	var st store
	switch cfg.StorageBackend {
	case config.BackendRedis:
		st = redisstorage.NewStore(redisClient, cfg.Redis.RunTTL, logger)
	case config.BackendPostgres:
		pg, err := postgres.Connect(ctx, cfg.Postgres.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, pg.Close)
		if cfg.Postgres.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		st = pg
	default:
		st = memorystorage.NewStore()
	}

	var events ports.EventLog
	switch cfg.EventsBackend {
	case config.BackendRedis:
		events = redisevents.NewStreamsEventLog(redisClient, cfg.Redis.EventTTL, logger)
	default:
		events = memoryevents.NewEventLog()
	}

	sinks := audit.Multi{audit.NewLogSink(logger)}
	if redisClient != nil {
		sinks = append(sinks, audit.NewRedisSink(redisClient, cfg.Redis.AuditStream, cfg.Redis.AuditStreamLen, logger))
	}

	collector := metrics.NewCollector(reg)

	registry := executor.NewRegistry(logger)
	if cfg.LLM.Enabled() {
		client, err := llm.NewClient(&llm.Config{
			Provider:              cfg.LLM.Provider,
			APIKey:                cfg.LLM.APIKey,
			BaseURL:               cfg.LLM.BaseURL,
			DefaultModel:          cfg.LLM.DefaultModel,
			DefaultMaxTokens:      cfg.LLM.DefaultMaxTokens,
			MaxConcurrentRequests: cfg.LLM.MaxConcurrentRequests,
			RequestTimeout:        cfg.LLM.RequestTimeout,
			Logger:                logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create LLM client: %w", err)
		}
		registry.RegisterLLM(client, collector)
	}

	var artifacts ports.ArtifactWriter
	if cfg.MinIO.Endpoint != "" {
		writer, err := minio.NewWriter(minio.Config{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Region:    cfg.MinIO.Region,
			UseSSL:    cfg.MinIO.UseSSL,
		}, logger)
		if err != nil {
			return nil, err
		}
		artifacts = writer
	}

	app.versions = versions.NewService(st, graph.NewValidator(), sinks, collector, logger)
	app.runs = orchestrator.NewManager(
		app.versions,
		st,
		events,
		registry,
		artifacts,
		sinks,
		collector,
		logger,
		orchestrator.Options{
			Workers:               cfg.Workers.PoolSize,
			HealthCheckInterval:   cfg.Workers.HealthCheckInterval,
			SubscribePollInterval: cfg.Timeouts.SubscribePoll,
		},
	)

	ok = true
	return app, nil
}
