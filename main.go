package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/inkwell-labs/corpusflow/internal/activities"
	"github.com/inkwell-labs/corpusflow/internal/config"
	"github.com/inkwell-labs/corpusflow/internal/db"
	"github.com/inkwell-labs/corpusflow/internal/httpapi"
	"github.com/inkwell-labs/corpusflow/internal/llm"
	"github.com/inkwell-labs/corpusflow/internal/registry"
	"github.com/inkwell-labs/corpusflow/internal/server"
	"github.com/inkwell-labs/corpusflow/internal/streaming"
	tlog "github.com/inkwell-labs/corpusflow/internal/temporal"
	"github.com/inkwell-labs/corpusflow/internal/tools"
	"github.com/inkwell-labs/corpusflow/internal/workflows"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/orchestration.yaml"
	}
	watcher, err := config.NewWatcher(configPath, logger)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.String("path", configPath), zap.Error(err))
	}
	cfg := watcher.Current()

	// Postgres run/artifact store.
	dbClient, err := db.NewClient(&db.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer dbClient.Close()
	store := db.NewRunStore(dbClient, logger)

	// Progress channel: in-process manager, mirrored to Redis Streams so
	// progress survives a worker restart.
	manager := streaming.NewManager(cfg.Streaming.RingCapacity)
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			logger.Warn("Redis unavailable, progress events will not be mirrored", zap.Error(err))
		} else {
			manager.SetMirror(streaming.NewRedisMirror(rdb, cfg.Streaming.MirrorMaxLen, cfg.Streaming.MirrorTTL, logger))
			defer rdb.Close()
		}
	}

	// Tool catalog and executor.
	toolRegistry, err := tools.NewDefaultRegistry()
	if err != nil {
		logger.Fatal("Failed to load tool catalog", zap.Error(err))
	}
	executor := tools.NewExecutor(toolRegistry, tools.BuiltinFuncs(), store, cfg.Tools.Timeout, logger)

	// LLM service client.
	completer := llm.NewClient(cfg.LLM.BaseURL, logger,
		llm.WithRateLimit(cfg.LLM.RatePerSecond, cfg.LLM.RateBurst))

	// Temporal worker.
	temporalClient, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    tlog.NewZapAdapter(logger),
	})
	if err != nil {
		logger.Fatal("Failed to connect to Temporal", zap.Error(err))
	}
	defer temporalClient.Close()

	stageActivities := activities.NewActivities(completer, toolRegistry, executor, store, watcher.Current, logger)
	persistence := activities.NewPersistenceActivities(store, logger)
	review := activities.NewReviewActivities(logger)
	streamActs := activities.NewStreamingActivities(manager, logger)
	definition := workflows.NewDefinition(toolRegistry, cfg)

	w := worker.New(temporalClient, cfg.Temporal.TaskQueue, worker.Options{})
	registry.NewRegistrar(definition, stageActivities, persistence, review, streamActs, logger).Register(w)

	// Inbound service and HTTP surface.
	svc := server.NewService(temporalClient, store, manager, cfg.Temporal.TaskQueue, logger)
	mux := http.NewServeMux()
	httpapi.NewRunHandler(svc, logger).RegisterRoutes(mux)
	httpapi.NewApprovalHandler(svc, logger, cfg.HTTP.ApprovalAuthToken).RegisterRoutes(mux)
	httpapi.NewStreamingHandler(manager, cfg.Streaming.HeartbeatInterval, logger).RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	httpServer := &http.Server{
		Addr:        ":" + strconv.Itoa(cfg.HTTP.Port),
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	go func() {
		logger.Info("HTTP server listening", zap.Int("port", cfg.HTTP.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	watcher.OnReload(func(c *config.Config) {
		logger.Info("Tunables reloaded",
			zap.Duration("llm_timeout", c.LLM.Timeout),
			zap.Int("llm_max_retries", c.LLM.MaxRetries),
			zap.Duration("tool_timeout", c.Tools.Timeout),
		)
	})

	if err := w.Start(); err != nil {
		logger.Fatal("Failed to start worker", zap.Error(err))
	}
	logger.Info("Worker started", zap.String("task_queue", cfg.Temporal.TaskQueue))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutting down")

	w.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
}
