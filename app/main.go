package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xenlix/citeline/app/alerts"
	"github.com/xenlix/citeline/app/api"
	"github.com/xenlix/citeline/app/authority"
	"github.com/xenlix/citeline/app/cfg"
	"github.com/xenlix/citeline/app/database"
	"github.com/xenlix/citeline/app/extractor"
	"github.com/xenlix/citeline/app/health"
	"github.com/xenlix/citeline/app/pipeline"
	"github.com/xenlix/citeline/app/queue"
)

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if appCfg == nil {
		// Help was shown, exit gracefully
		return
	}

	logLevel := slog.LevelInfo
	if appCfg.Debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("Starting Citeline server", "version", appCfg.Version)

	db, err := database.NewConnection(appCfg.DBPath)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("Database ready", "path", appCfg.DBPath, "schema_version", version, "dirty", dirty)

	answerRepo := database.NewAnswerRepository(db)
	citationRepo := database.NewCitationRepository(db)
	thresholdRepo := database.NewThresholdRepository(db)
	snapshotRepo := database.NewSnapshotRepository(db)

	thresholdCache := alerts.NewThresholdCache(appCfg.ThresholdsDir)
	if err := thresholdCache.Run(); err != nil {
		slog.Error("Failed to load alert thresholds", "error", err)
		os.Exit(1)
	}
	if err := thresholdCache.SyncToDB(thresholdRepo); err != nil {
		slog.Error("Failed to sync alert thresholds", "error", err)
		os.Exit(1)
	}
	slog.Info("Alert thresholds loaded", "count", thresholdCache.GetConfigCount())

	var jobQueue queue.Queue
	if appCfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(appCfg.RedisURL)
		if err != nil {
			slog.Error("Invalid Redis URL", "error", err)
			os.Exit(1)
		}
		client := redis.NewClient(redisOpts)
		if err := client.Ping(context.Background()).Err(); err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		jobQueue = queue.NewRedisQueue(client)
		slog.Info("Using Redis job queue", "addr", redisOpts.Addr)
	} else {
		jobQueue = queue.NewMemoryQueue()
		slog.Info("Using in-memory job queue")
	}

	scorer := authority.NewScorer(citationRepo, appCfg.AuthorityAPIURL, appCfg.AuthorityAPIKey, appCfg.UserAgent)
	checker := health.NewChecker(nil, appCfg.UserAgent)

	processor := pipeline.NewProcessor(answerRepo, citationRepo, snapshotRepo,
		extractor.NewExtractor(), scorer, checker, jobQueue)
	if err := processor.RegisterWorkers(); err != nil {
		slog.Error("Failed to register workers", "error", err)
		os.Exit(1)
	}
	if err := jobQueue.Start(); err != nil {
		slog.Error("Failed to start job queue", "error", err)
		os.Exit(1)
	}
	slog.Info("Job queue started")

	sweeper := pipeline.NewSweeper(citationRepo, jobQueue)
	sweeper.Start()

	evaluator := alerts.NewEvaluator(thresholdRepo, snapshotRepo, appCfg.AlertSendCap)
	alertChecker := alerts.NewChecker(evaluator, thresholdRepo, appCfg.AlertWebhookURL,
		time.Duration(appCfg.AlertCheckInterval)*time.Second)
	alertChecker.Start()

	apiHandler := api.NewHandler(db, answerRepo, citationRepo, thresholdRepo,
		thresholdCache, processor, jobQueue)
	server := api.NewServer(apiHandler, appCfg.APIAccessKey)

	httpServer := &http.Server{
		Addr:         ":" + appCfg.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("Starting HTTP server", "port", appCfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	slog.Info("Citeline server started")

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig.String())
	case err := <-serverErrChan:
		slog.Error("Server error", "error", err)
	}

	slog.Info("Shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped")
	}

	alertChecker.Stop()
	sweeper.Stop()

	if err := jobQueue.Close(shutdownCtx); err != nil {
		slog.Error("Job queue shutdown error", "error", err)
	} else {
		slog.Info("Job queue stopped")
	}

	slog.Info("Shutdown complete")
}
