// Package main wires together the download service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/saveforme/saveforme/internal/api"
	"github.com/saveforme/saveforme/internal/artifact"
	"github.com/saveforme/saveforme/internal/clock/system"
	"github.com/saveforme/saveforme/internal/config"
	"github.com/saveforme/saveforme/internal/dispatcher"
	"github.com/saveforme/saveforme/internal/download"
	"github.com/saveforme/saveforme/internal/id/uuid"
	"github.com/saveforme/saveforme/internal/lifecycle"
	"github.com/saveforme/saveforme/internal/logging"
	"github.com/saveforme/saveforme/internal/metrics"
	"github.com/saveforme/saveforme/internal/policy/admission"
	"github.com/saveforme/saveforme/internal/progress"
	queueMemory "github.com/saveforme/saveforme/internal/queue/memory"
	"github.com/saveforme/saveforme/internal/reclaimer"
	"github.com/saveforme/saveforme/internal/retrieval"
	"github.com/saveforme/saveforme/internal/retrieval/ytdlp"
	memoryStorage "github.com/saveforme/saveforme/internal/storage/memory"
	"github.com/saveforme/saveforme/internal/storage/postgres"
	"github.com/saveforme/saveforme/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	files, err := artifact.New(artifact.Config{Dir: cfg.Storage.DownloadDir})
	if err != nil {
		logger.Fatal("artifact store init failed", zap.Error(err))
	}

	var jobStore download.JobStore
	if cfg.DB.DSN != "" {
		pgStore, err := postgres.NewJobStore(ctx, postgres.JobStoreConfig{
			DSN:      cfg.DB.DSN,
			Table:    cfg.DB.Table,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		})
		if err != nil {
			logger.Fatal("postgres init failed", zap.Error(err))
		}
		jobStore = pgStore
		logger.Info("using postgres job store", zap.String("table", cfg.DB.Table))
	} else {
		jobStore = memoryStorage.NewJobStore()
		logger.Warn("db.dsn not set, using in-memory job store")
	}

	queue := queueMemory.NewQueue(cfg.Worker.QueueDepth)
	clock := system.New()
	idGen := uuid.New()
	tracker := progress.NewTracker(progress.Config{Logger: logger.Named("progress")})

	client := ytdlp.New(ytdlp.Config{
		BinaryPath:   cfg.Retrieval.BinaryPath,
		OutputDir:    cfg.Storage.DownloadDir,
		AudioCodec:   cfg.Retrieval.AudioCodec,
		AudioBitrate: cfg.Retrieval.AudioBitrate,
	}, files, logger.Named("ytdlp"))
	gateway := retrieval.New(client, retrieval.Config{
		Primary:  retrieval.StrategyFromConfig("primary", cfg.Retrieval.Primary),
		Fallback: retrieval.StrategyFromConfig("fallback", cfg.Retrieval.Fallback),
	}, logger.Named("retrieval"))

	admitter := admission.New(jobStore, clock, admission.Config{
		HourlyLimit: cfg.Limits.DownloadsPerHour,
		DailyLimit:  cfg.Limits.DownloadsPerDay,
	}, logger.Named("admission"))

	manager := lifecycle.New(
		jobStore,
		queue,
		admitter,
		tracker,
		files,
		clock,
		idGen,
		lifecycle.Config{
			FileRetention:     cfg.FileRetention(),
			SessionRetention:  cfg.SessionRetention(),
			HistoryPerPageMax: cfg.Limits.HistoryPerPageMax,
		},
		logger.Named("lifecycle"),
	)

	workerCfg := worker.Config{
		JobTimeout:         cfg.JobTimeout(),
		MaxFileSizeMB:      cfg.Storage.MaxFileSizeMB,
		MaxDurationMinutes: cfg.Limits.MaxDurationMinutes,
	}
	var workers []*worker.Worker
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		workers = append(workers, worker.New(
			queue,
			jobStore,
			gateway,
			tracker,
			files,
			clock,
			workerCfg,
			logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	dispatch := dispatcher.New(queue, workers)

	reclaim := reclaimer.New(jobStore, files, clock, reclaimer.Config{
		CompletedRetention:  cfg.CompletedRetention(),
		PurgeGrace:          cfg.PurgeGrace(),
		RetentionSweepEvery: time.Duration(cfg.Retention.RetentionSweepMins) * time.Minute,
		ExpirySweepEvery:    time.Duration(cfg.Retention.ExpirySweepHours) * time.Hour,
		PurgeSweepEvery:     time.Duration(cfg.Retention.PurgeSweepMins) * time.Minute,
	}, logger.Named("reclaimer"))
	if err := reclaim.Start(ctx); err != nil {
		logger.Fatal("reclaimer start failed", zap.Error(err))
	}

	apiServer := api.NewServer(manager, reclaim, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("workers", cfg.Worker.Concurrency))
		dispatch.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := reclaim.Stop(shutdownCtx); err != nil {
		logger.Error("reclaimer stop error", zap.Error(err))
	}
	queue.Close()
	if err := tracker.Close(shutdownCtx); err != nil {
		logger.Error("progress tracker stop error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
