package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/multimodal-rag/internal/bootstrap"
	"github.com/kirillkom/multimodal-rag/internal/config"
	"github.com/kirillkom/multimodal-rag/internal/core/domain"
	"github.com/kirillkom/multimodal-rag/internal/observability/logging"
)

const serviceName = "rag-evaluation-worker"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config_load_failed", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.NewLogger(serviceName, cfg.LogLevel, cfg.LogFormat))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	worker, err := bootstrap.NewWorker(cfg, serviceName)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer worker.Close()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           worker.Metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker_metrics_server_failed", "error", err)
		}
	}()

	if worker.Indexer != nil {
		go worker.Indexer.Run(ctx, cfg.QdrantSyncInterval)
		slog.Info("index_sync_started", "collection", cfg.QdrantCollection, "interval", cfg.QdrantSyncInterval.String())
	}

	slog.Info("worker_subscribed", "subject", cfg.NATSEvaluationSubject, "dataset", cfg.EvaluationDatasetPath)
	err = worker.Queue.SubscribeEvaluations(ctx, func(handlerCtx context.Context, record domain.EvaluationRecord) error {
		recordCtx, cancel := context.WithTimeout(handlerCtx, 30*time.Second)
		defer cancel()

		worker.Metrics.StartRecord()
		start := time.Now()
		err := worker.Recorder.Record(recordCtx, record)
		worker.Metrics.FinishRecord(time.Since(start), err)
		return err
	})
	if err != nil {
		slog.Error("worker_subscribe_failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
}
