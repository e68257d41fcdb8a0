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

	"github.com/kirillkom/sales-knowledge-assistant/internal/bootstrap"
	"github.com/kirillkom/sales-knowledge-assistant/internal/config"
	"github.com/kirillkom/sales-knowledge-assistant/internal/core/domain"
	"github.com/kirillkom/sales-knowledge-assistant/internal/observability/logging"
)

const serviceName = "worker"

func main() {
	cfg := config.Load()
	slog.SetDefault(logging.NewJSONLogger(serviceName, cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	worker, err := bootstrap.NewWorker(ctx, cfg, serviceName)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err.Error())
		os.Exit(1)
	}
	defer worker.Close()

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", worker.Metrics.Handler())
	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker_metrics_failed", "error", err.Error())
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	slog.Info("worker_subscribed", "subject", cfg.NATSSubject)
	err = worker.Notifier.SubscribeTurnFinished(ctx, func(handlerCtx context.Context, event domain.TurnFinished) error {
		verifyCtx, cancel := context.WithTimeout(handlerCtx, time.Minute)
		defer cancel()

		worker.Metrics.ObserveTurnLag(serviceName, time.Since(event.FinishedAt))
		worker.Metrics.StartVerification()
		started := time.Now()
		err := worker.Verifier.VerifyTurn(verifyCtx, event)
		worker.Metrics.FinishVerification(serviceName, time.Since(started), err)
		return err
	})
	if err != nil {
		slog.Error("worker_subscribe_failed", "error", err.Error())
		os.Exit(1)
	}
}
