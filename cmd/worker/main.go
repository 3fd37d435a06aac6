package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mkravets/taxcore/internal/bootstrap"
	"github.com/mkravets/taxcore/internal/config"
	"github.com/mkravets/taxcore/internal/core/domain"
	"github.com/mkravets/taxcore/internal/observability/logging"
	"github.com/mkravets/taxcore/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics("worker")
	go serveMetrics(ctx, cfg.WorkerMetricsPort, workerMetrics, logger)
	go runExpirySweep(ctx, app, workerMetrics, logger)

	logger.Info("worker_subscribed", "subject", cfg.NATSSubject)
	err = app.Queue.SubscribeSubjectQueued(ctx, func(handlerCtx context.Context, subjectID string) error {
		workerMetrics.StartSubject()
		start := time.Now()
		classifyErr := classifySubject(handlerCtx, app, subjectID)
		workerMetrics.FinishSubject("worker", time.Since(start), classifyErr)
		return classifyErr
	})
	if err != nil {
		logger.Error("worker_subscribe_failed", "error", err)
		os.Exit(1)
	}
}

func classifySubject(ctx context.Context, app *bootstrap.App, subjectID string) error {
	classifyCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	subject, err := app.Subjects.GetSubject(classifyCtx, subjectID)
	if err != nil {
		return fmt.Errorf("load subject %s: %w", subjectID, err)
	}
	if subject == nil {
		return fmt.Errorf("subject %s not found", subjectID)
	}

	_, err = app.Classify.Classify(classifyCtx, *subject, domain.VersionHead)
	return err
}

// runExpirySweep moves overdue pending review items to expired on a
// fixed interval.
func runExpirySweep(ctx context.Context, app *bootstrap.App, m *metrics.WorkerMetrics, logger *slog.Logger) {
	interval := time.Duration(app.Config.ReviewSweepSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := app.Review.ExpireOverdue(ctx, time.Now().UTC())
			if err != nil {
				logger.Error("review_expiry_sweep_failed", "error", err)
				continue
			}
			if count > 0 {
				m.AddExpired("worker", count)
				logger.Info("review_items_expired", "count", count)
			}
		}
	}
}

func serveMetrics(ctx context.Context, port string, m *metrics.WorkerMetrics, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{Addr: ":" + port, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("worker_metrics_server_failed", "error", err)
	}
}
