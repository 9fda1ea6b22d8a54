// Package main provides the worker entry point: one pool per queue plus the
// periodic settlement sweep.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/leandro-br-dev/charhub-sub004/internal/app"
	"github.com/leandro-br-dev/charhub-sub004/internal/config"
	"github.com/leandro-br-dev/charhub-sub004/internal/logging"
	"github.com/leandro-br-dev/charhub-sub004/internal/orchestrator"
	"github.com/leandro-br-dev/charhub-sub004/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := app.InitLogging(cfg)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize")
	}
	defer a.Close()

	if !a.Backend.HealthCheck(ctx) {
		logger.WithField("url", cfg.Generation.BaseURL).Warn("Generation backend is not healthy; jobs will retry until it recovers")
	}

	pools := a.Pools()
	for _, p := range pools {
		if err := p.Start(ctx); err != nil {
			logger.WithError(err).Fatal("Failed to start worker pool")
		}
	}
	logger.WithField("pools", len(pools)).Info("All worker pools started")

	go runReconcile(ctx, a.Orchestrator, cfg.Reconcile.Interval, logger)

	// Set up graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info("Shutdown signal received, stopping workers...")

	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	stopPools(shutdownCtx, pools, logger)
	logger.Info("All workers stopped")
}

// stopPools drains every pool concurrently under one deadline
func stopPools(ctx context.Context, pools []*worker.Pool, logger *logging.Logger) {
	var wg sync.WaitGroup
	for _, p := range pools {
		wg.Add(1)
		go func(p *worker.Pool) {
			defer wg.Done()
			if err := p.Stop(ctx); err != nil {
				logger.WithError(err).WithField("worker_id", p.WorkerID()).Warn("Worker pool did not drain before the deadline")
			}
		}(p)
	}
	wg.Wait()
}

// runReconcile sweeps unpaid jobs on a fixed interval until ctx is done
func runReconcile(ctx context.Context, orch *orchestrator.Orchestrator, interval time.Duration, logger *logging.Logger) {
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := orch.Reconcile(ctx)
			if err != nil {
				logger.WithError(err).Error("Reconcile sweep failed")
				continue
			}
			if report.Scanned > 0 {
				logger.WithFields(map[string]interface{}{
					"scanned":     report.Scanned,
					"settled":     report.Settled,
					"outstanding": len(report.Outstanding),
				}).Info("Reconcile sweep finished")
			}
		}
	}
}
