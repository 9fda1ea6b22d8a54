// Package main provides the API server entry point for the generation job orchestrator.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/leandro-br-dev/charhub-sub004/internal/api"
	"github.com/leandro-br-dev/charhub-sub004/internal/app"
	"github.com/leandro-br-dev/charhub-sub004/internal/config"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := app.InitLogging(cfg)
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	ctx := context.Background()
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize")
	}
	defer a.Close()

	serverConfig := &api.ServerConfig{
		Host:             cfg.Server.Host,
		Port:             cfg.Server.Port,
		ReadTimeout:      15 * time.Second,
		WriteTimeout:     15 * time.Second,
		IdleTimeout:      60 * time.Second,
		SubmitsPerMinute: cfg.RateLimit.SubmitsPerMinute,
		SubmitBurst:      cfg.RateLimit.Burst,
	}

	server := api.NewServer(serverConfig, a.Orchestrator, a.Credits, logger,
		api.HealthCheck{Name: "postgres", Check: func(ctx context.Context) bool { return a.Postgres.Ping(ctx) == nil }},
		api.HealthCheck{Name: "redis", Check: func(ctx context.Context) bool { return a.Redis.Ping(ctx) == nil }},
		api.HealthCheck{Name: "generation", Check: a.Backend.HealthCheck},
	)

	// Start server in a goroutine
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
