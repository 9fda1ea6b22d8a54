// Package main runs one settlement sweep and prints the jobs that remain unpaid.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	"github.com/leandro-br-dev/charhub-sub004/internal/app"
	"github.com/leandro-br-dev/charhub-sub004/internal/config"
)

func main() {
	timeout := flag.Duration("timeout", 2*time.Minute, "Maximum time for the sweep")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := app.InitLogging(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize")
	}
	defer a.Close()

	report, err := a.Orchestrator.Reconcile(ctx)
	if err != nil {
		logger.WithError(err).Error("Reconcile sweep failed")
		return
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		logger.WithError(err).Error("Failed to write report")
	}
}
