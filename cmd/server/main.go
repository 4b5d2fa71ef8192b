package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"regdesk/internal/app"
	"regdesk/internal/platform/config"
	"regdesk/internal/platform/logger"
)

var version = "dev"

// main loads configuration, wires the server and runs it until SIGINT or
// SIGTERM. Business logic lives in internal service packages.
func main() {
	configPath := flag.String("config", os.Getenv("REGDESK_CONFIG"), "path to YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := app.NewServer(ctx, cfg, log, version)
	if err != nil {
		log.Fatal("startup failed", zap.Error(err))
	}
	defer srv.Close()

	if err := srv.Run(ctx); err != nil {
		log.Error("server stopped with error", zap.Error(err))
		srv.Close()
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
