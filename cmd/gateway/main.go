package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"metaui/internal/config"
	"metaui/internal/gateway/app"
	"metaui/internal/logging"
)

func main() {
	cfg, err := config.LoadGateway(os.Args[1:])
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger, closeLog, err := logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer closeLog()

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		log.Fatalf("Failed to initialize app: %v", err)
	}

	go func() {
		if err := a.Start(); err != nil {
			logger.Error("server error", "err", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down gateway")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.Shutdown(ctx); err != nil {
		logger.Error("gateway forced to shutdown", "err", err)
		os.Exit(1)
	}

	logger.Info("gateway exiting")
}
