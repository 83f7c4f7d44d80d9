package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/internal/scheduling"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/config"
	"github.com/Mouaz-Ahmed-Alazazy/CAQM-final/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	logger := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, err := scheduling.Bootstrap(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize Scheduling Service: %v", err)
	}
	service := scheduling.New(cfg, deps, logger)

	// Start service in a goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- service.Start()
	}()

	// Wait for interrupt signal or a server failure
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Errorf("Scheduling Service failed: %v", err)
		}
	}

	logger.Info("Shutting down Scheduling Service...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := service.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Error during shutdown: %v", err)
		os.Exit(1)
	}
	logger.Info("Scheduling Service stopped")
}
