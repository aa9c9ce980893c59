package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hadlow/llm-mail-labeler/internal/config"
	"github.com/hadlow/llm-mail-labeler/internal/core"
	"github.com/hadlow/llm-mail-labeler/internal/di"
	"go.uber.org/zap"
)

func main() {
	// Build the dependency injection container
	container, err := di.BuildContainer()
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	// Run the application
	if err := container.Invoke(run); err != nil {
		fmt.Printf("Application error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main application function that gets all dependencies injected
func run(
	logger *zap.Logger,
	cfg *config.Config,
	detector *core.Detector,
	classifier core.Classifier,
	auditStore core.AuditStore,
) error {
	defer logger.Sync()

	// Start a poller per configured owner
	owners := cfg.GetStringSlice("owners")
	if len(owners) == 0 {
		logger.Warn("No owners configured; nothing to poll")
	}
	for _, owner := range owners {
		state := detector.Start(owner)
		logger.Info("Polling mailbox",
			zap.String("owner", owner),
			zap.Time("started_at", state.StartedAt))
	}

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	logger.Info("Shutting down...")

	// Stop every poller; in-flight ticks finish first
	detector.Shutdown()

	// Close any resources that need closing
	if closer, ok := classifier.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close classifier", zap.Error(err))
		}
	}
	if closer, ok := auditStore.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Failed to close audit store", zap.Error(err))
		}
	}

	logger.Info("Shutdown complete")
	return nil
}
