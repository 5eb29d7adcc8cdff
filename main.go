// blksched — block-device I/O request scheduling engine.
// Merge, batch and order sector-addressed I/O before it reaches the driver.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"blksched/cmd"
	"blksched/internal/config"
	"blksched/internal/logger"

	// Shipped scheduling policies register themselves on import.
	_ "blksched/internal/policy/deadline"
	_ "blksched/internal/policy/noop"
)

// Build information (set by ldflags)
var (
	version   = "1.4.2"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	// Create context that cancels on interrupt
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := config.New()
	cfg.Version = version
	cfg.BuildTime = buildTime
	cfg.GitCommit = gitCommit

	// Promote to debug level when the Debug flag is set
	logLevel := cfg.LogLevel
	if cfg.Debug && logLevel != "debug" {
		logLevel = "debug"
	}
	log := logger.New(logLevel, cfg.LogFormat)

	if err := cmd.Execute(ctx, cfg, log); err != nil {
		log.Error("Command failed", "error", err)
		os.Exit(1)
	}
}
