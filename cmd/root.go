// Package cmd implements the blksched command line interface.
package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"blksched/internal/config"
	"blksched/internal/logger"
)

// Shared state for all commands
var (
	cfg *config.Config
	log logger.Logger
)

var rootCmd = &cobra.Command{
	Use:   "blksched",
	Short: "Block-device I/O request scheduler",
	Long: `blksched merges, batches and orders sector-addressed I/O requests in
front of a (simulated) block device, the way an operating system elevator
does: adjacent fragments coalesce into larger requests, a pluggable policy
decides service order, plugging batches bursts, and write barriers are
sequenced with cache flushes.

Scheduling policies can be listed, tuned and switched while requests are
in flight.

Examples:
  # Run a random workload through the deadline policy
  blksched simulate --policy deadline --requests 10000 --pattern random

  # Compare policies on the same workload
  blksched simulate --policy noop --seed 42
  blksched simulate --policy deadline --seed 42

  # Switch policy mid-run
  blksched simulate --policy noop --switch-to deadline

  # List registered policies
  blksched policies`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return cfg.Validate()
	},
}

// Execute runs the root command with the given configuration and logger.
func Execute(ctx context.Context, c *config.Config, l logger.Logger) error {
	cfg = c
	log = l

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfg.Policy, "policy", cfg.Policy, "Default scheduling policy")
	pf.IntVar(&cfg.UnplugThreshold, "unplug-threshold", cfg.UnplugThreshold, "Queued request count that forces an unplug")
	pf.DurationVar(&cfg.UnplugDelay, "unplug-delay", cfg.UnplugDelay, "Plug timer duration (0 disables plugging)")
	pf.IntVar(&cfg.QueueDepth, "depth", cfg.QueueDepth, "Request allocation depth per queue")
	pf.DurationVar(&cfg.SwitchRetryInterval, "switch-retry-interval", cfg.SwitchRetryInterval, "Backoff between policy switch drain attempts")
	pf.IntVar(&cfg.SwitchMaxRetries, "switch-retries", cfg.SwitchMaxRetries, "Drain attempts before a policy switch gives up")
	pf.BoolVar(&cfg.Debug, "debug", cfg.Debug, "Enable debug logging")
	pf.BoolVar(&cfg.NoColor, "no-color", cfg.NoColor, "Disable colored output")

	return rootCmd.ExecuteContext(ctx)
}
