package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"oats/internal/config"
	"oats/internal/logging"
	"oats/internal/worker"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "oats-worker",
		Short:         "Run one autonomous investigation and stream events to stdout",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
	return cmd
}

func run(ctx context.Context) error {
	cfg, err := config.LoadWorker()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	// stdout is reserved for the event protocol; logs go to stderr.
	logging.Init(logging.Options{Level: cfg.LogLevel, Console: true})
	defer logging.Sync()
	logger := logging.NewComponentLogger("worker")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting investigation: goal=%q max_turns=%d", cfg.Goal, cfg.MaxTurns)
	return worker.New(cfg, logger, os.Stdout).Run(ctx)
}
