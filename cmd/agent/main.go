// Command agent runs the autonomous workspace agent.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hcengineering/huly-ai-agent/internal/config"
	"github.com/hcengineering/huly-ai-agent/internal/executor"
	"github.com/hcengineering/huly-ai-agent/internal/logging"
	"github.com/hcengineering/huly-ai-agent/internal/observability"
	"github.com/hcengineering/huly-ai-agent/internal/runtime"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "agent",
		Short:        "Autonomous workspace agent",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (yaml)")

	run := &cobra.Command{
		Use:   "run",
		Short: "Run the agent until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAgent(cmd.Context(), configPath)
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}

	root.AddCommand(run, versionCmd)
	return root
}

func runAgent(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := logging.New(os.Stderr, logging.ParseLevel(cfg.LogLevel))

	exec, err := executor.New(executor.Config{
		BaseURL: cfg.Executor.BaseURL,
		APIKey:  cfg.Executor.APIKey,
		Timeout: cfg.Executor.Timeout,
	}, logger)
	if err != nil {
		return err
	}

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics()
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	agent, err := runtime.New(ctx, cfg, exec, executor.NewSummarizer(exec), nil, metrics, logger)
	if err != nil {
		return err
	}
	defer agent.Close()

	logger.Info("agent %s starting", version)
	return agent.Run(ctx)
}
