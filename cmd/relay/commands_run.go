package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/relay/internal/config"
	"github.com/haasonsaas/relay/internal/gateway"
	"github.com/haasonsaas/relay/internal/observability"
)

const defaultConfigPath = "relay.yaml"

// buildRunCmd creates the "run" command that starts the agent.
func buildRunCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the agent with all configured channels",
		Long: `Start the agent: load configuration, connect the enabled channel
adapters, start the cron scheduler, and process messages until
interrupted. Graceful shutdown on SIGINT/SIGTERM.`,
		Example: `  # Start with the default config
  relay run

  # Custom config with debug logging
  relay run --config /etc/relay/relay.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			level := cfg.Logging.Level
			if debug {
				level = "debug"
			}
			logger := observability.NewLogger(observability.LogConfig{
				Level:  level,
				Format: cfg.Logging.Format,
			})

			g, err := gateway.New(cfg, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return g.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to the configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}
