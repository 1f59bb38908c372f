package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/relay/internal/config"
	"github.com/haasonsaas/relay/internal/cron"
)

// buildStatusCmd creates the "status" command that summarizes the resolved
// configuration without starting the agent.
func buildStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the resolved configuration and job count",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			var channels []string
			if cfg.Channels.Telegram.Enabled {
				channels = append(channels, "telegram")
			}
			if cfg.Channels.Slack.Enabled {
				channels = append(channels, "slack")
			}
			if cfg.Channels.WhatsApp.Enabled {
				channels = append(channels, "whatsapp")
			}
			if cfg.Channels.Zulip.Enabled {
				channels = append(channels, "zulip")
			}
			enabled := "none"
			if len(channels) > 0 {
				enabled = strings.Join(channels, ", ")
			}

			jobCount := "unavailable"
			if store, err := cron.NewStore(cfg.Cron.Path); err == nil {
				jobCount = fmt.Sprintf("%d", len(store.List()))
			}

			cmd.Printf("relay %s (commit: %s)\n", version, commit)
			cmd.Printf("workspace: %s\n", cfg.Workspace)
			cmd.Printf("provider:  %s (model: %s)\n", cfg.Provider.Name, cfg.Provider.Model)
			cmd.Printf("channels:  %s\n", enabled)
			cmd.Printf("cron jobs: %s\n", jobCount)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to the configuration file")
	return cmd
}
