// Package main provides the relay CLI: a multi-channel personal agent that
// connects chat platforms (Telegram, Slack, WhatsApp, Zulip) to LLM
// providers (Anthropic, OpenAI, Bedrock) with tool execution, scheduled
// jobs, and long-term memory.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse --short HEAD)"
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "relay",
		Short:        "relay - multi-channel personal AI agent",
		Version:      fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildCronCmd(),
		buildStatusCmd(),
	)
	return rootCmd
}
