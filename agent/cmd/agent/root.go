package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "attribstream-agent",
	Short: "Streaming attribution agent",
	Long: `attribstream-agent records conversion paths into an in-memory attribution
engine, derives campaign health, and ships snapshots to attribstream-server.

Running without a subcommand is the same as 'attribstream-agent run'.`,
	SilenceUsage: true,
	RunE:         runAgent,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config",
		getEnvOrDefault("ATTRIBSTREAM_AGENT_CONFIG", "agent.yaml"), "path to config file")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
