package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	uiDir      string
)

var rootCmd = &cobra.Command{
	Use:   "attribstream-server",
	Short: "Attribution aggregation server",
	Long: `attribstream-server receives attribution records from agents, evaluates
alert rules, keeps history, and serves the REST API and live WebSocket feed
for the dashboard.

Running without a subcommand is the same as 'attribstream-server serve'.`,
	SilenceUsage: true,
	RunE:         runServer,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config",
		getEnvOrDefault("ATTRIBSTREAM_SERVER_CONFIG", "server.yaml"), "path to config file")
	rootCmd.PersistentFlags().StringVar(&uiDir, "ui-dir",
		os.Getenv("ATTRIBSTREAM_UI_DIR"), "serve the dashboard static files from this directory (e.g. dashboard/dist); empty disables")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
