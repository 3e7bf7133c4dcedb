// Package main provides the agency_ops command line: the HTTP API server and
// operator commands for leads and runs.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Global flags shared by every command
var (
	configPath  string
	offlineMode bool
	backendFlag string
	logLevel    string
)

var rootCmd = &cobra.Command{
	Use:   "agency_ops",
	Short: "Agency automation orchestrator",
	Long: `agency_ops drives sales leads through the agency pipeline: research, signal
extraction, strategy, asset generation, outreach and QA. Runs are persisted so an
interrupted run can be resumed.

Configuration is read from --config (JSON or YAML), then environment variables,
then flags.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a JSON or YAML config file")
	rootCmd.PersistentFlags().BoolVar(&offlineMode, "offline", false, "Use canned step outputs instead of calling the model")
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "Storage backend: memory, sqlite, postgres or redis")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
