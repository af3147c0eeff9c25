// Package main implements the memoryd daemon: the long-term memory service
// for autonomous agents.
//
// Usage:
//
//	# Start the daemon with defaults
//	memoryd serve
//
//	# Configure via environment
//	MEMORYD_SERVER_HTTP_PORT=8085 MEMORYD_POSTGRES_DSN=postgres://... memoryd serve
//
//	# Run a one-off consolidation pass
//	memoryd consolidate --user alice
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "memoryd",
	Short: "Long-term memory daemon for autonomous agents",
	Long: `memoryd stores what an agent learns: facts and preferences, successes
and failures, and short-lived per-session execution context. It extracts
memories from run event streams, answers decay-weighted relevance queries,
and periodically consolidates what it holds.`,
	Version: version + " (" + gitCommit + ")",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(consolidateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
