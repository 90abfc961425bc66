package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath    string
	cueSchemaPath string
	logLevel      string
)

var rootCmd = &cobra.Command{
	Use:          "chronos-radar",
	Short:        "Geo event radar for the Chronos event stream",
	Long:         "chronos-radar keeps a bounded working set of located events around a center point, fed by a push stream with polling failover.",
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/radar.yaml", "Path to radar configuration YAML")
	rootCmd.PersistentFlags().StringVar(&cueSchemaPath, "schema", "schemas/radar.cue", "Path to CUE schema file (empty to skip validation)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(dashboardCmd)
}
