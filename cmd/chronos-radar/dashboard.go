package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"chronos-radar/internal/archive"
	"chronos-radar/internal/config"
	"chronos-radar/internal/dashboard"
)

var dashboardOut string

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Render Grafana dashboards for the archived track table",
	Long:  "dashboard renders Grafana dashboards querying the GreptimeDB track table. GREPTIMEDB_DATASOURCE_UID names the Grafana datasource.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath, cueSchemaPath)
		if err != nil {
			return fmt.Errorf("config load failed: %w", err)
		}
		table := cfg.Archive.Greptime.Table
		if table == "" {
			table = archive.DefaultTrackTable
		}
		if err := dashboard.Render(dashboardOut, dashboard.Data{Table: table}); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "dashboards written to %s\n", dashboardOut)
		return nil
	},
}

func init() {
	dashboardCmd.Flags().StringVar(&dashboardOut, "out", "build", "Output directory for rendered dashboards")
}
