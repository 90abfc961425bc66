package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"chronos-radar/internal/ingest"
	"chronos-radar/internal/query"
)

var (
	replayInput string
	replaySpeed float64
	replayKinds string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay an event log through the radar pipeline",
	Long:  "replay feeds newline-delimited JSON events from a log file through the pipeline and prints the resulting working set.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayInput == "" {
			return fmt.Errorf("input file required")
		}
		kinds, err := query.ParseKinds(replayKinds)
		if err != nil {
			return err
		}
		// stdout carries the snapshot, so logs only go to a configured file.
		r, err := setup(true)
		if err != nil {
			return err
		}
		defer r.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		stats, err := ingest.ReplayLogFile(ctx, replayInput, r.pipeline, replaySpeed)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "replayed %d lines: %d stored, %d out of range, %d malformed\n",
			stats.Lines, stats.Outcomes[ingest.OutcomeStored],
			stats.Outcomes[ingest.OutcomeOutOfRange], stats.Outcomes[ingest.OutcomeMalformed])
		return printSnapshot(cmd, r.facade, query.Filter{Kinds: kinds})
	},
}

func printSnapshot(cmd *cobra.Command, f *query.Facade, filter query.Filter) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(f.Snapshot(filter))
}

func init() {
	replayCmd.Flags().StringVar(&replayInput, "input", "", "Path to event log file (JSONL)")
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 0, "Playback speed multiplier (0 replays without delay)")
	replayCmd.Flags().StringVar(&replayKinds, "kind", "", "Comma-separated kinds to print (default all)")
	replayCmd.MarkFlagRequired("input")
}
