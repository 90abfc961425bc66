package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"chronos-radar/internal/tui"
)

var watchRefresh time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Ingest the event stream and show the radar in the terminal",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return errors.New("watch needs a terminal; use serve instead")
		}
		r, err := setup(true)
		if err != nil {
			return err
		}
		defer r.Close()
		ctrl, err := r.controller()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGTERM)
		defer signal.Stop(sigs)
		go func() {
			select {
			case <-sigs:
				cancel()
			case <-ctx.Done():
			}
		}()

		go ctrl.Run(ctx)
		defer ctrl.Close()
		v := tui.NewViewer(r.facade, ctrl.Status, r.cfg.MaxRangeKm, watchRefresh)
		return v.Run(ctx)
	},
}

func init() {
	watchCmd.Flags().DurationVar(&watchRefresh, "refresh", time.Second, "Screen refresh interval")
}
