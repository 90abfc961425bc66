package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"chronos-radar/internal/api"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Ingest the event stream and serve snapshots over HTTP",
	Long:  "serve subscribes to the event stream, keeps the working set current and exposes it with status and metrics over HTTP.",
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := setup(false)
		if err != nil {
			return err
		}
		defer r.Close()
		if serveListen != "" {
			r.cfg.HTTP.Listen = serveListen
		}
		ctrl, err := r.controller()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		srv := api.NewServer(r.facade, ctrl, r.metrics.Handler(), r.log)
		errs := make(chan error, 2)
		go func() { errs <- ctrl.Run(ctx) }()
		go func() { errs <- srv.Start(ctx, r.cfg.HTTP.Listen) }()

		// Graceful shutdown handling
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigs)

		var runErr error
		select {
		case s := <-sigs:
			r.log.Info("shutting down", "signal", s.String())
		case runErr = <-errs:
		}
		cancel()
		ctrl.Close()
		r.log.Info("radar stopped")
		return runErr
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "HTTP listen address (overrides http.listen)")
}
