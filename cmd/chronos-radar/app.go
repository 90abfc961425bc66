package main

import (
	"fmt"
	"log/slog"

	"chronos-radar/internal/config"
	"chronos-radar/internal/ingest"
	"chronos-radar/internal/logging"
	"chronos-radar/internal/metrics"
	"chronos-radar/internal/query"
	"chronos-radar/internal/store"
)

// radar holds the pieces shared by every subcommand.
type radar struct {
	cfg      *config.Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	store    *store.Store
	pipeline *ingest.Pipeline
	facade   *query.Facade
	closers  []func()
}

// setup loads the config and builds the logger, store and pipeline. An
// interactive caller owns the terminal, so logs are dropped unless a log
// file is configured.
func setup(interactive bool) (*radar, error) {
	cfg, err := config.Load(configPath, cueSchemaPath)
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	log, logCloser, err := logging.NewWithOptions(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
	})
	if err != nil {
		return nil, err
	}
	if interactive && cfg.Log.File == "" {
		log = logging.Discard()
	}
	r := &radar{cfg: cfg, log: log, metrics: metrics.New()}
	if logCloser != nil {
		r.closers = append(r.closers, func() { logCloser.Close() })
	}

	ttls, err := cfg.TTLs()
	if err != nil {
		r.Close()
		return nil, err
	}
	if r.store, err = store.New(cfg.Capacity, ttls); err != nil {
		r.Close()
		return nil, err
	}
	r.pipeline = &ingest.Pipeline{
		Center:     cfg.Point(),
		MaxRangeKm: cfg.MaxRangeKm,
		Store:      r.store,
		Metrics:    r.metrics,
		Log:        log,
	}
	r.facade = query.New(r.store)
	return r, nil
}

// controller wires the configured transports and sinks into a controller.
func (r *radar) controller() (*ingest.Controller, error) {
	sub, err := newSubscriber(r.cfg)
	if err != nil {
		return nil, err
	}
	q, err := newQuerier(r.cfg)
	if err != nil {
		return nil, err
	}
	sink, cleanup, err := newSinks(r.cfg, r.log)
	if err != nil {
		return nil, err
	}
	r.closers = append(r.closers, cleanup)
	return ingest.New(ingest.Options{
		Subscriber:           sub,
		Querier:              q,
		Pipeline:             r.pipeline,
		Topics:               r.cfg.Topics,
		HeartbeatTimeout:     r.cfg.Stream.HeartbeatTimeout,
		ReplayWindow:         r.cfg.Stream.ReplayWindow,
		ReconnectBackoff:     r.cfg.Stream.ReconnectBackoff,
		ConnectTimeout:       r.cfg.Stream.ConnectTimeout,
		DegradedPollInterval: r.cfg.Poll.DegradedInterval,
		BackupPollInterval:   r.cfg.Poll.BackupInterval,
		SweepInterval:        r.cfg.SweepInterval,
		FetchTimeout:         r.cfg.Poll.Timeout,
		PollLimit:            r.cfg.Poll.Limit,
		Sink:                 sink,
		Metrics:              r.metrics,
		Logger:               r.log,
	})
}

// Close releases files in reverse order of acquisition.
func (r *radar) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}
