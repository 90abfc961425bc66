package main

import (
	"log/slog"
	"os"

	"chronos-radar/internal/archive"
	"chronos-radar/internal/config"
	"chronos-radar/internal/ingest"
)

// newSinks sets up the archive writers named by the config. It returns a nil
// sink when archiving is off, plus a cleanup function to close any files.
func newSinks(cfg *config.Config, log *slog.Logger) (ingest.Sink, func(), error) {
	cleanup := func() {}
	var writers []archive.Writer

	if g := cfg.Archive.Greptime; g.Endpoint != "" {
		gw, err := archive.NewGreptimeWriter(g.Endpoint, g.Database, g.Table, log)
		if err != nil {
			return nil, nil, err
		}
		log.Info("archiving tracks to GreptimeDB", "endpoint", g.Endpoint, "table", g.Table)
		writers = append(writers, gw)
	}

	switch path := cfg.Archive.JSONLPath; path {
	case "":
	case "-":
		writers = append(writers, archive.NewJSONLWriter(os.Stdout))
	default:
		fw, err := archive.NewFileWriter(path)
		if err != nil {
			return nil, nil, err
		}
		log.Info("archiving tracks to file", "path", path)
		writers = append(writers, fw)
		cleanup = func() { fw.Close() }
	}

	if len(writers) == 0 {
		return nil, cleanup, nil
	}
	return archive.NewMultiWriter(writers...), cleanup, nil
}
