package ingest

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"chronos-radar/internal/event"
)

// ReplayStats counts what a log replay did.
type ReplayStats struct {
	Lines    int
	Outcomes map[Outcome]int
}

// ReplayLog feeds newline-delimited JSON events from r through p. Each event
// is applied at its own timestamp so TTLs behave as they did live; events
// without one use the wall clock. A speed > 0 paces playback relative to the
// gaps between events; speed <= 0 inserts no delay. Undecodable lines are
// counted as malformed and skipped.
func ReplayLog(ctx context.Context, r io.Reader, p *Pipeline, speed float64) (ReplayStats, error) {
	stats := ReplayStats{Outcomes: make(map[Outcome]int)}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	var prev time.Time
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		stats.Lines++
		ev, err := event.Decode(line)
		if err != nil {
			stats.Outcomes[OutcomeMalformed]++
			p.logger().Debug("replay line skipped", "line", stats.Lines, "err", err)
			continue
		}
		now := ev.Timestamp
		if now.IsZero() {
			now = time.Now()
		}
		if !prev.IsZero() && speed > 0 {
			if err := pause(ctx, time.Duration(float64(now.Sub(prev))/speed)); err != nil {
				return stats, err
			}
		}
		p.Sweep(now)
		stats.Outcomes[p.Apply(ev, now).Outcome]++
		if now.After(prev) {
			prev = now
		}
	}
	if err := sc.Err(); err != nil {
		return stats, fmt.Errorf("read event log: %w", err)
	}
	return stats, nil
}

// ReplayLogFile opens path and replays its events.
func ReplayLogFile(ctx context.Context, path string, p *Pipeline, speed float64) (ReplayStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return ReplayStats{}, err
	}
	defer f.Close()
	return ReplayLog(ctx, f, p, speed)
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
