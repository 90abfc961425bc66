package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const eventLog = `{"topic":"chronos.events.airspace.aircraft.position","timestamp":"2025-06-01T12:00:00Z","payload":{"details":{"icao24":"abc123","latitude":45.43,"longitude":-75.70}}}
not json
{"topic":"chronos.events.defense.threat.detected","timestamp":"2025-06-01T12:00:01Z","payload":{"details":{"threat_id":"T1","location":{"lat":45.42,"lon":-75.69}}}}

{"topic":"chronos.events.airspace.aircraft.position","timestamp":"2025-06-01T12:00:02Z","payload":{"details":{"icao24":"far01","latitude":45.50,"longitude":-73.57}}}
`

func TestReplayLog(t *testing.T) {
	p := newPipeline(t, 10)
	stats, err := ReplayLog(context.Background(), strings.NewReader(eventLog), p, 0)
	if err != nil {
		t.Fatalf("ReplayLog: %v", err)
	}
	if stats.Lines != 4 {
		t.Errorf("lines = %d, want 4", stats.Lines)
	}
	if stats.Outcomes[OutcomeStored] != 2 || stats.Outcomes[OutcomeMalformed] != 1 || stats.Outcomes[OutcomeOutOfRange] != 1 {
		t.Errorf("outcomes = %v", stats.Outcomes)
	}
	got, ok := p.Store.Get(acID("abc123"))
	if !ok {
		t.Fatal("aircraft missing")
	}
	if !got.UpdatedAt.Equal(t0) {
		t.Errorf("updated at = %v, want event time", got.UpdatedAt)
	}
}

func TestReplayLogExpiresByEventTime(t *testing.T) {
	log := `{"topic":"chronos.events.airspace.aircraft.position","timestamp":"2025-06-01T12:00:00Z","payload":{"details":{"icao24":"a1","lat":45.43,"lon":-75.70}}}
{"topic":"chronos.events.airspace.aircraft.position","timestamp":"2025-06-01T12:05:00Z","payload":{"details":{"icao24":"a2","lat":45.43,"lon":-75.70}}}
`
	p := newPipeline(t, 10)
	if _, err := ReplayLog(context.Background(), strings.NewReader(log), p, 0); err != nil {
		t.Fatalf("ReplayLog: %v", err)
	}
	if _, ok := p.Store.Get(acID("a1")); ok {
		t.Error("a1 should have expired before a2 arrived")
	}
	if p.Store.Len() != 1 {
		t.Errorf("len = %d, want 1", p.Store.Len())
	}
}

func TestReplayLogCancelledWhilePacing(t *testing.T) {
	log := `{"topic":"chronos.events.airspace.aircraft.position","timestamp":"2025-06-01T12:00:00Z","payload":{"details":{"icao24":"a1","lat":45.43,"lon":-75.70}}}
{"topic":"chronos.events.airspace.aircraft.position","timestamp":"2025-06-01T13:00:00Z","payload":{"details":{"icao24":"a2","lat":45.43,"lon":-75.70}}}
`
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	p := newPipeline(t, 10)
	if _, err := ReplayLog(ctx, strings.NewReader(log), p, 1); err == nil {
		t.Fatal("expected context error")
	}
	if p.Store.Len() != 1 {
		t.Errorf("len = %d, want 1", p.Store.Len())
	}
}

func TestReplayLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	if err := os.WriteFile(path, []byte(eventLog), 0o644); err != nil {
		t.Fatal(err)
	}
	p := newPipeline(t, 10)
	if _, err := ReplayLogFile(context.Background(), path, p, 0); err != nil {
		t.Fatalf("ReplayLogFile: %v", err)
	}
	if p.Store.Len() != 2 {
		t.Errorf("len = %d, want 2", p.Store.Len())
	}
	if _, err := ReplayLogFile(context.Background(), filepath.Join(t.TempDir(), "missing"), p, 0); err == nil {
		t.Error("expected error for missing file")
	}
}
