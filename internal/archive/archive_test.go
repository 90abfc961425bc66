package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"

	"chronos-radar/internal/event"
	"chronos-radar/internal/geometry"
	"chronos-radar/internal/logging"
	"chronos-radar/internal/projection"
	"chronos-radar/internal/store"
)

var ts = time.Unix(1700000000, 0).UTC()

func sample() []store.TrackedEntity {
	return []store.TrackedEntity{
		{
			Key:        "ABC123",
			Kind:       geometry.KindAircraft,
			Point:      geometry.Point{Lat: 45.43, Lon: -75.70},
			Projection: projection.Projection{DistanceKm: 1.1, BearingDeg: 350, X: -0.2, Y: 1.0},
			Severity:   event.SeverityInfo,
			Topic:      event.TopicAircraftPosition,
			ObservedAt: ts,
			UpdatedAt:  ts.Add(time.Second),
		},
		{
			Key:       "T1-detected",
			Kind:      geometry.KindThreat,
			Severity:  event.SeverityCritical,
			Summary:   "hostile uav",
			UpdatedAt: ts,
		},
	}
}

type mockGreptimeClient struct {
	table *table.Table
	err   error
}

func (m *mockGreptimeClient) Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error) {
	if len(tables) > 0 {
		m.table = tables[0]
	}
	return &gpb.GreptimeResponse{}, m.err
}

func TestGreptimeWriterRows(t *testing.T) {
	m := &mockGreptimeClient{}
	w := &GreptimeWriter{client: m, table: DefaultTrackTable, timeout: time.Second, log: logging.Discard()}
	if err := w.WriteBatch(sample()); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if m.table == nil {
		t.Fatalf("expected table to be captured")
	}
	rows := m.table.GetRows()
	if len(rows.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows.Rows))
	}
	if rows.Schema[0].SemanticType != gpb.SemanticType_TAG || rows.Schema[2].SemanticType != gpb.SemanticType_FIELD {
		t.Fatalf("unexpected semantic types: %v %v", rows.Schema[0].SemanticType, rows.Schema[2].SemanticType)
	}
	last := rows.Schema[len(rows.Schema)-1]
	if last.SemanticType != gpb.SemanticType_TIMESTAMP {
		t.Fatalf("last column = %v, want timestamp", last.SemanticType)
	}
	first := rows.Rows[0].Values
	if got := first[0].GetStringValue(); got != "ABC123" {
		t.Errorf("entity_key = %s", got)
	}
	if got := first[1].GetStringValue(); got != "aircraft" {
		t.Errorf("kind = %s", got)
	}
	if got := first[2].GetF64Value(); got != 45.43 {
		t.Errorf("lat = %v", got)
	}
	if got := first[len(first)-1].GetTimestampMillisecondValue(); got != ts.UnixMilli() {
		t.Errorf("ts = %d, want observed time %d", got, ts.UnixMilli())
	}
	second := rows.Rows[1].Values
	if got := second[len(second)-1].GetTimestampMillisecondValue(); got != ts.UnixMilli() {
		t.Errorf("ts fallback = %d", got)
	}
}

func TestGreptimeWriterError(t *testing.T) {
	m := &mockGreptimeClient{err: errors.New("unavailable")}
	w := &GreptimeWriter{client: m, table: "t", timeout: time.Second}
	if err := w.WriteBatch(sample()); err == nil {
		t.Fatal("expected error")
	}
	m = &mockGreptimeClient{}
	w.client = m
	if err := w.WriteBatch(nil); err != nil || m.table != nil {
		t.Fatalf("empty batch wrote: %v %v", err, m.table)
	}
}

func TestFileWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracks.jsonl")
	w, err := NewFileWriter(path)
	if err != nil {
		t.Fatalf("NewFileWriter: %v", err)
	}
	if err := w.WriteBatch(sample()); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	var lines []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("line %q: %v", sc.Text(), err)
		}
		lines = append(lines, m)
	}
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if lines[0]["kind"] != "aircraft" || lines[1]["severity"] != "critical" {
		t.Errorf("unexpected lines: %v", lines)
	}
}

func TestFileWriterBadPath(t *testing.T) {
	if _, err := NewFileWriter(filepath.Join(t.TempDir(), "missing", "x.jsonl")); err == nil {
		t.Fatal("expected error")
	}
}

type failingWriter struct{ calls int }

func (f *failingWriter) WriteBatch([]store.TrackedEntity) error {
	f.calls++
	return errors.New("disk full")
}

func TestMultiWriter(t *testing.T) {
	var buf bytes.Buffer
	bad := &failingWriter{}
	mw := NewMultiWriter(bad, nil, NewJSONLWriter(&buf))
	if mw.Len() != 2 {
		t.Fatalf("len = %d, want 2", mw.Len())
	}
	err := mw.WriteBatch(sample())
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("err = %v", err)
	}
	if bad.calls != 1 {
		t.Errorf("failing writer calls = %d", bad.calls)
	}
	if strings.Count(buf.String(), "\n") != 2 {
		t.Errorf("later writer skipped: %q", buf.String())
	}
}
