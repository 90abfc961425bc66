package archive

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	gpb "github.com/GreptimeTeam/greptime-proto/go/greptime/v1"
	greptime "github.com/GreptimeTeam/greptimedb-ingester-go"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table"
	"github.com/GreptimeTeam/greptimedb-ingester-go/table/types"

	"chronos-radar/internal/store"
)

// DefaultTrackTable receives one row per applied entity update.
const DefaultTrackTable = "radar_tracks"

type greptimeClient interface {
	Write(ctx context.Context, tables ...*table.Table) (*gpb.GreptimeResponse, error)
}

// GreptimeWriter archives entity updates to GreptimeDB through the ingester,
// which creates the table from the first write's schema.
type GreptimeWriter struct {
	client  greptimeClient
	table   string
	timeout time.Duration
	log     *slog.Logger
}

// NewGreptimeWriter connects to host (gRPC port 4001) and database.
func NewGreptimeWriter(host, database, tableName string, log *slog.Logger) (*GreptimeWriter, error) {
	if database == "" {
		database = "public"
	}
	if tableName == "" {
		tableName = DefaultTrackTable
	}
	if log == nil {
		log = slog.Default()
	}
	cfg := greptime.NewConfig(host).WithDatabase(database)
	client, err := greptime.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("greptime client: %w", err)
	}
	return &GreptimeWriter{client: client, table: tableName, timeout: 5 * time.Second, log: log}, nil
}

// WriteBatch inserts one row per entity.
func (w *GreptimeWriter) WriteBatch(es []store.TrackedEntity) error {
	if len(es) == 0 {
		return nil
	}
	tbl, err := w.rows(es)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	if _, err := w.client.Write(ctx, tbl); err != nil {
		return fmt.Errorf("greptime write %s: %w", w.table, err)
	}
	w.logger().Debug("archived tracks", "table", w.table, "rows", len(es))
	return nil
}

func (w *GreptimeWriter) rows(es []store.TrackedEntity) (*table.Table, error) {
	tbl, err := table.New(w.table)
	if err != nil {
		return nil, err
	}
	cols := []struct {
		name  string
		tag   bool
		dtype types.ColumnType
	}{
		{"entity_key", true, types.STRING},
		{"kind", true, types.STRING},
		{"lat", false, types.FLOAT64},
		{"lon", false, types.FLOAT64},
		{"distance_km", false, types.FLOAT64},
		{"bearing_deg", false, types.FLOAT64},
		{"x_km", false, types.FLOAT64},
		{"y_km", false, types.FLOAT64},
		{"severity", false, types.STRING},
		{"topic", false, types.STRING},
		{"summary", false, types.STRING},
	}
	for _, c := range cols {
		if c.tag {
			err = tbl.AddTagColumn(c.name, c.dtype)
		} else {
			err = tbl.AddFieldColumn(c.name, c.dtype)
		}
		if err != nil {
			return nil, err
		}
	}
	if err := tbl.AddTimestampColumn("ts", types.TIMESTAMP_MILLISECOND); err != nil {
		return nil, err
	}
	for _, e := range es {
		ts := e.UpdatedAt
		if !e.ObservedAt.IsZero() {
			ts = e.ObservedAt
		}
		err := tbl.AddRow(
			e.Key, e.Kind.String(),
			e.Point.Lat, e.Point.Lon,
			e.Projection.DistanceKm, e.Projection.BearingDeg, e.Projection.X, e.Projection.Y,
			e.Severity.String(), e.Topic, e.Summary,
			ts,
		)
		if err != nil {
			return nil, err
		}
	}
	return tbl, nil
}

func (w *GreptimeWriter) logger() *slog.Logger {
	if w.log != nil {
		return w.log
	}
	return slog.Default()
}
