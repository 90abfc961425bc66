// Package identity derives the deduplication key of a normalized event.
package identity

import (
	"fmt"

	"github.com/google/uuid"

	"chronos-radar/internal/geometry"
)

// Resolver maps reports to stable keys. The zero value is ready to use.
type Resolver struct {
	// NewID produces keys for records with nothing stable to key on.
	NewID func() string
}

// Key returns the working-set key for r. Records carrying no identifying
// field fall back to the event id, then to a coordinate key, then to a fresh
// id; such entities are not deduplicated across updates.
func (res Resolver) Key(r geometry.Report) string {
	switch s := r.Subject.(type) {
	case geometry.Aircraft:
		if s.ICAO24 != "" {
			return s.ICAO24
		}
		if s.Callsign != "" {
			return s.Callsign
		}
	case geometry.GroundVehicle:
		if s.VehicleID != "" {
			return s.VehicleID
		}
	case geometry.Threat:
		id := s.ThreatID
		if id == "" {
			id = r.Event.CorrelationID
		}
		if id != "" {
			if s.Stage == "" {
				return id
			}
			return id + "-" + s.Stage
		}
	case geometry.Incident:
		if s.DeclaredID != "" {
			return s.DeclaredID
		}
		return coordinateKey(r)
	case geometry.RiskZone:
		if s.DeclaredID != "" {
			return s.DeclaredID
		}
		return coordinateKey(r)
	}
	if r.Event.ID != "" {
		return r.Event.ID
	}
	return res.fresh()
}

// Key resolves r with the default Resolver.
func Key(r geometry.Report) string {
	return Resolver{}.Key(r)
}

// coordinateKey keys anonymous areas by position rounded to about 100 m so
// repeated sightings of one spot collapse.
func coordinateKey(r geometry.Report) string {
	return fmt.Sprintf("%.3f,%.3f", r.Point.Lat, r.Point.Lon)
}

func (res Resolver) fresh() string {
	if res.NewID != nil {
		return res.NewID()
	}
	return uuid.NewString()
}
