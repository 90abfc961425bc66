package geometry

import (
	"errors"
	"strings"

	"chronos-radar/internal/event"
)

// Kind is the entity class an event is placed under.
type Kind int

const (
	KindUnclassified Kind = iota
	KindAircraft
	KindGroundVehicle
	KindIncident
	KindRiskZone
	KindThreat
)

// Kinds lists every classified kind in display order.
var Kinds = []Kind{KindAircraft, KindGroundVehicle, KindIncident, KindRiskZone, KindThreat}

var kindNames = map[Kind]string{
	KindUnclassified:  "unclassified",
	KindAircraft:      "aircraft",
	KindGroundVehicle: "ground_vehicle",
	KindIncident:      "incident",
	KindRiskZone:      "risk_zone",
	KindThreat:        "threat",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "unclassified"
}

// MarshalText renders the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (k *Kind) UnmarshalText(b []byte) error {
	v, ok := ParseKind(string(b))
	if !ok {
		return errors.New("unknown entity kind " + string(b))
	}
	*k = v
	return nil
}

// ParseKind accepts the names produced by String plus a few short aliases.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "aircraft", "air":
		return KindAircraft, true
	case "ground_vehicle", "vehicle", "transit":
		return KindGroundVehicle, true
	case "incident":
		return KindIncident, true
	case "risk_zone", "risk", "zone":
		return KindRiskZone, true
	case "threat":
		return KindThreat, true
	}
	return KindUnclassified, false
}

// Outcomes of a failed normalization.
var (
	ErrUnclassified = errors.New("unclassified event")
	ErrNoGeometry   = errors.New("no usable geometry")
	ErrMalformed    = event.ErrMalformed
)

// Point is a WGS84 coordinate in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Motion is an optional heading/speed hint carried by moving entities.
type Motion struct {
	Heading *float64 `json:"heading,omitempty"`
	Speed   *float64 `json:"speed,omitempty"`
}

// Subject carries the kind-specific identity fields of a classified event.
// It is implemented by Aircraft, GroundVehicle, Threat, Incident and RiskZone.
type Subject interface {
	Kind() Kind
	subject()
}

type Aircraft struct {
	ICAO24   string `json:"icao24,omitempty"`
	Callsign string `json:"callsign,omitempty"`
}

type GroundVehicle struct {
	VehicleID string `json:"vehicle_id,omitempty"`
	TripID    string `json:"trip_id,omitempty"`
	RouteID   string `json:"route_id,omitempty"`
}

type Threat struct {
	ThreatID string `json:"threat_id,omitempty"`
	Stage    string `json:"stage,omitempty"`
}

// Area describes a stationary region anchored at the report point.
type Area struct {
	DeclaredID   string  `json:"declared_id,omitempty"`
	GeometryType string  `json:"geometry_type,omitempty"`
	RadiusM      float64 `json:"radius_m,omitempty"`
}

type Incident struct{ Area }

type RiskZone struct{ Area }

func (Aircraft) Kind() Kind      { return KindAircraft }
func (GroundVehicle) Kind() Kind { return KindGroundVehicle }
func (Threat) Kind() Kind        { return KindThreat }
func (Incident) Kind() Kind      { return KindIncident }
func (RiskZone) Kind() Kind      { return KindRiskZone }

func (Aircraft) subject()      {}
func (GroundVehicle) subject() {}
func (Threat) subject()        {}
func (Incident) subject()      {}
func (RiskZone) subject()      {}

// Report is the canonical form of one normalized event.
type Report struct {
	Kind    Kind
	Point   Point
	Motion  *Motion
	Subject Subject
	Event   event.RawEvent
}
