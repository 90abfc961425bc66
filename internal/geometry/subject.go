package geometry

import (
	"math"
	"strings"

	"chronos-radar/internal/event"
)

// field looks a string up on details first, then on the payload.
func field(ev event.RawEvent, keys ...string) string {
	if s := event.String(ev.Details, keys...); s != "" {
		return s
	}
	return event.String(ev.Payload, keys...)
}

func subjectFor(kind Kind, ev event.RawEvent, topic string, sh shape) Subject {
	switch kind {
	case KindAircraft:
		return Aircraft{
			ICAO24:   field(ev, "icao24"),
			Callsign: strings.ToUpper(field(ev, "callsign")),
		}
	case KindGroundVehicle:
		return GroundVehicle{
			VehicleID: field(ev, "vehicle_id"),
			TripID:    field(ev, "trip_id"),
			RouteID:   field(ev, "route_id"),
		}
	case KindThreat:
		return Threat{ThreatID: field(ev, "threat_id"), Stage: threatStage(ev, topic)}
	}
	area := Area{
		DeclaredID:   declaredID(ev),
		GeometryType: sh.Type,
		RadiusM:      sh.RadiusM,
	}
	if kind == KindRiskZone {
		return RiskZone{area}
	}
	return Incident{area}
}

// declaredID prefers the id carried by the record's details; top-level "id"
// is not consulted because some producers put the event id there.
func declaredID(ev event.RawEvent) string {
	if s := event.String(ev.Details, "id", "risk_id", "hotspot_id", "incident_id", "zone_id"); s != "" {
		return s
	}
	return event.String(ev.Payload, "risk_id", "hotspot_id", "incident_id", "zone_id")
}

// threatStage is the explicit stage/status, else the last topic token.
// Defense action stages are prefixed so they never collide with threat stages.
func threatStage(ev event.RawEvent, topic string) string {
	if s := field(ev, "stage", "status"); s != "" {
		return strings.ToLower(s)
	}
	tokens := strings.Fields(topic)
	if len(tokens) == 0 {
		return ""
	}
	last := tokens[len(tokens)-1]
	if strings.Contains(topic, "defense action") {
		return "action_" + last
	}
	return last
}

func motionHint(ev event.RawEvent) *Motion {
	var m Motion
	for _, src := range []map[string]any{ev.Details, ev.Payload} {
		if src == nil {
			continue
		}
		if m.Heading == nil {
			if h, ok := event.Float(src, "heading", "bearing", "true_track"); ok && finite(h) {
				m.Heading = &h
			}
		}
		if m.Speed == nil {
			if s, ok := event.Float(src, "velocity", "speed"); ok && finite(s) {
				m.Speed = &s
			}
		}
	}
	if m.Heading == nil && m.Speed == nil {
		return nil
	}
	return &m
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
