package geometry

import (
	"errors"
	"testing"

	"chronos-radar/internal/event"
)

func raw(topic string, details map[string]any) event.RawEvent {
	return event.RawEvent{Topic: topic, ID: "evt-1", Details: details, Payload: map[string]any{"details": details}}
}

func TestNormalizeAircraft(t *testing.T) {
	ev := raw(event.TopicAircraftPosition, map[string]any{
		"icao24":    "ABC123",
		"callsign":  "acme12 ",
		"latitude":  45.43,
		"longitude": -75.70,
		"velocity":  210.0,
		"heading":   90.0,
	})
	r, err := Normalize(ev)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if r.Kind != KindAircraft {
		t.Fatalf("kind = %v, want aircraft", r.Kind)
	}
	if r.Point.Lat != 45.43 || r.Point.Lon != -75.70 {
		t.Errorf("point = %+v", r.Point)
	}
	a, ok := r.Subject.(Aircraft)
	if !ok {
		t.Fatalf("subject = %T, want Aircraft", r.Subject)
	}
	if a.ICAO24 != "ABC123" || a.Callsign != "ACME12" {
		t.Errorf("aircraft = %+v", a)
	}
	if r.Motion == nil || r.Motion.Heading == nil || *r.Motion.Heading != 90 || *r.Motion.Speed != 210 {
		t.Errorf("motion = %+v", r.Motion)
	}
}

func TestNormalizeGeoRecords(t *testing.T) {
	cases := []struct {
		name    string
		topic   string
		details map[string]any
		kind    Kind
		lat     float64
		lon     float64
		radius  float64
	}{
		{
			name:  "point incident",
			topic: event.TopicGeoIncident,
			details: map[string]any{"id": "GEO-1", "geometry": map[string]any{
				"type": "Point", "coordinates": []any{-75.69, 45.42},
			}},
			kind: KindIncident, lat: 45.42, lon: -75.69,
		},
		{
			name:  "circle risk area",
			topic: event.TopicGeoRiskArea,
			details: map[string]any{"id": "RISK-1", "geometry": map[string]any{
				"type": "Circle", "coordinates": []any{-75.6, 45.5}, "radius_meters": 500.0,
			}},
			kind: KindRiskZone, lat: 45.5, lon: -75.6, radius: 500,
		},
		{
			name:  "polygon on incident topic",
			topic: event.TopicGeoIncident,
			details: map[string]any{"geometry": map[string]any{
				"type": "Polygon",
				"coordinates": []any{[]any{
					[]any{-75.7, 45.4}, []any{-75.6, 45.4}, []any{-75.6, 45.5}, []any{-75.7, 45.4},
				}},
			}},
			kind: KindRiskZone, lat: 45.4, lon: -75.7,
		},
		{
			name:    "risk area without declared geometry",
			topic:   event.TopicGeoRiskArea,
			details: map[string]any{"location": map[string]any{"lat": 45.1, "lon": -75.1}},
			kind:    KindRiskZone, lat: 45.1, lon: -75.1,
		},
		{
			name:  "disruption risk location",
			topic: event.TopicDisruptionRisk,
			details: map[string]any{"risk_id": "R-9", "location": map[string]any{
				"center_lat": 45.3, "center_lon": -75.8, "radius_meters": 300.0,
			}},
			kind: KindRiskZone, lat: 45.3, lon: -75.8, radius: 300,
		},
		{
			name:  "hotspot in nautical miles",
			topic: event.TopicAirspaceHotspot,
			details: map[string]any{"hotspot_id": "H-1", "location": map[string]any{
				"latitude": 45.0, "longitude": -75.0, "radius_nm": 2.0,
			}},
			kind: KindRiskZone, lat: 45, lon: -75, radius: 3704,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := Normalize(raw(tc.topic, tc.details))
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if r.Kind != tc.kind {
				t.Fatalf("kind = %v, want %v", r.Kind, tc.kind)
			}
			if r.Point.Lat != tc.lat || r.Point.Lon != tc.lon {
				t.Errorf("point = %+v, want (%v,%v)", r.Point, tc.lat, tc.lon)
			}
			var area Area
			switch s := r.Subject.(type) {
			case Incident:
				area = s.Area
			case RiskZone:
				area = s.Area
			default:
				t.Fatalf("subject = %T", r.Subject)
			}
			if area.RadiusM != tc.radius {
				t.Errorf("radius = %v, want %v", area.RadiusM, tc.radius)
			}
		})
	}
}

func TestNormalizeThreatStage(t *testing.T) {
	r, err := Normalize(raw(event.TopicThreatAssessed, map[string]any{
		"threat_id": "T1",
		"affected_area": map[string]any{
			"type":        "Polygon",
			"coordinates": []any{[]any{[]any{-75.7, 45.4}, []any{-75.6, 45.4}, []any{-75.6, 45.5}}},
		},
	}))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	th, ok := r.Subject.(Threat)
	if !ok {
		t.Fatalf("subject = %T", r.Subject)
	}
	if th.ThreatID != "T1" || th.Stage != "assessed" {
		t.Errorf("threat = %+v", th)
	}
}

func TestNormalizeLocationOrder(t *testing.T) {
	details := map[string]any{
		"position":  map[string]any{"lat": 1.0, "lon": 2.0},
		"latitude":  3.0,
		"longitude": 4.0,
	}
	r, err := Normalize(raw(event.TopicVehiclePosition, details))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if r.Point.Lat != 1 || r.Point.Lon != 2 {
		t.Errorf("nested position should win, got %+v", r.Point)
	}
	top := event.RawEvent{Topic: event.TopicVehiclePosition, Payload: map[string]any{"lat": 5.0, "lng": 6.0}}
	r, err = Normalize(top)
	if err != nil {
		t.Fatalf("Normalize top-level: %v", err)
	}
	if r.Point.Lat != 5 || r.Point.Lon != 6 {
		t.Errorf("point = %+v", r.Point)
	}
}

func TestNormalizeFailures(t *testing.T) {
	cases := []struct {
		name string
		ev   event.RawEvent
		want error
	}{
		{"unknown topic", raw("chronos.events.power.failure", map[string]any{"lat": 1.0, "lon": 1.0}), ErrUnclassified},
		{"no coordinates", raw(event.TopicAircraftPosition, map[string]any{"icao24": "x"}), ErrNoGeometry},
		{"half a coordinate", raw(event.TopicAircraftPosition, map[string]any{"latitude": 45.0}), ErrNoGeometry},
		{"non numeric", raw(event.TopicAircraftPosition, map[string]any{"latitude": "north", "longitude": "west"}), ErrNoGeometry},
		{"out of bounds", raw(event.TopicAircraftPosition, map[string]any{"latitude": 95.0, "longitude": 0.0}), ErrNoGeometry},
		{"broken geometry", raw(event.TopicGeoIncident, map[string]any{"geometry": map[string]any{"type": "Point", "coordinates": "x"}}), ErrNoGeometry},
		{"missing topic", event.RawEvent{}, ErrMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Normalize(tc.ev)
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	cases := map[string]Kind{
		event.TopicAircraftPosition: KindAircraft,
		event.TopicVehiclePosition:  KindGroundVehicle,
		event.TopicGeoIncident:      KindIncident,
		event.TopicGeoRiskArea:      KindRiskZone,
		event.TopicTransitHotspot:   KindRiskZone,
		event.TopicActionDeployed:   KindThreat,
		"chronos.events.audit":      KindUnclassified,
	}
	for topic, want := range cases {
		if got := Classify(topic); got != want {
			t.Errorf("Classify(%s) = %v, want %v", topic, got, want)
		}
	}
}
