package geometry

import (
	"fmt"
	"math"
	"strings"

	"chronos-radar/internal/event"
)

// shape carries what an extractor learned about the geometry besides the point.
type shape struct {
	Type    string
	RadiusM float64
}

// extractor pulls a coordinate from one map. It must not panic on any input.
type extractor func(m map[string]any) (Point, shape, bool)

var defaultExtractors = []extractor{explicitGeometry, nestedLocation, directFields}

var areaExtractors = []extractor{areaLocation, explicitGeometry, nestedLocation, directFields}

type rule struct {
	match      func(topic string) bool
	extractors []extractor
	kind       func(topic string, s shape) Kind
}

func contains(subs ...string) func(string) bool {
	return func(topic string) bool {
		for _, s := range subs {
			if strings.Contains(topic, s) {
				return true
			}
		}
		return false
	}
}

func fixed(k Kind) func(string, shape) Kind {
	return func(string, shape) Kind { return k }
}

// rules are evaluated in order; the first match classifies the event.
var rules = []rule{
	{match: contains("aircraft position"), extractors: defaultExtractors, kind: fixed(KindAircraft)},
	{match: contains("geo incident", "geo risk area"), extractors: defaultExtractors, kind: geoRecordKind},
	{match: contains("disruption risk", "hotspot"), extractors: areaExtractors, kind: fixed(KindRiskZone)},
	{match: contains("defense threat", "defense action"), extractors: defaultExtractors, kind: fixed(KindThreat)},
	{match: contains("vehicle position"), extractors: defaultExtractors, kind: fixed(KindGroundVehicle)},
}

func geoRecordKind(topic string, s shape) Kind {
	switch strings.ToLower(s.Type) {
	case "point":
		return KindIncident
	case "circle", "polygon", "multipolygon":
		return KindRiskZone
	}
	if strings.Contains(topic, "risk area") {
		return KindRiskZone
	}
	return KindIncident
}

// FoldTopic lower-cases a topic and turns separators into spaces.
func FoldTopic(topic string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '_', '-', '/':
			return ' '
		}
		return r
	}, strings.ToLower(topic))
}

// Classify reports the kind an event topic maps to, without looking at the
// payload. Geo records default to the kind implied by the topic.
func Classify(topic string) Kind {
	folded := FoldTopic(topic)
	for _, r := range rules {
		if r.match(folded) {
			return r.kind(folded, shape{})
		}
	}
	return KindUnclassified
}

// Normalize classifies ev and extracts its canonical point. Failures wrap one
// of ErrUnclassified, ErrNoGeometry or ErrMalformed.
func Normalize(ev event.RawEvent) (Report, error) {
	if strings.TrimSpace(ev.Topic) == "" {
		return Report{}, fmt.Errorf("%w: missing topic", ErrMalformed)
	}
	topic := FoldTopic(ev.Topic)
	var matched *rule
	for i := range rules {
		if rules[i].match(topic) {
			matched = &rules[i]
			break
		}
	}
	if matched == nil {
		return Report{}, fmt.Errorf("%w: %s", ErrUnclassified, ev.Topic)
	}
	pt, sh, ok := locate(ev, matched.extractors)
	if !ok {
		return Report{}, fmt.Errorf("%w: %s %s", ErrNoGeometry, ev.Topic, ev.ID)
	}
	kind := matched.kind(topic, sh)
	return Report{
		Kind:    kind,
		Point:   pt,
		Motion:  motionHint(ev),
		Subject: subjectFor(kind, ev, topic, sh),
		Event:   ev,
	}, nil
}

// locate tries each extractor on details, then on the payload.
func locate(ev event.RawEvent, extractors []extractor) (Point, shape, bool) {
	for _, x := range extractors {
		for _, m := range []map[string]any{ev.Details, ev.Payload} {
			if m == nil {
				continue
			}
			if p, s, ok := x(m); ok {
				return p, s, true
			}
		}
	}
	return Point{}, shape{}, false
}

func validPoint(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

func latLon(m map[string]any, latKeys, lonKeys []string) (Point, bool) {
	lat, ok := event.Float(m, latKeys...)
	if !ok {
		return Point{}, false
	}
	lon, ok := event.Float(m, lonKeys...)
	if !ok || !validPoint(lat, lon) {
		return Point{}, false
	}
	return Point{Lat: lat, Lon: lon}, true
}

var (
	latKeys = []string{"latitude", "lat"}
	lonKeys = []string{"longitude", "lon", "lng"}
)

func radius(m map[string]any) float64 {
	if r, ok := event.Float(m, "radius_meters", "radius_m"); ok && r > 0 {
		return r
	}
	if nm, ok := event.Float(m, "radius_nm"); ok && nm > 0 {
		return nm * 1852
	}
	return 0
}

func nestedLocation(m map[string]any) (Point, shape, bool) {
	sub := event.Map(m, "location", "position")
	if sub == nil {
		return Point{}, shape{}, false
	}
	p, ok := latLon(sub, latKeys, lonKeys)
	return p, shape{RadiusM: radius(sub)}, ok
}

func directFields(m map[string]any) (Point, shape, bool) {
	p, ok := latLon(m, latKeys, lonKeys)
	return p, shape{}, ok
}

// areaLocation reads the location object published by risk and hotspot
// agents, whose coordinate keys vary by producer.
func areaLocation(m map[string]any) (Point, shape, bool) {
	sub := event.Map(m, "location")
	if sub == nil {
		sub = m
	}
	p, ok := latLon(sub,
		[]string{"latitude", "center_lat", "location_lat", "lat"},
		[]string{"longitude", "center_lon", "location_lon", "lon", "lng"})
	if !ok {
		return Point{}, shape{}, false
	}
	s := shape{RadiusM: radius(sub)}
	if s.RadiusM > 0 {
		s.Type = "Circle"
	}
	return p, s, true
}
