package event

import (
	"strings"
	"time"
)

// Severity is the folded severity scale shared by every feed.
type Severity int

const (
	SeverityUnknown Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityUnknown:  "unknown",
	SeverityInfo:     "info",
	SeverityWarning:  "warning",
	SeverityError:    "error",
	SeverityCritical: "critical",
}

func (s Severity) String() string {
	if n, ok := severityNames[s]; ok {
		return n
	}
	return "unknown"
}

// MarshalText renders the severity as its lower-case name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts any tag understood by ParseSeverity.
func (s *Severity) UnmarshalText(b []byte) error {
	*s = ParseSeverity(string(b))
	return nil
}

// ParseSeverity folds the info/warning/error/critical scale and the
// low/medium/high scale used by risk agents onto Severity.
func ParseSeverity(tag string) Severity {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "info", "low", "minor":
		return SeverityInfo
	case "warning", "warn", "medium", "moderate":
		return SeverityWarning
	case "error", "high", "major":
		return SeverityError
	case "critical", "severe", "emergency":
		return SeverityCritical
	}
	return SeverityUnknown
}

// RawEvent is one record pulled off the event log, before normalization.
type RawEvent struct {
	Topic         string         `json:"topic"`
	ID            string         `json:"event_id,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	SectorID      string         `json:"sector_id,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Severity      Severity       `json:"severity"`
	Summary       string         `json:"summary,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}

// Well-known event log topics.
const (
	TopicAircraftPosition = "chronos.events.airspace.aircraft.position"
	TopicAirspaceHotspot  = "chronos.events.airspace.hotspot.detected"
	TopicGeoIncident      = "chronos.events.geo.incident"
	TopicGeoRiskArea      = "chronos.events.geo.risk_area"
	TopicVehiclePosition  = "chronos.events.transit.vehicle.position"
	TopicDisruptionRisk   = "chronos.events.transit.disruption.risk"
	TopicTransitHotspot   = "chronos.events.transit.hotspot"
	TopicThreatDetected   = "chronos.events.defense.threat.detected"
	TopicThreatAssessed   = "chronos.events.defense.threat.assessed"
	TopicThreatEscalated  = "chronos.events.defense.threat.escalated"
	TopicThreatResolved   = "chronos.events.defense.threat.resolved"
	TopicActionProposed   = "chronos.events.defense.action.proposed"
	TopicActionApproved   = "chronos.events.defense.action.approved"
	TopicActionDeployed   = "chronos.events.defense.action.deployed"
)

// GeoTopics lists every topic the radar pipeline can place on the map.
var GeoTopics = []string{
	TopicAircraftPosition,
	TopicAirspaceHotspot,
	TopicGeoIncident,
	TopicGeoRiskArea,
	TopicVehiclePosition,
	TopicDisruptionRisk,
	TopicTransitHotspot,
	TopicThreatDetected,
	TopicThreatAssessed,
	TopicThreatEscalated,
	TopicThreatResolved,
	TopicActionProposed,
	TopicActionApproved,
	TopicActionDeployed,
}
