package store

import (
	"time"

	"chronos-radar/internal/event"
	"chronos-radar/internal/geometry"
	"chronos-radar/internal/projection"
)

// TrackedEntity is one deduplicated, projected entity in the working set.
// Values are never mutated once stored; an update replaces the whole value.
type TrackedEntity struct {
	Key        string                `json:"key"`
	Kind       geometry.Kind         `json:"kind"`
	Point      geometry.Point        `json:"point"`
	Projection projection.Projection `json:"projection"`
	Severity   event.Severity        `json:"severity"`
	Summary    string                `json:"summary,omitempty"`
	Topic      string                `json:"topic"`
	EventID    string                `json:"event_id,omitempty"`
	ObservedAt time.Time             `json:"observed_at,omitempty"`
	UpdatedAt  time.Time             `json:"updated_at"`
	Motion     *geometry.Motion      `json:"motion,omitempty"`
	Subject    geometry.Subject      `json:"subject,omitempty"`
	Details    map[string]any        `json:"details,omitempty"`
}

// ID addresses one entity in the store. Identity keys are only unique
// within a kind, so the kind is part of the address.
type ID struct {
	Kind geometry.Kind
	Key  string
}

// IDOf addresses e.
func IDOf(e TrackedEntity) ID { return ID{Kind: e.Kind, Key: e.Key} }

// IsZero reports whether id addresses nothing.
func (id ID) IsZero() bool { return id.Key == "" }

func (id ID) String() string { return id.Kind.String() + "/" + id.Key }

// TTLs holds the maximum age per kind before an entity is swept.
type TTLs map[geometry.Kind]time.Duration

// DefaultTTLs returns the standard retention windows. Ground vehicles share
// the incident window.
func DefaultTTLs() TTLs {
	return TTLs{
		geometry.KindAircraft:      2 * time.Minute,
		geometry.KindIncident:      30 * time.Minute,
		geometry.KindRiskZone:      30 * time.Minute,
		geometry.KindThreat:        60 * time.Minute,
		geometry.KindGroundVehicle: 30 * time.Minute,
	}
}

// EvictReason says why an entity left the working set.
type EvictReason string

const (
	EvictCapacity   EvictReason = "capacity"
	EvictExpired    EvictReason = "expired"
	EvictOutOfRange EvictReason = "out_of_range"
)

// DefaultCapacity bounds the working set when no capacity is configured.
const DefaultCapacity = 300
