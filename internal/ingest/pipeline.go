package ingest

import (
	"errors"
	"log/slog"
	"time"

	"chronos-radar/internal/event"
	"chronos-radar/internal/geometry"
	"chronos-radar/internal/identity"
	"chronos-radar/internal/metrics"
	"chronos-radar/internal/projection"
	"chronos-radar/internal/store"
)

// Outcome is what the pipeline did with one event.
type Outcome string

const (
	OutcomeStored       Outcome = "stored"
	OutcomeStale        Outcome = "stale"
	OutcomeOutOfRange   Outcome = "out_of_range"
	OutcomeNoGeometry   Outcome = "no_geometry"
	OutcomeUnclassified Outcome = "unclassified"
	OutcomeMalformed    Outcome = "malformed"
)

// Result reports the effect of Apply.
type Result struct {
	Outcome Outcome
	Key     string
	Entity  store.TrackedEntity
	// Evicted is the entity pushed out by the capacity bound, if any.
	Evicted store.ID
	// Removed is set when an out-of-range update dropped a stored entity.
	Removed bool
}

// Pipeline runs Normalize, Project, Key and Upsert for one event at a time.
// It is not safe for concurrent use; the controller calls it from one
// goroutine.
type Pipeline struct {
	Center     geometry.Point
	MaxRangeKm float64
	Store      *store.Store
	Resolver   identity.Resolver
	Metrics    *metrics.Metrics
	Log        *slog.Logger
}

// Apply processes ev at wall time now.
func (p *Pipeline) Apply(ev event.RawEvent, now time.Time) Result {
	r, err := geometry.Normalize(ev)
	if err != nil {
		out := outcomeOf(err)
		p.Metrics.Event(geometry.Classify(ev.Topic).String(), string(out))
		p.logger().Debug("event dropped", "topic", ev.Topic, "event_id", ev.ID, "outcome", out, "err", err)
		return Result{Outcome: out}
	}
	key := p.Resolver.Key(r)
	id := store.ID{Kind: r.Kind, Key: key}
	kind := r.Kind.String()

	// Replays and polls can hand back an update older than one already
	// applied from the live stream; it must not move the entity backwards,
	// nor push it out of range.
	if prev, ok := p.Store.Get(id); ok && !ev.Timestamp.IsZero() && prev.ObservedAt.After(ev.Timestamp) {
		p.Metrics.Event(kind, string(OutcomeStale))
		return Result{Outcome: OutcomeStale, Key: key, Entity: prev}
	}

	proj, ok := projection.Project(p.Center, r.Point, p.MaxRangeKm)
	if !ok {
		removed := p.Store.Remove(id)
		if removed {
			p.Metrics.Evicted(string(store.EvictOutOfRange), 1)
			p.Metrics.StoreSize(p.Store.Len())
		}
		p.Metrics.Event(kind, string(OutcomeOutOfRange))
		return Result{Outcome: OutcomeOutOfRange, Key: key, Removed: removed}
	}

	details := ev.Details
	if details == nil {
		details = ev.Payload
	}
	ent := store.TrackedEntity{
		Key:        key,
		Kind:       r.Kind,
		Point:      r.Point,
		Projection: proj,
		Severity:   ev.Severity,
		Summary:    ev.Summary,
		Topic:      ev.Topic,
		EventID:    ev.ID,
		ObservedAt: ev.Timestamp,
		Motion:     r.Motion,
		Subject:    r.Subject,
		Details:    details,
	}
	evicted := p.Store.Upsert(ent, now)
	ent.UpdatedAt = now
	if !evicted.IsZero() {
		p.Metrics.Evicted(string(store.EvictCapacity), 1)
		p.logger().Debug("working set full", "evicted", evicted.String())
	}
	p.Metrics.Event(kind, string(OutcomeStored))
	p.Metrics.StoreSize(p.Store.Len())
	return Result{Outcome: OutcomeStored, Key: key, Entity: ent, Evicted: evicted}
}

// Sweep drops expired entities.
func (p *Pipeline) Sweep(now time.Time) []store.ID {
	gone := p.Store.EvictExpired(now)
	if len(gone) > 0 {
		p.Metrics.Evicted(string(store.EvictExpired), len(gone))
		p.Metrics.StoreSize(p.Store.Len())
		p.logger().Debug("expired entities swept", "count", len(gone))
	}
	return gone
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Log != nil {
		return p.Log
	}
	return slog.Default()
}

func outcomeOf(err error) Outcome {
	switch {
	case errors.Is(err, geometry.ErrUnclassified):
		return OutcomeUnclassified
	case errors.Is(err, geometry.ErrNoGeometry):
		return OutcomeNoGeometry
	}
	return OutcomeMalformed
}
