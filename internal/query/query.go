// Package query answers read-only questions about the working set.
package query

import (
	"fmt"
	"sort"
	"strings"

	"chronos-radar/internal/event"
	"chronos-radar/internal/geometry"
	"chronos-radar/internal/store"
)

// Filter narrows a snapshot. Empty Kinds or Severities match everything, as
// does a non-positive MaxRangeKm. MinSeverity drops anything below it.
type Filter struct {
	Kinds       []geometry.Kind
	Severities  []event.Severity
	MinSeverity event.Severity
	MaxRangeKm  float64
}

func (f Filter) match(e store.TrackedEntity) bool {
	if len(f.Kinds) > 0 && !contains(f.Kinds, e.Kind) {
		return false
	}
	if len(f.Severities) > 0 && !contains(f.Severities, e.Severity) {
		return false
	}
	if e.Severity < f.MinSeverity {
		return false
	}
	if f.MaxRangeKm > 0 && e.Projection.DistanceKm > f.MaxRangeKm {
		return false
	}
	return true
}

func contains[T comparable](xs []T, x T) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// Reader is the part of the store the facade needs.
type Reader interface {
	Snapshot(keep func(store.TrackedEntity) bool) []store.TrackedEntity
	Len() int
}

// Facade serves filtered snapshots. It never writes to the store.
type Facade struct {
	store Reader
}

// New returns a Facade over r.
func New(r Reader) *Facade {
	return &Facade{store: r}
}

// Snapshot returns the entities matching f, nearest first with ties broken
// by key, then kind. The slice is the caller's to keep.
func (q *Facade) Snapshot(f Filter) []store.TrackedEntity {
	out := q.store.Snapshot(f.match)
	sort.Slice(out, func(i, j int) bool {
		di, dj := out[i].Projection.DistanceKm, out[j].Projection.DistanceKm
		if di != dj {
			return di < dj
		}
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// Counts tallies a snapshot by kind.
func (q *Facade) Counts(f Filter) map[geometry.Kind]int {
	counts := make(map[geometry.Kind]int)
	for _, e := range q.store.Snapshot(f.match) {
		counts[e.Kind]++
	}
	return counts
}

// ParseKinds reads a comma-separated kind list such as "aircraft,threat".
func ParseKinds(s string) ([]geometry.Kind, error) {
	var kinds []geometry.Kind
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, ok := geometry.ParseKind(part)
		if !ok {
			return nil, fmt.Errorf("unknown kind %q", part)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// ParseSeverities reads a comma-separated severity list. Unknown tags are
// rejected rather than folded to unknown.
func ParseSeverities(s string) ([]event.Severity, error) {
	var sevs []event.Severity
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sev := event.ParseSeverity(part)
		if sev == event.SeverityUnknown && !strings.EqualFold(part, "unknown") {
			return nil, fmt.Errorf("unknown severity %q", part)
		}
		sevs = append(sevs, sev)
	}
	return sevs, nil
}
