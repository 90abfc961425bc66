// Package store holds the bounded working set of tracked entities.
package store

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"chronos-radar/internal/geometry"
)

// Store is a bounded collection keyed by ID and ordered by last update. Entries are
// only written with Add and read with Peek, so LRU order is update order and
// the LRU's oldest element is the oldest by last update.
type Store struct {
	mu    sync.RWMutex
	lru   *simplelru.LRU[ID, TrackedEntity]
	ttl   TTLs
	limit int
}

// New creates a store holding at most capacity entities.
func New(capacity int, ttl TTLs) (*Store, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l, err := simplelru.NewLRU[ID, TrackedEntity](capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("create working set: %w", err)
	}
	merged := DefaultTTLs()
	for k, v := range ttl {
		if v > 0 {
			merged[k] = v
		}
	}
	return &Store{lru: l, ttl: merged, limit: capacity}, nil
}

// Upsert inserts or replaces e, stamping it with now. When the insert pushes
// the set over capacity the oldest entity is dropped and its ID returned;
// otherwise the returned ID is zero.
func (s *Store) Upsert(e TrackedEntity, now time.Time) (evicted ID) {
	e.UpdatedAt = now
	id := IDOf(e)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lru.Contains(id) && s.lru.Len() >= s.limit {
		if k, _, ok := s.lru.GetOldest(); ok {
			evicted = k
		}
	}
	// Add on an existing key moves it to the newest position.
	s.lru.Add(id, e)
	return evicted
}

// Remove deletes id and reports whether it was present.
func (s *Store) Remove(id ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Remove(id)
}

// EvictExpired drops every entity older than its kind TTL at now.
func (s *Store) EvictExpired(now time.Time) []ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var gone []ID
	for _, k := range s.lru.Keys() {
		e, ok := s.lru.Peek(k)
		if !ok {
			continue
		}
		ttl, ok := s.ttl[e.Kind]
		if !ok {
			continue
		}
		if now.Sub(e.UpdatedAt) > ttl {
			s.lru.Remove(k)
			gone = append(gone, k)
		}
	}
	return gone
}

// Get returns the entity stored under id without touching its order.
func (s *Store) Get(id ID) (TrackedEntity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lru.Peek(id)
}

// Len is the number of entities currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lru.Len()
}

// Capacity is the configured upper bound.
func (s *Store) Capacity() int { return s.limit }

// TTL returns the retention window for kind.
func (s *Store) TTL(kind geometry.Kind) time.Duration {
	return s.ttl[kind]
}

// Snapshot copies out every entity accepted by keep (nil keeps all), oldest
// update first. Stored values are never mutated, so the copy stays valid
// after later writes.
func (s *Store) Snapshot(keep func(TrackedEntity) bool) []TrackedEntity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := s.lru.Keys()
	out := make([]TrackedEntity, 0, len(keys))
	for _, k := range keys {
		e, ok := s.lru.Peek(k)
		if !ok {
			continue
		}
		if keep == nil || keep(e) {
			out = append(out, e)
		}
	}
	return out
}
