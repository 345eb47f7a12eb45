package chookeye

import (
	"sync"
)

// DefaultFeedCapacity bounds the feed when no capacity is configured.
const DefaultFeedCapacity = 200

type feedListener struct {
	id int
	fn func(Alert)
}

// FeedStore holds the deduplicated set of alerts known to the session, in
// the order first observed. It is safe for concurrent use.
//
// Growth is bounded two ways: the store never exceeds its capacity (the
// oldest entry is evicted first), and PruneOutside drops alerts that fell
// outside the current subscription area.
type FeedStore struct {
	mu        sync.RWMutex
	capacity  int
	order     []int
	byID      map[int]Alert
	nextSubID int
	listeners []feedListener
}

// NewFeedStore creates a feed store holding at most capacity alerts.
// A capacity of zero or less falls back to DefaultFeedCapacity.
func NewFeedStore(capacity int) *FeedStore {
	if capacity <= 0 {
		capacity = DefaultFeedCapacity
	}
	return &FeedStore{
		capacity: capacity,
		byID:     make(map[int]Alert),
	}
}

// Upsert inserts a new alert or updates the one already held under the same
// ID, preserving its position in first-observed order. An update carrying an
// UpdatedAt older than the held entry is rejected so reordered pushes cannot
// overwrite newer state. Reports whether the store changed.
func (s *FeedStore) Upsert(alert Alert) bool {
	s.mu.Lock()

	existing, known := s.byID[alert.ID]
	if known {
		if alert.UpdatedAt.Before(existing.UpdatedAt) {
			s.mu.Unlock()
			return false
		}
		s.byID[alert.ID] = alert
	} else {
		s.byID[alert.ID] = alert
		s.order = append(s.order, alert.ID)
		if len(s.order) > s.capacity {
			oldest := s.order[0]
			s.order = s.order[1:]
			delete(s.byID, oldest)
		}
	}

	listeners := append([]feedListener(nil), s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		l.fn(alert)
	}
	return true
}

// Remove evicts the alert with the given ID. Reports whether it was present.
func (s *FeedStore) Remove(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(id)
}

func (s *FeedStore) removeLocked(id int) bool {
	if _, ok := s.byID[id]; !ok {
		return false
	}
	delete(s.byID, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns the alert with the given ID, if present.
func (s *FeedStore) Get(id int) (Alert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alert, ok := s.byID[id]
	return alert, ok
}

// Len returns the number of alerts currently held.
func (s *FeedStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Snapshot returns a copy of the feed in first-observed order, for rendering.
func (s *FeedStore) Snapshot() []Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alerts := make([]Alert, 0, len(s.order))
	for _, id := range s.order {
		alerts = append(alerts, s.byID[id])
	}
	return alerts
}

// PruneOutside drops every alert farther than radiusMeters from center and
// returns the number removed. Called when the area subscription moves, so
// the feed tracks the area the server is actually pushing for.
func (s *FeedStore) PruneOutside(center Location, radiusMeters float64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, id := range append([]int(nil), s.order...) {
		alert := s.byID[id]
		if Distance(center, alert.Location) > radiusMeters {
			s.removeLocked(id)
			removed++
		}
	}
	return removed
}

// OnChange registers a listener invoked with each inserted or updated alert.
func (s *FeedStore) OnChange(fn func(Alert)) *Subscription {
	s.mu.Lock()
	s.nextSubID++
	id := s.nextSubID
	s.listeners = append(s.listeners, feedListener{id: id, fn: fn})
	s.mu.Unlock()

	return &Subscription{off: func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				break
			}
		}
	}}
}
