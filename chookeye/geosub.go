package chookeye

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultRadiusMeters is the fixed area-of-interest radius used when no
// radius is configured.
const DefaultRadiusMeters = 1000

// AreaKey identifies one geographic area subscription. The server quantizes
// the key into one or more room identifiers; the client only needs equality.
type AreaKey struct {
	Latitude  float64
	Longitude float64
	Radius    int
}

// realtimeEmitter is the slice of Conn the subscriber needs.
type realtimeEmitter interface {
	Emit(event string, payload interface{})
	IsConnected() bool
	OnStateChange(fn StateHandler) *Subscription
}

// AreaSubscriber keeps the backend's notion of this session's area of
// interest current. It holds at most one active subscription key: a new key
// supersedes the old one with an explicit leave before the join, and an
// unchanged key emits nothing. Requests dropped while disconnected are
// re-issued when the connection comes back, because the subscriber re-joins
// its active key on every connected transition.
type AreaSubscriber struct {
	conn   realtimeEmitter
	radius int
	log    logrus.FieldLogger

	mu       sync.Mutex
	active   *AreaKey
	stateSub *Subscription
}

// NewAreaSubscriber creates a subscriber with the given fixed radius.
// A radius of zero or less falls back to DefaultRadiusMeters.
func NewAreaSubscriber(conn realtimeEmitter, radius int, log logrus.FieldLogger) *AreaSubscriber {
	if radius <= 0 {
		radius = DefaultRadiusMeters
	}
	s := &AreaSubscriber{
		conn:   conn,
		radius: radius,
		log:    log,
	}
	s.stateSub = conn.OnStateChange(func(connected bool) {
		if connected {
			s.rejoin()
		}
	})
	return s
}

// Update moves the area of interest to the given coordinates. It reports
// whether the subscription key changed; an identical key is a no-op.
func (s *AreaSubscriber) Update(coords Coordinates) bool {
	key := AreaKey{
		Latitude:  coords.Latitude,
		Longitude: coords.Longitude,
		Radius:    s.radius,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active != nil && *s.active == key {
		return false
	}

	if s.active != nil {
		s.conn.Emit(EventLeaveArea, newAreaPayload(*s.active))
	}
	s.conn.Emit(EventJoinArea, newAreaPayload(key))
	s.active = &key

	s.log.WithFields(logrus.Fields{
		"latitude":  key.Latitude,
		"longitude": key.Longitude,
		"radius":    key.Radius,
	}).Debug("Area subscription updated")
	return true
}

// Active returns the currently-active subscription key, or nil if no area
// has been joined yet.
func (s *AreaSubscriber) Active() *AreaKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil
	}
	key := *s.active
	return &key
}

// Stop detaches the subscriber from connection state changes.
func (s *AreaSubscriber) Stop() {
	s.stateSub.Off()
}

// rejoin re-issues the join for the active key after a reconnect. The
// server lost all room state with the old connection, so no leave is sent.
func (s *AreaSubscriber) rejoin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return
	}
	s.conn.Emit(EventJoinArea, newAreaPayload(*s.active))
	s.log.Debug("Re-joined area after reconnect")
}
