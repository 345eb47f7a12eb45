package chookeye

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEmitter records emits and lets tests drive connection state changes.
type fakeEmitter struct {
	mu        sync.Mutex
	connected bool
	emits     []envelope
	stateFn   StateHandler
}

func (f *fakeEmitter) Emit(event string, payload interface{}) {
	data, _ := json.Marshal(payload)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emits = append(f.emits, envelope{Event: event, Data: data})
}

func (f *fakeEmitter) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeEmitter) OnStateChange(fn StateHandler) *Subscription {
	f.mu.Lock()
	f.stateFn = fn
	f.mu.Unlock()
	return &Subscription{off: func() {}}
}

func (f *fakeEmitter) setConnected(connected bool) {
	f.mu.Lock()
	f.connected = connected
	fn := f.stateFn
	f.mu.Unlock()
	if fn != nil {
		fn(connected)
	}
}

func (f *fakeEmitter) events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.emits))
	for _, env := range f.emits {
		out = append(out, env.Event)
	}
	return out
}

func (f *fakeEmitter) areaPayloads(event string) []areaPayload {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []areaPayload
	for _, env := range f.emits {
		if env.Event != event {
			continue
		}
		var p areaPayload
		_ = json.Unmarshal(env.Data, &p)
		out = append(out, p)
	}
	return out
}

func TestAreaSubscriber_FirstUpdateJoins(t *testing.T) {
	emitter := &fakeEmitter{connected: true}
	sub := NewAreaSubscriber(emitter, 1000, testLogger())

	changed := sub.Update(Coordinates{Latitude: 10.0, Longitude: 20.0})

	assert.True(t, changed)
	assert.Equal(t, []string{EventJoinArea}, emitter.events())

	payloads := emitter.areaPayloads(EventJoinArea)
	require.Len(t, payloads, 1)
	assert.Equal(t, areaPayload{Latitude: "10", Longitude: "20", Radius: "1000"}, payloads[0])
}

func TestAreaSubscriber_IdenticalKeyIsDebounced(t *testing.T) {
	emitter := &fakeEmitter{connected: true}
	sub := NewAreaSubscriber(emitter, 1000, testLogger())

	assert.True(t, sub.Update(Coordinates{Latitude: 10.0, Longitude: 20.0}))
	assert.False(t, sub.Update(Coordinates{Latitude: 10.0, Longitude: 20.0}))

	assert.Equal(t, []string{EventJoinArea}, emitter.events(), "no duplicate join for an unchanged key")
}

func TestAreaSubscriber_NewKeySupersedesOld(t *testing.T) {
	emitter := &fakeEmitter{connected: true}
	sub := NewAreaSubscriber(emitter, 1000, testLogger())

	sub.Update(Coordinates{Latitude: 10.0, Longitude: 20.0})
	sub.Update(Coordinates{Latitude: 10.5, Longitude: 20.0})

	assert.Equal(t, []string{EventJoinArea, EventLeaveArea, EventJoinArea}, emitter.events())

	leaves := emitter.areaPayloads(EventLeaveArea)
	require.Len(t, leaves, 1)
	assert.Equal(t, "10", leaves[0].Latitude, "the leave names the superseded key")

	joins := emitter.areaPayloads(EventJoinArea)
	require.Len(t, joins, 2)
	assert.Equal(t, "10.5", joins[1].Latitude)
}

func TestAreaSubscriber_RejoinsOnReconnect(t *testing.T) {
	emitter := &fakeEmitter{connected: true}
	sub := NewAreaSubscriber(emitter, 1000, testLogger())

	sub.Update(Coordinates{Latitude: 10.0, Longitude: 20.0})

	emitter.setConnected(false)
	emitter.setConnected(true)

	// The reconnect join carries the active key and no leave: the server
	// lost all room state with the old connection.
	assert.Equal(t, []string{EventJoinArea, EventJoinArea}, emitter.events())
	require.NotNil(t, sub.Active())
	assert.Equal(t, 10.0, sub.Active().Latitude)
}

func TestAreaSubscriber_NoRejoinWithoutActiveKey(t *testing.T) {
	emitter := &fakeEmitter{}
	NewAreaSubscriber(emitter, 1000, testLogger())

	emitter.setConnected(true)

	assert.Empty(t, emitter.events())
}

func TestAreaSubscriber_DefaultRadius(t *testing.T) {
	emitter := &fakeEmitter{connected: true}
	sub := NewAreaSubscriber(emitter, 0, testLogger())

	sub.Update(Coordinates{Latitude: 1, Longitude: 1})

	payloads := emitter.areaPayloads(EventJoinArea)
	require.Len(t, payloads, 1)
	assert.Equal(t, "1000", payloads[0].Radius)
}
