package chookeye

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// ReconnectDelay is the fixed delay between reconnection attempts.
	// There is no backoff growth and no attempt limit.
	ReconnectDelay = 5 * time.Second

	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Connection states reported by State.
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateConnected    = "connected"
)

// Handler receives the payload of a realtime event.
type Handler func(data json.RawMessage)

// StateHandler receives connection state transitions.
type StateHandler func(connected bool)

// Subscription is a removable registration on a Conn. Off is idempotent.
type Subscription struct {
	once sync.Once
	off  func()
}

// Off removes the registration. An already-removed subscription is a no-op.
func (s *Subscription) Off() {
	s.once.Do(s.off)
}

type handlerEntry struct {
	id int
	fn Handler
}

type stateEntry struct {
	id int
	fn StateHandler
}

// Conn owns the single logical realtime connection to the backend for the
// lifetime of the session. It reconnects automatically with a fixed delay
// and unlimited attempts, and multiplexes inbound events to any number of
// independently removable handlers per event name.
//
// All inbound events are dispatched from a single goroutine, so handler
// invocations for one Conn are serialized with respect to each other.
type Conn struct {
	url       string
	sessionID string
	dialer    *websocket.Dialer
	log       logrus.FieldLogger

	reconnectDelay time.Duration

	mu      sync.Mutex
	started bool
	ws      *websocket.Conn
	state   string
	cancel  context.CancelFunc
	done    chan struct{}

	writeMu sync.Mutex

	handlerMu sync.Mutex
	nextID    int
	handlers  map[string][]handlerEntry
	stateSubs []stateEntry
}

// NewConn creates a connection manager for the given websocket URL.
// Nothing is dialed until Connect is called.
func NewConn(url string, log logrus.FieldLogger) *Conn {
	sessionID := uuid.NewString()
	return &Conn{
		url:       url,
		sessionID: sessionID,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		log:            log.WithField("session", sessionID),
		reconnectDelay: ReconnectDelay,
		state:          StateDisconnected,
		handlers:       make(map[string][]handlerEntry),
	}
}

// SetReconnectDelay overrides the delay between reconnection attempts.
// Useful for testing.
func (c *Conn) SetReconnectDelay(d time.Duration) {
	c.reconnectDelay = d
}

// SessionID returns the client session identifier sent on every dial.
func (c *Conn) SessionID() string {
	return c.sessionID
}

// Connect starts the connection loop. Calling it while already connected or
// connecting is a no-op, so at most one underlying connection ever exists.
func (c *Conn) Connect() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		c.log.Debug("Connect called while already running")
		return
	}
	c.started = true
	c.state = StateConnecting
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.run(ctx)
}

// Close tears down the connection, stops reconnecting and releases every
// registered handler. Idempotent.
func (c *Conn) Close() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	cancel := c.cancel
	ws := c.ws
	done := c.done
	c.mu.Unlock()

	cancel()
	if ws != nil {
		_ = ws.Close()
	}
	<-done

	c.handlerMu.Lock()
	c.handlers = make(map[string][]handlerEntry)
	c.stateSubs = nil
	c.handlerMu.Unlock()

	c.log.Info("Connection closed")
}

// IsConnected reports whether the realtime connection is currently up.
func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected
}

// State returns the current connection state.
func (c *Conn) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Emit sends an event to the server. Delivery is best effort: if the
// connection is down the message is dropped with a log entry, never queued.
func (c *Conn) Emit(event string, payload interface{}) {
	c.mu.Lock()
	ws := c.ws
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || ws == nil {
		c.log.WithField("event", event).Debug("Emit dropped: not connected")
		return
	}

	env := envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			c.log.WithField("event", event).WithError(err).Error("Failed to marshal event payload")
			return
		}
		env.Data = data
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteJSON(env); err != nil {
		c.log.WithField("event", event).WithError(err).Warn("Failed to send event")
	}
}

// On registers a handler for the named event. Handlers are invoked in
// registration order; each registration is removed independently via the
// returned Subscription.
func (c *Conn) On(event string, fn Handler) *Subscription {
	c.handlerMu.Lock()
	c.nextID++
	id := c.nextID
	c.handlers[event] = append(c.handlers[event], handlerEntry{id: id, fn: fn})
	c.handlerMu.Unlock()

	return &Subscription{off: func() {
		c.handlerMu.Lock()
		defer c.handlerMu.Unlock()
		entries := c.handlers[event]
		for i, e := range entries {
			if e.id == id {
				c.handlers[event] = append(entries[:i:i], entries[i+1:]...)
				break
			}
		}
	}}
}

// OnStateChange registers a handler for connected/disconnected transitions.
func (c *Conn) OnStateChange(fn StateHandler) *Subscription {
	c.handlerMu.Lock()
	c.nextID++
	id := c.nextID
	c.stateSubs = append(c.stateSubs, stateEntry{id: id, fn: fn})
	c.handlerMu.Unlock()

	return &Subscription{off: func() {
		c.handlerMu.Lock()
		defer c.handlerMu.Unlock()
		for i, e := range c.stateSubs {
			if e.id == id {
				c.stateSubs = append(c.stateSubs[:i:i], c.stateSubs[i+1:]...)
				break
			}
		}
	}}
}

// run is the connection loop: dial, pump until failure, wait the fixed
// delay, dial again. It exits only when the context is canceled by Close.
func (c *Conn) run(ctx context.Context) {
	defer close(c.done)

	for {
		ws, _, err := c.dialer.DialContext(ctx, c.dialURL(), nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.WithError(err).Warn("Connection attempt failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.reconnectDelay):
			}
			continue
		}

		c.mu.Lock()
		c.ws = ws
		c.state = StateConnected
		c.mu.Unlock()
		c.log.Info("Connected")
		c.notifyState(true)

		c.readLoop(ws)

		c.mu.Lock()
		c.ws = nil
		if c.started {
			c.state = StateConnecting
		} else {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		c.log.Info("Disconnected")
		c.notifyState(false)

		if ctx.Err() != nil {
			c.setState(StateDisconnected)
			return
		}
		select {
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return
		case <-time.After(c.reconnectDelay):
		}
	}
}

// readLoop pumps inbound messages until the connection breaks. Keepalive
// pings run on a side goroutine for the lifetime of this connection.
func (c *Conn) readLoop(ws *websocket.Conn) {
	stopPing := make(chan struct{})
	go c.pingLoop(ws, stopPing)
	defer close(stopPing)
	defer ws.Close()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var env envelope
		if err := ws.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.WithError(err).Warn("Read failed")
			}
			return
		}
		c.dispatch(env)
	}
}

func (c *Conn) pingLoop(ws *websocket.Conn, stop chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

// dispatch invokes every handler registered for the event, in order.
func (c *Conn) dispatch(env envelope) {
	c.handlerMu.Lock()
	entries := append([]handlerEntry(nil), c.handlers[env.Event]...)
	c.handlerMu.Unlock()

	if len(entries) == 0 {
		c.log.WithField("event", env.Event).Debug("No handlers for event")
		return
	}
	for _, e := range entries {
		e.fn(env.Data)
	}
}

func (c *Conn) notifyState(connected bool) {
	c.handlerMu.Lock()
	subs := append([]stateEntry(nil), c.stateSubs...)
	c.handlerMu.Unlock()

	for _, s := range subs {
		s.fn(connected)
	}
}

func (c *Conn) setState(state string) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
}

func (c *Conn) dialURL() string {
	return c.url + "?client_id=" + c.sessionID
}
