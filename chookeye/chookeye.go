// Package chookeye is a client for the chookeye location-aware alerting
// service: it maintains the realtime connection, keeps the backend's area
// of interest current as the device moves, mirrors pushed alerts into a
// local feed, and synchronizes single-alert detail views.
package chookeye

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Config configures a Client.
type Config struct {
	// BaseURL is the HTTP origin of the chookeye backend. Required.
	BaseURL string

	// SocketURL is the websocket endpoint. Derived from BaseURL when empty.
	SocketURL string

	// RadiusMeters is the fixed area-of-interest radius.
	// Defaults to DefaultRadiusMeters.
	RadiusMeters int

	// FeedCapacity bounds the alert feed. Defaults to DefaultFeedCapacity.
	FeedCapacity int

	// Location, when set, drives the area subscription automatically.
	// Without a provider, call UpdateLocation yourself.
	Location LocationProvider

	// Logger receives the client's structured logs.
	// Defaults to the logrus standard logger.
	Logger logrus.FieldLogger
}

func (c *Config) applyDefaults() error {
	if c.BaseURL == "" {
		return errors.New("base URL is required")
	}
	if c.SocketURL == "" {
		c.SocketURL = deriveSocketURL(c.BaseURL)
	}
	if c.RadiusMeters <= 0 {
		c.RadiusMeters = DefaultRadiusMeters
	}
	if c.FeedCapacity <= 0 {
		c.FeedCapacity = DefaultFeedCapacity
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	return nil
}

// deriveSocketURL maps the HTTP origin to the backend's websocket endpoint.
func deriveSocketURL(baseURL string) string {
	ws := baseURL
	switch {
	case strings.HasPrefix(ws, "https://"):
		ws = "wss://" + strings.TrimPrefix(ws, "https://")
	case strings.HasPrefix(ws, "http://"):
		ws = "ws://" + strings.TrimPrefix(ws, "http://")
	}
	return strings.TrimSuffix(ws, "/") + "/ws"
}

// Client composes the synchronization core: connection manager, area
// subscriber, feed store and REST client, wired together and driven by an
// optional location provider.
type Client struct {
	config Config
	log    logrus.FieldLogger

	api  *APIClient
	conn *Conn
	feed *FeedStore
	area *AreaSubscriber

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	session *Session
	subs    []*Subscription
}

// New creates a client from the given configuration. Nothing connects
// until Start.
func New(config Config) (*Client, error) {
	if err := config.applyDefaults(); err != nil {
		return nil, err
	}

	log := config.Logger
	conn := NewConn(config.SocketURL, log)

	return &Client{
		config: config,
		log:    log,
		api:    NewAPIClient(config.BaseURL, log),
		conn:   conn,
		feed:   NewFeedStore(config.FeedCapacity),
		area:   NewAreaSubscriber(conn, config.RadiusMeters, log),
	}, nil
}

// Start connects the realtime channel, mirrors pushed alerts into the feed
// and, when a location provider is configured, begins driving the area
// subscription from it.
func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return errors.New("client already running")
	}

	c.subs = append(c.subs,
		c.conn.On(EventAlertCreated, c.handleAlertPush),
		c.conn.On(EventAlertUpdated, c.handleAlertPush),
	)
	c.conn.Connect()

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	if c.config.Location != nil {
		go c.watchLocation(ctx, c.config.Location)
	}

	c.running = true
	c.log.Info("Client started")
	return nil
}

// Stop tears down the realtime connection and the location watcher.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}

	c.cancel()
	c.area.Stop()
	for _, sub := range c.subs {
		sub.Off()
	}
	c.subs = nil
	c.conn.Close()

	c.running = false
	c.log.Info("Client stopped")
	return nil
}

// SignIn authenticates the client. The resulting session authorizes alert
// reporting and flag actions.
func (c *Client) SignIn(ctx context.Context, email, password string) (*Session, error) {
	session, err := c.api.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.session = session
	c.mu.Unlock()
	return session, nil
}

// RestoreSession installs a previously persisted token without a signin
// round trip.
func (c *Client) RestoreSession(token string) error {
	user, err := UserFromToken(token)
	if err != nil {
		return err
	}

	c.api.SetToken(token)
	c.mu.Lock()
	c.session = &Session{Token: token, User: user}
	c.mu.Unlock()
	return nil
}

// Session returns the current authenticated session, or nil.
func (c *Client) Session() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// UpdateLocation moves the area of interest. When the subscription key
// changes, alerts outside the new area are pruned from the feed.
func (c *Client) UpdateLocation(coords Coordinates) {
	if c.area.Update(coords) {
		removed := c.feed.PruneOutside(coords.Location(), float64(c.config.RadiusMeters))
		if removed > 0 {
			c.log.WithField("removed", removed).Debug("Pruned alerts outside the subscribed area")
		}
	}
}

// OpenDetail opens a live detail view for the given alert ID. The caller
// owns the returned watcher and must Close it when the view goes away.
func (c *Client) OpenDetail(ctx context.Context, id int) (*DetailWatcher, error) {
	watcher := NewDetailWatcher(c.conn, c.api, c.Session(), c.log)
	if err := watcher.Open(ctx, id); err != nil {
		return watcher, err
	}
	return watcher, nil
}

// Feed returns the alert feed store.
func (c *Client) Feed() *FeedStore {
	return c.feed
}

// API returns the REST client.
func (c *Client) API() *APIClient {
	return c.api
}

// Conn returns the realtime connection manager.
func (c *Client) Conn() *Conn {
	return c.conn
}

func (c *Client) handleAlertPush(data json.RawMessage) {
	var alert Alert
	if err := json.Unmarshal(data, &alert); err != nil {
		c.log.WithError(err).Warn("Failed to decode pushed alert")
		return
	}
	c.feed.Upsert(alert)
}

func (c *Client) watchLocation(ctx context.Context, provider LocationProvider) {
	for update := range provider.Watch(ctx) {
		if update.Err != nil {
			c.log.WithError(update.Err).Warn("Location unavailable")
			continue
		}
		if update.Coords == nil {
			continue
		}
		c.UpdateLocation(*update.Coords)
	}
}
