package chookeye

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const testSigningKey = "test-secret"

// testLogger returns a quiet logger for tests.
func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

// testToken builds a signed token the way the backend does.
func testToken(t *testing.T, userID int, username string, expiry time.Time) string {
	t.Helper()
	claims := jwt.MapClaims{
		"user_id":  userID,
		"email":    username + "@example.com",
		"username": username,
		"exp":      expiry.Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningKey))
	require.NoError(t, err)
	return token
}

// fakeBackend is an in-process chookeye backend: a websocket endpoint that
// records every client emit and can push events, plus the REST endpoints
// the client consumes.
type fakeBackend struct {
	t      *testing.T
	server *httptest.Server

	upgrader websocket.Upgrader

	mu         sync.Mutex
	conns      []*websocket.Conn
	dials      int
	received   []envelope
	alerts     map[int]Alert
	flagStatus int
	flagBodies []map[string]string
	authHeader string
}

func newFakeBackend(t *testing.T) *fakeBackend {
	fb := &fakeBackend{
		t:          t,
		alerts:     make(map[int]Alert),
		flagStatus: http.StatusOK,
	}

	router := mux.NewRouter()
	router.HandleFunc("/ws", fb.handleWS)
	router.HandleFunc("/api/auth/signin", fb.handleSignIn).Methods(http.MethodPost)
	router.HandleFunc("/api/alert/{id:[0-9]+}", fb.handleGetAlert).Methods(http.MethodGet)
	router.HandleFunc("/api/flag/{id:[0-9]+}", fb.handleFlag).Methods(http.MethodPost)

	fb.server = httptest.NewServer(router)
	t.Cleanup(fb.server.Close)
	return fb
}

func (fb *fakeBackend) baseURL() string {
	return fb.server.URL
}

func (fb *fakeBackend) wsURL() string {
	return "ws" + strings.TrimPrefix(fb.server.URL, "http") + "/ws"
}

func (fb *fakeBackend) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := fb.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	fb.mu.Lock()
	fb.conns = append(fb.conns, conn)
	fb.dials++
	fb.mu.Unlock()

	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		fb.mu.Lock()
		fb.received = append(fb.received, env)
		fb.mu.Unlock()
	}
}

func (fb *fakeBackend) handleSignIn(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)

	if body["password"] == "wrong" {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "invalid credentials"})
		return
	}

	token := testToken(fb.t, 42, "siji", time.Now().Add(time.Hour))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"token": token,
		"user":  map[string]interface{}{"id": 42, "email": "siji@example.com", "username": "siji"},
	})
}

func (fb *fakeBackend) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	fb.mu.Lock()
	fb.authHeader = r.Header.Get("Authorization")
	id := atoiMust(mux.Vars(r)["id"])
	alert, ok := fb.alerts[id]
	fb.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "alert not found"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"alert": alert})
}

func (fb *fakeBackend) handleFlag(w http.ResponseWriter, r *http.Request) {
	var body map[string]string
	_ = json.NewDecoder(r.Body).Decode(&body)

	fb.mu.Lock()
	fb.flagBodies = append(fb.flagBodies, body)
	status := fb.flagStatus
	fb.mu.Unlock()

	if status != http.StatusOK {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "flag rejected"})
	}
}

// setAlert installs an alert served by the detail endpoint.
func (fb *fakeBackend) setAlert(alert Alert) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.alerts[alert.ID] = alert
}

// push sends an event to every connected client.
func (fb *fakeBackend) push(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	require.NoError(fb.t, err)

	fb.mu.Lock()
	defer fb.mu.Unlock()
	for _, conn := range fb.conns {
		// Stale connections from earlier sessions may error; skip them.
		_ = conn.WriteJSON(envelope{Event: event, Data: data})
	}
}

// closeConns drops every live websocket to force a client reconnect.
func (fb *fakeBackend) closeConns() {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	for _, conn := range fb.conns {
		_ = conn.Close()
	}
	fb.conns = nil
}

func (fb *fakeBackend) dialCount() int {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.dials
}

// emitted returns every recorded client emit for the given event.
func (fb *fakeBackend) emitted(event string) []envelope {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	var out []envelope
	for _, env := range fb.received {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

// waitForEmit blocks until the client has emitted the event at least n times.
func (fb *fakeBackend) waitForEmit(event string, n int) {
	fb.t.Helper()
	require.Eventually(fb.t, func() bool {
		return len(fb.emitted(event)) >= n
	}, 2*time.Second, 10*time.Millisecond, "expected %d %q emits", n, event)
}

func atoiMust(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
