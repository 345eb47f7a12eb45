package chookeye

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DetailState is the lifecycle state of a DetailWatcher.
type DetailState int

const (
	// DetailClosed means no alert detail is being watched.
	DetailClosed DetailState = iota
	// DetailFetching means the initial detail fetch is in flight.
	DetailFetching
	// DetailSubscribed means the detail is live: the watcher holds the
	// alert and applies pushed updates.
	DetailSubscribed
	// DetailError means the initial fetch failed. Terminal for this view
	// instance; no retry is automatic.
	DetailError
)

func (s DetailState) String() string {
	switch s {
	case DetailClosed:
		return "closed"
	case DetailFetching:
		return "fetching"
	case DetailSubscribed:
		return "subscribed"
	case DetailError:
		return "error"
	default:
		return "unknown"
	}
}

var (
	// ErrNotAuthenticated is returned when a flag action needs a signed-in
	// user and there is none.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrAlreadyFlagged is returned when the viewing user has already
	// flagged this alert. Rejected locally, without a network call.
	ErrAlreadyFlagged = errors.New("alert already flagged by this user")
	// ErrActionInFlight is returned when a Verify or Dismiss is attempted
	// while another flag submission is still running.
	ErrActionInFlight = errors.New("flag action already in flight")
	// ErrDetailNotOpen is returned for actions on a watcher with no live
	// alert detail.
	ErrDetailNotOpen = errors.New("no alert detail open")
)

// alertAPI is the slice of APIClient the watcher needs.
type alertAPI interface {
	FetchAlert(ctx context.Context, id int) (*Alert, error)
	SubmitFlag(ctx context.Context, id int, flagType string) error
}

// detailConn is the slice of Conn the watcher needs.
type detailConn interface {
	Emit(event string, payload interface{})
	On(event string, fn Handler) *Subscription
	IsConnected() bool
}

// DetailWatcher keeps one open alert's full detail live while it is being
// viewed: it fetches the canonical detail, joins the alert's detail room,
// applies pushed updates, and mediates Verify/Dismiss submissions.
//
// Lifecycle: Closed -> Open() -> Fetching -> Subscribed -> Close() -> Closed,
// with Fetching -> Error on a failed fetch. Opening a new alert supersedes
// the previous one; a fetch response arriving for a superseded view is
// discarded.
type DetailWatcher struct {
	conn    detailConn
	api     alertAPI
	session *Session
	log     logrus.FieldLogger

	mu         sync.Mutex
	state      DetailState
	generation int
	alertID    int
	alert      *Alert
	hasFlagged bool
	inFlight   bool
	updateSub  *Subscription
}

// NewDetailWatcher creates a watcher for the given session's view of alert
// details. session may be nil for an unauthenticated viewer; flag actions
// will then be rejected with ErrNotAuthenticated.
func NewDetailWatcher(conn detailConn, api alertAPI, session *Session, log logrus.FieldLogger) *DetailWatcher {
	return &DetailWatcher{
		conn:    conn,
		api:     api,
		session: session,
		log:     log,
	}
}

// Open fetches the alert's detail and, on success, subscribes to its live
// updates. Any previously open detail is closed first. Returns
// ErrAlertNotFound when the server has no such alert; any fetch failure
// leaves the watcher in DetailError.
func (w *DetailWatcher) Open(ctx context.Context, id int) error {
	w.mu.Lock()
	if w.state == DetailSubscribed {
		w.closeLocked()
	}
	w.generation++
	gen := w.generation
	w.state = DetailFetching
	w.alertID = id
	w.alert = nil
	w.hasFlagged = false
	w.mu.Unlock()

	alert, err := w.api.FetchAlert(ctx, id)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.generation != gen {
		// The view was closed or superseded while the fetch was in flight.
		w.log.WithField("alertID", id).Debug("Discarding stale detail fetch")
		return nil
	}

	if err != nil {
		w.state = DetailError
		return errors.Wrapf(err, "failed to fetch alert %d", id)
	}

	w.alert = alert
	w.recomputeFlaggedLocked()
	w.state = DetailSubscribed

	if w.conn.IsConnected() {
		w.conn.Emit(EventJoinAlertDetail, detailPayload{ID: id})
	}
	w.updateSub = w.conn.On(EventAlertUpdated, w.updateHandler(gen))

	w.log.WithField("alertID", id).Debug("Detail subscription opened")
	return nil
}

// Close leaves the detail room and detaches the update handler, in that
// order, so a leave cannot cross an in-flight update that nobody handles.
// Idempotent.
func (w *DetailWatcher) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == DetailClosed {
		return
	}
	w.closeLocked()
}

func (w *DetailWatcher) closeLocked() {
	if w.state == DetailSubscribed {
		w.conn.Emit(EventLeaveAlertDetail, detailPayload{ID: w.alertID})
	}
	if w.updateSub != nil {
		w.updateSub.Off()
		w.updateSub = nil
	}
	w.generation++
	w.state = DetailClosed
	w.alert = nil
	w.hasFlagged = false
	w.inFlight = false
}

// State returns the watcher's current lifecycle state.
func (w *DetailWatcher) State() DetailState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Alert returns a copy of the currently held alert, or nil when no detail
// is live.
func (w *DetailWatcher) Alert() *Alert {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.alert == nil {
		return nil
	}
	alert := *w.alert
	return &alert
}

// HasFlagged reports whether the viewing user has flagged the open alert.
func (w *DetailWatcher) HasFlagged() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hasFlagged
}

// Verify submits a Verify flag for the open alert.
func (w *DetailWatcher) Verify(ctx context.Context) error {
	return w.submitFlag(ctx, FlagVerify)
}

// Dismiss submits a Dismiss flag for the open alert.
func (w *DetailWatcher) Dismiss(ctx context.Context) error {
	return w.submitFlag(ctx, FlagDismiss)
}

// submitFlag sends a flag-creation request. Success is terminal for this
// (user, alert) pair. Failure leaves the flagged state unchanged and
// re-fetches the canonical detail to resynchronize; nothing is applied
// optimistically.
func (w *DetailWatcher) submitFlag(ctx context.Context, flagType string) error {
	w.mu.Lock()
	if w.session == nil {
		w.mu.Unlock()
		return ErrNotAuthenticated
	}
	if w.state != DetailSubscribed {
		w.mu.Unlock()
		return ErrDetailNotOpen
	}
	if w.hasFlagged {
		w.mu.Unlock()
		return ErrAlreadyFlagged
	}
	if w.inFlight {
		w.mu.Unlock()
		return ErrActionInFlight
	}
	w.inFlight = true
	id := w.alertID
	gen := w.generation
	w.mu.Unlock()

	err := w.api.SubmitFlag(ctx, id, flagType)

	w.mu.Lock()
	if w.generation == gen {
		w.inFlight = false
		if err == nil {
			w.hasFlagged = true
		}
	}
	w.mu.Unlock()

	if err == nil {
		w.log.WithFields(logrus.Fields{"alertID": id, "type": flagType}).Info("Flag submitted")
		return nil
	}

	// Resynchronize with the canonical detail after a failed submission.
	fresh, fetchErr := w.api.FetchAlert(ctx, id)
	if fetchErr != nil {
		w.log.WithField("alertID", id).WithError(fetchErr).Warn("Failed to resynchronize after flag error")
	} else {
		w.mu.Lock()
		if w.generation == gen && w.state == DetailSubscribed {
			w.alert = fresh
			w.recomputeFlaggedLocked()
		}
		w.mu.Unlock()
	}

	return errors.Wrapf(err, "failed to %s alert %d", flagType, id)
}

// updateHandler builds the alert_updated handler for one subscription
// generation. A handler for a stale generation drops everything: an update
// arriving after Close has no observable effect.
func (w *DetailWatcher) updateHandler(gen int) Handler {
	return func(data json.RawMessage) {
		var updated Alert
		if err := json.Unmarshal(data, &updated); err != nil {
			w.log.WithError(err).Warn("Failed to decode alert update")
			return
		}

		w.mu.Lock()
		defer w.mu.Unlock()

		if w.generation != gen || w.state != DetailSubscribed {
			return
		}
		if updated.ID != w.alertID {
			return
		}
		if w.alert != nil && updated.UpdatedAt.Before(w.alert.UpdatedAt) {
			w.log.WithField("alertID", updated.ID).Debug("Dropping stale alert update")
			return
		}

		w.alert = &updated
		w.recomputeFlaggedLocked()
	}
}

// recomputeFlaggedLocked rescans the alert's flags for the viewing user.
// Callers hold w.mu.
func (w *DetailWatcher) recomputeFlaggedLocked() {
	if w.session == nil || w.alert == nil {
		w.hasFlagged = false
		return
	}
	w.hasFlagged = w.alert.FlaggedBy(w.session.User.ID)
}
