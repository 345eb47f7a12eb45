package chookeye

import (
	"encoding/json"
	"time"
)

// Alert statuses known to the backend. The set is open: the server may
// introduce new statuses without a client upgrade, so Status stays a string.
const (
	StatusActive       = "Active"
	StatusResolved     = "Resolved"
	StatusFlaggedFalse = "Flagged as False"
)

// Flag types accepted by the flag endpoint.
const (
	FlagVerify  = "Verify"
	FlagDismiss = "Dismiss"
)

// Urgency display thresholds.
const (
	UrgencyHigh   = "high"
	UrgencyMedium = "medium"
	UrgencyLow    = "low"
)

// Location is a geographic point as the backend serializes it.
type Location struct {
	Latitude  float64
	Longitude float64
}

// Coordinates is a device position as produced by a LocationProvider.
// Accuracy is in meters; zero means unknown.
type Coordinates struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
}

// Location converts device coordinates to a backend location.
func (c Coordinates) Location() Location {
	return Location{Latitude: c.Latitude, Longitude: c.Longitude}
}

// Flag records a single user's verdict on an alert. The server enforces at
// most one flag per (user, alert) pair.
type Flag struct {
	ID        int
	UserID    int
	AlertID   int
	Type      string
	CreatedAt time.Time
}

// Alert is the central entity pushed over the realtime channel and returned
// by the REST endpoints. The backend emits Go-style capitalized JSON keys,
// so the struct needs no tags. Comments are opaque to this client and kept
// as raw JSON.
type Alert struct {
	ID          int
	UserID      int
	Location    Location
	Title       string
	Description string
	Status      string
	Urgency     int
	Flags       []Flag
	Comments    json.RawMessage
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UrgencyLevel buckets the 0-10 urgency score for display: >7 is high,
// 5-7 is medium, everything else is low.
func (a Alert) UrgencyLevel() string {
	switch {
	case a.Urgency > 7:
		return UrgencyHigh
	case a.Urgency > 4:
		return UrgencyMedium
	default:
		return UrgencyLow
	}
}

// FlaggedBy reports whether the given user has already flagged this alert.
func (a Alert) FlaggedBy(userID int) bool {
	for _, flag := range a.Flags {
		if flag.UserID == userID {
			return true
		}
	}
	return false
}

// User is the authenticated account returned by the auth endpoints.
type User struct {
	ID       int    `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
}
