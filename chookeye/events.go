package chookeye

import (
	"encoding/json"
	"strconv"
)

// Realtime channel event names.
const (
	// Client -> server.
	EventJoinArea         = "join_area"
	EventLeaveArea        = "leave_area"
	EventJoinAlertDetail  = "join_alert_detail"
	EventLeaveAlertDetail = "leave_alert_detail"

	// Server -> client.
	EventAlertCreated = "alert_created"
	EventAlertUpdated = "alert_updated"
)

// envelope is the wire format for every realtime message in either
// direction: an event name plus an event-specific JSON payload.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// areaPayload is the body of join_area/leave_area requests. The server's
// room quantizer takes the coordinates as strings.
type areaPayload struct {
	Latitude  string `json:"latitude"`
	Longitude string `json:"longitude"`
	Radius    string `json:"radius"`
}

func newAreaPayload(key AreaKey) areaPayload {
	return areaPayload{
		Latitude:  strconv.FormatFloat(key.Latitude, 'f', -1, 64),
		Longitude: strconv.FormatFloat(key.Longitude, 'f', -1, 64),
		Radius:    strconv.Itoa(key.Radius),
	}
}

// detailPayload is the body of join_alert_detail/leave_alert_detail requests.
type detailPayload struct {
	ID int `json:"id"`
}
