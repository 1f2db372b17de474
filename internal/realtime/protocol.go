package realtime

import "encoding/json"

// Event names on the wire.
const (
	EventJoin                = "join"
	EventNotification        = "notification"
	EventNotificationRead    = "notification.read"
	EventNotificationReadAll = "notification.read_all"
	EventNotificationDeleted = "notification.deleted"
	EventAnnouncement        = "announcement"
	EventError               = "error"
)

// Envelope is the frame exchanged in both directions.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data,omitempty"`
}

// inbound is the decoding side of Envelope.
type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// JoinRequest is sent by the client on every (re)connect.
type JoinRequest struct {
	UserID string `json:"user_id"`
}

// IDPayload carries a single notification id.
type IDPayload struct {
	ID string `json:"id"`
}

// ErrorPayload is pushed when a client request is rejected.
type ErrorPayload struct {
	Message string `json:"message"`
}
