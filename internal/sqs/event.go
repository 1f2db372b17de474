// Package sqs carries domain events (status changes, announcements, system
// alerts) from other services into the dispatcher.
package sqs

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// EventType names a domain event.
type EventType string

const (
	EventStatusUpdate EventType = "status_update"
	EventAnnouncement EventType = "announcement"
	EventSystemAlert  EventType = "system_alert"
)

// ErrInvalidEvent is returned for events that cannot be dispatched.
var ErrInvalidEvent = errors.New("invalid event")

// Event is the message body on the queue.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	UserID     string    `json:"user_id,omitempty"`
	Subject    string    `json:"subject,omitempty"`
	Status     string    `json:"status,omitempty"`
	Title      string    `json:"title,omitempty"`
	Message    string    `json:"message,omitempty"`
	Severity   string    `json:"severity,omitempty"`
	OccurredAt int64     `json:"occurred_at"`
}

// Broadcast reports whether the event targets every connected user.
// Only announcements may omit user_id.
func (e Event) Broadcast() bool {
	return e.Type == EventAnnouncement && e.UserID == ""
}

// Validate checks the fields each event type requires.
func (e Event) Validate() error {
	if e.UserID != "" {
		if _, err := uuid.Parse(e.UserID); err != nil {
			return fmt.Errorf("%w: user_id is not a uuid", ErrInvalidEvent)
		}
	}

	switch e.Type {
	case EventStatusUpdate:
		if e.UserID == "" || e.Subject == "" || e.Status == "" {
			return fmt.Errorf("%w: status_update requires user_id, subject and status", ErrInvalidEvent)
		}
	case EventAnnouncement:
		if e.Message == "" {
			return fmt.Errorf("%w: announcement requires message", ErrInvalidEvent)
		}
	case EventSystemAlert:
		if e.UserID == "" || e.Message == "" {
			return fmt.Errorf("%w: system_alert requires user_id and message", ErrInvalidEvent)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, e.Type)
	}
	return nil
}
