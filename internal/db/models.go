package db

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a notification does not exist or is not
	// owned by the caller. The two cases are deliberately indistinguishable.
	ErrNotFound = errors.New("notification not found")

	// ErrRecipientNotFound is returned when the target user does not exist.
	ErrRecipientNotFound = errors.New("recipient not found")
)

// Category is the business reason a notification is sent.
type Category string

const (
	CategoryApplicationUpdates   Category = "applicationUpdates"
	CategoryServiceAnnouncements Category = "serviceAnnouncements"
	CategorySystemNotifications  Category = "systemNotifications"
)

// ParseCategory validates a category string.
func ParseCategory(s string) (Category, error) {
	switch c := Category(s); c {
	case CategoryApplicationUpdates, CategoryServiceAnnouncements, CategorySystemNotifications:
		return c, nil
	}
	return "", fmt.Errorf("unknown category: %q", s)
}

// Severity drives how a client renders the notification.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// ParseSeverity validates a severity string.
func ParseSeverity(s string) (Severity, error) {
	switch sev := Severity(s); sev {
	case SeverityInfo, SeveritySuccess, SeverityWarning, SeverityError:
		return sev, nil
	}
	return "", fmt.Errorf("unknown severity: %q", s)
}

// Notification is the durable record of one alert sent to a user.
type Notification struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	Title     string     `json:"title"`
	Message   string     `json:"message"`
	Category  Category   `json:"category"`
	Severity  Severity   `json:"severity"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// IsRead reports whether the owner has marked the record read.
func (n *Notification) IsRead() bool {
	return n.ReadAt != nil
}

// NotificationView is the shape pushed to connected clients.
type NotificationView struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Message   string   `json:"message"`
	Type      Severity `json:"type"`
	Category  Category `json:"category"`
	Timestamp string   `json:"timestamp"`
	Read      bool     `json:"read"`
}

// View converts the record into its realtime payload.
func (n *Notification) View() NotificationView {
	return NotificationView{
		ID:        n.ID.String(),
		Title:     n.Title,
		Message:   n.Message,
		Type:      n.Severity,
		Category:  n.Category,
		Timestamp: n.CreatedAt.UTC().Format(time.RFC3339Nano),
		Read:      n.IsRead(),
	}
}

// ChannelFlags gates the side-channel adapters. InApp is informational:
// in-app records are always created for enabled categories.
type ChannelFlags struct {
	InApp bool `json:"inApp"`
	Email bool `json:"email"`
	SMS   bool `json:"sms"`
	Push  bool `json:"push"`
}

// CategoryFlags gates whether a record is created at all.
type CategoryFlags struct {
	ApplicationUpdates   bool `json:"applicationUpdates"`
	ServiceAnnouncements bool `json:"serviceAnnouncements"`
	SystemNotifications  bool `json:"systemNotifications"`
}

// Preferences is a user's notification preference set.
type Preferences struct {
	Channels   ChannelFlags  `json:"channels"`
	Categories CategoryFlags `json:"categories"`
}

// DefaultPreferences applies to users that never saved preferences.
func DefaultPreferences() Preferences {
	return Preferences{
		Channels: ChannelFlags{InApp: true},
		Categories: CategoryFlags{
			ApplicationUpdates:   true,
			ServiceAnnouncements: true,
			SystemNotifications:  true,
		},
	}
}

// Allows reports whether the category is enabled.
func (p Preferences) Allows(c Category) bool {
	switch c {
	case CategoryApplicationUpdates:
		return p.Categories.ApplicationUpdates
	case CategoryServiceAnnouncements:
		return p.Categories.ServiceAnnouncements
	case CategorySystemNotifications:
		return p.Categories.SystemNotifications
	default:
		return false
	}
}

// Recipient is a user as seen by the dispatcher: contact points plus
// preferences.
type Recipient struct {
	ID          uuid.UUID   `json:"id"`
	Email       string      `json:"email,omitempty"`
	Phone       string      `json:"phone,omitempty"`
	Preferences Preferences `json:"preferences"`
}
