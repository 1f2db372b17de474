// Package channels delivers notifications over side channels (email, SMS,
// mobile push) in addition to the in-app realtime path.
package channels

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/db"
)

// Channel names a side channel.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

// ErrNoContact is returned when the recipient has no address for a channel.
var ErrNoContact = errors.New("recipient has no contact point for channel")

// Message is the channel-agnostic content handed to an adapter.
type Message struct {
	NotificationID uuid.UUID
	Recipient      db.Recipient
	Title          string
	Body           string
	Category       db.Category
	Severity       db.Severity
}

// NewMessage builds a Message from a persisted record.
func NewMessage(notif *db.Notification, recipient *db.Recipient) Message {
	return Message{
		NotificationID: notif.ID,
		Recipient:      *recipient,
		Title:          notif.Title,
		Body:           notif.Message,
		Category:       notif.Category,
		Severity:       notif.Severity,
	}
}

// Adapter delivers one message over one channel.
type Adapter interface {
	Channel() Channel
	Send(ctx context.Context, msg Message) error
}

// Registry holds at most one adapter per channel and selects the ones a
// recipient has enabled.
type Registry struct {
	adapters map[Channel]Adapter
	order    []Channel
	logger   *zap.Logger
}

// NewRegistry creates a registry. A later adapter for the same channel
// replaces an earlier one.
func NewRegistry(logger *zap.Logger, adapters ...Adapter) *Registry {
	r := &Registry{
		adapters: make(map[Channel]Adapter),
		logger:   logger,
	}
	for _, a := range adapters {
		if _, exists := r.adapters[a.Channel()]; !exists {
			r.order = append(r.order, a.Channel())
		}
		r.adapters[a.Channel()] = a
	}
	return r
}

// Get returns the adapter for a channel.
func (r *Registry) Get(ch Channel) (Adapter, bool) {
	a, ok := r.adapters[ch]
	return a, ok
}

// Select returns the adapters whose channel is enabled in flags. Enabled
// channels with no registered adapter are skipped.
func (r *Registry) Select(flags db.ChannelFlags) []Adapter {
	var selected []Adapter
	for _, ch := range r.order {
		if !Enabled(flags, ch) {
			continue
		}
		selected = append(selected, r.adapters[ch])
	}
	return selected
}

// Enabled reports whether the flag for ch is set.
func Enabled(flags db.ChannelFlags, ch Channel) bool {
	switch ch {
	case ChannelEmail:
		return flags.Email
	case ChannelSMS:
		return flags.SMS
	case ChannelPush:
		return flags.Push
	default:
		return false
	}
}
