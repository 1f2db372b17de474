package client

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/realtime"
)

// Subscriber wires a Conn to a Tracker for one signed-in identity.
type Subscriber struct {
	conn    *Conn
	tracker *Tracker
	logger  *zap.Logger

	mu       sync.Mutex
	identity Identity
	removers []func()
	// gen invalidates listeners of a previous identity that are still
	// running after Start replaced them.
	gen atomic.Uint64
}

// TokenSetter is implemented by backends that authenticate with the
// session token; *API satisfies it.
type TokenSetter interface {
	SetToken(token string)
}

func NewSubscriber(conn *Conn, tracker *Tracker, logger *zap.Logger) *Subscriber {
	return &Subscriber{conn: conn, tracker: tracker, logger: logger}
}

// Start registers the listeners for identity. Calling it again with the
// same identity is a no-op. When the user differs from the one the Conn is
// keyed to, the Conn is re-keyed, the backend gets the new token and the
// tracker is emptied, so nothing of the previous user leaks into the cache.
func (s *Subscriber) Start(identity Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if identity == s.identity && len(s.removers) > 0 {
		return
	}
	gen := s.gen.Add(1)
	s.stopLocked()
	s.identity = identity

	if s.conn.Identity() != identity {
		userChanged := s.conn.Identity().UserID != identity.UserID
		s.conn.SetIdentity(identity)
		if ts, ok := s.tracker.backend.(TokenSetter); ok {
			ts.SetToken(identity.Token)
		}
		if userChanged {
			s.tracker.Reset()
		}
	}

	on := func(event string, fn Listener) func() {
		return s.conn.On(event, func(data json.RawMessage) {
			if s.gen.Load() == gen {
				fn(data)
			}
		})
	}

	s.removers = []func(){
		on(realtime.EventNotification, s.onNotification),
		on(realtime.EventAnnouncement, s.onAnnouncement),
		on(realtime.EventNotificationRead, func(data json.RawMessage) {
			if id, ok := decodeID(data); ok {
				s.tracker.ApplyRead(id)
			}
		}),
		on(realtime.EventNotificationReadAll, func(json.RawMessage) {
			s.tracker.ApplyReadAll()
		}),
		on(realtime.EventNotificationDeleted, func(data json.RawMessage) {
			if id, ok := decodeID(data); ok {
				s.tracker.ApplyDeleted(id)
			}
		}),
		on(realtime.EventError, func(data json.RawMessage) {
			var p realtime.ErrorPayload
			_ = json.Unmarshal(data, &p)
			s.logger.Warn("server rejected request", zap.String("message", p.Message))
		}),
	}
}

// Stop removes the listeners. The connection stays open.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen.Add(1)
	s.stopLocked()
	s.identity = Identity{}
}

func (s *Subscriber) stopLocked() {
	for _, remove := range s.removers {
		remove()
	}
	s.removers = nil
}

func (s *Subscriber) onNotification(data json.RawMessage) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil || n.ID == "" {
		s.logger.Debug("ignoring malformed notification", zap.Error(err))
		return
	}
	s.tracker.Receive(n)
}

// onAnnouncement shows a broadcast as a toast only; broadcasts have no
// record and never count as unread.
func (s *Subscriber) onAnnouncement(data json.RawMessage) {
	var a struct {
		Title     string `json:"title"`
		Message   string `json:"message"`
		Type      string `json:"type"`
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return
	}
	if s.tracker.cfg.Toasts != nil {
		s.tracker.cfg.Toasts.Push(Notification{
			ID:        "announcement:" + a.Timestamp,
			Title:     a.Title,
			Message:   a.Message,
			Type:      a.Type,
			Timestamp: a.Timestamp,
			Read:      true,
		})
	}
}

func decodeID(data json.RawMessage) (string, bool) {
	var p realtime.IDPayload
	if err := json.Unmarshal(data, &p); err != nil || p.ID == "" {
		return "", false
	}
	return p.ID, true
}
