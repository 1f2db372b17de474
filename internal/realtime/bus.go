// Package realtime is the in-process multicast hub that pushes ephemeral
// events to every live connection of a user.
//
// Delivery is at-most-once: there is no acknowledgement, no retry and no
// replay on reconnect. The durable notification record is the only
// guaranteed artifact; clients that miss an event recover it through the
// pull API.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/metrics"
)

// ErrBusUninitialized is returned when a component is wired without a bus.
// It indicates a startup ordering bug and should abort the process.
var ErrBusUninitialized = errors.New("realtime bus is not initialized")

// UserID identifies the owner of a connection group.
type UserID uuid.UUID

// ParseUserID parses a user identifier from its string form.
func ParseUserID(s string) (UserID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return UserID{}, fmt.Errorf("invalid user id: %w", err)
	}
	return UserID(id), nil
}

func (u UserID) String() string { return uuid.UUID(u).String() }

// UUID returns the underlying uuid.
func (u UserID) UUID() uuid.UUID { return uuid.UUID(u) }

// ConnID identifies one live connection.
type ConnID string

// NewConnID returns a fresh connection identifier.
func NewConnID() ConnID {
	return ConnID(uuid.NewString())
}

// Conn is a live connection handle. Send must not block; it reports
// whether the frame was queued for delivery.
type Conn interface {
	ID() ConnID
	Send(frame []byte) bool
}

// Bus maps users to their open connections.
type Bus struct {
	mu     sync.RWMutex
	groups map[UserID]map[ConnID]Conn
	owners map[ConnID]UserID
	logger *zap.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		groups: make(map[UserID]map[ConnID]Conn),
		owners: make(map[ConnID]UserID),
		logger: logger,
	}
}

// Join adds conn to the user's group. Joining again is a no-op; joining a
// different user moves the connection. Returns false if conn was already a
// member of that group.
func (b *Bus) Join(conn Conn, user UserID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := conn.ID()
	if prev, ok := b.owners[id]; ok {
		if prev == user {
			return false
		}
		b.removeLocked(id, prev)
	}

	group, ok := b.groups[user]
	if !ok {
		group = make(map[ConnID]Conn)
		b.groups[user] = group
	}
	group[id] = conn
	b.owners[id] = user

	metrics.SetRealtimeConnections(len(b.owners))

	b.logger.Debug("connection joined",
		zap.String("conn_id", string(id)),
		zap.String("user_id", user.String()),
		zap.Int("group_size", len(group)),
	)
	return true
}

// Disconnect removes the connection from whatever group holds it.
func (b *Bus) Disconnect(id ConnID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	user, ok := b.owners[id]
	if !ok {
		return
	}
	b.removeLocked(id, user)
	metrics.SetRealtimeConnections(len(b.owners))

	b.logger.Debug("connection left",
		zap.String("conn_id", string(id)),
		zap.String("user_id", user.String()),
	)
}

func (b *Bus) removeLocked(id ConnID, user UserID) {
	delete(b.owners, id)
	if group, ok := b.groups[user]; ok {
		delete(group, id)
		if len(group) == 0 {
			delete(b.groups, user)
		}
	}
}

// EmitToUser delivers an event to every connection of the user and returns
// how many connections accepted it. An empty group drops the event.
func (b *Bus) EmitToUser(user UserID, event string, payload interface{}) int {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		b.logger.Error("failed to encode realtime event",
			zap.Error(err),
			zap.String("event", event),
		)
		return 0
	}

	b.mu.RLock()
	targets := make([]Conn, 0, len(b.groups[user]))
	for _, conn := range b.groups[user] {
		targets = append(targets, conn)
	}
	b.mu.RUnlock()

	delivered := deliver(targets, frame)
	metrics.RecordRealtimeEmit(event, len(targets), delivered)

	if len(targets) == 0 {
		b.logger.Debug("no live connections, event dropped",
			zap.String("event", event),
			zap.String("user_id", user.String()),
		)
	}
	return delivered
}

// EmitToAll broadcasts an event to every connected user.
func (b *Bus) EmitToAll(event string, payload interface{}) int {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		b.logger.Error("failed to encode realtime event",
			zap.Error(err),
			zap.String("event", event),
		)
		return 0
	}

	b.mu.RLock()
	targets := make([]Conn, 0, len(b.owners))
	for _, group := range b.groups {
		for _, conn := range group {
			targets = append(targets, conn)
		}
	}
	b.mu.RUnlock()

	delivered := deliver(targets, frame)
	metrics.RecordRealtimeEmit(event, len(targets), delivered)
	return delivered
}

// ConnectionCount returns the number of live connections for a user.
func (b *Bus) ConnectionCount(user UserID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.groups[user])
}

// Stats returns the number of users with at least one connection and the
// total number of connections.
func (b *Bus) Stats() (users, conns int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.groups), len(b.owners)
}

func deliver(targets []Conn, frame []byte) int {
	delivered := 0
	for _, conn := range targets {
		if conn.Send(frame) {
			delivered++
		}
	}
	return delivered
}

func encodeFrame(event string, payload interface{}) ([]byte, error) {
	return json.Marshal(Envelope{Event: event, Data: payload})
}
