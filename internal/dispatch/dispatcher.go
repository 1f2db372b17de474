// Package dispatch turns a notification request into a durable record, one
// realtime emit and zero or more side-channel sends, gated by the
// recipient's preferences.
//
// Dispatch is always a side effect of some other operation. Send never
// returns an error: every failure is logged and reported through Outcome so
// the caller's primary workflow completes regardless.
package dispatch

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/channels"
	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/metrics"
	"github.com/lalithlochan/beacon/internal/realtime"
)

// Outcome reasons.
const (
	ReasonRecipientNotFound = "recipient_not_found"
	ReasonLookupFailed      = "lookup_failed"
	ReasonCategoryDisabled  = "category_disabled"
	ReasonPersistFailed     = "persist_failed"
	ReasonInvalidRequest    = "invalid_request"
)

const defaultAdapterTimeout = 10 * time.Second

// Store is the persistence the dispatcher needs.
type Store interface {
	GetRecipient(ctx context.Context, userID uuid.UUID) (*db.Recipient, error)
	CreateNotification(ctx context.Context, notif *db.Notification) error
}

// Emitter pushes ephemeral events to live connections; *realtime.Bus
// satisfies it.
type Emitter interface {
	EmitToUser(user realtime.UserID, event string, payload interface{}) int
	EmitToAll(event string, payload interface{}) int
}

// Request is one notification to dispatch.
type Request struct {
	UserID   uuid.UUID
	Title    string
	Message  string
	Category db.Category
	Severity db.Severity
}

// Outcome reports what Send did. Created is false when no record exists
// afterwards; Reason says why.
type Outcome struct {
	Created      bool
	Notification *db.Notification
	Reason       string
	// Delivered is the number of live connections that accepted the emit.
	Delivered int
	// Channels lists the side channels a send was started for.
	Channels []channels.Channel
}

// Config tunes a Dispatcher.
type Config struct {
	// AdapterTimeout bounds each side-channel send.
	AdapterTimeout time.Duration
	// OnResult, if set, receives every side-channel result after it has
	// been logged and counted.
	OnResult func(ChannelSendResult)
}

// Dispatcher fans notifications out to the store, the realtime bus and
// the side-channel adapters.
type Dispatcher struct {
	store    Store
	bus      Emitter
	adapters *channels.Registry
	cfg      Config
	logger   *zap.Logger
	wg       sync.WaitGroup
}

// New creates a dispatcher. adapters may be nil when no side channels are
// configured. A nil bus is a wiring bug and returns
// realtime.ErrBusUninitialized.
func New(store Store, bus Emitter, adapters *channels.Registry, cfg Config, logger *zap.Logger) (*Dispatcher, error) {
	if isNil(bus) {
		return nil, realtime.ErrBusUninitialized
	}
	if store == nil {
		return nil, errors.New("dispatch: store is required")
	}
	if adapters == nil {
		adapters = channels.NewRegistry(logger)
	}
	if cfg.AdapterTimeout <= 0 {
		cfg.AdapterTimeout = defaultAdapterTimeout
	}

	return &Dispatcher{
		store:    store,
		bus:      bus,
		adapters: adapters,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// Send dispatches one notification. See the package doc for failure
// handling.
func (d *Dispatcher) Send(ctx context.Context, req Request) Outcome {
	start := time.Now()
	category := string(req.Category)

	logger := d.logger.With(
		zap.String("user_id", req.UserID.String()),
		zap.String("category", category),
	)

	if req.Title == "" || req.Message == "" {
		logger.Warn("dispatch skipped: title and message are required")
		metrics.RecordDispatch(category, "failed", time.Since(start))
		return Outcome{Reason: ReasonInvalidRequest}
	}
	if req.Severity == "" {
		req.Severity = db.SeverityInfo
	}

	recipient, err := d.store.GetRecipient(ctx, req.UserID)
	if err != nil {
		reason := ReasonLookupFailed
		if errors.Is(err, db.ErrRecipientNotFound) {
			reason = ReasonRecipientNotFound
		}
		logger.Warn("dispatch aborted: recipient lookup failed",
			zap.Error(err),
			zap.String("reason", reason),
		)
		metrics.RecordDispatch(category, "failed", time.Since(start))
		return Outcome{Reason: reason}
	}

	if !recipient.Preferences.Allows(req.Category) {
		logger.Debug("dispatch suppressed: category disabled")
		metrics.RecordDispatch(category, "suppressed", time.Since(start))
		return Outcome{Reason: ReasonCategoryDisabled}
	}

	notif := &db.Notification{
		ID:       uuid.New(),
		UserID:   req.UserID,
		Title:    req.Title,
		Message:  req.Message,
		Category: req.Category,
		Severity: req.Severity,
	}
	if err := d.store.CreateNotification(ctx, notif); err != nil {
		logger.Error("dispatch aborted: failed to persist notification", zap.Error(err))
		metrics.RecordDispatch(category, "failed", time.Since(start))
		return Outcome{Reason: ReasonPersistFailed}
	}
	metrics.RecordDispatch(category, "created", time.Since(start))

	// The record is durable before anyone can be told about it.
	delivered := d.bus.EmitToUser(realtime.UserID(req.UserID), realtime.EventNotification, notif.View())

	started := d.fanOut(ctx, notif, recipient)

	logger.Info("notification dispatched",
		zap.String("notification_id", notif.ID.String()),
		zap.Int("connections", delivered),
		zap.Int("side_channels", len(started)),
	)

	return Outcome{
		Created:      true,
		Notification: notif,
		Delivered:    delivered,
		Channels:     started,
	}
}

// Broadcast pushes an ephemeral announcement to every live connection.
// Nothing is persisted; offline users never see it.
func (d *Dispatcher) Broadcast(title, message string, severity db.Severity) int {
	if severity == "" {
		severity = db.SeverityInfo
	}
	n := d.bus.EmitToAll(realtime.EventAnnouncement, Announcement{
		Title:     title,
		Message:   message,
		Type:      severity,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
	d.logger.Info("announcement broadcast", zap.Int("connections", n))
	return n
}

// Announcement is the payload of a broadcast.
type Announcement struct {
	Title     string      `json:"title"`
	Message   string      `json:"message"`
	Type      db.Severity `json:"type"`
	Timestamp string      `json:"timestamp"`
}

// Wait blocks until every in-flight side-channel send has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func isNil(e Emitter) bool {
	if e == nil {
		return true
	}
	v := reflect.ValueOf(e)
	return v.Kind() == reflect.Ptr && v.IsNil()
}
