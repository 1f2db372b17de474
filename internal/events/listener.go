// Package events consumes domain events from the queue and turns them into
// notifications.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/dispatch"
	"github.com/lalithlochan/beacon/internal/metrics"
	"github.com/lalithlochan/beacon/internal/sqs"
)

// Source yields batches of queued events; *sqs.Consumer satisfies it.
type Source interface {
	Receive(ctx context.Context) ([]sqs.Received, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Dispatcher is the part of *dispatch.Dispatcher the listener drives.
type Dispatcher interface {
	SendStatusUpdate(ctx context.Context, userID uuid.UUID, subject, status string) dispatch.Outcome
	SendAnnouncement(ctx context.Context, userID uuid.UUID, message string) dispatch.Outcome
	SendSystemAlert(ctx context.Context, userID uuid.UUID, message string, severity db.Severity) dispatch.Outcome
	Broadcast(title, message string, severity db.Severity) int
}

// Status values recorded per consumed event.
const (
	StatusDispatched = "dispatched"
	StatusSkipped    = "skipped"
	StatusBroadcast  = "broadcast"
	StatusInvalid    = "invalid"
)

const (
	defaultBroadcastTitle = "Service announcement"
	deleteTimeout         = 5 * time.Second
)

type Config struct {
	// ErrorBackoff is how long to wait after a failed receive.
	ErrorBackoff time.Duration
}

type Listener struct {
	source     Source
	dispatcher Dispatcher
	config     Config
	logger     *zap.Logger
}

func New(source Source, dispatcher Dispatcher, cfg Config, logger *zap.Logger) *Listener {
	if cfg.ErrorBackoff == 0 {
		cfg.ErrorBackoff = 5 * time.Second
	}

	return &Listener{
		source:     source,
		dispatcher: dispatcher,
		config:     cfg,
		logger:     logger,
	}
}

// Start polls until ctx is cancelled.
func (l *Listener) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.logger.Info("event listener stopping")
			return
		default:
		}

		if err := l.processBatch(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				continue
			}
			l.logger.Error("failed to receive events", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(l.config.ErrorBackoff):
			}
		}
	}
}

func (l *Listener) processBatch(ctx context.Context) error {
	batch, err := l.source.Receive(ctx)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	metrics.SetSQSMessagesInFlight(len(batch))
	defer metrics.SetSQSMessagesInFlight(0)

	for _, msg := range batch {
		l.Handle(ctx, msg)
	}
	return nil
}

// Handle dispatches one message and deletes it. Messages that can never
// succeed are deleted too so they don't cycle through the queue.
func (l *Listener) Handle(ctx context.Context, msg sqs.Received) string {
	status := l.dispatch(ctx, msg)
	metrics.RecordEventConsumed(string(msg.Event.Type), status)

	// A dispatched event must be deleted even when shutdown cancels ctx,
	// otherwise it comes back and creates a second record.
	deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deleteTimeout)
	defer cancel()

	if err := l.source.Delete(deleteCtx, msg.ReceiptHandle); err != nil {
		l.logger.Error("failed to delete event",
			zap.Error(err),
			zap.String("event_id", msg.Event.ID),
		)
	}
	return status
}

func (l *Listener) dispatch(ctx context.Context, msg sqs.Received) string {
	if msg.Err != nil {
		return StatusInvalid
	}
	ev := msg.Event
	if err := ev.Validate(); err != nil {
		l.logger.Warn("dropping invalid event",
			zap.Error(err),
			zap.String("event_id", ev.ID),
		)
		return StatusInvalid
	}

	if ev.Broadcast() {
		title := ev.Title
		if title == "" {
			title = defaultBroadcastTitle
		}
		n := l.dispatcher.Broadcast(title, ev.Message, severityOf(ev.Severity))
		l.logger.Info("announcement broadcast",
			zap.String("event_id", ev.ID),
			zap.Int("delivered", n),
		)
		return StatusBroadcast
	}

	// Validate guarantees a parseable user_id here.
	userID := uuid.MustParse(ev.UserID)

	var out dispatch.Outcome
	switch ev.Type {
	case sqs.EventStatusUpdate:
		out = l.dispatcher.SendStatusUpdate(ctx, userID, ev.Subject, ev.Status)
	case sqs.EventAnnouncement:
		out = l.dispatcher.SendAnnouncement(ctx, userID, ev.Message)
	case sqs.EventSystemAlert:
		out = l.dispatcher.SendSystemAlert(ctx, userID, ev.Message, severityOf(ev.Severity))
	}

	if !out.Created {
		l.logger.Info("event produced no notification",
			zap.String("event_id", ev.ID),
			zap.String("reason", out.Reason),
		)
		return StatusSkipped
	}
	return StatusDispatched
}

func severityOf(s string) db.Severity {
	sev, err := db.ParseSeverity(s)
	if err != nil {
		return ""
	}
	return sev
}
