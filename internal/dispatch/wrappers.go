package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/lalithlochan/beacon/internal/db"
)

const (
	titleStatusUpdate = "Application update"
	titleAnnouncement = "Service announcement"
	titleSystemAlert  = "System alert"
)

// SendStatusUpdate notifies a user that one of their items changed status,
// e.g. an application moving to "approved".
func (d *Dispatcher) SendStatusUpdate(ctx context.Context, userID uuid.UUID, subject, status string) Outcome {
	return d.Send(ctx, Request{
		UserID:   userID,
		Title:    titleStatusUpdate,
		Message:  fmt.Sprintf("%s is now %s", subject, status),
		Category: db.CategoryApplicationUpdates,
		Severity: statusSeverity(status),
	})
}

// SendAnnouncement delivers a service announcement to one user.
func (d *Dispatcher) SendAnnouncement(ctx context.Context, userID uuid.UUID, message string) Outcome {
	return d.Send(ctx, Request{
		UserID:   userID,
		Title:    titleAnnouncement,
		Message:  message,
		Category: db.CategoryServiceAnnouncements,
		Severity: db.SeverityInfo,
	})
}

// SendSystemAlert delivers a system alert; severity defaults to warning.
func (d *Dispatcher) SendSystemAlert(ctx context.Context, userID uuid.UUID, message string, severity db.Severity) Outcome {
	if severity == "" {
		severity = db.SeverityWarning
	}
	return d.Send(ctx, Request{
		UserID:   userID,
		Title:    titleSystemAlert,
		Message:  message,
		Category: db.CategorySystemNotifications,
		Severity: severity,
	})
}

func statusSeverity(status string) db.Severity {
	switch strings.ToLower(status) {
	case "approved", "completed", "accepted":
		return db.SeveritySuccess
	case "rejected", "failed", "cancelled":
		return db.SeverityError
	case "on hold", "needs information", "expiring":
		return db.SeverityWarning
	default:
		return db.SeverityInfo
	}
}
