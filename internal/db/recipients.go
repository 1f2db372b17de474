package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// GetRecipient loads a user's contact points and preferences. The users
// table is owned by the account service; this subsystem only reads it.
// A user without a preferences row gets DefaultPreferences.
func (r *Repository) GetRecipient(ctx context.Context, userID uuid.UUID) (*Recipient, error) {
	query := `
		SELECT
			u.id, COALESCE(u.email, ''), COALESCE(u.phone, ''),
			p.in_app, p.email, p.sms, p.push,
			p.application_updates, p.service_announcements, p.system_notifications
		FROM users u
		LEFT JOIN notification_preferences p ON p.user_id = u.id
		WHERE u.id = $1
	`

	var (
		rec                   Recipient
		inApp, email, sms     *bool
		push, appUpdates      *bool
		announcements, system *bool
	)

	err := r.db.Pool().QueryRow(ctx, query, userID).Scan(
		&rec.ID,
		&rec.Email,
		&rec.Phone,
		&inApp, &email, &sms, &push,
		&appUpdates, &announcements, &system,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRecipientNotFound, userID)
	}
	if err != nil {
		return nil, fmt.Errorf("query recipient: %w", err)
	}

	rec.Preferences = DefaultPreferences()
	apply := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	apply(&rec.Preferences.Channels.InApp, inApp)
	apply(&rec.Preferences.Channels.Email, email)
	apply(&rec.Preferences.Channels.SMS, sms)
	apply(&rec.Preferences.Channels.Push, push)
	apply(&rec.Preferences.Categories.ApplicationUpdates, appUpdates)
	apply(&rec.Preferences.Categories.ServiceAnnouncements, announcements)
	apply(&rec.Preferences.Categories.SystemNotifications, system)

	return &rec, nil
}
