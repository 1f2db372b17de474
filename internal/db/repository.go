package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ListFilter narrows a notification listing.
type ListFilter struct {
	Limit      int
	Offset     int
	UnreadOnly bool
}

// Repository handles database operations for notification records
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new notification repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

const notificationColumns = `id, user_id, title, message, category, severity, read_at, created_at`

func scanNotification(row pgx.Row) (*Notification, error) {
	var notif Notification
	err := row.Scan(
		&notif.ID,
		&notif.UserID,
		&notif.Title,
		&notif.Message,
		&notif.Category,
		&notif.Severity,
		&notif.ReadAt,
		&notif.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &notif, nil
}

// CreateNotification inserts a new record; read_at always starts unset.
func (r *Repository) CreateNotification(ctx context.Context, notif *Notification) error {
	query := `
		INSERT INTO notifications (id, user_id, title, message, category, severity)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`

	notif.ReadAt = nil
	err := r.db.Pool().QueryRow(ctx, query,
		notif.ID,
		notif.UserID,
		notif.Title,
		notif.Message,
		notif.Category,
		notif.Severity,
	).Scan(&notif.CreatedAt)
	if err != nil {
		r.logger.Error("failed to create notification",
			zap.Error(err),
			zap.String("notification_id", notif.ID.String()),
		)
		return fmt.Errorf("insert notification: %w", err)
	}

	r.logger.Debug("notification created",
		zap.String("notification_id", notif.ID.String()),
		zap.String("user_id", notif.UserID.String()),
		zap.String("category", string(notif.Category)),
	)

	return nil
}

// GetNotification retrieves one record owned by userID.
func (r *Repository) GetNotification(ctx context.Context, userID, id uuid.UUID) (*Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1 AND user_id = $2`

	notif, err := scanNotification(r.db.Pool().QueryRow(ctx, query, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query notification: %w", err)
	}
	return notif, nil
}

// ListNotifications returns the owner's records newest first.
func (r *Repository) ListNotifications(ctx context.Context, userID uuid.UUID, filter ListFilter) ([]*Notification, error) {
	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE user_id = $1 AND ($2::boolean = false OR read_at IS NULL)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4
	`

	rows, err := r.db.Pool().Query(ctx, query, userID, filter.UnreadOnly, filter.Limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("query notifications: %w", err)
	}
	defer rows.Close()

	notifications := make([]*Notification, 0, filter.Limit)
	for rows.Next() {
		notif, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		notifications = append(notifications, notif)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return notifications, nil
}

// CountUnread returns the number of the owner's records with read_at unset.
func (r *Repository) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	err := r.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read_at IS NULL`,
		userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}

// MarkRead sets read_at on one owned record. The first timestamp wins, so
// repeated calls are no-ops.
func (r *Repository) MarkRead(ctx context.Context, userID, id uuid.UUID) (*Notification, error) {
	query := `
		UPDATE notifications
		SET read_at = COALESCE(read_at, NOW())
		WHERE id = $1 AND user_id = $2
		RETURNING ` + notificationColumns

	notif, err := scanNotification(r.db.Pool().QueryRow(ctx, query, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		r.logger.Error("failed to mark notification read",
			zap.Error(err),
			zap.String("notification_id", id.String()),
		)
		return nil, fmt.Errorf("mark read: %w", err)
	}
	return notif, nil
}

// MarkAllRead marks every unread record of the owner and returns how many
// changed.
func (r *Repository) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	result, err := r.db.Pool().Exec(ctx,
		`UPDATE notifications SET read_at = NOW() WHERE user_id = $1 AND read_at IS NULL`,
		userID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark all read: %w", err)
	}
	return result.RowsAffected(), nil
}

// DeleteNotification removes one owned record.
func (r *Repository) DeleteNotification(ctx context.Context, userID, id uuid.UUID) error {
	result, err := r.db.Pool().Exec(ctx,
		`DELETE FROM notifications WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return fmt.Errorf("delete notification: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrNotFound
	}

	r.logger.Info("notification deleted",
		zap.String("notification_id", id.String()),
		zap.String("user_id", userID.String()),
	)
	return nil
}
