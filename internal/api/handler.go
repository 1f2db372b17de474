package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/auth"
	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/dispatch"
	"github.com/lalithlochan/beacon/internal/metrics"
	"github.com/lalithlochan/beacon/internal/realtime"
	"github.com/lalithlochan/beacon/internal/redis"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// NotificationRepository defines the record operations the pull API needs.
// Every method is scoped to the owning user.
type NotificationRepository interface {
	GetNotification(ctx context.Context, userID, id uuid.UUID) (*db.Notification, error)
	ListNotifications(ctx context.Context, userID uuid.UUID, filter db.ListFilter) ([]*db.Notification, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
	MarkRead(ctx context.Context, userID, id uuid.UUID) (*db.Notification, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
	DeleteNotification(ctx context.Context, userID, id uuid.UUID) error
	GetRecipient(ctx context.Context, userID uuid.UUID) (*db.Recipient, error)
}

// Sender dispatches manually created notifications.
type Sender interface {
	Send(ctx context.Context, req dispatch.Request) dispatch.Outcome
}

// Notifier pushes read-state changes to the caller's other tabs.
type Notifier interface {
	EmitToUser(user realtime.UserID, event string, payload interface{}) int
}

// Idempotency replays POST responses; *redis.IdempotencyService satisfies it.
type Idempotency interface {
	CheckOrReserve(ctx context.Context, userID, key string) (*redis.IdempotencyResult, error)
	Store(ctx context.Context, userID, key string, result *redis.IdempotencyResult) error
	Release(ctx context.Context, userID, key string) error
}

// CreateRequest is the body of POST /v1/notifications.
type CreateRequest struct {
	Title    string `json:"title"`
	Message  string `json:"message"`
	Type     string `json:"type"`
	Category string `json:"category,omitempty"`
}

// SuppressedResponse is returned with 202 when preferences suppressed the
// notification.
type SuppressedResponse struct {
	Created bool   `json:"created"`
	Reason  string `json:"reason"`
}

// ListResponse is the body of GET /v1/notifications.
type ListResponse struct {
	Data   []db.NotificationView `json:"data"`
	Limit  int                   `json:"limit"`
	Offset int                   `json:"offset"`
	Count  int                   `json:"count"`
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	repo        NotificationRepository
	sender      Sender
	notifier    Notifier
	idempotency Idempotency // nil if Redis not configured
}

// NewHandler creates a new API handler. notifier may be nil, in which case
// read-state changes are not echoed to live connections.
func NewHandler(logger *zap.Logger, repo NotificationRepository, sender Sender, notifier Notifier) *Handler {
	return &Handler{
		logger:   logger,
		repo:     repo,
		sender:   sender,
		notifier: notifier,
	}
}

// WithIdempotency enables Idempotency-Key handling on POST.
func (h *Handler) WithIdempotency(idem Idempotency) *Handler {
	h.idempotency = idem
	return h
}

// Routes mounts the pull API. The caller is expected to have installed
// auth.Middleware.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/notifications", h.ListNotifications)
	r.Post("/notifications", h.CreateNotification)
	r.Get("/notifications/unread-count", h.UnreadCount)
	r.Put("/notifications/read-all", h.MarkAllRead)
	r.Get("/notifications/preferences", h.GetPreferences)
	r.Get("/notifications/{id}", h.GetNotification)
	r.Put("/notifications/{id}/read", h.MarkRead)
	r.Post("/notifications/{id}/read", h.MarkRead)
	r.Delete("/notifications/{id}", h.DeleteNotification)
}

// ListNotifications handles GET /v1/notifications?limit=50&offset=0&unread=true
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}

	filter := db.ListFilter{Limit: defaultListLimit}
	q := r.URL.Query()

	if limitStr := q.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			if l > maxListLimit {
				l = maxListLimit
			}
			filter.Limit = l
		}
	}

	if offsetStr := q.Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			filter.Offset = o
		}
	}

	if unread, err := strconv.ParseBool(q.Get("unread")); err == nil {
		filter.UnreadOnly = unread
	}

	notifications, err := h.repo.ListNotifications(r.Context(), userID, filter)
	if err != nil {
		h.logger.Error("failed to list notifications",
			zap.Error(err),
			zap.String("user_id", userID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list notifications", "")
		return
	}

	views := make([]db.NotificationView, 0, len(notifications))
	for _, n := range notifications {
		views = append(views, n.View())
	}

	writeJSON(w, http.StatusOK, ListResponse{
		Data:   views,
		Limit:  filter.Limit,
		Offset: filter.Offset,
		Count:  len(views),
	})
}

// UnreadCount handles GET /v1/notifications/unread-count
func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}

	count, err := h.repo.CountUnread(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to count unread notifications",
			zap.Error(err),
			zap.String("user_id", userID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to count notifications", "")
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

// GetNotification handles GET /v1/notifications/{id}
func (h *Handler) GetNotification(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.notificationID(w, r)
	if !ok {
		return
	}

	notif, err := h.repo.GetNotification(r.Context(), userID, id)
	if err != nil {
		h.repoError(w, err, "Failed to get notification")
		return
	}

	writeJSON(w, http.StatusOK, notif.View())
}

// CreateNotification handles POST /v1/notifications. The notification goes
// through the dispatcher, so the caller's preferences apply.
// Supports idempotency via the Idempotency-Key header.
func (h *Handler) CreateNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.Title == "" || req.Message == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields", "title and message are required")
		return
	}

	severity := db.SeverityInfo
	if req.Type != "" {
		s, err := db.ParseSeverity(req.Type)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid type", "type must be info, success, warning, or error")
			return
		}
		severity = s
	}

	category := db.CategorySystemNotifications
	if req.Category != "" {
		c, err := db.ParseCategory(req.Category)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid category",
				"category must be applicationUpdates, serviceAnnouncements, or systemNotifications")
			return
		}
		category = c
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")
	reserved := false
	if idempotencyKey != "" && h.idempotency != nil {
		cached, err := h.idempotency.CheckOrReserve(ctx, userID.String(), idempotencyKey)
		switch {
		case errors.Is(err, redis.ErrDuplicateRequest):
			h.writeError(w, http.StatusConflict, "duplicate_request",
				"Request is already being processed",
				"Another request with this idempotency key is in progress")
			return
		case err != nil:
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		case cached != nil:
			metrics.RecordIdempotencyHit()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Idempotency-Replayed", "true")
			w.WriteHeader(cached.StatusCode)
			_, _ = w.Write(cached.Body)
			return
		default:
			reserved = true
		}
	}

	out := h.sender.Send(ctx, dispatch.Request{
		UserID:   userID,
		Title:    req.Title,
		Message:  req.Message,
		Category: category,
		Severity: severity,
	})

	var (
		status int
		body   interface{}
	)
	switch {
	case out.Created:
		status, body = http.StatusCreated, out.Notification.View()
	case out.Reason == dispatch.ReasonCategoryDisabled:
		status, body = http.StatusAccepted, SuppressedResponse{Created: false, Reason: out.Reason}
	case out.Reason == dispatch.ReasonRecipientNotFound:
		h.release(ctx, reserved, userID, idempotencyKey)
		h.writeError(w, http.StatusNotFound, "not_found", "Recipient not found", "")
		return
	default:
		h.release(ctx, reserved, userID, idempotencyKey)
		h.writeError(w, http.StatusInternalServerError, "dispatch_error", "Failed to create notification", out.Reason)
		return
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		h.release(ctx, reserved, userID, idempotencyKey)
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to encode response", "")
		return
	}

	if reserved {
		if err := h.idempotency.Store(ctx, userID.String(), idempotencyKey, &redis.IdempotencyResult{
			StatusCode: status,
			Body:       encoded,
		}); err != nil {
			h.logger.Warn("failed to store idempotency result",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(encoded)
}

// MarkRead handles PUT|POST /v1/notifications/{id}/read
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.notificationID(w, r)
	if !ok {
		return
	}

	notif, err := h.repo.MarkRead(r.Context(), userID, id)
	if err != nil {
		h.repoError(w, err, "Failed to mark notification read")
		return
	}

	h.emit(userID, realtime.EventNotificationRead, realtime.IDPayload{ID: id.String()})
	writeJSON(w, http.StatusOK, notif.View())
}

// MarkAllRead handles PUT /v1/notifications/read-all
func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}

	updated, err := h.repo.MarkAllRead(r.Context(), userID)
	if err != nil {
		h.logger.Error("failed to mark all notifications read",
			zap.Error(err),
			zap.String("user_id", userID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to mark notifications read", "")
		return
	}

	if updated > 0 {
		h.emit(userID, realtime.EventNotificationReadAll, struct{}{})
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}

// DeleteNotification handles DELETE /v1/notifications/{id}
func (h *Handler) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}
	id, ok := h.notificationID(w, r)
	if !ok {
		return
	}

	if err := h.repo.DeleteNotification(r.Context(), userID, id); err != nil {
		h.repoError(w, err, "Failed to delete notification")
		return
	}

	h.emit(userID, realtime.EventNotificationDeleted, realtime.IDPayload{ID: id.String()})
	w.WriteHeader(http.StatusNoContent)
}

// GetPreferences handles GET /v1/notifications/preferences
func (h *Handler) GetPreferences(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.caller(w, r)
	if !ok {
		return
	}

	rec, err := h.repo.GetRecipient(r.Context(), userID)
	if errors.Is(err, db.ErrRecipientNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "Recipient not found", "")
		return
	}
	if err != nil {
		h.logger.Error("failed to load preferences",
			zap.Error(err),
			zap.String("user_id", userID.String()),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to load preferences", "")
		return
	}

	writeJSON(w, http.StatusOK, rec.Preferences)
}

func (h *Handler) caller(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, ok := auth.UserFromContext(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Unauthorized", "")
		return uuid.Nil, false
	}
	return userID, true
}

func (h *Handler) notificationID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification ID", "ID must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// repoError maps ownership misses to 404. A record owned by someone else
// is indistinguishable from a missing one.
func (h *Handler) repoError(w http.ResponseWriter, err error, title string) {
	if errors.Is(err, db.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "Notification not found", "")
		return
	}
	h.logger.Error(title, zap.Error(err))
	h.writeError(w, http.StatusInternalServerError, "database_error", title, "")
}

func (h *Handler) emit(userID uuid.UUID, event string, payload interface{}) {
	if h.notifier == nil {
		return
	}
	h.notifier.EmitToUser(realtime.UserID(userID), event, payload)
}

func (h *Handler) release(ctx context.Context, reserved bool, userID uuid.UUID, key string) {
	if !reserved {
		return
	}
	if err := h.idempotency.Release(ctx, userID.String(), key); err != nil {
		h.logger.Warn("failed to release idempotency key",
			zap.Error(err),
			zap.String("idempotency_key", key),
		)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	writeProblem(w, status, errType, title, detail)
}

func writeProblem(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
