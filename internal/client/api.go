// Package client is the consuming side of the notification system: a REST
// client for the pull API, a reconnecting websocket connection, and the
// read-state tracker that keeps a local cache consistent with both.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultRequestTimeout bounds every pull API call.
const DefaultRequestTimeout = 10 * time.Second

// ErrNotFound is returned when the record does not exist or is not owned
// by the caller.
var ErrNotFound = errors.New("notification not found")

// Notification is the wire shape of a notification.
type Notification struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Type      string `json:"type"`
	Category  string `json:"category,omitempty"`
	Timestamp string `json:"timestamp"`
	Read      bool   `json:"read"`
}

// APIError is a problem+json error returned by the server.
type APIError struct {
	Status int    `json:"status"`
	Type   string `json:"type"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%d %s: %s", e.Status, e.Title, e.Detail)
	}
	return fmt.Sprintf("%d %s", e.Status, e.Title)
}

// ListOptions narrows List.
type ListOptions struct {
	Limit      int
	Offset     int
	UnreadOnly bool
}

// API talks to the /v1 pull endpoints.
type API struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

// NewAPI creates a client for baseURL (e.g. http://localhost:8080).
func NewAPI(baseURL, token string) *API {
	return &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: DefaultRequestTimeout},
	}
}

// SetToken replaces the bearer token used by subsequent calls.
func (a *API) SetToken(token string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.token = token
}

// List returns the caller's notifications, newest first.
func (a *API) List(ctx context.Context, opts ListOptions) ([]Notification, error) {
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	if opts.UnreadOnly {
		q.Set("unread", "true")
	}

	path := "/v1/notifications"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Data []Notification `json:"data"`
	}
	if err := a.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// UnreadCount returns the server-side unread count.
func (a *API) UnreadCount(ctx context.Context) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	if err := a.do(ctx, http.MethodGet, "/v1/notifications/unread-count", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// MarkRead marks one notification read.
func (a *API) MarkRead(ctx context.Context, id string) error {
	return a.do(ctx, http.MethodPut, "/v1/notifications/"+url.PathEscape(id)+"/read", nil, nil)
}

// MarkAllRead marks every unread notification read and returns how many
// changed.
func (a *API) MarkAllRead(ctx context.Context) (int64, error) {
	var resp struct {
		Updated int64 `json:"updated"`
	}
	if err := a.do(ctx, http.MethodPut, "/v1/notifications/read-all", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Updated, nil
}

// Delete removes one notification.
func (a *API) Delete(ctx context.Context, id string) error {
	return a.do(ctx, http.MethodDelete, "/v1/notifications/"+url.PathEscape(id), nil, nil)
}

func (a *API) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	a.mu.RLock()
	token := a.token
	a.mu.RUnlock()
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Title: http.StatusText(resp.StatusCode)}
		_ = json.NewDecoder(resp.Body).Decode(apiErr)
		apiErr.Status = resp.StatusCode
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
