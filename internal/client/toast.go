package client

import (
	"sync"
	"time"
)

const (
	defaultToastLimit = 5
	defaultToastTTL   = 5 * time.Second
)

// Toast is a transient on-screen alert for a received notification.
type Toast struct {
	Notification
	ExpiresAt time.Time
}

// ToastQueue holds at most limit toasts; each expires after ttl. When full,
// the oldest toast is evicted.
type ToastQueue struct {
	mu    sync.Mutex
	items []Toast
	limit int
	ttl   time.Duration
	now   func() time.Time
}

func NewToastQueue(limit int, ttl time.Duration) *ToastQueue {
	if limit <= 0 {
		limit = defaultToastLimit
	}
	if ttl <= 0 {
		ttl = defaultToastTTL
	}
	return &ToastQueue{limit: limit, ttl: ttl, now: time.Now}
}

func (q *ToastQueue) Push(n Notification) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pruneLocked()
	if len(q.items) >= q.limit {
		q.items = q.items[len(q.items)-q.limit+1:]
	}
	q.items = append(q.items, Toast{Notification: n, ExpiresAt: q.now().Add(q.ttl)})
}

// Active returns unexpired toasts, oldest first.
func (q *ToastQueue) Active() []Toast {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pruneLocked()
	out := make([]Toast, len(q.items))
	copy(out, q.items)
	return out
}

func (q *ToastQueue) Dismiss(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, t := range q.items {
		if t.ID == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}

func (q *ToastQueue) pruneLocked() {
	now := q.now()
	kept := q.items[:0]
	for _, t := range q.items {
		if now.Before(t.ExpiresAt) {
			kept = append(kept, t)
		}
	}
	q.items = kept
}
