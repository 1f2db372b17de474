package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Backend is the server side of the tracker's mutations; *API satisfies it.
type Backend interface {
	List(ctx context.Context, opts ListOptions) ([]Notification, error)
	MarkRead(ctx context.Context, id string) error
	MarkAllRead(ctx context.Context) (int64, error)
	Delete(ctx context.Context, id string) error
}

// TrackerConfig tunes a Tracker.
type TrackerConfig struct {
	// RequestTimeout bounds each server mutation.
	RequestTimeout time.Duration
	// HistoryLimit is how many records Load fetches.
	HistoryLimit int
	// Toasts receives every newly received notification. Optional.
	Toasts *ToastQueue
	// OnNotify is called for every newly received notification, e.g. to
	// raise a desktop notification. Optional.
	OnNotify func(Notification)
}

// Tracker is the client-side cache of notifications. Items are kept newest
// first and unread always equals the number of items with Read == false.
//
// Mutations are optimistic: local state changes first, then the server is
// called, and the local change is reverted if the server call fails.
type Tracker struct {
	mu     sync.Mutex
	items  []Notification
	unread int
	// seq counts Receive calls; arrivals maps a pushed id to its seq so
	// Load can tell which entries arrived while its request was in flight.
	seq      uint64
	arrivals map[string]uint64
	backend  Backend
	cfg     TrackerConfig
	logger  *zap.Logger
}

func NewTracker(backend Backend, cfg TrackerConfig, logger *zap.Logger) *Tracker {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 50
	}
	return &Tracker{
		backend:  backend,
		cfg:      cfg,
		logger:   logger,
		arrivals: make(map[string]uint64),
	}
}

// Load merges the server's history into the cache. The fetched page is
// authoritative for the ids it contains; pushes received while the request
// was in flight and missing from the page are kept in front of it.
func (t *Tracker) Load(ctx context.Context) error {
	t.mu.Lock()
	started := t.seq
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, t.cfg.RequestTimeout)
	defer cancel()

	fetched, err := t.backend.List(ctx, ListOptions{Limit: t.cfg.HistoryLimit})
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	inPage := make(map[string]struct{}, len(fetched))
	for _, n := range fetched {
		inPage[n.ID] = struct{}{}
	}

	merged := make([]Notification, 0, len(fetched)+len(t.items))
	for _, n := range t.items {
		if _, ok := inPage[n.ID]; ok {
			continue
		}
		if seq, ok := t.arrivals[n.ID]; ok && seq > started {
			merged = append(merged, n)
		}
	}
	merged = append(merged, fetched...)

	t.items = merged
	t.unread = 0
	arrivals := make(map[string]uint64, len(t.arrivals))
	for _, n := range merged {
		if !n.Read {
			t.unread++
		}
		if seq, ok := t.arrivals[n.ID]; ok {
			arrivals[n.ID] = seq
		}
	}
	t.arrivals = arrivals
	return nil
}

// Reset empties the cache, e.g. when the signed-in identity changes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = nil
	t.unread = 0
	t.arrivals = make(map[string]uint64)
}

// Receive adds a pushed notification. Duplicates are ignored and reported
// as false.
func (t *Tracker) Receive(n Notification) bool {
	t.mu.Lock()
	if t.indexLocked(n.ID) >= 0 {
		t.mu.Unlock()
		return false
	}
	t.items = append([]Notification{n}, t.items...)
	if !n.Read {
		t.unread++
	}
	t.seq++
	t.arrivals[n.ID] = t.seq
	t.mu.Unlock()

	if t.cfg.Toasts != nil {
		t.cfg.Toasts.Push(n)
	}
	if t.cfg.OnNotify != nil {
		t.cfg.OnNotify(n)
	}
	return true
}

// MarkAsRead marks one notification read. Calling it on an already-read or
// unknown id changes nothing.
func (t *Tracker) MarkAsRead(ctx context.Context, id string) error {
	if !t.setRead(id, true) {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.RequestTimeout)
	defer cancel()

	err := t.backend.MarkRead(ctx, id)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		// Gone on the server (deleted in another tab).
		t.remove(id)
		return err
	default:
		t.logger.Warn("mark read failed, reverting", zap.String("id", id), zap.Error(err))
		t.setRead(id, false)
		return err
	}
}

// MarkAllAsRead marks every cached notification read.
func (t *Tracker) MarkAllAsRead(ctx context.Context) error {
	t.mu.Lock()
	var flipped []string
	for i := range t.items {
		if !t.items[i].Read {
			t.items[i].Read = true
			flipped = append(flipped, t.items[i].ID)
		}
	}
	t.unread = 0
	t.mu.Unlock()

	if len(flipped) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, t.cfg.RequestTimeout)
	defer cancel()

	if _, err := t.backend.MarkAllRead(ctx); err != nil {
		t.logger.Warn("mark all read failed, reverting", zap.Int("count", len(flipped)), zap.Error(err))
		for _, id := range flipped {
			t.setRead(id, false)
		}
		return err
	}
	return nil
}

// Delete removes one notification.
func (t *Tracker) Delete(ctx context.Context, id string) error {
	t.mu.Lock()
	idx := t.indexLocked(id)
	if idx < 0 {
		t.mu.Unlock()
		return nil
	}
	removed := t.items[idx]
	t.removeAtLocked(idx)
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, t.cfg.RequestTimeout)
	defer cancel()

	err := t.backend.Delete(ctx, id)
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}

	t.logger.Warn("delete failed, reverting", zap.String("id", id), zap.Error(err))
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.indexLocked(id) >= 0 {
		return err
	}
	if idx > len(t.items) {
		idx = len(t.items)
	}
	t.items = append(t.items[:idx], append([]Notification{removed}, t.items[idx:]...)...)
	if !removed.Read {
		t.unread++
	}
	return err
}

// ApplyRead applies a read made elsewhere (another tab).
func (t *Tracker) ApplyRead(id string) {
	t.setRead(id, true)
}

// ApplyReadAll applies a read-all made elsewhere.
func (t *Tracker) ApplyReadAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.items {
		t.items[i].Read = true
	}
	t.unread = 0
}

// ApplyDeleted applies a delete made elsewhere.
func (t *Tracker) ApplyDeleted(id string) {
	t.remove(id)
}

// Snapshot returns a copy of the cache and the unread count.
func (t *Tracker) Snapshot() ([]Notification, int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Notification, len(t.items))
	copy(out, t.items)
	return out, t.unread
}

func (t *Tracker) Unread() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.unread
}

// setRead flips one item and reports whether anything changed.
func (t *Tracker) setRead(id string, read bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := t.indexLocked(id)
	if idx < 0 || t.items[idx].Read == read {
		return false
	}
	t.items[idx].Read = read
	if read {
		if t.unread > 0 {
			t.unread--
		}
	} else {
		t.unread++
	}
	return true
}

func (t *Tracker) remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if idx := t.indexLocked(id); idx >= 0 {
		t.removeAtLocked(idx)
	}
}

func (t *Tracker) removeAtLocked(idx int) {
	if !t.items[idx].Read && t.unread > 0 {
		t.unread--
	}
	delete(t.arrivals, t.items[idx].ID)
	t.items = append(t.items[:idx], t.items[idx+1:]...)
}

func (t *Tracker) indexLocked(id string) int {
	for i := range t.items {
		if t.items[i].ID == id {
			return i
		}
	}
	return -1
}
