package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/realtime"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// bearerAuth treats the bearer token as the user id.
func bearerAuth(r *http.Request) (realtime.UserID, error) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if token == "" {
		return realtime.UserID{}, errors.New("missing token")
	}
	return realtime.ParseUserID(token)
}

// flakyServer records join frames and lets the test drop connections.
type flakyServer struct {
	mu    sync.Mutex
	joins []string
	conns []*websocket.Conn
}

func (s *flakyServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, ws)
	s.mu.Unlock()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		if json.Unmarshal(data, &f) == nil && f.Event == realtime.EventJoin {
			var req realtime.JoinRequest
			_ = json.Unmarshal(f.Data, &req)
			s.mu.Lock()
			s.joins = append(s.joins, req.UserID)
			s.mu.Unlock()
		}
	}
}

func (s *flakyServer) joinCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.joins)
}

func (s *flakyServer) dropAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ws := range s.conns {
		ws.Close()
	}
	s.conns = nil
}

func TestConn_JoinsOnEveryConnect(t *testing.T) {
	fs := &flakyServer{}
	srv := httptest.NewServer(fs)
	defer srv.Close()

	conn := NewConn(ConnConfig{
		URL:        wsURL(srv),
		UserID:     "user-1",
		MinBackoff: 10 * time.Millisecond,
		MaxBackoff: 20 * time.Millisecond,
	}, zap.NewNop())

	connected := make(chan struct{}, 4)
	conn.OnConnect(func() { connected <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- conn.Run(ctx) }()

	waitFor(t, func() bool { return fs.joinCount() == 1 })
	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("connect hook did not run on the first connect")
	}

	fs.dropAll()
	waitFor(t, func() bool { return fs.joinCount() == 2 })
	select {
	case <-connected:
	case <-time.After(2 * time.Second):
		t.Fatal("connect hook did not run after reconnect")
	}

	fs.mu.Lock()
	for _, j := range fs.joins {
		if j != "user-1" {
			t.Errorf("unexpected join for %q", j)
		}
	}
	fs.mu.Unlock()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if conn.Connected() {
		t.Error("conn should report disconnected after Run returns")
	}
}

func TestConn_SendWhileDisconnected(t *testing.T) {
	conn := NewConn(ConnConfig{URL: "ws://127.0.0.1:1"}, zap.NewNop())
	if err := conn.Send(realtime.EventJoin, nil); !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestConn_UnauthorizedStopsRetrying(t *testing.T) {
	bus := realtime.NewBus(zap.NewNop())
	h, err := realtime.NewHandler(bus, bearerAuth, realtime.HandlerConfig{}, zap.NewNop())
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := NewConn(ConnConfig{URL: wsURL(srv)}, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := conn.Run(ctx); err == nil || errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected a credentials error, got %v", err)
	}
}

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{10, time.Second},
	}
	for _, tt := range tests {
		if got := backoff(tt.attempt, 100*time.Millisecond, time.Second); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestSubscriber_StartIsGuarded(t *testing.T) {
	conn := NewConn(ConnConfig{URL: "ws://unused"}, zap.NewNop())
	sub := NewSubscriber(conn, newTracker(&MockBackend{}), zap.NewNop())

	sub.Start(Identity{UserID: "user-1", Token: "t1"})
	sub.Start(Identity{UserID: "user-1", Token: "t1"})
	if got := conn.ListenerCount(realtime.EventNotification); got != 1 {
		t.Fatalf("expected 1 listener after repeated Start, got %d", got)
	}

	sub.Start(Identity{UserID: "user-2", Token: "t2"})
	if got := conn.ListenerCount(realtime.EventNotification); got != 1 {
		t.Fatalf("identity change should replace the listener, got %d", got)
	}

	sub.Stop()
	if got := conn.ListenerCount(realtime.EventNotification); got != 0 {
		t.Errorf("expected no listeners after Stop, got %d", got)
	}
}

// End to end: server bus -> websocket -> Subscriber -> Tracker.
func TestSubscriber_ReceivesFromBus(t *testing.T) {
	bus := realtime.NewBus(zap.NewNop())
	h, err := realtime.NewHandler(bus, bearerAuth, realtime.HandlerConfig{}, zap.NewNop())
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	srv := httptest.NewServer(h)
	defer srv.Close()

	user := uuid.New()
	uid := realtime.UserID(user)

	newClient := func() (*Conn, *Tracker, *ToastQueue) {
		toasts := NewToastQueue(10, time.Minute)
		conn := NewConn(ConnConfig{URL: wsURL(srv), Token: user.String(), UserID: user.String()}, zap.NewNop())
		tracker := NewTracker(&MockBackend{}, TrackerConfig{Toasts: toasts}, zap.NewNop())
		NewSubscriber(conn, tracker, zap.NewNop()).Start(Identity{UserID: user.String(), Token: user.String()})
		return conn, tracker, toasts
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// two tabs for the same user
	connA, trackerA, toastsA := newClient()
	connB, trackerB, _ := newClient()
	go connA.Run(ctx)
	go connB.Run(ctx)

	waitFor(t, func() bool { return bus.ConnectionCount(uid) == 2 })

	n := note(uuid.NewString(), false)
	if got := bus.EmitToUser(uid, realtime.EventNotification, n); got != 2 {
		t.Fatalf("expected delivery to 2 connections, got %d", got)
	}
	waitFor(t, func() bool { return trackerA.Unread() == 1 && trackerB.Unread() == 1 })

	// tab B marks read through the server; the echo reaches tab A
	bus.EmitToUser(uid, realtime.EventNotificationRead, realtime.IDPayload{ID: n.ID})
	waitFor(t, func() bool { return trackerA.Unread() == 0 })

	bus.EmitToAll(realtime.EventAnnouncement, map[string]string{
		"title": "Maintenance", "message": "tonight", "type": "warning", "timestamp": "t1",
	})
	waitFor(t, func() bool { return len(toastsA.Active()) == 2 })
	if trackerA.Unread() != 0 {
		t.Error("announcements must not count as unread")
	}
}

func TestSubscriber_IdentityChangeRekeysConn(t *testing.T) {
	bus := realtime.NewBus(zap.NewNop())
	h, err := realtime.NewHandler(bus, bearerAuth, realtime.HandlerConfig{}, zap.NewNop())
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	srv := httptest.NewServer(h)
	defer srv.Close()

	alice, bob := uuid.New(), uuid.New()
	aliceID := Identity{UserID: alice.String(), Token: alice.String()}
	bobID := Identity{UserID: bob.String(), Token: bob.String()}

	conn := NewConn(ConnConfig{
		URL:        wsURL(srv),
		UserID:     aliceID.UserID,
		Token:      aliceID.Token,
		MinBackoff: 10 * time.Millisecond,
		MaxBackoff: 20 * time.Millisecond,
	}, zap.NewNop())
	backend := &MockBackend{}
	tracker := newTracker(backend)
	sub := NewSubscriber(conn, tracker, zap.NewNop())
	sub.Start(aliceID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go conn.Run(ctx)

	waitFor(t, func() bool { return bus.ConnectionCount(realtime.UserID(alice)) == 1 })
	bus.EmitToUser(realtime.UserID(alice), realtime.EventNotification, note(uuid.NewString(), false))
	waitFor(t, func() bool { return tracker.Unread() == 1 })

	sub.Start(bobID)

	if got := tracker.Unread(); got != 0 {
		t.Errorf("previous user's cache should be cleared, unread=%d", got)
	}
	backend.mu.Lock()
	token := backend.token
	backend.mu.Unlock()
	if token != bobID.Token {
		t.Errorf("backend token = %q, want the new identity's", token)
	}

	waitFor(t, func() bool {
		return bus.ConnectionCount(realtime.UserID(alice)) == 0 &&
			bus.ConnectionCount(realtime.UserID(bob)) == 1
	})

	if got := bus.EmitToUser(realtime.UserID(alice), realtime.EventNotification, note(uuid.NewString(), false)); got != 0 {
		t.Errorf("old user's notifications still reach the conn (%d)", got)
	}
	bobNote := note(uuid.NewString(), false)
	bus.EmitToUser(realtime.UserID(bob), realtime.EventNotification, bobNote)
	waitFor(t, func() bool { return tracker.Unread() == 1 })

	items, _ := tracker.Snapshot()
	if len(items) != 1 || items[0].ID != bobNote.ID {
		t.Errorf("expected only the new user's notification, got %+v", items)
	}
}
