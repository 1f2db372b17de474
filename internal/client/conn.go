package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/realtime"
)

// ErrNotConnected is returned by Send while the socket is down.
var ErrNotConnected = errors.New("client: not connected")

const (
	defaultMinBackoff = 500 * time.Millisecond
	defaultMaxBackoff = 30 * time.Second
	writeTimeout      = 10 * time.Second
)

// Listener handles the data of one event.
type Listener func(data json.RawMessage)

// ConnConfig configures a Conn.
type ConnConfig struct {
	// URL is the websocket endpoint, e.g. ws://localhost:8080/v1/ws.
	URL string
	// Token is sent as a Bearer Authorization header.
	Token string
	// UserID is sent in the join frame after every connect.
	UserID     string
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Dialer     *websocket.Dialer
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Conn is a single websocket per session that reconnects with exponential
// backoff. Join is sent on every successful connect, so a reconnect never
// leaves the connection outside its user's group.
type Conn struct {
	cfg    ConnConfig
	logger *zap.Logger

	mu        sync.Mutex
	listeners map[string]map[uint64]Listener
	nextID    uint64
	onConnect []func()
	ws        *websocket.Conn
	// epoch changes with the identity; frames read on a socket dialed
	// under an older epoch are dropped.
	epoch uint64

	writeMu sync.Mutex
}

func NewConn(cfg ConnConfig, logger *zap.Logger) *Conn {
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = defaultMinBackoff
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	if cfg.Dialer == nil {
		cfg.Dialer = websocket.DefaultDialer
	}
	return &Conn{
		cfg:       cfg,
		logger:    logger,
		listeners: make(map[string]map[uint64]Listener),
	}
}

// On registers fn for event and returns a function that removes it.
func (c *Conn) On(event string, fn Listener) (remove func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	if c.listeners[event] == nil {
		c.listeners[event] = make(map[uint64]Listener)
	}
	c.listeners[event][id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners[event], id)
	}
}

// ListenerCount reports how many listeners are registered for event.
func (c *Conn) ListenerCount(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners[event])
}

// OnConnect registers fn to run after every successful connect, the first
// one included, once join has been sent. Use it to reload history that the
// push path may have missed.
func (c *Conn) OnConnect(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnect = append(c.onConnect, fn)
}

// Identity is the signed-in user a connection authenticates and joins as.
type Identity struct {
	UserID string
	Token  string
}

// Identity returns the identity the next dial will use.
func (c *Conn) Identity() Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Identity{UserID: c.cfg.UserID, Token: c.cfg.Token}
}

// SetIdentity re-keys the connection. An open socket is closed so Run
// redials with the new token and joins the new user's group.
func (c *Conn) SetIdentity(id Identity) {
	c.mu.Lock()
	if c.cfg.UserID == id.UserID && c.cfg.Token == id.Token {
		c.mu.Unlock()
		return
	}
	c.cfg.UserID = id.UserID
	c.cfg.Token = id.Token
	c.epoch++
	ws := c.ws
	c.mu.Unlock()

	if ws != nil {
		ws.Close()
	}
}

// Connected reports whether the socket is currently up.
func (c *Conn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

// Send writes one frame.
func (c *Conn) Send(event string, data interface{}) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return ErrNotConnected
	}
	return c.write(ws, event, data)
}

func (c *Conn) write(ws *websocket.Conn, event string, data interface{}) error {
	payload, err := json.Marshal(realtime.Envelope{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return ws.WriteMessage(websocket.TextMessage, payload)
}

// Run connects and keeps the connection alive until ctx is cancelled.
func (c *Conn) Run(ctx context.Context) error {
	attempt := 0
	connectedBefore := false
	for {
		c.mu.Lock()
		id := Identity{UserID: c.cfg.UserID, Token: c.cfg.Token}
		epoch := c.epoch
		c.mu.Unlock()

		header := http.Header{}
		if id.Token != "" {
			header.Set("Authorization", "Bearer "+id.Token)
		}

		ws, resp, err := c.cfg.Dialer.DialContext(ctx, c.cfg.URL, header)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if resp != nil && resp.StatusCode == http.StatusUnauthorized {
				return fmt.Errorf("websocket rejected credentials: %w", err)
			}
			delay := backoff(attempt, c.cfg.MinBackoff, c.cfg.MaxBackoff)
			attempt++
			c.logger.Warn("websocket dial failed",
				zap.Error(err),
				zap.Int("attempt", attempt),
				zap.Duration("retry_in", delay),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			continue
		}
		attempt = 0

		c.mu.Lock()
		if c.epoch != epoch {
			// Identity changed while dialing.
			c.mu.Unlock()
			ws.Close()
			continue
		}
		c.ws = ws
		hooks := append([]func(){}, c.onConnect...)
		c.mu.Unlock()

		if err := c.write(ws, realtime.EventJoin, realtime.JoinRequest{UserID: id.UserID}); err != nil {
			c.logger.Warn("join failed", zap.Error(err))
		}
		if connectedBefore {
			c.logger.Info("websocket reconnected", zap.String("user_id", id.UserID))
		}
		connectedBefore = true
		for _, hook := range hooks {
			go hook()
		}

		err = c.readLoop(ctx, ws, epoch)

		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Info("websocket disconnected", zap.Error(err))
	}
}

func (c *Conn) readLoop(ctx context.Context, ws *websocket.Conn, epoch uint64) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.writeMu.Lock()
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			c.writeMu.Unlock()
			ws.Close()
		case <-done:
			ws.Close()
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Debug("ignoring malformed frame", zap.Error(err))
			continue
		}
		c.dispatch(f, epoch)
	}
}

func (c *Conn) dispatch(f frame, epoch uint64) {
	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	fns := make([]Listener, 0, len(c.listeners[f.Event]))
	for _, fn := range c.listeners[f.Event] {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(f.Data)
	}
}

// backoff doubles from lo up to hi.
func backoff(attempt int, lo, hi time.Duration) time.Duration {
	d := lo
	for i := 0; i < attempt && d < hi; i++ {
		d *= 2
	}
	if d > hi {
		d = hi
	}
	return d
}
