package realtime

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// AuthFunc resolves the authenticated user of an upgrade request.
type AuthFunc func(r *http.Request) (UserID, error)

// HandlerConfig tunes the websocket endpoint.
type HandlerConfig struct {
	// AllowedOrigin is the single browser origin accepted on upgrade.
	// "*" accepts any origin. Requests without an Origin header are
	// always accepted.
	AllowedOrigin string
	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int
}

// Handler upgrades HTTP requests to websocket connections and registers
// them with the bus.
type Handler struct {
	bus      *Bus
	auth     AuthFunc
	upgrader websocket.Upgrader
	buffer   int
	logger   *zap.Logger
}

// NewHandler creates the websocket endpoint.
func NewHandler(bus *Bus, auth AuthFunc, cfg HandlerConfig, logger *zap.Logger) (*Handler, error) {
	if bus == nil {
		return nil, ErrBusUninitialized
	}
	if auth == nil {
		return nil, errors.New("realtime: auth func is required")
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 32
	}

	origin := cfg.AllowedOrigin
	return &Handler{
		bus:  bus,
		auth: auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				got := r.Header.Get("Origin")
				return got == "" || origin == "*" || got == origin
			},
		},
		buffer: cfg.SendBuffer,
		logger: logger,
	}, nil
}

// ServeHTTP handles GET /v1/ws.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, err := h.auth(r)
	if err != nil {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"type":   "unauthorized",
			"title":  "Authentication required",
			"status": http.StatusUnauthorized,
		})
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := newWSConn(ws, h.buffer, h.logger.With(zap.String("user_id", user.String())))
	h.bus.Join(conn, user)

	go conn.writePump()
	h.readPump(conn, user)
}

// readPump blocks until the socket closes, then removes the connection from
// the bus.
func (h *Handler) readPump(conn *wsConn, user UserID) {
	defer func() {
		h.bus.Disconnect(conn.ID())
		conn.close()
	}()

	conn.ws.SetReadLimit(maxMessageSize)
	_ = conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				conn.logger.Debug("websocket closed unexpectedly", zap.Error(err))
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reject(conn, "malformed frame")
			continue
		}

		switch msg.Event {
		case EventJoin:
			h.handleJoin(conn, user, msg.Data)
		default:
			conn.logger.Debug("ignoring unknown client event", zap.String("event", msg.Event))
		}
	}
}

// handleJoin accepts an explicit join only for the authenticated user.
func (h *Handler) handleJoin(conn *wsConn, user UserID, raw json.RawMessage) {
	var req JoinRequest
	if err := json.Unmarshal(raw, &req); err != nil || req.UserID == "" {
		h.reject(conn, "join requires user_id")
		return
	}

	requested, err := ParseUserID(req.UserID)
	if err != nil {
		h.reject(conn, "invalid user_id")
		return
	}
	if requested != user {
		conn.logger.Warn("join for foreign user rejected", zap.String("requested", req.UserID))
		h.reject(conn, "cannot join another user's channel")
		return
	}

	h.bus.Join(conn, user)
}

func (h *Handler) reject(conn *wsConn, message string) {
	frame, err := encodeFrame(EventError, ErrorPayload{Message: message})
	if err != nil {
		return
	}
	conn.Send(frame)
}
