package api

import (
	"context"
	"net/http"
	"time"

	"github.com/lalithlochan/beacon/internal/circuitbreaker"
)

const healthTimeout = 2 * time.Second

// Pinger reports whether the database is reachable.
type Pinger interface {
	Health(ctx context.Context) error
}

// ConnectionStats reports live realtime connections.
type ConnectionStats interface {
	Stats() (users, conns int)
}

// BreakerStats reports the per-channel circuit breakers.
type BreakerStats interface {
	Stats() []circuitbreaker.Stats
}

// HealthResponse is the /health body. Status is "ok", "degraded" when a
// channel breaker is not closed, or "unavailable" when the database is down.
type HealthResponse struct {
	Status   string                 `json:"status"`
	Database string                 `json:"database"`
	Realtime RealtimeHealth         `json:"realtime"`
	Channels []circuitbreaker.Stats `json:"channels"`
}

type RealtimeHealth struct {
	Users       int `json:"users"`
	Connections int `json:"connections"`
}

// HealthHandler serves /health.
type HealthHandler struct {
	db       Pinger
	bus      ConnectionStats
	breakers BreakerStats
}

// NewHealthHandler creates a health handler. breakers may be nil.
func NewHealthHandler(db Pinger, bus ConnectionStats, breakers BreakerStats) *HealthHandler {
	return &HealthHandler{db: db, bus: bus, breakers: breakers}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	resp := HealthResponse{Status: "ok", Database: "ok", Channels: []circuitbreaker.Stats{}}
	status := http.StatusOK

	users, conns := h.bus.Stats()
	resp.Realtime = RealtimeHealth{Users: users, Connections: conns}

	if h.breakers != nil {
		resp.Channels = h.breakers.Stats()
		for _, s := range resp.Channels {
			if s.State != circuitbreaker.StateClosed.String() {
				resp.Status = "degraded"
			}
		}
	}

	if err := h.db.Health(ctx); err != nil {
		resp.Status = "unavailable"
		resp.Database = "unreachable"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}
