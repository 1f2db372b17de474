package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRequest(t *testing.T) {
	RecordRequest("GET", "/v1/notifications", 200, 100*time.Millisecond)
	RecordRequest("POST", "/v1/notifications", 201, 50*time.Millisecond)
	RecordRequest("GET", "/v1/notifications/{id}", 404, 10*time.Millisecond)
}

func TestRecordDispatch(t *testing.T) {
	before := testutil.ToFloat64(dispatchTotal.WithLabelValues("serviceAnnouncements", "suppressed"))

	RecordDispatch("serviceAnnouncements", "suppressed", time.Millisecond)
	RecordDispatch("applicationUpdates", "created", 20*time.Millisecond)

	after := testutil.ToFloat64(dispatchTotal.WithLabelValues("serviceAnnouncements", "suppressed"))
	if after-before != 1 {
		t.Errorf("expected suppressed counter to grow by 1, got %v", after-before)
	}
}

func TestRecordChannelSend(t *testing.T) {
	before := testutil.ToFloat64(channelSends.WithLabelValues("sms", "failed"))

	RecordChannelSend("email", true, 200*time.Millisecond)
	RecordChannelSend("sms", false, time.Second)

	if got := testutil.ToFloat64(channelSends.WithLabelValues("sms", "failed")) - before; got != 1 {
		t.Errorf("expected one failed sms, got %v", got)
	}
}

func TestSetRealtimeConnections(t *testing.T) {
	SetRealtimeConnections(3)
	if got := testutil.ToFloat64(realtimeConnections); got != 3 {
		t.Errorf("expected gauge 3, got %v", got)
	}
	SetRealtimeConnections(0)
	if got := testutil.ToFloat64(realtimeConnections); got != 0 {
		t.Errorf("expected gauge 0, got %v", got)
	}
}

func TestRecordRealtimeEmit(t *testing.T) {
	tests := []struct {
		name      string
		targets   int
		delivered int
		result    string
	}{
		{"no listeners", 0, 0, "no_listeners"},
		{"all delivered", 2, 2, "delivered"},
		{"one buffer full", 3, 2, "partial"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			counter := realtimeEmits.WithLabelValues("notification", tt.result)
			before := testutil.ToFloat64(counter)

			RecordRealtimeEmit("notification", tt.targets, tt.delivered)

			if got := testutil.ToFloat64(counter) - before; got != 1 {
				t.Errorf("expected %s to grow by 1, got %v", tt.result, got)
			}
		})
	}
}

func TestRecordRealtimeDrop(t *testing.T) {
	RecordRealtimeDrop("buffer_full")
}

func TestRecordEventConsumed(t *testing.T) {
	RecordEventConsumed("status_update", "dispatched")
	RecordEventConsumed("unknown", "rejected")
}

func TestSetSQSMessagesInFlight(t *testing.T) {
	SetSQSMessagesInFlight(10)
	SetSQSMessagesInFlight(0)
}

func TestRecordIdempotencyHit(t *testing.T) {
	RecordIdempotencyHit()
}

func TestRecordRateLimitRejection(t *testing.T) {
	RecordRateLimitRejection()
}

func TestRecordCircuitStateChange(t *testing.T) {
	RecordCircuitStateChange("email", "open")
	RecordCircuitStateChange("email", "half-open")
}

func TestSetDBConnections(t *testing.T) {
	SetDBConnections(10)
}

func TestSetRedisConnections(t *testing.T) {
	SetRedisConnections(5)
}

func TestHandler(t *testing.T) {
	handler := Handler()
	if handler == nil {
		t.Fatal("Handler should not return nil")
	}

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Error("metrics response should not be empty")
	}
}

func TestMiddleware(t *testing.T) {
	innerCalled := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		innerCalled = true
		w.WriteHeader(http.StatusCreated)
	})

	handler := Middleware(inner)
	req := httptest.NewRequest("POST", "/v1/notifications", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if !innerCalled {
		t.Error("inner handler should have been called")
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected status 201, got %d", rec.Code)
	}
}

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/notifications/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/v1/notifications/{id}", "204"))

	req := httptest.NewRequest("GET", "/v1/notifications/0d9c7a52-1f4e-4b8e-9d3a-5b2f1c6e7a80", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/v1/notifications/{id}", "204"))
	if after-before != 1 {
		t.Errorf("expected request labelled by route pattern, delta %v", after-before)
	}
}

func TestResponseWriter_DefaultStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}

	rw.Write([]byte("test"))

	if rw.status != http.StatusOK {
		t.Errorf("expected default status 200, got %d", rw.status)
	}
}

func TestResponseWriter_ExplicitStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}

	rw.WriteHeader(http.StatusNotFound)

	if rw.status != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rw.status)
	}
}

func TestResponseWriter_HijackUnsupported(t *testing.T) {
	rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}

	if _, _, err := rw.Hijack(); err == nil {
		t.Error("expected error when underlying writer cannot hijack")
	}
}
