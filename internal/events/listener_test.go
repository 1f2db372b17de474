package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/beacon/internal/db"
	"github.com/lalithlochan/beacon/internal/dispatch"
	"github.com/lalithlochan/beacon/internal/sqs"
)

// MockSource implements Source for testing
type MockSource struct {
	mu         sync.Mutex
	batches    [][]sqs.Received
	deleted    []string
	receiveErr error
	deleteErr  error
	received   int
	// deleteCtxErr is ctx.Err() as seen by the last Delete.
	deleteCtxErr error
}

func (m *MockSource) Receive(ctx context.Context) ([]sqs.Received, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received++
	if m.receiveErr != nil {
		return nil, m.receiveErr
	}
	if len(m.batches) == 0 {
		// Behave like an empty long poll without spinning the test.
		m.mu.Unlock()
		select {
		case <-ctx.Done():
		case <-time.After(10 * time.Millisecond):
		}
		m.mu.Lock()
		return nil, nil
	}
	b := m.batches[0]
	m.batches = m.batches[1:]
	return b, nil
}

func (m *MockSource) Delete(ctx context.Context, receiptHandle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCtxErr = ctx.Err()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deleted = append(m.deleted, receiptHandle)
	return nil
}

func (m *MockSource) deletedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.deleted)
}

// MockDispatcher implements Dispatcher for testing
type MockDispatcher struct {
	mu            sync.Mutex
	statusCalls   int
	announceCalls int
	alertCalls    int
	broadcasts    []string
	lastSubject   string
	lastStatus    string
	lastSeverity  db.Severity
	created       bool
}

func (m *MockDispatcher) outcome() dispatch.Outcome {
	if !m.created {
		return dispatch.Outcome{Reason: dispatch.ReasonCategoryDisabled}
	}
	return dispatch.Outcome{Created: true}
}

func (m *MockDispatcher) SendStatusUpdate(ctx context.Context, userID uuid.UUID, subject, status string) dispatch.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusCalls++
	m.lastSubject, m.lastStatus = subject, status
	return m.outcome()
}

func (m *MockDispatcher) SendAnnouncement(ctx context.Context, userID uuid.UUID, message string) dispatch.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.announceCalls++
	return m.outcome()
}

func (m *MockDispatcher) SendSystemAlert(ctx context.Context, userID uuid.UUID, message string, severity db.Severity) dispatch.Outcome {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alertCalls++
	m.lastSeverity = severity
	return m.outcome()
}

func (m *MockDispatcher) Broadcast(title, message string, severity db.Severity) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcasts = append(m.broadcasts, title)
	return 3
}

func received(handle string, ev sqs.Event) sqs.Received {
	return sqs.Received{Event: ev, ReceiptHandle: handle}
}

func TestHandle(t *testing.T) {
	user := uuid.NewString()

	tests := []struct {
		name       string
		msg        sqs.Received
		created    bool
		wantStatus string
		check      func(t *testing.T, d *MockDispatcher)
	}{
		{
			name:       "status update",
			msg:        received("r1", sqs.Event{Type: sqs.EventStatusUpdate, UserID: user, Subject: "Application #12", Status: "approved"}),
			created:    true,
			wantStatus: StatusDispatched,
			check: func(t *testing.T, d *MockDispatcher) {
				if d.statusCalls != 1 || d.lastSubject != "Application #12" || d.lastStatus != "approved" {
					t.Errorf("unexpected status call: %+v", d)
				}
			},
		},
		{
			name:       "targeted announcement",
			msg:        received("r2", sqs.Event{Type: sqs.EventAnnouncement, UserID: user, Message: "Maintenance at 2am"}),
			created:    true,
			wantStatus: StatusDispatched,
			check: func(t *testing.T, d *MockDispatcher) {
				if d.announceCalls != 1 || len(d.broadcasts) != 0 {
					t.Errorf("expected one targeted announcement, got %+v", d)
				}
			},
		},
		{
			name:       "broadcast announcement",
			msg:        received("r3", sqs.Event{Type: sqs.EventAnnouncement, Message: "Maintenance at 2am"}),
			wantStatus: StatusBroadcast,
			check: func(t *testing.T, d *MockDispatcher) {
				if len(d.broadcasts) != 1 || d.broadcasts[0] != defaultBroadcastTitle {
					t.Errorf("expected default-titled broadcast, got %v", d.broadcasts)
				}
				if d.announceCalls != 0 {
					t.Error("broadcast must not persist")
				}
			},
		},
		{
			name:       "system alert keeps severity",
			msg:        received("r4", sqs.Event{Type: sqs.EventSystemAlert, UserID: user, Message: "Disk full", Severity: "error"}),
			created:    true,
			wantStatus: StatusDispatched,
			check: func(t *testing.T, d *MockDispatcher) {
				if d.lastSeverity != db.SeverityError {
					t.Errorf("expected error severity, got %q", d.lastSeverity)
				}
			},
		},
		{
			name:       "system alert with unknown severity falls back",
			msg:        received("r5", sqs.Event{Type: sqs.EventSystemAlert, UserID: user, Message: "Disk full", Severity: "catastrophic"}),
			created:    true,
			wantStatus: StatusDispatched,
			check: func(t *testing.T, d *MockDispatcher) {
				if d.lastSeverity != "" {
					t.Errorf("expected empty severity for dispatcher default, got %q", d.lastSeverity)
				}
			},
		},
		{
			name:       "disabled category",
			msg:        received("r6", sqs.Event{Type: sqs.EventStatusUpdate, UserID: user, Subject: "A", Status: "rejected"}),
			wantStatus: StatusSkipped,
		},
		{
			name:       "invalid event",
			msg:        received("r7", sqs.Event{Type: sqs.EventSystemAlert, Message: "no user"}),
			wantStatus: StatusInvalid,
			check: func(t *testing.T, d *MockDispatcher) {
				if d.alertCalls != 0 {
					t.Error("invalid events must not dispatch")
				}
			},
		},
		{
			name:       "undecodable body",
			msg:        sqs.Received{ReceiptHandle: "r8", Err: errors.New("invalid message format")},
			wantStatus: StatusInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &MockSource{}
			d := &MockDispatcher{created: tt.created}
			l := New(source, d, Config{}, zap.NewNop())

			if got := l.Handle(context.Background(), tt.msg); got != tt.wantStatus {
				t.Errorf("expected status %s, got %s", tt.wantStatus, got)
			}
			if len(source.deleted) != 1 || source.deleted[0] != tt.msg.ReceiptHandle {
				t.Errorf("message should be deleted exactly once, got %v", source.deleted)
			}
			if tt.check != nil {
				tt.check(t, d)
			}
		})
	}
}

func TestHandle_DeleteFailureIsLogged(t *testing.T) {
	source := &MockSource{deleteErr: errors.New("queue unavailable")}
	d := &MockDispatcher{created: true}
	l := New(source, d, Config{}, zap.NewNop())

	status := l.Handle(context.Background(), received("r1", sqs.Event{
		Type: sqs.EventSystemAlert, UserID: uuid.NewString(), Message: "x",
	}))
	if status != StatusDispatched {
		t.Errorf("expected dispatched, got %s", status)
	}
}

func TestHandle_DeletesAfterShutdownCancel(t *testing.T) {
	source := &MockSource{}
	dispatcher := &MockDispatcher{created: true}
	l := New(source, dispatcher, Config{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	msg := sqs.Received{
		Event:         sqs.Event{ID: "evt-1", Type: sqs.EventSystemAlert, UserID: uuid.NewString(), Message: "disk full"},
		ReceiptHandle: "r1",
	}
	if got := l.Handle(ctx, msg); got != StatusDispatched {
		t.Fatalf("expected %s, got %s", StatusDispatched, got)
	}
	if source.deletedCount() != 1 {
		t.Fatal("dispatched message should be deleted")
	}
	if source.deleteCtxErr != nil {
		t.Errorf("delete ran on a cancelled context: %v", source.deleteCtxErr)
	}
}

func TestStart_ProcessesUntilCancelled(t *testing.T) {
	user := uuid.NewString()
	source := &MockSource{batches: [][]sqs.Received{
		{
			received("a", sqs.Event{Type: sqs.EventStatusUpdate, UserID: user, Subject: "A", Status: "approved"}),
			received("b", sqs.Event{Type: sqs.EventAnnouncement, Message: "hello"}),
		},
		{
			received("c", sqs.Event{Type: sqs.EventSystemAlert, UserID: user, Message: "x"}),
		},
	}}
	d := &MockDispatcher{created: true}
	l := New(source, d, Config{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Start(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for source.deletedCount() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("listener did not stop after cancel")
	}

	if got := source.deletedCount(); got != 3 {
		t.Errorf("expected 3 deleted messages, got %d", got)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.statusCalls != 1 || d.alertCalls != 1 || len(d.broadcasts) != 1 {
		t.Errorf("unexpected dispatch calls: %+v", d)
	}
}

func TestStart_BacksOffOnReceiveError(t *testing.T) {
	source := &MockSource{receiveErr: errors.New("queue unavailable")}
	l := New(source, &MockDispatcher{}, Config{ErrorBackoff: time.Hour}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Start(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	<-done

	source.mu.Lock()
	defer source.mu.Unlock()
	if source.received != 1 {
		t.Errorf("expected a single receive before backing off, got %d", source.received)
	}
}
