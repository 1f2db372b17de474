package client

import (
	"testing"
	"time"
)

func TestToastQueue(t *testing.T) {
	now := time.Unix(1000, 0)
	q := NewToastQueue(2, 5*time.Second)
	q.now = func() time.Time { return now }

	q.Push(note("1", false))
	q.Push(note("2", false))
	q.Push(note("3", false))

	active := q.Active()
	if len(active) != 2 || active[0].ID != "2" || active[1].ID != "3" {
		t.Fatalf("expected oldest evicted, got %+v", active)
	}

	q.Dismiss("2")
	if active := q.Active(); len(active) != 1 || active[0].ID != "3" {
		t.Fatalf("expected only 3 after dismiss, got %+v", active)
	}

	now = now.Add(5 * time.Second)
	if active := q.Active(); len(active) != 0 {
		t.Errorf("expected toasts to expire, got %+v", active)
	}
}

func TestToastQueue_Defaults(t *testing.T) {
	q := NewToastQueue(0, 0)
	if q.limit != defaultToastLimit || q.ttl != defaultToastTTL {
		t.Errorf("unexpected defaults %d / %v", q.limit, q.ttl)
	}
}
