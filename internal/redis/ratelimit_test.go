package redis

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

func setupTestRateLimiter(t *testing.T, limit int, window time.Duration) *RateLimiter {
	t.Helper()
	client, _ := setupTestRedis(t)
	return NewRateLimiter(client, zap.NewNop(), RateLimitConfig{
		Limit:  limit,
		Window: window,
	})
}

func TestRateLimiter_AllowsWithinLimit(t *testing.T) {
	limiter := setupTestRateLimiter(t, 5, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		result, err := limiter.Allow(ctx, "user:a")
		if err != nil {
			t.Fatalf("request %d failed: %v", i, err)
		}
		if !result.Allowed {
			t.Fatalf("request %d should be allowed", i)
		}
		if result.Limit != 5 {
			t.Errorf("expected limit 5, got %d", result.Limit)
		}
		if result.Remaining != 4-i {
			t.Errorf("request %d: expected remaining %d, got %d", i, 4-i, result.Remaining)
		}
	}
}

func TestRateLimiter_BlocksOverLimit(t *testing.T) {
	limiter := setupTestRateLimiter(t, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := limiter.Allow(ctx, "user:a")
		if err != nil || !result.Allowed {
			t.Fatalf("request %d should be allowed: %v", i, err)
		}
	}

	result, err := limiter.Allow(ctx, "user:a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Allowed {
		t.Fatal("request should be blocked")
	}
	if result.Remaining != 0 {
		t.Errorf("expected remaining 0, got %d", result.Remaining)
	}
	if !result.ResetAt.After(time.Now()) {
		t.Error("reset should be in the future")
	}
}

func TestRateLimiter_SeparateUsers(t *testing.T) {
	limiter := setupTestRateLimiter(t, 2, time.Minute)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		limiter.Allow(ctx, "user:a")
	}

	result, err := limiter.Allow(ctx, "user:b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed {
		t.Fatal("user:b should be allowed")
	}
	if result.Remaining != 1 {
		t.Errorf("expected remaining 1, got %d", result.Remaining)
	}
}

func TestRateLimiter_AllowN(t *testing.T) {
	limiter := setupTestRateLimiter(t, 10, time.Minute)
	ctx := context.Background()

	result, err := limiter.AllowN(ctx, "user:a", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Allowed || result.Remaining != 5 {
		t.Fatalf("expected allowed with 5 remaining, got %+v", result)
	}

	result, _ = limiter.AllowN(ctx, "user:a", 6)
	if result.Allowed {
		t.Fatal("should be blocked")
	}
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	limiter := setupTestRateLimiter(t, 1, 50*time.Millisecond)
	ctx := context.Background()

	if r, _ := limiter.Allow(ctx, "user:a"); !r.Allowed {
		t.Fatal("first request should be allowed")
	}
	if r, _ := limiter.Allow(ctx, "user:a"); r.Allowed {
		t.Fatal("second request inside the window should be blocked")
	}

	time.Sleep(80 * time.Millisecond)

	if r, _ := limiter.Allow(ctx, "user:a"); !r.Allowed {
		t.Error("request after the window should be allowed")
	}
}
