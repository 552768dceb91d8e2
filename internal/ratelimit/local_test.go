package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLocalLimiterPerKeyQuota(t *testing.T) {
	limiter, err := NewLocalLimiter(2, time.Minute)
	if err != nil {
		t.Fatalf("new local limiter: %v", err)
	}
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return base }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if !limiter.Allow(ctx, "ip-1").Allowed {
			t.Fatalf("request %d should pass", i+1)
		}
	}
	d := limiter.Allow(ctx, "ip-1")
	if d.Allowed {
		t.Fatalf("third request should be blocked")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > 30*time.Second {
		t.Fatalf("unexpected retry after %v", d.RetryAfter)
	}
	if !limiter.Allow(ctx, "ip-2").Allowed {
		t.Fatalf("other keys keep their own quota")
	}

	limiter.now = func() time.Time { return base.Add(31 * time.Second) }
	if !limiter.Allow(ctx, "ip-1").Allowed {
		t.Fatalf("token should refill after the interval")
	}
}

func TestLocalLimiterValidation(t *testing.T) {
	if _, err := NewLocalLimiter(0, time.Minute); err == nil {
		t.Fatalf("expected error for zero limit")
	}
	if _, err := NewLocalLimiter(1, 0); err == nil {
		t.Fatalf("expected error for zero window")
	}
	var nilLimiter *LocalLimiter
	if !nilLimiter.Allow(context.Background(), "k").Allowed {
		t.Fatalf("nil limiter should allow")
	}
}
