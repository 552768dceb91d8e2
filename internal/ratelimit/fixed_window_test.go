package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newLimiter(t *testing.T, mr *miniredis.Miniredis, limit int, window time.Duration) *FixedWindowLimiter {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter, err := NewFixedWindowLimiter(client, "test:ratelimit", limit, window)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	return limiter
}

func TestFixedWindowLimiterRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter := newLimiter(t, mr, 2, time.Minute)
	base := time.Date(2025, 3, 1, 10, 0, 15, 0, time.UTC)
	limiter.now = func() time.Time { return base }
	ctx := context.Background()

	if !limiter.Allow(ctx, "ip-1").Allowed {
		t.Fatalf("first request should pass")
	}
	if !limiter.Allow(ctx, "ip-1").Allowed {
		t.Fatalf("second request should pass")
	}
	d := limiter.Allow(ctx, "ip-1")
	if d.Allowed {
		t.Fatalf("third request should be blocked")
	}
	if d.RetryAfter != 45*time.Second {
		t.Fatalf("retry after = %v, want 45s", d.RetryAfter)
	}
	if !limiter.Allow(ctx, "ip-2").Allowed {
		t.Fatalf("other keys keep their own quota")
	}

	limiter.now = func() time.Time { return base.Add(time.Minute) }
	if !limiter.Allow(ctx, "ip-1").Allowed {
		t.Fatalf("next window should reset the quota")
	}
}

func TestFixedWindowLimiterRedisFailClosed(t *testing.T) {
	mr := miniredis.RunT(t)
	limiter := newLimiter(t, mr, 1, time.Second)
	mr.Close()
	if limiter.Allow(context.Background(), "ip-1").Allowed {
		t.Fatalf("limiter should fail closed on redis errors")
	}
}

func TestFixedWindowLimiterRequiresClient(t *testing.T) {
	limiter, err := NewFixedWindowLimiter(nil, "test:ratelimit", 1, time.Second)
	if err == nil || limiter != nil {
		t.Fatalf("expected constructor error for nil client")
	}
}

func TestNilLimiterAllows(t *testing.T) {
	var limiter *FixedWindowLimiter
	if !limiter.Allow(context.Background(), "k").Allowed {
		t.Fatalf("nil limiter should allow")
	}
}
