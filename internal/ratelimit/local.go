package ratelimit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter decides whether one more attempt for key is within quota.
type Limiter interface {
	Allow(ctx context.Context, key string) Decision
}

const maxLocalKeys = 10000

// LocalLimiter is an in-process token bucket per key, used when no Redis is
// configured. Quotas are not shared between replicas.
type LocalLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// NewLocalLimiter allows limit attempts per window for each key.
func NewLocalLimiter(limit int, window time.Duration) (*LocalLimiter, error) {
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	return &LocalLimiter{
		limit:   rate.Every(window / time.Duration(limit)),
		burst:   limit,
		now:     time.Now,
		buckets: make(map[string]*rate.Limiter),
	}, nil
}

// Allow consumes one token for key.
func (l *LocalLimiter) Allow(_ context.Context, key string) Decision {
	if l == nil {
		return Decision{Allowed: true}
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	now := l.now()
	bucket := l.bucket(key, now)
	r := bucket.ReserveN(now, 1)
	if !r.OK() {
		return Decision{Allowed: false}
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return Decision{Allowed: false, RetryAfter: delay}
	}
	return Decision{Allowed: true}
}

func (l *LocalLimiter) bucket(key string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[key]; ok {
		return b
	}
	if len(l.buckets) >= maxLocalKeys {
		// Full buckets carry no state worth keeping.
		for k, b := range l.buckets {
			if b.TokensAt(now) >= float64(l.burst) {
				delete(l.buckets, k)
			}
		}
	}
	b := rate.NewLimiter(l.limit, l.burst)
	l.buckets[key] = b
	return b
}
