package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// maxBuckets 超过后整体重置，避免按 IP 无限增长。
const maxBuckets = 10000

// MemoryLimiter 进程内令牌桶，Redis 未配置时使用。
type MemoryLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

func NewMemoryLimiter(perSecond float64, burst int) *MemoryLimiter {
	return &MemoryLimiter{
		buckets: make(map[string]*rate.Limiter),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		now:     time.Now,
	}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	if m.limit <= 0 || m.burst <= 0 {
		return Decision{Allowed: true}, nil
	}
	m.mu.Lock()
	lim, ok := m.buckets[key]
	if !ok {
		if len(m.buckets) >= maxBuckets {
			m.buckets = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(m.limit, m.burst)
		m.buckets[key] = lim
	}
	m.mu.Unlock()

	now := m.now()
	res := lim.ReserveN(now, 1)
	if !res.OK() {
		return Decision{Allowed: false, RetryAfter: time.Second}, nil
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return Decision{Allowed: false, RetryAfter: delay}, nil
	}
	return Decision{Allowed: true}, nil
}
