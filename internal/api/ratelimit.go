package api

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nerrad567/sessiond/internal/infrastructure/config"
)

// Idle buckets are dropped after bucketTTL; the sweep runs every sweepInterval.
const (
	bucketTTL     = 5 * time.Minute
	sweepInterval = time.Minute
)

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// ipRateLimiter is a token bucket per client IP.
type ipRateLimiter struct {
	enabled bool
	limit   rate.Limit
	burst   int
	now     func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

func newIPRateLimiter(cfg config.RateLimitConfig) *ipRateLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.RequestsPerMinute
	}
	return &ipRateLimiter{
		enabled: cfg.Enabled && cfg.RequestsPerMinute > 0,
		limit:   rate.Limit(float64(cfg.RequestsPerMinute) / time.Minute.Seconds()),
		burst:   burst,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// allow consumes one token from ip's bucket.
func (l *ipRateLimiter) allow(ip string) bool {
	if !l.enabled {
		return true
	}
	if ip == "" {
		ip = "unknown"
	}

	now := l.now()
	l.mu.Lock()
	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[ip] = b
	}
	b.seen = now
	l.mu.Unlock()

	return b.lim.AllowN(now, 1)
}

// sweep removes buckets idle for longer than bucketTTL.
func (l *ipRateLimiter) sweep() {
	cutoff := l.now().Add(-bucketTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, b := range l.buckets {
		if b.seen.Before(cutoff) {
			delete(l.buckets, ip)
		}
	}
}

// sweepLoop runs sweep periodically until the context is cancelled.
func (l *ipRateLimiter) sweepLoop(ctx context.Context) {
	if !l.enabled {
		return
	}
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *ipRateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
