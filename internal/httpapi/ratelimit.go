package httpapi

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// serviceLimiter keeps one token bucket per service so a noisy dashboard
// cannot hammer a single vendor through the check endpoint.
type serviceLimiter struct {
	interval time.Duration
	burst    int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newServiceLimiter(interval time.Duration, burst int) *serviceLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &serviceLimiter{
		interval: interval,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// allow reports whether a request for service may proceed, and otherwise how
// long until a token is available.
func (l *serviceLimiter) allow(service string) (time.Duration, bool) {
	if l == nil || l.interval <= 0 {
		return 0, true
	}

	l.mu.Lock()
	limiter, ok := l.limiters[service]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(l.interval), l.burst)
		l.limiters[service] = limiter
	}
	l.mu.Unlock()

	now := time.Now()
	reservation := limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return l.interval, false
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return delay, false
	}
	return 0, true
}
