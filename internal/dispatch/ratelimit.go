package dispatch

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// OriginLimiter implements origin-based rate limiting, shared by all
// dispatchers so one family cannot starve another's budget per origin.
type OriginLimiter struct {
	visitors map[string]*visitor
	mu       sync.RWMutex
	rps      rate.Limit
	burst    int
	enabled  bool
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewOriginLimiter creates a new origin rate limiter
func NewOriginLimiter(rps int, burst int, enabled bool) *OriginLimiter {
	rl := &OriginLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
		enabled:  enabled,
	}

	// Start cleanup goroutine
	go rl.cleanupVisitors()

	return rl
}

// Allow reports whether the origin is within its request budget.
func (rl *OriginLimiter) Allow(origin string) bool {
	if !rl.enabled {
		return true
	}
	return rl.getVisitor(origin).Allow()
}

// getVisitor returns the rate limiter for an origin
func (rl *OriginLimiter) getVisitor(origin string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[origin]
	if !exists {
		limiter := rate.NewLimiter(rl.rps, rl.burst)
		rl.visitors[origin] = &visitor{limiter: limiter, lastSeen: time.Now()}
		return limiter
	}

	v.lastSeen = time.Now()
	return v.limiter
}

// cleanupVisitors removes old entries every minute
func (rl *OriginLimiter) cleanupVisitors() {
	for {
		time.Sleep(time.Minute)

		rl.mu.Lock()
		for origin, v := range rl.visitors {
			if time.Since(v.lastSeen) > 3*time.Minute {
				delete(rl.visitors, origin)
			}
		}
		rl.mu.Unlock()
	}
}
