package common

import (
	"log"
	"strconv"
	"sync"
	"time"
)

// RateLimiter tracks request-weight usage reported by the exchange.
type RateLimiter struct {
	usedWeight    int
	limit         int
	lastReset     time.Time
	resetInterval time.Duration
	warnFn        func(used, limit int, pct float64)
	mu            sync.RWMutex
}

// NewRateLimiter creates a weight tracker.
// limit: maximum weight allowed per window (2400/min for USDT-M futures)
func NewRateLimiter(limit int, resetInterval time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:         limit,
		resetInterval: resetInterval,
		lastReset:     time.Now(),
	}
}

// SetWarnFunc installs a callback invoked when usage crosses 80%.
func (rl *RateLimiter) SetWarnFunc(fn func(used, limit int, pct float64)) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.warnFn = fn
}

// UpdateFromHeader updates the used weight from a response header value.
func (rl *RateLimiter) UpdateFromHeader(headerValue string) {
	if headerValue == "" {
		return
	}
	weight, err := strconv.Atoi(headerValue)
	if err != nil {
		return
	}

	rl.mu.Lock()
	if time.Since(rl.lastReset) >= rl.resetInterval {
		rl.usedWeight = 0
		rl.lastReset = time.Now()
	}
	rl.usedWeight = weight
	warnFn := rl.warnFn
	limit := rl.limit
	rl.mu.Unlock()

	pct := float64(weight) / float64(limit) * 100
	if pct >= 95 {
		log.Printf("rate limit critical: %d/%d (%.1f%%) - approaching ban threshold", weight, limit, pct)
	} else if pct >= 80 {
		log.Printf("rate limit warning: %d/%d (%.1f%%)", weight, limit, pct)
	}
	if pct >= 80 && warnFn != nil {
		warnFn(weight, limit, pct)
	}
}

// Usage returns current usage information.
func (rl *RateLimiter) Usage() (used int, limit int, percentage float64) {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	if time.Since(rl.lastReset) >= rl.resetInterval {
		return 0, rl.limit, 0
	}
	return rl.usedWeight, rl.limit, float64(rl.usedWeight) / float64(rl.limit) * 100
}

// ShouldDelay returns true if the next request should be deferred.
func (rl *RateLimiter) ShouldDelay() bool {
	_, _, pct := rl.Usage()
	return pct >= 90
}
