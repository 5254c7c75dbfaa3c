// Package security provides rate limiting for the pull protocol and the
// admin query surface.
package security

import (
	"sync"
	"time"
)

// RateLimiter is a token bucket per identifier (PC uid, IP address or API
// key id). Safe for concurrent use.
type RateLimiter struct {
	limiters map[string]*bucketState
	mu       sync.RWMutex

	maxTokens  int           // Bucket capacity
	refillRate time.Duration // Time between token refills

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
}

type bucketState struct {
	tokens     int
	lastRefill time.Time
	mu         sync.Mutex
}

// NewRateLimiter allows maxTokens requests in a burst, refilling one token
// every refillRate. For "n per minute" pass n and time.Minute/n.
func NewRateLimiter(maxTokens int, refillRate time.Duration) *RateLimiter {
	rl := &RateLimiter{
		limiters:    make(map[string]*bucketState),
		maxTokens:   maxTokens,
		refillRate:  refillRate,
		stopCleanup: make(chan struct{}),
	}

	rl.cleanupTicker = time.NewTicker(10 * time.Minute)
	go rl.cleanup()

	return rl
}

// Allow reports whether a request from the identifier may proceed, consuming
// one token when it does.
func (rl *RateLimiter) Allow(identifier string) bool {
	rl.mu.Lock()
	bucket, exists := rl.limiters[identifier]
	if !exists {
		rl.limiters[identifier] = &bucketState{
			tokens:     rl.maxTokens - 1,
			lastRefill: time.Now(),
		}
		rl.mu.Unlock()
		return true
	}
	rl.mu.Unlock()

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	refill := int(time.Since(bucket.lastRefill) / rl.refillRate)
	if refill > 0 {
		bucket.tokens += refill
		if bucket.tokens > rl.maxTokens {
			bucket.tokens = rl.maxTokens
		}
		bucket.lastRefill = time.Now()
	}

	if bucket.tokens > 0 {
		bucket.tokens--
		return true
	}
	return false
}

// Reset clears the state for one identifier.
func (rl *RateLimiter) Reset(identifier string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.limiters, identifier)
}

// cleanup drops buckets inactive for over an hour so the map cannot grow
// with the fleet's churn of IP addresses.
func (rl *RateLimiter) cleanup() {
	for {
		select {
		case <-rl.cleanupTicker.C:
			rl.mu.Lock()
			now := time.Now()
			for id, bucket := range rl.limiters {
				bucket.mu.Lock()
				if now.Sub(bucket.lastRefill) > time.Hour {
					delete(rl.limiters, id)
				}
				bucket.mu.Unlock()
			}
			rl.mu.Unlock()
		case <-rl.stopCleanup:
			return
		}
	}
}

// Stop ends the cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.cleanupTicker.Stop()
	close(rl.stopCleanup)
}

// Lockout tracks repeated authentication failures per identifier and locks
// the identifier out for a fixed duration once the threshold is crossed.
type Lockout struct {
	lockouts map[string]*lockoutState
	mu       sync.RWMutex

	threshold int
	duration  time.Duration
}

type lockoutState struct {
	failedAttempts int
	lockedUntil    time.Time
	lastAttempt    time.Time
	mu             sync.Mutex
}

// NewLockout locks an identifier for duration after threshold failures.
func NewLockout(threshold int, duration time.Duration) *Lockout {
	return &Lockout{
		lockouts:  make(map[string]*lockoutState),
		threshold: threshold,
		duration:  duration,
	}
}

// RecordFailure records one failed attempt and reports whether the
// identifier just became locked. Counters reset after 30 idle minutes.
func (l *Lockout) RecordFailure(identifier string) bool {
	l.mu.Lock()
	state, exists := l.lockouts[identifier]
	if !exists {
		l.lockouts[identifier] = &lockoutState{
			failedAttempts: 1,
			lastAttempt:    time.Now(),
		}
		l.mu.Unlock()
		return false
	}
	l.mu.Unlock()

	state.mu.Lock()
	defer state.mu.Unlock()

	if time.Since(state.lastAttempt) > 30*time.Minute {
		state.failedAttempts = 1
		state.lastAttempt = time.Now()
		return false
	}

	state.failedAttempts++
	state.lastAttempt = time.Now()

	if state.failedAttempts >= l.threshold {
		state.lockedUntil = time.Now().Add(l.duration)
		return true
	}
	return false
}

// IsLocked reports whether the identifier is currently locked out.
func (l *Lockout) IsLocked(identifier string) bool {
	l.mu.RLock()
	state, exists := l.lockouts[identifier]
	l.mu.RUnlock()

	if !exists {
		return false
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if time.Now().After(state.lockedUntil) {
		state.failedAttempts = 0
		state.lockedUntil = time.Time{}
		return false
	}
	return !state.lockedUntil.IsZero()
}

// ResetAttempts clears the failure counter, called on successful
// authentication.
func (l *Lockout) ResetAttempts(identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.lockouts, identifier)
}

// TimeRemaining returns how long the lockout has left, zero when unlocked.
func (l *Lockout) TimeRemaining(identifier string) time.Duration {
	l.mu.RLock()
	state, exists := l.lockouts[identifier]
	l.mu.RUnlock()

	if !exists {
		return 0
	}

	state.mu.Lock()
	defer state.mu.Unlock()

	if state.lockedUntil.IsZero() {
		return 0
	}
	remaining := time.Until(state.lockedUntil)
	if remaining < 0 {
		return 0
	}
	return remaining
}
