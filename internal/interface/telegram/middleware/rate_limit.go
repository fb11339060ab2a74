package middleware

import (
	"fmt"
	"sync"
	"time"

	"github.com/outreach-hub/engagement-bot/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITER
// Per-user token bucket in front of the handlers.
// ══════════════════════════════════════════════════════════════════════════════

// RateLimitConfig holds configuration for the rate limiter.
type RateLimitConfig struct {
	// RequestsPerMinute is the refill rate. Zero disables limiting.
	RequestsPerMinute int

	// BurstSize is the bucket capacity.
	BurstSize int

	// IdleTTL drops buckets of users not seen for this long.
	IdleTTL time.Duration

	// Exempt ids are never limited.
	Exempt []shared.UserID

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// DefaultRateLimitConfig returns sensible defaults for rate limiting.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 30,
		BurstSize:         10,
		IdleTTL:           10 * time.Minute,
	}
}

// RateLimitResult represents the result of a rate limit check.
type RateLimitResult struct {
	Allowed    bool
	RetryAfter time.Duration
	// Notify is set on the first rejection of a burst so the user is told
	// once instead of on every dropped message.
	Notify bool
}

// Message returns the text to send when Notify is set.
func (r RateLimitResult) Message() string {
	seconds := int(r.RetryAfter.Round(time.Second).Seconds())
	if seconds < 1 {
		seconds = 1
	}
	return fmt.Sprintf("⏳ Слишком много сообщений. Подождите %d сек. и попробуйте снова.", seconds)
}

// RateLimiter implements per-user rate limiting.
type RateLimiter struct {
	config    RateLimitConfig
	rate      float64 // tokens per second
	mu        sync.Mutex
	buckets   map[shared.UserID]*tokenBucket
	exempt    map[shared.UserID]struct{}
	lastPrune time.Time
}

type tokenBucket struct {
	tokens   float64
	last     time.Time
	notified bool
}

// NewRateLimiter creates a new rate limiter with the given configuration.
func NewRateLimiter(config RateLimitConfig) *RateLimiter {
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.BurstSize <= 0 {
		config.BurstSize = 1
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = DefaultRateLimitConfig().IdleTTL
	}
	rl := &RateLimiter{
		config:  config,
		rate:    float64(config.RequestsPerMinute) / 60.0,
		buckets: make(map[shared.UserID]*tokenBucket),
		exempt:  make(map[shared.UserID]struct{}, len(config.Exempt)),
	}
	for _, id := range config.Exempt {
		rl.exempt[id] = struct{}{}
	}
	return rl
}

// Check consumes one token for id.
func (rl *RateLimiter) Check(id shared.UserID) RateLimitResult {
	if rl.config.RequestsPerMinute <= 0 {
		return RateLimitResult{Allowed: true}
	}
	if _, ok := rl.exempt[id]; ok {
		return RateLimitResult{Allowed: true}
	}

	now := rl.config.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.pruneLocked(now)

	b, ok := rl.buckets[id]
	if !ok {
		b = &tokenBucket{tokens: float64(rl.config.BurstSize), last: now}
		rl.buckets[id] = b
	}

	b.tokens += now.Sub(b.last).Seconds() * rl.rate
	if capacity := float64(rl.config.BurstSize); b.tokens > capacity {
		b.tokens = capacity
	}
	b.last = now

	if b.tokens >= 1 {
		b.tokens--
		b.notified = false
		return RateLimitResult{Allowed: true}
	}

	wait := time.Duration((1 - b.tokens) / rl.rate * float64(time.Second))
	res := RateLimitResult{RetryAfter: wait, Notify: !b.notified}
	b.notified = true
	return res
}

// Tracked returns the number of live buckets.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

func (rl *RateLimiter) pruneLocked(now time.Time) {
	if now.Sub(rl.lastPrune) < rl.config.IdleTTL {
		return
	}
	rl.lastPrune = now
	for id, b := range rl.buckets {
		if now.Sub(b.last) >= rl.config.IdleTTL {
			delete(rl.buckets, id)
		}
	}
}
