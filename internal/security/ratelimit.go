package security

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a request exceeds the rate limit.
var ErrRateLimited = errors.New("rate limit exceeded")

// Limiter kinds.
const (
	KindMessage  = "message"
	KindToolCall = "tool_call"
	KindUpload   = "upload"
	KindAuth     = "auth"
)

// RateLimitConfig holds per-minute limits applied to each key (user id or
// remote address). A zero value selects the default; a negative value
// disables the kind.
type RateLimitConfig struct {
	MessagesPerMin     int `yaml:"messages_per_min"`
	ToolCallsPerMin    int `yaml:"tool_calls_per_min"`
	UploadsPerMin      int `yaml:"uploads_per_min"`
	AuthFailuresPerMin int `yaml:"auth_failures_per_min"`
}

func rateLimitConfigDefaults() RateLimitConfig {
	return RateLimitConfig{
		MessagesPerMin:     20,
		ToolCallsPerMin:    60,
		UploadsPerMin:      30,
		AuthFailuresPerMin: 20,
	}
}

// RateLimiter keeps one token bucket per (kind, key) pair. Each bucket
// refills at perMin/60 tokens per second with a burst of perMin.
type RateLimiter struct {
	mu       sync.Mutex
	perMin   map[string]int
	visitors map[visitorKey]*visitor
	now      func() time.Time
}

type visitorKey struct {
	kind string
	key  string
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a rate limiter with the given config.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	d := rateLimitConfigDefaults()
	pick := func(v, def int) int {
		if v == 0 {
			return def
		}
		return v
	}
	return &RateLimiter{
		perMin: map[string]int{
			KindMessage:  pick(cfg.MessagesPerMin, d.MessagesPerMin),
			KindToolCall: pick(cfg.ToolCallsPerMin, d.ToolCallsPerMin),
			KindUpload:   pick(cfg.UploadsPerMin, d.UploadsPerMin),
			KindAuth:     pick(cfg.AuthFailuresPerMin, d.AuthFailuresPerMin),
		},
		visitors: make(map[visitorKey]*visitor),
		now:      time.Now,
	}
}

// Allow consumes one event of kind for key. It returns ErrRateLimited when
// the bucket is empty. Unknown or disabled kinds are always allowed.
func (rl *RateLimiter) Allow(kind, key string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limit, ok := rl.perMin[kind]
	if !ok || limit < 0 {
		return nil
	}

	now := rl.now()
	vk := visitorKey{kind: kind, key: key}
	v, ok := rl.visitors[vk]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(float64(limit)/60), limit)}
		rl.visitors[vk] = v
	}
	v.lastSeen = now

	if !v.limiter.AllowN(now, 1) {
		return ErrRateLimited
	}
	return nil
}

// Sweep drops buckets not used for at least idle and returns how many were
// removed. A dropped bucket is recreated full on next use, so idle must be
// at least one minute to be meaningful.
func (rl *RateLimiter) Sweep(idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-idle)
	removed := 0
	for k, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of live buckets.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}
