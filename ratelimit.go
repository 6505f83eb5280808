package sambung

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter is the per-key admission contract. Allow reports whether one more
// call under key may proceed, Remaining how many admissions the key has left
// in the current window, and Reset clears the key so admission resumes
// immediately. Implementations are safe for concurrent use.
type Limiter interface {
	Allow(key string) bool
	Remaining(key string) int
	Reset(key string)
}

type fixedWindow struct {
	start time.Time
	count int
}

// FixedWindowLimiter admits at most RequestsPerWindow calls per key within
// each TimeWindow. The counter lazily resets on the first access after the
// window elapses.
type FixedWindowLimiter struct {
	mu      sync.Mutex
	config  LimiterConfig
	windows map[string]*fixedWindow
}

// NewFixedWindowLimiter creates a fixed-window limiter, applying defaults for
// zero config fields.
func NewFixedWindowLimiter(config LimiterConfig) *FixedWindowLimiter {
	defaults := DefaultLimiterConfig()
	if config.RequestsPerWindow <= 0 {
		config.RequestsPerWindow = defaults.RequestsPerWindow
	}
	if config.TimeWindow <= 0 {
		config.TimeWindow = defaults.TimeWindow
	}

	return &FixedWindowLimiter{
		config:  config,
		windows: make(map[string]*fixedWindow),
	}
}

// Allow admits one call under key if the current window has quota left.
func (l *FixedWindowLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.current(key, time.Now())
	if w.count >= l.config.RequestsPerWindow {
		return false
	}
	w.count++
	return true
}

// Remaining returns how many admissions key has left in its current window.
func (l *FixedWindowLimiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.current(key, time.Now())
	remaining := l.config.RequestsPerWindow - w.count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset clears key's counter.
func (l *FixedWindowLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
}

// current returns key's window, starting a fresh one when none exists or the
// previous window elapsed. Caller holds the lock.
func (l *FixedWindowLimiter) current(key string, now time.Time) *fixedWindow {
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.config.TimeWindow {
		w = &fixedWindow{start: now}
		l.windows[key] = w
	}
	return w
}

// TokenBucketLimiter is a smooth admission alternative to the fixed window:
// each key gets a token bucket refilled at RequestsPerWindow per TimeWindow
// with burst capacity RequestsPerWindow, so admission spreads across the
// window instead of clustering at its start.
type TokenBucketLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[string]*rate.Limiter
}

// NewTokenBucketLimiter creates a token-bucket limiter, applying defaults for
// zero config fields.
func NewTokenBucketLimiter(config LimiterConfig) *TokenBucketLimiter {
	defaults := DefaultLimiterConfig()
	if config.RequestsPerWindow <= 0 {
		config.RequestsPerWindow = defaults.RequestsPerWindow
	}
	if config.TimeWindow <= 0 {
		config.TimeWindow = defaults.TimeWindow
	}

	return &TokenBucketLimiter{
		limit:   rate.Limit(float64(config.RequestsPerWindow) / config.TimeWindow.Seconds()),
		burst:   config.RequestsPerWindow,
		buckets: make(map[string]*rate.Limiter),
	}
}

// Allow admits one call under key if a token is available.
func (l *TokenBucketLimiter) Allow(key string) bool {
	return l.bucket(key).Allow()
}

// Remaining returns the whole tokens currently available for key.
func (l *TokenBucketLimiter) Remaining(key string) int {
	tokens := int(l.bucket(key).Tokens())
	if tokens < 0 {
		return 0
	}
	return tokens
}

// Reset discards key's bucket so it refills to full burst.
func (l *TokenBucketLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}

func (l *TokenBucketLimiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[key] = b
	}
	return b
}
