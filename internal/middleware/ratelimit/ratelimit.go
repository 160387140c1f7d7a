// Package ratelimit implements a per-key sliding-window log limiter.
//
// A key may perform at most Limit operations in any rolling Window. Allow
// rejects work beyond the limit; Reserve instead books the earliest free slot
// and returns how long the caller must wait for it, so deferred work is never
// dropped.
package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Limiter tracks the timestamps of recent operations per key.
type Limiter struct {
	mu           sync.Mutex
	clients      map[string][]time.Time
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
	hits         atomic.Int64

	limit           int
	window          time.Duration
	cleanupInterval time.Duration
	now             func() time.Time
}

// Config holds rate limiter configuration
type Config struct {
	Limit           int
	Window          time.Duration
	CleanupInterval time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// DefaultConfig returns the recurring-processing throttle: 10 per minute.
func DefaultConfig() Config {
	return Config{
		Limit:           10,
		Window:          time.Minute,
		CleanupInterval: 5 * time.Minute,
	}
}

// NewLimiter creates a limiter and starts its cleanup goroutine.
func NewLimiter(config Config) *Limiter {
	def := DefaultConfig()
	if config.Limit <= 0 {
		config.Limit = def.Limit
	}
	if config.Window <= 0 {
		config.Window = def.Window
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	rl := &Limiter{
		clients:         make(map[string][]time.Time),
		stopCleanup:     make(chan struct{}),
		limit:           config.Limit,
		window:          config.Window,
		cleanupInterval: config.CleanupInterval,
		now:             config.Now,
	}
	go rl.startCleanup()
	return rl
}

// prune drops entries that left the window. Caller holds mu.
func (rl *Limiter) prune(key string, now time.Time) []time.Time {
	entries := rl.clients[key]
	cutoff := now.Add(-rl.window)
	i := 0
	for i < len(entries) && !entries[i].After(cutoff) {
		i++
	}
	entries = entries[i:]
	if len(entries) == 0 {
		delete(rl.clients, key)
		return nil
	}
	rl.clients[key] = entries
	return entries
}

// Allow records an operation for key if the window has room.
func (rl *Limiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	entries := rl.prune(key, now)
	if len(entries) >= rl.limit {
		rl.hits.Add(1)
		return false
	}
	rl.clients[key] = append(entries, now)
	return true
}

// Reserve books the earliest slot at which key may run one more operation
// and returns how long to wait until then. Zero means run now.
func (rl *Limiter) Reserve(key string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	entries := rl.prune(key, now)
	slot := now
	if len(entries) >= rl.limit {
		rl.hits.Add(1)
		slot = entries[len(entries)-rl.limit].Add(rl.window)
	}
	rl.clients[key] = append(entries, slot)
	return slot.Sub(now)
}

// RetryAfter is how long until key could run again without waiting.
func (rl *Limiter) RetryAfter(key string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	entries := rl.prune(key, now)
	if len(entries) < rl.limit {
		return 0
	}
	return entries[len(entries)-rl.limit].Add(rl.window).Sub(now)
}

func (rl *Limiter) startCleanup() {
	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *Limiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key := range rl.clients {
		rl.prune(key, now)
	}
}

// ActiveClients returns the number of currently tracked keys
func (rl *Limiter) ActiveClients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Stop gracefully shuts down the rate limiter cleanup goroutine
func (rl *Limiter) Stop() {
	rl.shutdownOnce.Do(func() {
		close(rl.stopCleanup)
	})
}

// Metrics for monitoring rate limit behaviour.
type Metrics struct {
	TotalHits   int64
	ClientCount int64
}

func (rl *Limiter) GetMetrics() Metrics {
	return Metrics{
		TotalHits:   rl.hits.Load(),
		ClientCount: int64(rl.ActiveClients()),
	}
}

// Middleware rejects requests whose key is over the limit. Requests with an
// empty key pass through untouched.
func (rl *Limiter) Middleware(extractKey func(*http.Request) string, onLimit func(http.ResponseWriter, *http.Request, time.Duration)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := extractKey(r)
			if key == "" || rl.Allow(key) {
				next.ServeHTTP(w, r)
				return
			}

			retry := rl.RetryAfter(key)
			if onLimit != nil {
				onLimit(w, r, retry)
				return
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
		})
	}
}
