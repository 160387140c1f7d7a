package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(t *testing.T, limit int, window time.Duration) (*Limiter, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 2, 16, 0, 0, 0, 0, time.UTC)}
	rl := NewLimiter(Config{Limit: limit, Window: window, Now: clock.Now})
	t.Cleanup(rl.Stop)
	return rl, clock
}

func TestAllowSlidingWindow(t *testing.T) {
	rl, clock := newTestLimiter(t, 4, time.Hour)

	for i := 0; i < 4; i++ {
		if !rl.Allow("u1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
		clock.Advance(10 * time.Minute)
	}
	if rl.Allow("u1") {
		t.Fatal("fifth request within the hour should be rejected")
	}
	if !rl.Allow("u2") {
		t.Fatal("other keys are independent")
	}

	// The first request was at t=0; at t=60m it leaves the window.
	clock.Advance(20 * time.Minute)
	if !rl.Allow("u1") {
		t.Fatal("request after the oldest entry expired should be allowed")
	}
	if rl.Allow("u1") {
		t.Fatal("window is full again")
	}
}

func TestReserveDefersBeyondLimit(t *testing.T) {
	rl, clock := newTestLimiter(t, 10, time.Minute)

	var immediate, deferred int
	var waits []time.Duration
	for i := 0; i < 12; i++ {
		wait := rl.Reserve("owner")
		if wait == 0 {
			immediate++
		} else {
			deferred++
			waits = append(waits, wait)
		}
	}
	if immediate != 10 || deferred != 2 {
		t.Fatalf("immediate=%d deferred=%d, want 10 and 2", immediate, deferred)
	}
	for _, w := range waits {
		if w != time.Minute {
			t.Errorf("deferred wait = %s, want 1m", w)
		}
	}

	// Once the reserved slots arrive the window has room again.
	clock.Advance(time.Minute)
	if wait := rl.Reserve("owner"); wait != 0 {
		t.Errorf("reservation in the next window waited %s", wait)
	}
}

func TestRetryAfter(t *testing.T) {
	rl, clock := newTestLimiter(t, 2, time.Minute)
	rl.Allow("k")
	clock.Advance(20 * time.Second)
	rl.Allow("k")
	if got := rl.RetryAfter("k"); got != 40*time.Second {
		t.Fatalf("RetryAfter = %s, want 40s", got)
	}
	if got := rl.RetryAfter("other"); got != 0 {
		t.Fatalf("RetryAfter for idle key = %s", got)
	}
}

func TestCleanupDropsIdleKeys(t *testing.T) {
	rl, clock := newTestLimiter(t, 2, time.Minute)
	rl.Allow("a")
	rl.Allow("b")
	clock.Advance(2 * time.Minute)
	rl.cleanupStaleEntries()
	if n := rl.ActiveClients(); n != 0 {
		t.Fatalf("ActiveClients = %d after cleanup, want 0", n)
	}
}

func TestMiddleware(t *testing.T) {
	rl, _ := newTestLimiter(t, 1, time.Hour)
	handler := rl.Middleware(func(r *http.Request) string { return r.Header.Get("X-User-ID") }, nil)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusCreated) }))

	do := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if user != "" {
			req.Header.Set("X-User-ID", user)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	if rec := do("u1"); rec.Code != http.StatusCreated {
		t.Fatalf("first request: %d", rec.Code)
	}
	rec := do("u1")
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") == "" {
		t.Fatalf("second request: %d, Retry-After=%q", rec.Code, rec.Header().Get("Retry-After"))
	}
	if rec := do(""); rec.Code != http.StatusCreated {
		t.Fatalf("anonymous request should bypass the limiter: %d", rec.Code)
	}
	if got := rl.GetMetrics().TotalHits; got != 1 {
		t.Fatalf("TotalHits = %d, want 1", got)
	}
}
