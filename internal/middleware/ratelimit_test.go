package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/goleak"
	"golang.org/x/time/rate"

	"github.com/hitoshi/kuzamarket/internal/identity"
)

func testRateConfig() RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    2,
		ListingRate:     rate.Limit(10.0 / 60.0),
		ListingBurst:    1,
		CleanupInterval: time.Minute,
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
}

func requestAs(userID, clientID, remote string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
	if remote != "" {
		req.RemoteAddr = remote
	}
	ctx := req.Context()
	if userID != "" {
		ctx = ContextWithIdentity(ctx, &identity.Identity{UserID: userID})
	}
	if clientID != "" {
		ctx = ContextWithClientID(ctx, clientID)
	}
	return req.WithContext(ctx)
}

func newFrozenLimiter(t *testing.T) *RateLimiter {
	t.Helper()
	rl := NewRateLimiter(testRateConfig())
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	t.Cleanup(rl.Stop)
	return rl
}

func TestRateLimiter_BurstThen429(t *testing.T) {
	rl := newFrozenLimiter(t)
	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestAs("user-1", "", ""))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, w.Code)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestAs("user-1", "", ""))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want 1", got)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Code != "RATE_LIMIT_EXCEEDED" || body.Category != "system" {
		t.Errorf("body = %+v", body)
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	rl := newFrozenLimiter(t)
	handler := rl.GeneralMiddleware()(okHandler())

	for i := 0; i < 3; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), requestAs("user-1", "", ""))
	}

	for _, req := range []*http.Request{
		requestAs("user-2", "", ""),
		requestAs("", "client-a", ""),
		requestAs("", "", "203.0.113.5:5555"),
	} {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", w.Code)
		}
	}
	if got := rl.GeneralLimiterCount(); got != 4 {
		t.Errorf("GeneralLimiterCount = %d, want 4", got)
	}
}

func TestRateLimitKey(t *testing.T) {
	tests := []struct {
		name string
		req  *http.Request
		want string
	}{
		{"user wins", requestAs("u1", "c1", "198.51.100.1:1"), "user:u1"},
		{"client", requestAs("", "c1", "198.51.100.1:1"), "client:c1"},
		{"remote ip", requestAs("", "", "198.51.100.1:1"), "ip:198.51.100.1"},
	}
	for _, tt := range tests {
		if got := rateLimitKey(tt.req); got != tt.want {
			t.Errorf("%s: key = %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestRateLimiter_ListingLimitIsSeparate(t *testing.T) {
	rl := newFrozenLimiter(t)
	general := rl.GeneralMiddleware()(okHandler())
	listing := rl.ListingMiddleware()(okHandler())

	w := httptest.NewRecorder()
	listing.ServeHTTP(w, requestAs("user-1", "", ""))
	if w.Code != http.StatusOK {
		t.Fatalf("first listing status = %d", w.Code)
	}
	w = httptest.NewRecorder()
	listing.ServeHTTP(w, requestAs("user-1", "", ""))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second listing status = %d, want 429", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "6" {
		t.Errorf("Retry-After = %q, want 6", got)
	}

	w = httptest.NewRecorder()
	general.ServeHTTP(w, requestAs("user-1", "", ""))
	if w.Code != http.StatusOK {
		t.Errorf("general status = %d, want 200", w.Code)
	}
}

func TestRateLimiter_CleanupEvictsIdleEntries(t *testing.T) {
	rl := newFrozenLimiter(t)
	handler := rl.GeneralMiddleware()(okHandler())
	handler.ServeHTTP(httptest.NewRecorder(), requestAs("user-1", "", ""))
	rl.listing.allow("user:user-1", rl.now())

	base := rl.now()
	rl.now = func() time.Time { return base.Add(time.Minute) }
	rl.cleanup()
	if rl.GeneralLimiterCount() != 1 || rl.ListingLimiterCount() != 1 {
		t.Fatal("recent entries must survive cleanup")
	}

	rl.now = func() time.Time { return base.Add(3 * time.Minute) }
	rl.cleanup()
	if rl.GeneralLimiterCount() != 0 || rl.ListingLimiterCount() != 0 {
		t.Errorf("counts = %d/%d, want 0/0", rl.GeneralLimiterCount(), rl.ListingLimiterCount())
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	rl := NewRateLimiter(testRateConfig())
	rl.Stop()
	rl.Stop()
}
