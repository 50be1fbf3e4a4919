package internal

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiter_AllowsBurstThenLimits(t *testing.T) {
	limiter := NewRateLimiter(3, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !limiter.allow("1.2.3.4") {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if limiter.allow("1.2.3.4") {
		t.Fatal("fourth request within the window should be limited")
	}
	if !limiter.allow("5.6.7.8") {
		t.Fatal("other IPs must have their own bucket")
	}

	// One token is refilled every window/limit
	now = now.Add(20 * time.Second)
	if !limiter.allow("1.2.3.4") {
		t.Fatal("request after refill should be allowed")
	}
}

func TestRateLimiter_CleanupRemovesIdleVisitors(t *testing.T) {
	limiter := NewRateLimiter(10, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	limiter.allow("192.168.1.100")
	now = now.Add(2 * time.Minute)
	limiter.allow("192.168.1.200")

	limiter.Cleanup()

	if _, exists := limiter.visitors["192.168.1.100"]; exists {
		t.Error("idle visitor should have been removed")
	}
	if _, exists := limiter.visitors["192.168.1.200"]; !exists {
		t.Error("active visitor should not have been removed")
	}
}

func TestRateLimiter_CleanupBySize(t *testing.T) {
	limiter := NewRateLimiter(10, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	for i := 0; i < limiter.cleanupAtSize; i++ {
		limiter.allow(fmt.Sprintf("10.0.%d.%d", i/256, i%256))
	}

	now = now.Add(2 * time.Minute)
	limiter.allow("10.9.9.9")
	limiter.allow("10.9.9.9")

	if len(limiter.visitors) != 1 {
		t.Errorf("expected idle visitors to be dropped once the map exceeded %d, got %d entries",
			limiter.cleanupAtSize, len(limiter.visitors))
	}
}

func TestRateLimiter_CleanupCounterReset(t *testing.T) {
	limiter := NewRateLimiter(10, time.Minute)

	for i := 0; i < limiter.cleanupEvery*15; i++ {
		limiter.allow("192.168.1.1")
	}

	if limiter.requestCount > limiter.cleanupEvery*10 {
		t.Errorf("Counter should be reset, but is %d", limiter.requestCount)
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	limiter := NewRateLimiter(1, time.Minute)
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i, want := range []int{http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodPost, "/", http.NoBody)
		req.RemoteAddr = "192.168.1.7:5555"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != want {
			t.Errorf("request %d: expected %d, got %d", i, want, w.Code)
		}
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		remoteAddr string
		want       string
	}{
		{"forwarded chain", "203.0.113.1, 10.0.0.1", "10.0.0.2:1234", "203.0.113.1"},
		{"remote with port", "", "192.168.1.1:8080", "192.168.1.1"},
		{"ipv6 remote", "", "[::1]:8080", "::1"},
		{"remote without port", "", "192.168.1.1", "192.168.1.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := GetClientIP(req); got != tt.want {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
