package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestFrom(ip string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
	r.RemoteAddr = ip + ":4242"
	return r
}

func TestIPRateLimiterPerIP(t *testing.T) {
	l := NewIPRateLimiter(0.001, 2, "slow down")
	h := l.Middleware(okHandler())

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, requestFrom("10.0.0.1"))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, requestFrom("10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.JSONEq(t, `{"success":false,"code":"rate_limited","message":"slow down"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, requestFrom("10.0.0.2"))
	assert.Equal(t, http.StatusOK, rec.Code, "other clients keep their own bucket")
}

func TestIPRateLimiterPrunesIdleEntries(t *testing.T) {
	now := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	l := NewIPRateLimiter(1, 1, "slow down")
	l.now = func() time.Time { return now }

	l.get("10.0.0.1")
	l.get("10.0.0.2")
	assert.Equal(t, 2, l.Tracked())

	now = now.Add(limiterTTL + time.Minute)
	l.get("10.0.0.3")
	assert.Equal(t, 1, l.Tracked())
}

func TestSecurityHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SecurityHeaders(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	h := CORS([]string{"http://localhost:3000"})(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/conversations", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/conversations", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
