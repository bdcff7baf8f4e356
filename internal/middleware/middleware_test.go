package middleware

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guillaume29200/esport-cms/internal/identity"
	"github.com/Guillaume29200/esport-cms/internal/logging"
	"github.com/Guillaume29200/esport-cms/internal/metrics"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestTracingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWithOutput("test", "info", "json", &buf)

	var seen string
	h := NewTracingMiddleware(logger).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.GetTraceID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/news", nil)
	req.Header.Set(TraceHeader, "trace-abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "trace-abc", seen)
	assert.Equal(t, "trace-abc", rec.Header().Get(TraceHeader))
	assert.Contains(t, buf.String(), `"status":418`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/news", nil))
	assert.NotEmpty(t, rec.Header().Get(TraceHeader), "a trace ID is generated when absent")
}

func TestCORSMiddleware(t *testing.T) {
	h := NewCORSMiddleware([]string{"https://cms.example.com", "https://*.esport.gg"}).Handler(ok)

	tests := []struct {
		origin  string
		allowed bool
	}{
		{"https://cms.example.com", true},
		{"https://eu.esport.gg", true},
		{"https://evil-esport.gg", false},
		{"https://example.com", false},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/news", nil)
		req.Header.Set("Origin", tt.origin)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		got := rec.Header().Get("Access-Control-Allow-Origin") == tt.origin
		assert.Equal(t, tt.allowed, got, "origin %s", tt.origin)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := NewCORSMiddleware([]string{"*"}).Handler(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("preflight should not reach the handler")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/auth/login", nil)
	req.Header.Set("Origin", "https://anywhere.test")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2, logging.NewDiscard())
	h := rl.Handler(ok)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/news", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)

	other := httptest.NewRequest(http.MethodGet, "/news", nil)
	other.RemoteAddr = "10.0.0.2:5000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusOK, rec.Code, "limits are per client")

	assert.Equal(t, 0, rl.Cleanup(time.Hour))
	assert.Equal(t, 2, rl.Cleanup(-time.Second))
}

func TestRequireAuthenticatedAndRole(t *testing.T) {
	member := identity.With(context.Background(), identity.Identity{UserID: "u1", Role: identity.RoleMember})
	admin := identity.With(context.Background(), identity.Identity{UserID: "u2", Role: identity.RoleAdmin})

	serve := func(h http.Handler, ctx context.Context) int {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin", nil).WithContext(ctx))
		return rec.Code
	}

	assert.Equal(t, http.StatusUnauthorized, serve(RequireAuthenticated(ok), context.Background()))
	assert.Equal(t, http.StatusOK, serve(RequireAuthenticated(ok), member))

	adminOnly := RequireAdmin(ok)
	assert.Equal(t, http.StatusUnauthorized, serve(adminOnly, context.Background()))
	assert.Equal(t, http.StatusForbidden, serve(adminOnly, member))
	assert.Equal(t, http.StatusOK, serve(adminOnly, admin))
}

func TestRequireSharedSecret(t *testing.T) {
	h := RequireSharedSecret("X-Webhook-Secret", "s3cret", logging.NewDiscard())(ok)

	send := func(value string) int {
		req := httptest.NewRequest(http.MethodPost, "/premium/webhook", nil)
		if value != "" {
			req.Header.Set("X-Webhook-Secret", value)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("s3cret"))
	assert.Equal(t, http.StatusUnauthorized, send("wrong"))
	assert.Equal(t, http.StatusUnauthorized, send(""))

	closed := RequireSharedSecret("X-Webhook-Secret", "", logging.NewDiscard())(ok)
	rec := httptest.NewRecorder()
	closed.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/premium/webhook", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "empty secret rejects everything")
}

func TestRecover(t *testing.T) {
	h := Recover(logging.NewDiscard())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, strings.Contains(rec.Body.String(), "boom"), "panic text must not leak")
}

func TestMetricsMiddleware(t *testing.T) {
	m := metrics.New()
	h := MetricsMiddleware("cms", m)(ok)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/news/some-slug", nil))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `cms_http_requests_total{method="GET",path="/news",service="cms",status="200"} 1`)
}
