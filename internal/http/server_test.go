package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(s *Server, method, path string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	for _, m := range mutate {
		m(req)
	}
	s.Handler.ServeHTTP(rr, req)
	return rr
}

func newTestServer(t *testing.T, cfg ServerConfig) *Server {
	t.Helper()
	s := NewServer(cfg)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, ServerConfig{})

	rr := serve(s, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
}

func TestReadyz(t *testing.T) {
	loggedIn := false
	s := newTestServer(t, ServerConfig{Checks: map[string]Check{
		"session": func(context.Context) error {
			if !loggedIn {
				return errors.New("not logged in")
			}
			return nil
		},
		"storage": func(context.Context) error { return nil },
	}})

	rr := serve(s, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	var body readiness
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "not ready", body.Status)
	assert.Equal(t, "not logged in", body.Checks["session"])
	assert.Equal(t, "ok", body.Checks["storage"])

	loggedIn = true
	rr = serve(s, http.MethodGet, "/readyz")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.Equal(t, "ready", body.Status)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "ledger_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Add(3)

	s := newTestServer(t, ServerConfig{Gatherer: reg})
	rr := serve(s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "ledger_test_total 3")

	without := newTestServer(t, ServerConfig{})
	assert.Equal(t, http.StatusNotFound, serve(without, http.MethodGet, "/metrics").Code)
}

func TestRateLimitPerClient(t *testing.T) {
	s := newTestServer(t, ServerConfig{RequestsPerMinute: 2})

	for i := 0; i < 2; i++ {
		require.Equal(t, http.StatusOK, serve(s, http.MethodGet, "/healthz").Code)
	}
	rr := serve(s, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))

	other := serve(s, http.MethodGet, "/healthz", func(r *http.Request) {
		r.Header.Set("X-Real-IP", "198.51.100.7")
	})
	assert.Equal(t, http.StatusOK, other.Code, "limits are per client")
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := newRateLimiter(10)
	defer rl.stop()

	rl.allow("a")
	rl.allow("b")
	assert.Equal(t, 0, rl.cleanupStaleEntries(time.Now()))
	assert.Equal(t, 2, rl.cleanupStaleEntries(time.Now().Add(staleAfter+time.Second)))
	assert.Empty(t, rl.clients)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.9:5123"
	assert.Equal(t, "203.0.113.9", clientIP(req))
	req.RemoteAddr = "unix"
	assert.True(t, strings.EqualFold(clientIP(req), "unix"))
}
