package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/nutrilog/internal/metrics"
)

func TestLogger_RecordsStatusAndRoute(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	reg := prometheus.NewRegistry()

	r := chi.NewRouter()
	r.Use(Logger(logger, metrics.NewHTTP(reg)))
	r.Get("/api/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/items/42", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	out := buf.String()
	assert.Contains(t, out, `"status":418`)
	assert.Contains(t, out, `"bytes":15`)
	assert.Contains(t, out, `"path":"/api/items/42"`)

	families, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range families {
		if mf.GetName() != "http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "route" && l.GetValue() == "/api/items/{id}" {
					found = true
				}
			}
		}
	}
	assert.True(t, found, "request should be counted under the route pattern")
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 3)
	now := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(addr string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/streaks", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusNoContent, call("10.0.0.1:5000"), "burst request %d", i)
	}
	assert.Equal(t, http.StatusTooManyRequests, call("10.0.0.1:5001"))

	// Other clients have their own bucket.
	assert.Equal(t, http.StatusNoContent, call("10.0.0.2:5000"))

	// One second refills one token.
	now = now.Add(time.Second)
	assert.Equal(t, http.StatusNoContent, call("10.0.0.1:5000"))
	assert.Equal(t, http.StatusTooManyRequests, call("10.0.0.1:5000"))
}

func TestRateLimiter_SweepsIdleVisitors(t *testing.T) {
	rl := NewRateLimiter(DefaultRate, DefaultBurst)
	now := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.allow("10.0.0.1")
	rl.allow("10.0.0.2")
	require.Len(t, rl.visitors, 2)

	now = now.Add(visitorTTL + 2*time.Minute)
	rl.allow("10.0.0.3")

	assert.Len(t, rl.visitors, 1)
	assert.Contains(t, rl.visitors, "10.0.0.3")
}
