package httpmiddleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func limitedServer(cfg RateLimitConfig) (http.Handler, *clock) {
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := newLimiter(cfg)
	l.now = c.now
	return l.middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})), c
}

func hit(h http.Handler, mutate func(r *http.Request)) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	r.RemoteAddr = "10.0.0.1:5000"
	if mutate != nil {
		mutate(r)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func from(addr string) func(r *http.Request) {
	return func(r *http.Request) { r.RemoteAddr = addr }
}

func TestRateLimit_Budget(t *testing.T) {
	h, _ := limitedServer(RateLimitConfig{Max: 3, Window: time.Minute})

	for i, want := range []string{"2", "1", "0"} {
		w := hit(h, nil)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, want, w.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, "1772366460", w.Header().Get("X-RateLimit-Reset"))
	}

	w := hit(h, nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, map[string]any{"code": float64(429), "error": "RateLimited", "message": "rate limit exceeded"}, body)
}

func TestRateLimit_Sliding(t *testing.T) {
	h, c := limitedServer(RateLimitConfig{Max: 2, Window: time.Minute})
	require.Equal(t, http.StatusOK, hit(h, nil).Code)
	require.Equal(t, http.StatusOK, hit(h, nil).Code)

	// Half into the next window the previous one still weighs 1 request.
	c.advance(90 * time.Second)
	assert.Equal(t, http.StatusOK, hit(h, nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(h, nil).Code)

	// Two idle windows reset the key.
	c.advance(2 * time.Minute)
	assert.Equal(t, http.StatusOK, hit(h, nil).Code)
	assert.Equal(t, http.StatusOK, hit(h, nil).Code)
}

func TestRateLimit_Keys(t *testing.T) {
	tests := []struct {
		name   string
		cfg    RateLimitConfig
		first  func(r *http.Request)
		shared func(r *http.Request)
		other  func(r *http.Request)
	}{
		{
			name:   "RemoteAddr",
			first:  from("10.0.0.1:1234"),
			shared: from("10.0.0.1:5678"),
			other:  from("10.0.0.2:1234"),
		},
		{
			name: "ForwardedFor",
			first: func(r *http.Request) {
				r.RemoteAddr = "192.168.1.1:1"
				r.Header.Set("X-Forwarded-For", "203.0.113.50, 70.41.3.18")
			},
			shared: func(r *http.Request) {
				r.RemoteAddr = "192.168.1.2:1"
				r.Header.Set("X-Forwarded-For", "203.0.113.50")
			},
			other: func(r *http.Request) { r.Header.Set("X-Real-IP", "198.51.100.7") },
		},
		{
			name: "Caller",
			cfg: RateLimitConfig{KeyFunc: CallerKey(func(r *http.Request) string {
				return r.Header.Get("X-User")
			})},
			first: func(r *http.Request) { r.Header.Set("X-User", "c1") },
			shared: func(r *http.Request) {
				r.RemoteAddr = "10.9.9.9:1"
				r.Header.Set("X-User", "c1")
			},
			other: nil,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.Max, tt.cfg.Window = 1, time.Minute
			h, _ := limitedServer(tt.cfg)

			assert.Equal(t, http.StatusOK, hit(h, tt.first).Code)
			assert.Equal(t, http.StatusTooManyRequests, hit(h, tt.shared).Code)
			assert.Equal(t, http.StatusOK, hit(h, tt.other).Code)
		})
	}
}

func TestLimiterEvict(t *testing.T) {
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := newLimiter(RateLimitConfig{Max: 1, Window: time.Minute})
	l.now = c.now

	_, _, ok := l.take("a")
	require.True(t, ok)
	c.advance(90 * time.Second)
	_, _, ok = l.take("b")
	require.True(t, ok)

	c.advance(60 * time.Second)
	l.evict()
	assert.NotContains(t, l.windows, "a")
	assert.Contains(t, l.windows, "b")
}
