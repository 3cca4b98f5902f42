package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func corsServe(cfg CORSConfig, method, origin string, headers map[string]string) *httptest.ResponseRecorder {
	h := CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	r := httptest.NewRequest(method, "/api/orders", nil)
	if origin != "" {
		r.Header.Set("Origin", origin)
	}
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestCORS_Preflight(t *testing.T) {
	cfg := CORSConfig{
		AllowOrigins: []string{"https://Shop.example.com"},
		AllowHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:       time.Hour,
	}
	w := corsServe(cfg, http.MethodOptions, "https://shop.example.com", map[string]string{
		"Access-Control-Request-Method": "POST",
	})

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://Shop.example.com", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, PATCH, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type, Authorization", w.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "3600", w.Header().Get("Access-Control-Max-Age"))
	assert.ElementsMatch(t,
		[]string{"Origin", "Access-Control-Request-Method", "Access-Control-Request-Headers"},
		w.Header().Values("Vary"))
}

func TestCORS_PreflightMirrorsHeaders(t *testing.T) {
	w := corsServe(CORSConfig{}, http.MethodOptions, "https://a.example", map[string]string{
		"Access-Control-Request-Method":  "PATCH",
		"Access-Control-Request-Headers": "X-Custom",
	})
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "X-Custom", w.Header().Get("Access-Control-Allow-Headers"))
	assert.Empty(t, w.Header().Get("Access-Control-Max-Age"))
}

func TestCORS_DisallowedOrigin(t *testing.T) {
	cfg := CORSConfig{AllowOrigins: []string{"https://shop.example.com"}}

	pre := corsServe(cfg, http.MethodOptions, "https://evil.example", map[string]string{
		"Access-Control-Request-Method": "POST",
	})
	assert.Equal(t, http.StatusNoContent, pre.Code)
	assert.Empty(t, pre.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, pre.Header().Get("Access-Control-Allow-Methods"))

	get := corsServe(cfg, http.MethodGet, "https://evil.example", nil)
	assert.Equal(t, http.StatusOK, get.Code)
	assert.Empty(t, get.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "Origin", get.Header().Get("Vary"))
}

func TestCORS_Actual(t *testing.T) {
	tests := []struct {
		name        string
		cfg         CORSConfig
		origin      string
		allow       string
		credentials string
		vary        bool
	}{
		{name: "Wildcard", origin: "https://a.example", allow: "*"},
		{
			name:        "WildcardWithCredentials",
			cfg:         CORSConfig{AllowOrigins: []string{"*"}, AllowCredentials: true},
			origin:      "https://a.example",
			allow:       "https://a.example",
			credentials: "true",
			vary:        true,
		},
		{
			name:   "Listed",
			cfg:    CORSConfig{AllowOrigins: []string{"https://a.example", "https://b.example"}},
			origin: "https://B.example",
			allow:  "https://b.example",
			vary:   true,
		},
		{
			name: "NoOrigin",
			cfg:  CORSConfig{AllowOrigins: []string{"https://a.example"}},
			vary: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.ExposeHeaders = []string{"X-Request-ID"}
			w := corsServe(tt.cfg, http.MethodGet, tt.origin, nil)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.allow, w.Header().Get("Access-Control-Allow-Origin"))
			assert.Equal(t, tt.credentials, w.Header().Get("Access-Control-Allow-Credentials"))
			if tt.allow != "" {
				assert.Equal(t, "X-Request-ID", w.Header().Get("Access-Control-Expose-Headers"))
			}
			if tt.vary {
				assert.Equal(t, "Origin", w.Header().Get("Vary"))
			} else {
				assert.Empty(t, w.Header().Get("Vary"))
			}
		})
	}
}
