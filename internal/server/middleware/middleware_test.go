package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestAuthTokenSources(t *testing.T) {
	h := Auth("k3y", "/health")(okHandler)

	cases := []struct {
		name   string
		setup  func(r *http.Request)
		target string
		want   int
	}{
		{"missing", func(*http.Request) {}, "/api/status", http.StatusUnauthorized},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer k3y") }, "/api/status", http.StatusOK},
		{"header", func(r *http.Request) { r.Header.Set("X-API-Key", "k3y") }, "/api/status", http.StatusOK},
		{"query", func(*http.Request) {}, "/ws?api_key=k3y", http.StatusOK},
		{"wrong", func(r *http.Request) { r.Header.Set("X-API-Key", "nope") }, "/api/status", http.StatusUnauthorized},
		{"public", func(*http.Request) {}, "/health", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tc.target, nil)
			tc.setup(r)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			require.Equal(t, tc.want, w.Code)
		})
	}
}

func TestAuthDisabledWithoutKey(t *testing.T) {
	w := httptest.NewRecorder()
	Auth("")(okHandler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestCORSOnlyReflectsAllowedOrigins(t *testing.T) {
	h := CORS([]string{"https://console.example"})(okHandler)

	r := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	r.Header.Set("Origin", "https://evil.example")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))

	r.Header.Set("Origin", "https://console.example")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, "https://console.example", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	require.Equal(t, "10.0.0.1", clientIP(r))

	r.Header.Set("X-Real-IP", "192.0.2.7")
	require.Equal(t, "192.0.2.7", clientIP(r))

	r.Header.Set("X-Forwarded-For", "198.51.100.3, 10.0.0.2")
	require.Equal(t, "198.51.100.3", clientIP(r))
}

func TestRateLimitPassesWithoutLimiter(t *testing.T) {
	w := httptest.NewRecorder()
	RateLimit(nil, 10, 0, nil)(okHandler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, w.Code)
}
