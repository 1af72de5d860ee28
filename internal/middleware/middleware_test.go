package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(CorrelationKey))
	})
	r.GET("/panic", func(c *gin.Context) { panic("boom") })
	return r
}

func get(r http.Handler, path string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCorrelationID(t *testing.T) {
	r := newEngine(CorrelationID())

	w := get(r, "/ping")
	generated := w.Header().Get(CorrelationHeader)
	require.NotEmpty(t, generated)
	assert.Equal(t, generated, w.Body.String())

	w = get(r, "/ping", CorrelationHeader, "abc-123")
	assert.Equal(t, "abc-123", w.Header().Get(CorrelationHeader))
	assert.Equal(t, "abc-123", w.Body.String())
}

func TestAuthDisabledWithoutSecret(t *testing.T) {
	r := newEngine(Auth(""))
	assert.Equal(t, http.StatusOK, get(r, "/ping").Code)
}

func TestAuthRejectsMalformedHeader(t *testing.T) {
	r := newEngine(Auth("secret"))
	for _, h := range []string{"token", "Bearer", "Basic dXNlcjpwYXNz"} {
		w := get(r, "/ping", "Authorization", h)
		assert.Equal(t, http.StatusUnauthorized, w.Code, h)
	}
}

func TestRecovery(t *testing.T) {
	r := newEngine(Recovery())
	w := get(r, "/panic")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_SERVER_ERROR")
}

func TestRateLimitPerClient(t *testing.T) {
	r := newEngine(RateLimit(0.001, 2))

	assert.Equal(t, http.StatusOK, get(r, "/ping").Code)
	assert.Equal(t, http.StatusOK, get(r, "/ping").Code)
	w := get(r, "/ping")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "RATE_LIMITED")

	other := httptest.NewRequest(http.MethodGet, "/ping", nil)
	other.RemoteAddr = "10.0.0.9:1234"
	w = httptest.NewRecorder()
	r.ServeHTTP(w, other)
	assert.Equal(t, http.StatusOK, w.Code, "buckets are per client")
}

func TestRateLimitDisabled(t *testing.T) {
	r := newEngine(RateLimit(0, 0))
	for i := 0; i < 20; i++ {
		require.Equal(t, http.StatusOK, get(r, "/ping").Code)
	}
}
