package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(buf *bytes.Buffer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	log := New(Config{Level: slog.LevelDebug, Format: "json", Output: buf})

	router := gin.New()
	router.Use(RequestLoggingMiddleware(log))
	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, RequestIDFrom(c.Request.Context()))
	})
	return router
}

func TestRequestLoggingMiddlewareReusesRequestID(t *testing.T) {
	var buf bytes.Buffer
	router := newTestRouter(&buf)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, "req-123", rec.Body.String())
	assert.Equal(t, "req-123", rec.Header().Get(RequestIDHeader))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var completed map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &completed))
	assert.Equal(t, "request completed", completed["msg"])
	assert.Equal(t, "req-123", completed["request_id"])
	assert.Equal(t, float64(http.StatusOK), completed["status"])
}

func TestRequestLoggingMiddlewareGeneratesRequestID(t *testing.T) {
	var buf bytes.Buffer
	router := newTestRouter(&buf)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))

	generated := rec.Header().Get(RequestIDHeader)
	assert.Len(t, generated, 36)
	assert.Equal(t, generated, rec.Body.String())
}

func TestFromConfig(t *testing.T) {
	t.Setenv("APP_ENV", "")
	cfg := FromConfig("warn", "")
	assert.Equal(t, "text", cfg.Format)
	assert.Equal(t, "WARN", cfg.Level.String())

	t.Setenv("APP_ENV", "production")
	assert.Equal(t, "json", FromConfig("info", "text").Format)
}
