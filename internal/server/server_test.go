package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"consultancy/api/internal/config"
	"consultancy/api/internal/handlers"
)

func newTestServer() *HTTPServer {
	gin.SetMode(gin.TestMode)
	cfg := &config.AppConfig{
		Environment:      "test",
		HTTP:             config.HTTPConfig{Host: "127.0.0.1", Port: 8080},
		AllowCORSOrigins: []string{"https://app.example.com"},
	}
	set := handlers.NewHandlerSet(handlers.Deps{
		Log:         zerolog.Nop(),
		Environment: cfg.Environment,
		Checks: []handlers.HealthCheck{
			{Name: "database", Ping: func(context.Context) error { return nil }},
		},
	})
	return NewHTTPServer(cfg, zerolog.Nop(), set)
}

func TestServerRoutesHealthThroughMiddleware(t *testing.T) {
	srv := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/api/healthz", nil)
	req.Header.Set("X-Request-Id", "req-123")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-Id"))
	assert.Contains(t, rec.Body.String(), `"database":"ok"`)
}

func TestServerUnknownRouteAndMethod(t *testing.T) {
	srv := newTestServer()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/healthz", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
