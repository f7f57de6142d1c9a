package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dkrasnov/serveez/internal/config"
	"github.com/dkrasnov/serveez/internal/runtimectx"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.API.Host = "127.0.0.1"
	cfg.API.Port = 0
	return cfg
}

func TestHealthEndpoint(t *testing.T) {
	rctx, err := runtimectx.New(nil, 16, 10*time.Millisecond)
	require.NoError(t, err)

	srv := New(testConfig(), rctx, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStatsEndpointRequiresAPIKeyWhenConfigured(t *testing.T) {
	rctx, err := runtimectx.New(nil, 16, 10*time.Millisecond)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.API.APIKey = "secret"
	srv := New(cfg, rctx, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestPortsEndpointEmptyWithNoListeners(t *testing.T) {
	rctx, err := runtimectx.New(nil, 16, 10*time.Millisecond)
	require.NoError(t, err)

	srv := New(testConfig(), rctx, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/ports", nil)
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `[]`, rec.Body.String())
}
