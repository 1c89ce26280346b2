package frontend

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loomcloud/loom/internal/config"
	"github.com/loomcloud/loom/internal/metrics"
)

type flagReadiness struct {
	v atomic.Bool
}

func (f *flagReadiness) ShuttingDown() bool { return f.v.Load() }

func testConfig() *config.Config {
	return &config.Config{Host: "127.0.0.1", LogFormat: "text"}
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	s := NewServer(testConfig())
	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body.Status)
}

func TestReadyEndpoint(t *testing.T) {
	t.Parallel()

	ready := &flagReadiness{}
	s := NewServer(testConfig(), WithReadiness(ready))
	router := s.router()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body readyResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Ready)
	assert.Empty(t, body.Reason)

	ready.v.Store(true)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Ready)
	assert.Equal(t, "shutting_down", body.Reason)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	registry := metrics.NewRegistry(metrics.NewCollector("test", nil, nil))
	s := NewServer(testConfig(), WithRegistry(registry))

	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "loom_info")
	assert.Contains(t, rec.Body.String(), "loom_uptime_seconds")
}

func TestMetricsRouteAbsentWithoutRegistry(t *testing.T) {
	t.Parallel()

	s := NewServer(testConfig())
	rec := httptest.NewRecorder()
	s.router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerLifecycle(t *testing.T) {
	t.Parallel()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ready := &flagReadiness{}
	s := NewServer(testConfig(), WithListener(l), WithReadiness(ready))
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))

	url := "http://" + s.Addr() + "/ready"
	rsp, err := http.Get(url)
	require.NoError(t, err)
	_ = rsp.Body.Close()
	assert.Equal(t, http.StatusOK, rsp.StatusCode)

	ready.v.Store(true)
	rsp, err = http.Get(url)
	require.NoError(t, err)
	_ = rsp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, rsp.StatusCode)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(shutdownCtx))

	_, err = http.Get(url)
	assert.Error(t, err)
}
