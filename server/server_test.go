package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthchat/hearth/config"
	"github.com/hearthchat/hearth/observability"
	"github.com/hearthchat/hearth/ratelimit"
	"github.com/hearthchat/hearth/websocket"
)

func newRoutedServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := &config.Config{
		ListenAddr:            ":0",
		CORSOrigins:           []string{"*"},
		HTTPRequestsPerMinute: 1000,
	}

	promRegistry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(promRegistry)
	registry := websocket.NewRegistry(metrics)
	bridge := websocket.NewBridge(nil, registry, metrics, websocket.BridgeConfig{})

	_, service := newTestHandler(t)
	wsLimiter := ratelimit.NewLocalLimiter()
	t.Cleanup(wsLimiter.Close)
	gateway := websocket.NewGateway(registry, bridge, service.Tokens(), wsLimiter, nil, metrics, websocket.GatewayConfig{
		MessagesPerWindow: 10,
		Window:            time.Minute,
		MaxMessageBytes:   1024,
	})

	limiter := ratelimit.NewLocalLimiter()
	t.Cleanup(limiter.Close)

	srv := NewServer(cfg, service, gateway, registry, bridge, limiter, metrics, promRegistry)
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestServerRoutes(t *testing.T) {
	ts := newRoutedServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Limit"))

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Auth endpoints only accept POST.
	resp, err = http.Get(ts.URL + "/api/v1/auth/login")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/api/v1/auth/login", "application/json", strings.NewReader(`{"email":"x@example.com","password":"nope"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
