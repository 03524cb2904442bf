// Package server assembles the HTTP surface: the auth API, the
// websocket endpoint, health, and metrics.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hearthchat/hearth/auth"
	"github.com/hearthchat/hearth/broker"
	"github.com/hearthchat/hearth/config"
	"github.com/hearthchat/hearth/observability"
	"github.com/hearthchat/hearth/ratelimit"
	"github.com/hearthchat/hearth/websocket"
)

const shutdownTimeout = 15 * time.Second

// Server is the HTTP front of the process. It owns the listener; the
// registry, bridge, and broker are owned by the caller and only
// drained here during shutdown.
type Server struct {
	httpServer *http.Server
	registry   *websocket.Registry
	bridge     *websocket.Bridge
}

// NewServer wires the routes and middleware and returns a server ready
// to Start.
func NewServer(
	cfg *config.Config,
	authService *auth.Service,
	gateway *websocket.Gateway,
	registry *websocket.Registry,
	bridge *websocket.Bridge,
	limiter ratelimit.Limiter,
	metrics *observability.Metrics,
	promRegistry *prometheus.Registry,
) *Server {
	authHandler := newAuthHandler(authService, metrics)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/register", authHandler.register)
	mux.HandleFunc("POST /api/v1/auth/login", authHandler.login)
	mux.HandleFunc("POST /api/v1/auth/google", authHandler.google)
	mux.HandleFunc("POST /api/v1/auth/verify", authHandler.verifyEmail)
	mux.HandleFunc("POST /api/v1/auth/forgot-password", authHandler.forgotPassword)
	mux.HandleFunc("POST /api/v1/auth/reset-password", authHandler.resetPassword)
	mux.HandleFunc("POST /api/v1/auth/resend-email", authHandler.resendEmail)
	mux.HandleFunc("POST /api/v1/auth/logout", authHandler.logout)
	mux.HandleFunc("GET /ws/{room}", gateway.HandleWebSocket)
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))

	handler := requestLogger(
		corsMiddleware(cfg.CORSOrigins,
			ipRateLimit(limiter, cfg.HTTPRequestsPerMinute, time.Minute, mux),
		),
	)

	return &Server{
		httpServer: &http.Server{
			Addr:    cfg.ListenAddr,
			Handler: handler,
		},
		registry: registry,
		bridge:   bridge,
	}
}

// Start runs the listener until Shutdown. It returns only on a
// listener failure.
func (s *Server) Start() error {
	slog.Info("http server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains the process in order: stop accepting requests, close
// every websocket connection, wait for in-flight connection work, stop
// the bridge, then close the broker.
func (s *Server) Shutdown(brokerClient broker.Client) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Info("shutting down http server")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown error", "error", err)
	}

	slog.Info("closing websocket connections")
	s.registry.CloseAll("server shutting down")

	drained := make(chan struct{})
	go func() {
		s.registry.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		slog.Info("connection handlers drained")
	case <-shutdownCtx.Done():
		slog.Warn("shutdown timeout exceeded, abandoning remaining handlers")
	}

	s.bridge.Stop()

	if brokerClient != nil {
		if err := brokerClient.Close(); err != nil {
			slog.Warn("broker close error", "error", err)
		}
	}

	slog.Info("shutdown complete")
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
