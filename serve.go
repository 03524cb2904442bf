package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/hearthchat/hearth/auth"
	"github.com/hearthchat/hearth/broker"
	"github.com/hearthchat/hearth/config"
	"github.com/hearthchat/hearth/email"
	"github.com/hearthchat/hearth/oauth"
	"github.com/hearthchat/hearth/observability"
	"github.com/hearthchat/hearth/ratelimit"
	"github.com/hearthchat/hearth/server"
	"github.com/hearthchat/hearth/store"
	"github.com/hearthchat/hearth/websocket"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API and websocket server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	promRegistry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(promRegistry)

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	userStore := store.NewPostgresUserStore(pool)
	tokenStore := store.NewPostgresTokenStore(pool)

	var sender email.Sender = &email.NopSender{}
	if cfg.EmailEnabled() {
		sender = email.NewWebEngageSender(cfg.WebEngageURL, cfg.WebEngageAPIKey, cfg.EmailFrom, cfg.EmailFromName)
	}

	authService := auth.NewService(
		userStore,
		tokenStore,
		auth.NewTokens(cfg.JWTSecret),
		auth.NewArgon2idHasher(),
		sender,
		oauth.NewGoogleVerifier(cfg.GoogleClientID),
		auth.ServiceConfig{
			AccessTokenTTL: cfg.AccessTokenTTL(),
			ResetTokenTTL:  cfg.ResetTokenTTL(),
			PublicURL:      cfg.PublicURL,
		},
	)

	// A failed Redis dial is not fatal: the process runs with local
	// fan-out and in-process rate limiting until the next restart.
	var (
		brokerClient *broker.RedisClient
		wsLimiter    ratelimit.Limiter
	)
	brokerClient, err = broker.NewRedisClient(cfg.RedisAddr)
	if err != nil {
		slog.Warn("redis unavailable, running in local-only mode", "addr", cfg.RedisAddr, "error", err)
		brokerClient = nil
		wsLimiter = ratelimit.NewLocalLimiter()
	} else {
		wsLimiter = ratelimit.NewRedisLimiter(brokerClient.Redis())
	}

	registry := websocket.NewRegistry(metrics)

	var bridgeClient broker.Client
	if brokerClient != nil {
		bridgeClient = brokerClient
	}
	bridge := websocket.NewBridge(bridgeClient, registry, metrics, websocket.BridgeConfig{})
	if brokerClient != nil {
		if err := bridge.Start(ctx); err != nil {
			return err
		}
	}

	authorize := func(ctx context.Context, _, principalID string) bool {
		id, err := uuid.Parse(principalID)
		if err != nil {
			return false
		}
		_, err = userStore.GetByID(ctx, id)
		return err == nil
	}

	gateway := websocket.NewGateway(
		registry,
		bridge,
		authService.Tokens(),
		wsLimiter,
		authorize,
		metrics,
		websocket.GatewayConfig{
			MessagesPerWindow: cfg.WSMessagesPerWindow,
			Window:            cfg.WSWindow(),
			MaxMessageBytes:   cfg.WSMaxMessageBytes,
		},
	)

	httpLimiter := ratelimit.NewLocalLimiter()
	defer httpLimiter.Close()

	srv := server.NewServer(cfg, authService, gateway, registry, bridge, httpLimiter, metrics, promRegistry)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("shutdown signal received", "signal", sig.String())
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	var closer broker.Client
	if brokerClient != nil {
		closer = brokerClient
	}
	srv.Shutdown(closer)
	return nil
}
