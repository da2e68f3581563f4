package app

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/proxichat/internal/auth"
	redisbroker "github.com/vovakirdan/proxichat/internal/broker/redis"
	"github.com/vovakirdan/proxichat/internal/config"
	"github.com/vovakirdan/proxichat/internal/core"
	"github.com/vovakirdan/proxichat/internal/metrics"
	"github.com/vovakirdan/proxichat/internal/store"
	"github.com/vovakirdan/proxichat/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/proxichat/internal/transport/http"
)

// App wires together store, chat core, relay and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	registry        *core.Registry
	relay           *redisbroker.Relay
	store           store.Store
	log             *zerolog.Logger
}

// JWTConfig derives token settings from the server configuration.
func JWTConfig(cfg *config.Config) *auth.JWTConfig {
	return &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.TokenTTL,
	}
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	jwtConfig := JWTConfig(cfg)
	resolver := auth.NewResolver(jwtConfig, st, logger, m)
	authService := auth.NewService(st, jwtConfig)

	registry := core.NewRegistry(logger, m)

	var (
		relay       *redisbroker.Relay
		broadcaster core.Broadcaster = registry
	)
	if cfg.RedisURL != "" {
		relay, err = redisbroker.New(ctx, cfg.RedisURL, cfg.RedisChannelPrefix, registry, logger, m)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("init relay: %w", err)
		}
		broadcaster = relay
		logger.Info().Str("prefix", cfg.RedisChannelPrefix).Msg("redis relay enabled")
	}

	chats := core.NewService(core.Deps{
		Resolver:    resolver,
		Authority:   core.NewAuthority(st, logger),
		Messages:    st,
		Registry:    registry,
		Broadcaster: broadcaster,
		Pool:        core.NewPool(cfg.WorkerPoolSize, cfg.StoreTimeout),
		Metrics:     m,
		Logger:      logger,
	}, core.Options{
		SessionBuffer:      cfg.SessionBuffer,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		BroadcastTimeout:   cfg.StoreTimeout,
	})

	server := transporthttp.NewServer(transporthttp.Deps{
		Chats:    chats,
		Auth:     authService,
		Resolver: resolver,
		Store:    st,
		Metrics:  m,
	}, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		registry:        registry,
		relay:           relay,
		store:           st,
		log:             logger,
	}, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() stdhttp.Handler {
	return a.server.Handler
}

// Run starts the HTTP server and the relay subscriber and blocks until context
// cancellation or a fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)
	relayErr := make(chan error, 1)

	if a.relay != nil {
		go func() {
			relayErr <- a.relay.Run(ctx)
		}()
	}

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.registry.Close()
		a.cleanup()
		return err
	case err := <-relayErr:
		// Without the subscription no envelope reaches local sessions.
		if err == nil && ctx.Err() == nil {
			err = errors.New("relay subscription ended")
		}
		if err != nil {
			a.log.Error().Err(err).Msg("relay stopped")
		}
		return a.shutdown(err, serverErr)
	case <-ctx.Done():
		return a.shutdown(nil, serverErr)
	}
}

func (a *App) shutdown(cause error, serverErr <-chan error) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by Shutdown; close sessions first.
	a.registry.Close()

	a.log.Info().Msg("shutting down http server")
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.cleanup()
		return errors.Join(cause, err)
	}

	a.cleanup()
	return errors.Join(cause, <-serverErr)
}

// cleanup closes the relay, the database and other resources.
func (a *App) cleanup() {
	if a.relay != nil {
		if err := a.relay.Close(); err != nil && !redisbroker.IsClosed(err) {
			a.log.Warn().Err(err).Msg("failed to close relay")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
