// Package app wires the gatehouse server: configuration, logging, stores,
// the session engine, HTTP routes, and the background credential sweep.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"gatehouse/cmd/identity"
	authapi "gatehouse/cmd/internal/auth/api"
	"gatehouse/cmd/internal/auth/session"
	"gatehouse/cmd/internal/authz"
	"gatehouse/cmd/security/password"
)

// App owns the server dependencies and their lifecycle.
type App struct {
	cfg Config
	log *slog.Logger

	registry *prometheus.Registry
	pool     *pgxpool.Pool
	redis    *redis.Client

	sessions *session.Service
	janitor  *session.Janitor
	handler  http.Handler
}

// New builds a fully wired App. Connections opened here are released by
// Close, or by New itself when a later step fails.
func New(ctx context.Context, cfg Config, log *slog.Logger) (_ *App, err error) {
	if log == nil {
		log = slog.Default()
	}
	a := &App{cfg: cfg, log: log, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	keys, err := keyHasher(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.DatabaseURL != "" {
		if a.pool, err = NewDBPool(ctx, cfg); err != nil {
			return nil, err
		}
	}
	principals, err := a.principalStore()
	if err != nil {
		return nil, err
	}
	credentials, err := a.credentialStore(ctx)
	if err != nil {
		return nil, err
	}

	pwCfg, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	dummy, err := pwCfg.DummyHash()
	if err != nil {
		return nil, err
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	codec, err := session.NewCodec(sessCfg)
	if err != nil {
		return nil, err
	}
	sessMetrics, err := session.NewMetrics(a.registry)
	if err != nil {
		return nil, err
	}
	gateMetrics, err := authz.NewMetrics(a.registry)
	if err != nil {
		return nil, err
	}
	httpM, err := newHTTPMetrics(a.registry)
	if err != nil {
		return nil, err
	}

	a.sessions = session.NewService(sessCfg, principals, credentials, codec, pwCfg,
		session.WithLogger(log),
		session.WithMetrics(sessMetrics),
		session.WithKeyHasher(keys),
		session.WithDummyHash(dummy),
	)
	a.janitor = session.NewJanitor(a.sessions, sessCfg.SweepInterval, log)

	apiCfg, err := authapi.LoadConfigFromEnv()
	if err != nil {
		return nil, err
	}
	api := authapi.NewHandler(log, apiCfg, a.sessions, identity.NewService(principals, pwCfg, log),
		authapi.WithGateMetrics(gateMetrics),
	)
	a.handler = a.routes(api, apiCfg.TrustProxy, httpM)

	log.Info("app.ready",
		"token_format", sessCfg.TokenFormat,
		"credential_store", cfg.credentialStore(),
		"db_enabled", a.pool != nil,
		"refresh_key_hmac", keys.Keyed(),
	)
	return a, nil
}

func (a *App) principalStore() (identity.Store, error) {
	if a.pool == nil {
		a.log.Warn("identity.store.memory", "reason", "no database configured")
		return identity.NewMemoryStore(), nil
	}
	return identity.NewPostgresStore(a.pool, identity.WithSchema(a.cfg.DatabaseSchema))
}

func (a *App) credentialStore(ctx context.Context) (session.CredentialStore, error) {
	switch kind := a.cfg.credentialStore(); kind {
	case StoreMemory:
		return session.NewMemoryStore(), nil
	case StorePostgres:
		if a.pool == nil {
			return nil, fmt.Errorf("%w: credential store postgres requires a database", ErrConfig)
		}
		return session.NewPostgresStore(a.pool, a.cfg.DatabaseSchema), nil
	case StoreRedis:
		client, err := NewRedisClient(ctx, a.cfg)
		if err != nil {
			return nil, err
		}
		a.redis = client
		return session.NewRedisStore(client, a.cfg.RedisPrefix), nil
	default:
		return nil, fmt.Errorf("%w: unknown credential store %q", ErrConfig, kind)
	}
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run listens on cfg.HTTPAddr and serves until ctx is done.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("app: listen %s: %w", a.cfg.HTTPAddr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln together with the credential janitor.
// When ctx is done the server drains within cfg.ShutdownTimeout.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: a.cfg.ReadHeaderTimeout,
		ReadTimeout:       a.cfg.ReadTimeout,
		WriteTimeout:      a.cfg.WriteTimeout,
		IdleTimeout:       a.cfg.IdleTimeout,
		MaxHeaderBytes:    a.cfg.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("server.start", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("app: shutdown: %w", err)
		}
		return nil
	})
	g.Go(func() error { return a.janitor.Run(gctx) })

	err := g.Wait()
	a.log.Info("server.stopped")
	return err
}

// Close releases database and redis connections.
func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("redis.close.fail", "err", err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
