// Package app wires the order and payment services: configuration, storage,
// upstream clients, HTTP routing and graceful shutdown.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/marketplace-checkout/internal/handler"
	"github.com/xenking/marketplace-checkout/internal/storage/postgres"
	"github.com/xenking/marketplace-checkout/internal/storage/redis"
	"github.com/xenking/marketplace-checkout/pkg/health"
	"github.com/xenking/marketplace-checkout/pkg/httpmiddleware"
)

// serverConfig is the HTTP part of a service configuration.
type serverConfig struct {
	name      string
	addr      string
	jwtSecret string
	leeway    time.Duration
	rateLimit RateLimitConfig
	cors      CORSConfig
	graceful  GracefulConfig
}

// infra holds the connections shared by a service's components.
type infra struct {
	pool   *pgxpool.Pool
	redis  *goredis.Client
	health *health.Health
}

// openInfra connects to PostgreSQL and, when configured, Redis, applies the
// schema and registers readiness checks for both.
func openInfra(ctx context.Context, databaseURL string, rc RedisConfig) (*infra, func(), error) {
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return nil, nil, errors.Wrap(err, "create db pool")
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, errors.Wrap(err, "run migrations")
	}

	h := health.New()
	h.AddReadinessCheck("postgres", 5*time.Second, pool.Ping)
	h.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	h.AddLivenessCheck("gc-pause", time.Second, health.GCMaxPauseCheck(5*time.Second))

	in := &infra{pool: pool, health: h}
	closeAll := func() { pool.Close() }

	if rc.Addr != "" {
		rdb, err := redis.NewClient(ctx, rc.Addr, rc.Password, rc.DB)
		if err != nil {
			pool.Close()
			return nil, nil, errors.Wrap(err, "connect redis")
		}
		h.AddReadinessCheck("redis", 2*time.Second, redis.Ping(rdb))
		in.redis = rdb
		closeAll = func() {
			_ = rdb.Close()
			pool.Close()
		}
	}
	return in, closeAll, nil
}

// revocations returns the token revocation list, or nil without Redis.
func (in *infra) revocations() handler.RevocationList {
	if in.redis == nil {
		return nil
	}
	return redis.NewRevocations(in.redis, redis.RevocationPrefix)
}

// newRouter builds the chi router shared by both services: health probes
// are public, everything mount registers requires a bearer token and is
// rate limited per caller.
func newRouter(
	ctx context.Context,
	lg *zap.Logger,
	m *app.Telemetry,
	cfg serverConfig,
	in *infra,
	mount func(r chi.Router),
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.cors.Origins,
			AllowHeaders:     []string{"Content-Type", "Authorization", httpmiddleware.RequestIDHeader},
			ExposeHeaders:    []string{httpmiddleware.RequestIDHeader, "X-RateLimit-Remaining", "Retry-After"},
			AllowCredentials: cfg.cors.AllowCredentials,
			MaxAge:           24 * time.Hour,
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Instrument(cfg.name, m),
		httpmiddleware.Labeler(httpmiddleware.ChiRoute),
		httpmiddleware.LogRequests(httpmiddleware.ChiRoute),
	)
	in.health.Mount(r)

	auth := handler.NewAuthenticator([]byte(cfg.jwtSecret), in.revocations(), cfg.leeway)
	r.Group(func(r chi.Router) {
		r.Use(
			auth.Middleware,
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:     cfg.rateLimit.Max,
				Window:  cfg.rateLimit.Window,
				KeyFunc: httpmiddleware.CallerKey(handler.CallerID),
			}),
		)
		mount(r)
	})
	return r
}

// serve runs the HTTP server until ctx is done, then drains: readiness goes
// false, the server waits ReadinessDelay for load balancers to notice, and
// in-flight requests get ShutdownTimeout to finish.
func serve(ctx context.Context, lg *zap.Logger, cfg serverConfig, h *health.Health, routes http.Handler) error {
	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.addr,
		Handler:           routes,
	}

	h.Start(ctx, 10*time.Second)
	h.SetReady(true)

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		h.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.graceful.ReadinessDelay))
		time.Sleep(cfg.graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		h.Stop()
	}()

	lg.Info("Server listening", zap.String("service", cfg.name), zap.String("addr", cfg.addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
