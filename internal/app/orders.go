package app

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	"github.com/xenking/marketplace-checkout/internal/client"
	"github.com/xenking/marketplace-checkout/internal/domain/order"
	"github.com/xenking/marketplace-checkout/internal/handler"
	"github.com/xenking/marketplace-checkout/internal/messaging/kafka"
	"github.com/xenking/marketplace-checkout/internal/storage/postgres"
	"github.com/xenking/marketplace-checkout/internal/storage/redis"
	"github.com/xenking/marketplace-checkout/pkg/health"
)

// RunOrders starts the order service and blocks until ctx is done.
func RunOrders(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *OrdersConfig) error {
	lg.Info("Initializing order service", zap.String("addr", cfg.Addr))

	in, closeInfra, err := openInfra(ctx, cfg.DatabaseURL, cfg.Redis)
	if err != nil {
		return err
	}
	defer closeInfra()

	opts := order.Options{
		LockTTL:           cfg.LockTTL,
		LookupConcurrency: cfg.LookupConcurrency,
		MeterProvider:     m.MeterProvider(),
		TracerProvider:    m.TracerProvider(),
	}
	if in.redis != nil {
		opts.Locker = redis.NewLocker(in.redis, redis.LockPrefix)
	} else {
		lg.Warn("Redis is not configured, checkouts are not serialized per consumer")
	}
	if len(cfg.Kafka.Brokers) > 0 {
		pub := kafka.NewPublisher(kafka.Config{
			Brokers:        cfg.Kafka.Brokers,
			TopicPrefix:    cfg.Kafka.TopicPrefix,
			BatchTimeout:   cfg.Kafka.BatchTimeout,
			PublishTimeout: cfg.Kafka.PublishTimeout,
		}, m.TracerProvider())
		defer func() {
			if err := pub.Close(); err != nil {
				lg.Warn("Failed to close event publisher", zap.Error(err))
			}
		}()
		opts.Publisher = pub
	}

	payments := client.NewPayments(upstream(cfg.Payments))
	carts := client.NewCarts(upstream(cfg.Carts))
	catalog := client.NewCatalog(upstream(cfg.Catalog))
	for _, u := range []struct {
		name string
		cfg  UpstreamConfig
	}{{"payments", cfg.Payments}, {"carts", cfg.Carts}, {"catalog", cfg.Catalog}} {
		in.health.AddReadinessCheck(u.name, u.cfg.Timeout, health.HTTPCheck(http.DefaultClient, u.cfg.URL+"/readyz"))
	}

	svc := order.NewService(payments, carts, catalog, postgres.NewOrderRepository(in.pool), opts)

	srv := serverConfig{
		name:      "order-service",
		addr:      cfg.Addr,
		jwtSecret: cfg.Auth.JWTSecret,
		leeway:    cfg.Auth.Leeway,
		rateLimit: cfg.RateLimit,
		cors:      cfg.CORS,
		graceful:  cfg.Graceful,
	}
	routes := newRouter(ctx, lg, m, srv, in, func(r chi.Router) {
		handler.NewOrders(svc).Mount(r)
	})
	if err := serve(ctx, lg, srv, in.health, routes); err != nil {
		return errors.Wrap(err, "serve orders")
	}
	return nil
}

func upstream(u UpstreamConfig) client.Config {
	return client.Config{BaseURL: u.URL, Timeout: u.Timeout}
}
