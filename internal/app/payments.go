package app

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	"github.com/xenking/marketplace-checkout/internal/client"
	"github.com/xenking/marketplace-checkout/internal/domain/payment"
	"github.com/xenking/marketplace-checkout/internal/handler"
	"github.com/xenking/marketplace-checkout/internal/storage/postgres"
)

// RunPayments starts the payment service and blocks until ctx is done.
func RunPayments(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *PaymentsConfig) error {
	taxRate, err := cfg.ParseTaxRate()
	if err != nil {
		return err
	}
	lg.Info("Initializing payment service",
		zap.String("addr", cfg.Addr),
		zap.String("tax_rate", taxRate.String()),
	)

	in, closeInfra, err := openInfra(ctx, cfg.DatabaseURL, cfg.Redis)
	if err != nil {
		return err
	}
	defer closeInfra()

	svc := payment.NewService(
		client.NewCatalog(upstream(cfg.Catalog)),
		client.NewCarts(upstream(cfg.Carts)),
		client.NewGateway(client.Config{BaseURL: cfg.Gateway.URL, Timeout: cfg.Gateway.Timeout}, cfg.Gateway.SecretKey),
		postgres.NewPaymentRepository(in.pool),
		taxRate,
	)

	srv := serverConfig{
		name:      "payment-service",
		addr:      cfg.Addr,
		jwtSecret: cfg.Auth.JWTSecret,
		leeway:    cfg.Auth.Leeway,
		rateLimit: cfg.RateLimit,
		cors:      cfg.CORS,
		graceful:  cfg.Graceful,
	}
	routes := newRouter(ctx, lg, m, srv, in, func(r chi.Router) {
		handler.NewPayments(svc).Mount(r)
	})
	if err := serve(ctx, lg, srv, in.health, routes); err != nil {
		return errors.Wrap(err, "serve payments")
	}
	return nil
}
