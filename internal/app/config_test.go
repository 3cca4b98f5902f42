package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validOrders() OrdersConfig {
	return OrdersConfig{
		DatabaseURL: "postgres://localhost/orders",
		Auth:        AuthConfig{JWTSecret: "s"},
		Payments:    UpstreamConfig{URL: "http://payments"},
		Carts:       UpstreamConfig{URL: "http://carts"},
		Catalog:     UpstreamConfig{URL: "http://catalog"},
		RateLimit:   RateLimitConfig{Max: 100, Window: time.Minute},
	}
}

func validPayments() PaymentsConfig {
	return PaymentsConfig{
		DatabaseURL: "postgres://localhost/payments",
		TaxRate:     "0.15",
		Auth:        AuthConfig{JWTSecret: "s"},
		Gateway:     GatewayConfig{SecretKey: "sk_test"},
		Carts:       UpstreamConfig{URL: "http://carts"},
		Catalog:     UpstreamConfig{URL: "http://catalog"},
		RateLimit:   RateLimitConfig{Max: 100, Window: time.Minute},
	}
}

func TestOrdersConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *OrdersConfig)
		errMsg string
	}{
		{"Valid", func(*OrdersConfig) {}, ""},
		{"NoDatabase", func(c *OrdersConfig) { c.DatabaseURL = "" }, "database URL is required"},
		{"NoSecret", func(c *OrdersConfig) { c.Auth.JWTSecret = "" }, "JWT secret is required"},
		{"NoCatalog", func(c *OrdersConfig) { c.Catalog.URL = "" }, "catalog upstream URL is required"},
		{"NoRateLimit", func(c *OrdersConfig) { c.RateLimit.Max = 0 }, "rate limit needs a positive max"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validOrders()
			tt.mutate(&cfg)
			err := cfg.validate()
			if tt.errMsg == "" {
				require.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestPaymentsConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *PaymentsConfig)
		errMsg string
	}{
		{"Valid", func(*PaymentsConfig) {}, ""},
		{"NoGatewayKey", func(c *PaymentsConfig) { c.Gateway.SecretKey = "" }, "gateway secret key is required"},
		{"NoCarts", func(c *PaymentsConfig) { c.Carts.URL = "" }, "upstream URLs are required"},
		{"BadTaxRate", func(c *PaymentsConfig) { c.TaxRate = "fifteen" }, "parse tax rate"},
		{"NegativeTaxRate", func(c *PaymentsConfig) { c.TaxRate = "-0.1" }, "is negative"},
		{"ZeroWindow", func(c *PaymentsConfig) { c.RateLimit.Window = 0 }, "rate limit needs a positive max"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validPayments()
			tt.mutate(&cfg)
			err := cfg.validate()
			if tt.errMsg == "" {
				require.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.errMsg)
		})
	}
}

func TestParseTaxRate(t *testing.T) {
	cfg := validPayments()
	cfg.TaxRate = " 0.0825 "
	rate, err := cfg.ParseTaxRate()
	require.NoError(t, err)
	assert.Equal(t, "0.0825", rate.String())
}

func TestPlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("PORT", "9000")

	addr, dsn := "0.0.0.0:8080", ""
	platformDefaults(&addr, &dsn, "0.0.0.0:8080")
	assert.Equal(t, "0.0.0.0:9000", addr)
	assert.Equal(t, "postgres://platform/db", dsn)

	addr, dsn = "127.0.0.1:7000", "postgres://explicit/db"
	platformDefaults(&addr, &dsn, "0.0.0.0:8080")
	assert.Equal(t, "127.0.0.1:7000", addr)
	assert.Equal(t, "postgres://explicit/db", dsn)
}
