package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// OrdersConfig configures the order service. It loads from ORDERS_*
// environment variables, flags, or YAML config files.
type OrdersConfig struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (ORDERS_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	// LookupConcurrency bounds parallel product lookups during checkout.
	LookupConcurrency int           `default:"4" usage:"Parallel product lookups per checkout"`
	LockTTL           time.Duration `default:"30s" usage:"Per-consumer checkout lock TTL" flag:"lock-ttl"`

	Payments  UpstreamConfig
	Carts     UpstreamConfig
	Catalog   UpstreamConfig
	Auth      AuthConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// PaymentsConfig configures the payment service. It loads from PAYMENTS_*
// environment variables, flags, or YAML config files.
type PaymentsConfig struct {
	Addr        string `default:"0.0.0.0:8081" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (PAYMENTS_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	TaxRate     string `default:"0.15" usage:"Tax rate applied to the cart subtotal" flag:"tax-rate"`

	Gateway   GatewayConfig
	Carts     UpstreamConfig
	Catalog   UpstreamConfig
	Auth      AuthConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	CORS      CORSConfig
	Graceful  GracefulConfig
}

// UpstreamConfig locates a collaborating HTTP service.
type UpstreamConfig struct {
	URL     string        `usage:"Base URL"`
	Timeout time.Duration `default:"5s" usage:"Per-request timeout"`
}

// GatewayConfig configures the card payment gateway.
type GatewayConfig struct {
	URL       string        `default:"https://api.stripe.com" usage:"Gateway base URL"`
	SecretKey string        `usage:"Gateway secret key" flag:"gateway-secret-key"`
	Timeout   time.Duration `default:"10s" usage:"Per-request timeout"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	JWTSecret string        `usage:"HS256 secret shared with the identity service" flag:"jwt-secret"`
	Leeway    time.Duration `default:"30s" usage:"Allowed clock skew for token expiry"`
}

// RedisConfig locates Redis. An empty Addr disables the features that
// need it.
type RedisConfig struct {
	Addr     string `usage:"Redis address (host:port)"`
	Password string `usage:"Redis password"`
	DB       int    `default:"0" usage:"Redis database number"`
}

// KafkaConfig configures event publishing. No brokers disables it.
type KafkaConfig struct {
	Brokers        []string      `usage:"Kafka broker addresses"`
	TopicPrefix    string        `default:"marketplace." usage:"Prefix of event topic names"`
	BatchTimeout   time.Duration `default:"50ms" usage:"Max time to buffer events before a write"`
	PublishTimeout time.Duration `default:"2s" usage:"Max time to publish the events of one operation"`
}

// RateLimitConfig controls the per-caller sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

func (c RateLimitConfig) validate() error {
	if c.Max <= 0 || c.Window <= 0 {
		return errors.Errorf("rate limit needs a positive max and window, got %d per %s", c.Max, c.Window)
	}
	return nil
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadOrdersConfig loads and validates the order service configuration.
func LoadOrdersConfig() (*OrdersConfig, error) {
	var cfg OrdersConfig
	if err := load(&cfg, "ORDERS", "orders"); err != nil {
		return nil, err
	}
	platformDefaults(&cfg.Addr, &cfg.DatabaseURL, "0.0.0.0:8080")
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *OrdersConfig) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set ORDERS_DATABASE_URL or DATABASE_URL")
	case c.Auth.JWTSecret == "":
		return errors.New("JWT secret is required: set ORDERS_AUTH_JWT_SECRET")
	}
	if err := c.RateLimit.validate(); err != nil {
		return err
	}
	for _, u := range []struct{ name, url string }{
		{"payments", c.Payments.URL},
		{"carts", c.Carts.URL},
		{"catalog", c.Catalog.URL},
	} {
		if u.url == "" {
			return errors.Errorf("%s upstream URL is required", u.name)
		}
	}
	return nil
}

// LoadPaymentsConfig loads and validates the payment service configuration.
func LoadPaymentsConfig() (*PaymentsConfig, error) {
	var cfg PaymentsConfig
	if err := load(&cfg, "PAYMENTS", "payments"); err != nil {
		return nil, err
	}
	platformDefaults(&cfg.Addr, &cfg.DatabaseURL, "0.0.0.0:8081")
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *PaymentsConfig) validate() error {
	switch {
	case c.DatabaseURL == "":
		return errors.New("database URL is required: set PAYMENTS_DATABASE_URL or DATABASE_URL")
	case c.Auth.JWTSecret == "":
		return errors.New("JWT secret is required: set PAYMENTS_AUTH_JWT_SECRET")
	case c.Gateway.SecretKey == "":
		return errors.New("gateway secret key is required: set PAYMENTS_GATEWAY_SECRET_KEY")
	case c.Carts.URL == "" || c.Catalog.URL == "":
		return errors.New("carts and catalog upstream URLs are required")
	}
	if err := c.RateLimit.validate(); err != nil {
		return err
	}
	_, err := c.ParseTaxRate()
	return err
}

// ParseTaxRate returns TaxRate as a decimal fraction.
func (c *PaymentsConfig) ParseTaxRate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(strings.TrimSpace(c.TaxRate))
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse tax rate %q", c.TaxRate)
	}
	if rate.IsNegative() {
		return decimal.Zero, errors.Errorf("tax rate %s is negative", rate)
	}
	return rate, nil
}

func load(dst any, prefix, name string) error {
	loader := aconfig.LoaderFor(dst, aconfig.Config{
		EnvPrefix: prefix,
		Files:     []string{"config.yaml", "/etc/" + name + "/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return errors.Wrap(err, "load config")
	}
	return nil
}

// platformDefaults maps the DATABASE_URL and PORT variables set by hosting
// platforms onto the service configuration.
func platformDefaults(addr, databaseURL *string, defaultAddr string) {
	if *databaseURL == "" {
		*databaseURL = os.Getenv("DATABASE_URL")
	}
	if port := os.Getenv("PORT"); port != "" && *addr == defaultAddr {
		*addr = "0.0.0.0:" + port
	}
}
