// Command revoke-token adds a bearer token to the revocation list shared by
// the order and payment services.
//
//	revoke-token -redis localhost:6379 -token eyJhbGciOi...
//	revoke-token -redis localhost:6379 -jti 4f1c... -ttl 1h
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/xenking/marketplace-checkout/internal/storage/redis"
)

func main() {
	var (
		addr     string
		password string
		db       int
		token    string
		jti      string
		ttl      time.Duration
	)
	flag.StringVar(&addr, "redis", "localhost:6379", "Redis address")
	flag.StringVar(&password, "redis-password", os.Getenv("REDIS_PASSWORD"), "Redis password")
	flag.IntVar(&db, "redis-db", 0, "Redis database number")
	flag.StringVar(&token, "token", "", "Raw JWT to revoke; its jti and exp are used")
	flag.StringVar(&jti, "jti", "", "Token id to revoke when -token is not given")
	flag.DurationVar(&ttl, "ttl", 24*time.Hour, "How long to keep a -jti revocation")
	flag.Parse()

	lg, _ := zap.NewDevelopment()
	defer func() { _ = lg.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, lg, addr, password, db, token, jti, ttl); err != nil {
		lg.Fatal("Revoke failed", zap.Error(err))
	}
}

func run(ctx context.Context, lg *zap.Logger, addr, password string, db int, token, jti string, ttl time.Duration) error {
	expiresAt := time.Now().Add(ttl)
	if token != "" {
		var c jwt.RegisteredClaims
		if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
			return errors.Wrap(err, "parse token")
		}
		if c.ID == "" {
			return errors.New("token has no jti claim")
		}
		jti = c.ID
		if c.ExpiresAt != nil {
			expiresAt = c.ExpiresAt.Time
		}
	}
	if jti == "" {
		return errors.New("either -token or -jti is required")
	}

	client, err := redis.NewClient(ctx, addr, password, db)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	if err := redis.NewRevocations(client, redis.RevocationPrefix).Revoke(ctx, jti, expiresAt); err != nil {
		return err
	}
	lg.Info("Token revoked", zap.String("jti", jti), zap.Time("expires_at", expiresAt))
	return nil
}
