// Package redis holds the Redis-backed coordination primitives shared by
// service instances: the per-consumer checkout lock and the revoked token
// list.
package redis

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/xenking/marketplace-checkout/internal/domain/order"
)

// NewClient connects to Redis at addr and verifies the connection.
func NewClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return client, nil
}

// unlockScript deletes the key only if it still holds our token, so an
// expired lock taken over by another holder is left alone.
var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker implements order.Locker with SET NX PX.
type Locker struct {
	client redis.UniversalClient
	prefix string
}

var _ order.Locker = (*Locker)(nil)

// NewLocker creates a Locker whose keys are namespaced by prefix.
func NewLocker(client redis.UniversalClient, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

// Lock acquires key for at most ttl. It fails fast with order.ErrLocked
// when someone else holds it.
func (l *Locker) Lock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	full := l.prefix + key
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "acquire lock %q", full)
	}
	if !ok {
		return nil, order.ErrLocked
	}

	return func(ctx context.Context) error {
		if err := unlockScript.Run(ctx, l.client, []string{full}, token).Err(); err != nil {
			return errors.Wrapf(err, "release lock %q", full)
		}
		return nil
	}, nil
}

// Key prefixes shared by every service instance.
const (
	LockPrefix       = "lock:"
	RevocationPrefix = "auth:revoked:"
)

// Revocations is a set of revoked token ids. Each entry expires with the
// token it revokes.
type Revocations struct {
	client redis.UniversalClient
	prefix string
}

// NewRevocations creates a revocation list whose keys are namespaced by prefix.
func NewRevocations(client redis.UniversalClient, prefix string) *Revocations {
	return &Revocations{client: client, prefix: prefix}
}

// Revoke marks jti as revoked until expiresAt. Tokens already expired are
// ignored.
func (r *Revocations) Revoke(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, r.prefix+jti, 1, ttl).Err(); err != nil {
		return errors.Wrapf(err, "revoke token %q", jti)
	}
	return nil
}

// IsRevoked reports whether jti has been revoked.
func (r *Revocations) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.client.Exists(ctx, r.prefix+jti).Result()
	if err != nil {
		return false, errors.Wrapf(err, "check token %q", jti)
	}
	return n > 0, nil
}

// Ping reports whether Redis is reachable.
func Ping(client redis.UniversalClient) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}
