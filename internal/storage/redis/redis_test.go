//go:build integration

package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/marketplace-checkout/internal/domain/order"
)

func setupRedis(t *testing.T) *goredis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client, err := NewClient(ctx, fmt.Sprintf("%s:%s", host, port.Port()), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestLocker(t *testing.T) {
	client := setupRedis(t)
	locker := NewLocker(client, "test:")
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "checkout:c1", time.Minute)
	require.NoError(t, err)

	_, err = locker.Lock(ctx, "checkout:c1", time.Minute)
	assert.ErrorIs(t, err, order.ErrLocked)

	// Other keys are independent.
	unlockOther, err := locker.Lock(ctx, "checkout:c2", time.Minute)
	require.NoError(t, err)
	require.NoError(t, unlockOther(ctx))

	require.NoError(t, unlock(ctx))
	unlock, err = locker.Lock(ctx, "checkout:c1", time.Minute)
	require.NoError(t, err)
	require.NoError(t, unlock(ctx))
}

func TestLocker_ExpiredLockIsNotStolenBack(t *testing.T) {
	client := setupRedis(t)
	locker := NewLocker(client, "test:")
	ctx := context.Background()

	stale, err := locker.Lock(ctx, "k", 50*time.Millisecond)
	require.NoError(t, err)
	time.Sleep(150 * time.Millisecond)

	fresh, err := locker.Lock(ctx, "k", time.Minute)
	require.NoError(t, err)

	// Releasing the expired lock must not drop the new holder's lock.
	require.NoError(t, stale(ctx))
	_, err = locker.Lock(ctx, "k", time.Minute)
	assert.ErrorIs(t, err, order.ErrLocked)
	require.NoError(t, fresh(ctx))
}

func TestRevocations(t *testing.T) {
	client := setupRedis(t)
	rev := NewRevocations(client, "revoked:")
	ctx := context.Background()

	revoked, err := rev.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, rev.Revoke(ctx, "jti-1", time.Now().Add(time.Minute)))
	revoked, err = rev.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	require.NoError(t, rev.Revoke(ctx, "jti-2", time.Now().Add(-time.Minute)))
	revoked, err = rev.IsRevoked(ctx, "jti-2")
	require.NoError(t, err)
	assert.False(t, revoked)

	ttl, err := client.TTL(ctx, "revoked:jti-1").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
