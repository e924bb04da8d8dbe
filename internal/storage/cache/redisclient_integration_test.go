//go:build integration

package cache_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tinywideclouds/go-push-bridge/internal/storage/cache"
	"github.com/tinywideclouds/go-push-bridge/internal/storage/memory"
	"github.com/tinywideclouds/go-push-bridge/pkg/dispatch"
	"github.com/tinywideclouds/go-push-bridge/pkg/push"
)

func setupRedis(t *testing.T) (context.Context, *cache.RedisClient) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	container, err := tcredis.Run(ctx,
		"docker.io/redis:7-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("* Ready to accept connections").
				WithOccurrence(1).
				WithStartupTimeout(time.Minute),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	client, err := cache.NewRedisClient(fmt.Sprintf("%s:%s", host, port.Port()), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return ctx, client
}

func TestCachedDeviceStore_Redis(t *testing.T) {
	ctx, client := setupRedis(t)
	backing := memory.NewDeviceStore()
	store := cache.NewCachedDeviceStore(backing, client, time.Minute)

	device := &dispatch.Device{
		PlayerID:            "p-1",
		Platform:            dispatch.PlatformFCM,
		PushToken:           "tok-1",
		Tags:                push.Tags{"vip": "yes"},
		SubscriptionEnabled: true,
	}
	require.NoError(t, store.Save(ctx, device))

	got, err := store.Get(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, "tok-1", got.PushToken)

	var cached dispatch.Device
	require.NoError(t, client.Get(ctx, "push:device:p-1", &cached), "a read fills the cache")
	assert.Equal(t, "yes", cached.Tags["vip"])

	device.PushToken = "tok-2"
	require.NoError(t, store.Save(ctx, device))
	assert.ErrorIs(t, client.Get(ctx, "push:device:p-1", &cached), cache.ErrCacheMiss, "a write clears the cache")

	found, err := store.GetMany(ctx, []string{"p-1", "p-unknown"})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "tok-2", found["p-1"].PushToken)

	raw, err := client.MGet(ctx, "push:device:p-1", "push:device:p-unknown")
	require.NoError(t, err)
	assert.NotNil(t, raw[0])
	assert.Nil(t, raw[1])
}
