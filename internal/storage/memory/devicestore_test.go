package memory_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-bridge/internal/storage/memory"
	"github.com/tinywideclouds/go-push-bridge/pkg/dispatch"
	"github.com/tinywideclouds/go-push-bridge/pkg/push"
)

func TestDeviceStore(t *testing.T) {
	ctx := context.Background()
	store := memory.NewDeviceStore()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, dispatch.ErrDeviceNotFound)

	device := &dispatch.Device{
		PlayerID:  "p-1",
		Platform:  dispatch.PlatformFCM,
		PushToken: "tok",
		Tags:      push.Tags{"a": "1"},
	}
	require.NoError(t, store.Save(ctx, device))

	t.Run("stored copy is isolated from the caller", func(t *testing.T) {
		device.Tags["a"] = "mutated"

		got, err := store.Get(ctx, "p-1")
		require.NoError(t, err)
		assert.Equal(t, "1", got.Tags["a"])

		got.Tags["a"] = "also mutated"
		again, err := store.Get(ctx, "p-1")
		require.NoError(t, err)
		assert.Equal(t, "1", again.Tags["a"])
	})

	t.Run("GetMany skips unknown players", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, &dispatch.Device{PlayerID: "p-2", Platform: dispatch.PlatformWeb}))

		found, err := store.GetMany(ctx, []string{"p-1", "nobody", "p-2"})
		require.NoError(t, err)
		assert.Len(t, found, 2)
		assert.Equal(t, "tok", found["p-1"].PushToken)
		assert.Equal(t, dispatch.PlatformWeb, found["p-2"].Platform)
	})

	t.Run("Delete is idempotent", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "p-1"))
		require.NoError(t, store.Delete(ctx, "p-1"))
		_, err := store.Get(ctx, "p-1")
		assert.ErrorIs(t, err, dispatch.ErrDeviceNotFound)
	})
}
