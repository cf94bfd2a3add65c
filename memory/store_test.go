package memory

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/rtsession-go/tool"
)

func TestSetMemoryOverwrites(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	reg := tool.NewRegistry(nil)
	require.NoError(t, reg.Register(Definition, Handler(store)))

	res, err := reg.Invoke(ctx, ToolName, `{"key":"favorite_color","value":"blue"}`)
	require.NoError(t, err)
	require.True(t, res.OK())

	res, err = reg.Invoke(ctx, ToolName, `{"key":"favorite_color","value":"green"}`)
	require.NoError(t, err)
	require.True(t, res.OK())

	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"favorite_color": "green"}, snap)
}

func TestSetMemoryKeepsKeyCase(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	h := Handler(store)

	_, err := h(ctx, map[string]any{"key": "FavoriteColor", "value": 42})
	require.NoError(t, err)

	snap, _ := store.Snapshot(ctx)
	require.Equal(t, "42", snap["FavoriteColor"])
}

func TestSetMemoryRejectsEmptyKey(t *testing.T) {
	reg := tool.NewRegistry(nil)
	require.NoError(t, reg.Register(Definition, Handler(NewInMemoryStore())))

	res, err := reg.Invoke(context.Background(), ToolName, `{"key":"","value":"x"}`)
	require.Error(t, err)
	require.False(t, res.OK())
}

func TestSnapshotIsACopy(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	require.NoError(t, store.Set(ctx, "name", "timo"))

	snap, _ := store.Snapshot(ctx)
	snap["name"] = "changed"

	again, _ := store.Snapshot(ctx)
	require.Equal(t, "timo", again["name"])

	require.NoError(t, store.Clear(ctx))
	again, _ = store.Snapshot(ctx)
	require.Empty(t, again)
}

func TestRedisStore(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client, "sess-1", time.Minute)
	require.NoError(t, store.Set(ctx, "favorite_color", "blue"))
	require.NoError(t, store.Set(ctx, "favorite_color", "green"))
	require.NoError(t, store.Set(ctx, "name", "timo"))

	snap, err := store.Snapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"favorite_color": "green", "name": "timo"}, snap)
	require.Equal(t, time.Minute, mr.TTL(store.Key()))

	require.NoError(t, store.Clear(ctx))
	require.False(t, mr.Exists(store.Key()))

	snap, err = store.Snapshot(ctx)
	require.NoError(t, err)
	require.Empty(t, snap)
}
