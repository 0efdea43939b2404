package hitl

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/taskbridge/types"
)

func checkpointFixture() *types.Checkpoint {
	return &types.Checkpoint{
		SessionID:  "s1",
		ExchangeID: "e1",
		TaskID:     "t1",
		WorkflowID: "wf-t1",
		State:      json.RawMessage(`{"messages":["hello"],"step":3}`),
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
}

func TestMemoryCheckpointStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryCheckpointStore()
	fixture := checkpointFixture()

	require.NoError(t, store.Save(ctx, fixture))

	loaded, err := store.Load(ctx, "s1", "e1")
	require.NoError(t, err)
	assert.Equal(t, fixture.TaskID, loaded.TaskID)
	assert.JSONEq(t, string(fixture.State), string(loaded.State))

	t.Run("not found", func(t *testing.T) {
		_, err := store.Load(ctx, "s1", "other")
		assert.ErrorIs(t, err, ErrCheckpointNotFound)
	})

	t.Run("empty checkpoint rejected", func(t *testing.T) {
		err := store.Save(ctx, &types.Checkpoint{SessionID: "s1"})
		require.Error(t, err)
		assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "s1", "e1"))
		_, err := store.Load(ctx, "s1", "e1")
		assert.ErrorIs(t, err, ErrCheckpointNotFound)
	})
}

func TestRedisCheckpointStoreRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	ctx := context.Background()
	store := NewRedisCheckpointStore(client, "taskbridge", time.Hour, nil)
	fixture := checkpointFixture()

	require.NoError(t, store.Save(ctx, fixture))

	loaded, err := store.Load(ctx, "s1", "e1")
	require.NoError(t, err)
	assert.Equal(t, fixture.SessionID, loaded.SessionID)
	assert.Equal(t, fixture.ExchangeID, loaded.ExchangeID)
	assert.Equal(t, fixture.WorkflowID, loaded.WorkflowID)
	assert.JSONEq(t, string(fixture.State), string(loaded.State))

	t.Run("not found", func(t *testing.T) {
		_, err := store.Load(ctx, "ghost", "e1")
		assert.ErrorIs(t, err, ErrCheckpointNotFound)
	})

	t.Run("ttl applied", func(t *testing.T) {
		mr.FastForward(2 * time.Hour)
		_, err := store.Load(ctx, "s1", "e1")
		assert.ErrorIs(t, err, ErrCheckpointNotFound)
	})
}
