package taskstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/taskbridge/types"
)

func newQueuedRecord(taskID string) *types.TaskRecord {
	task := types.NewTask(taskID, "demo", map[string]any{"request_text": "hi"})
	task.Context = map[string]any{"exchange_id": "e-" + taskID}
	handle := types.WorkflowHandle{WorkflowID: "in-memory-" + taskID}
	return NewRecord(task, handle, "user-1", "hi")
}

// runStoreSuite 对任意 Store 实现跑同一组契约测试
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		store := newStore(t)
		record := newQueuedRecord("t1")
		require.NoError(t, store.Create(ctx, record))

		got, err := store.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, types.StatusQueued, got.Status)
		assert.Equal(t, "demo", got.TargetAgent)
		assert.Equal(t, "in-memory-t1", got.WorkflowID)
	})

	t.Run("duplicate task_id rejected", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, newQueuedRecord("t1")))
		err := store.Create(ctx, newQueuedRecord("t1"))
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("get missing", func(t *testing.T) {
		store := newStore(t)
		_, err := store.Get(ctx, "ghost")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("get by workflow id", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, newQueuedRecord("t1")))

		got, err := store.GetByWorkflowID(ctx, "in-memory-t1")
		require.NoError(t, err)
		assert.Equal(t, "t1", got.TaskID)

		_, err = store.GetByWorkflowID(ctx, "in-memory-ghost")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("list with filters", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, newQueuedRecord("t1")))
		require.NoError(t, store.Create(ctx, newQueuedRecord("t2")))

		other := newQueuedRecord("t3")
		other.UserID = "user-2"
		require.NoError(t, store.Create(ctx, other))

		records, err := store.List(ctx, Filter{UserID: "user-1"})
		require.NoError(t, err)
		assert.Len(t, records, 2)

		records, err = store.List(ctx, Filter{Status: []types.TaskStatus{types.StatusQueued}, Limit: 1})
		require.NoError(t, err)
		assert.Len(t, records, 1)

		records, err = store.List(ctx, Filter{UserID: "nobody"})
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("legal transition chain", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, newQueuedRecord("t1")))

		require.NoError(t, store.Transition(ctx, "t1", types.StatusRunning, nil))
		require.NoError(t, store.Transition(ctx, "t1", types.StatusBlocked, func(r *types.TaskRecord) {
			r.BlockedDetails = "waiting for confirmation"
		}))

		got, err := store.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, types.StatusBlocked, got.Status)
		assert.Equal(t, "waiting for confirmation", got.BlockedDetails)

		require.NoError(t, store.Transition(ctx, "t1", types.StatusRunning, nil))
		got, err = store.Get(ctx, "t1")
		require.NoError(t, err)
		// blocked_details 只在 BLOCKED 态存在
		assert.Empty(t, got.BlockedDetails)

		require.NoError(t, store.Transition(ctx, "t1", types.StatusCompleted, func(r *types.TaskRecord) {
			r.PercentComplete = 100
		}))
	})

	t.Run("illegal transition rejected", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, newQueuedRecord("t1")))

		// QUEUED 不能直接 BLOCKED
		err := store.Transition(ctx, "t1", types.StatusBlocked, nil)
		assert.ErrorIs(t, err, ErrIllegalTransition)
	})

	t.Run("terminal record is immutable", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, newQueuedRecord("t1")))
		require.NoError(t, store.Transition(ctx, "t1", types.StatusRunning, nil))
		require.NoError(t, store.Transition(ctx, "t1", types.StatusFailed, func(r *types.TaskRecord) {
			r.ErrorDetails = "boom"
		}))

		err := store.Transition(ctx, "t1", types.StatusRunning, nil)
		assert.ErrorIs(t, err, ErrIllegalTransition)

		err = store.UpdateProgress(ctx, "t1", 50, "late heartbeat")
		assert.ErrorIs(t, err, ErrIllegalTransition)

		got, err := store.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, types.StatusFailed, got.Status)
		assert.Equal(t, "boom", got.ErrorDetails)
	})

	t.Run("error details only on FAILED", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, newQueuedRecord("t1")))
		require.NoError(t, store.Transition(ctx, "t1", types.StatusRunning, func(r *types.TaskRecord) {
			r.ErrorDetails = "should be dropped"
		}))

		got, err := store.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Empty(t, got.ErrorDetails)
	})

	t.Run("attach handle", func(t *testing.T) {
		store := newStore(t)
		record := newQueuedRecord("t1")
		record.WorkflowID = ""
		require.NoError(t, store.Create(ctx, record))

		handle := types.WorkflowHandle{WorkflowID: "task-t1", RunID: "run-1"}
		require.NoError(t, store.AttachHandle(ctx, "t1", handle))

		got, err := store.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "task-t1", got.WorkflowID)
		assert.Equal(t, "run-1", got.RunID)

		err = store.AttachHandle(ctx, "ghost", handle)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("update progress", func(t *testing.T) {
		store := newStore(t)
		require.NoError(t, store.Create(ctx, newQueuedRecord("t1")))
		require.NoError(t, store.Transition(ctx, "t1", types.StatusRunning, nil))

		require.NoError(t, store.UpdateProgress(ctx, "t1", 40, "searching"))
		got, err := store.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, float64(40), got.PercentComplete)
		assert.Equal(t, "searching", got.LastMessage)

		// percent 是"最后已知值"，允许回退
		require.NoError(t, store.UpdateProgress(ctx, "t1", 10, "restarted step"))
		got, err = store.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, float64(10), got.PercentComplete)

		err = store.UpdateProgress(ctx, "ghost", 10, "x")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

// TestTransitionProperties 随机迁移序列下的生命周期不变量：
// 终态一旦到达不再改变，且存储状态始终等于合法迁移的折叠结果
func TestTransitionProperties(t *testing.T) {
	statuses := []types.TaskStatus{
		types.StatusRunning, types.StatusBlocked,
		types.StatusCompleted, types.StatusFailed, types.StatusCanceled,
	}

	rapid.Check(t, func(t *rapid.T) {
		ctx := context.Background()
		store := NewMemoryStore()
		require.NoError(t, store.Create(ctx, newQueuedRecord("t1")))

		expected := types.StatusQueued
		steps := rapid.SliceOfN(rapid.SampledFrom(statuses), 1, 20).Draw(t, "steps")

		for _, to := range steps {
			err := store.Transition(ctx, "t1", to, nil)
			if expected.CanTransitionTo(to) {
				if err != nil {
					t.Fatalf("legal transition %s -> %s rejected: %v", expected, to, err)
				}
				expected = to
			} else if err == nil {
				t.Fatalf("illegal transition %s -> %s accepted", expected, to)
			}

			record, err := store.Get(ctx, "t1")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if record.Status != expected {
				t.Fatalf("store status %s, expected %s", record.Status, expected)
			}
			if expected.IsTerminal() && store.UpdateProgress(ctx, "t1", 1, "x") == nil {
				t.Fatalf("terminal record accepted progress update")
			}
		}
	})
}
