package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/taskbridge/agentexec"
	"github.com/BaSui01/taskbridge/eventbus"
	"github.com/BaSui01/taskbridge/hitl"
	"github.com/BaSui01/taskbridge/types"
)

func newTestScheduler(t *testing.T) (*InProcess, *eventbus.Bus, *agentexec.Registry) {
	t.Helper()
	registry := agentexec.NewRegistry(nil)
	registry.Register("demo", agentexec.NewEchoRunner())
	bus := eventbus.New(nil, nil)
	interrupts := hitl.NewDurableHandler(hitl.NewMemoryCheckpointStore(), nil)
	return NewInProcess(registry, bus, interrupts, nil, nil), bus, registry
}

func TestStartTaskCompletesInline(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	ctx := context.Background()

	task := types.NewTask("t1", "demo", map[string]any{"request_text": "hi"})
	handle, err := s.StartTask(ctx, task)
	require.NoError(t, err)
	assert.Equal(t, "in-memory-t1", handle.WorkflowID)
	assert.Empty(t, handle.RunID)

	// 提交后立即查询：completed / 100
	progress, err := s.GetProgress(ctx, handle.WorkflowID, "", ProgressQueryName)
	require.NoError(t, err)
	assert.Equal(t, types.StateCompleted, progress.State)
	assert.Equal(t, float64(100), progress.Percent)
}

func TestStartTaskValidation(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	ctx := context.Background()

	t.Run("unknown target agent", func(t *testing.T) {
		_, err := s.StartTask(ctx, types.NewTask("t1", "nope", nil))
		require.Error(t, err)
		assert.Equal(t, types.ErrUnknownAgent, types.GetErrorCode(err))
	})

	t.Run("missing target agent", func(t *testing.T) {
		_, err := s.StartTask(ctx, &types.Task{TaskID: "t1"})
		require.Error(t, err)
		assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
	})
}

func TestGetProgressUnknownWorkflow(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	progress, err := s.GetProgress(context.Background(), "in-memory-ghost", "", ProgressQueryName)
	require.NoError(t, err)
	assert.Equal(t, types.StateUnknown, progress.State)
}

func TestStartTaskPublishesTerminalEvent(t *testing.T) {
	s, bus, _ := newTestScheduler(t)
	ctx := context.Background()

	ch, cancel := bus.Subscribe(ctx, "t1")
	defer cancel()

	_, err := s.StartTask(ctx, types.NewTask("t1", "demo", map[string]any{"request_text": "hi"}))
	require.NoError(t, err)

	select {
	case ev := <-ch:
		assert.Equal(t, types.EventCompleted, ev.Kind)
		assert.True(t, ev.IsTerminal())
	case <-time.After(time.Second):
		t.Fatal("no terminal event received")
	}
}

func TestStartTaskFailurePath(t *testing.T) {
	registry := agentexec.NewRegistry(nil)
	registry.Register("broken", runnerFunc(func(context.Context, *agentexec.Input, agentexec.Monitor) (*agentexec.Outcome, error) {
		return nil, types.NewError(types.ErrValidation, "payload rejected").WithCause(errors.New("field x missing"))
	}))
	bus := eventbus.New(nil, nil)
	s := NewInProcess(registry, bus, nil, nil, nil)
	ctx := context.Background()

	ch, cancel := bus.Subscribe(ctx, "t1")
	defer cancel()

	handle, err := s.StartTask(ctx, types.NewTask("t1", "broken", nil))
	require.NoError(t, err, "submission succeeds, failure is reported via progress/events")

	progress, err := s.GetProgress(ctx, handle.WorkflowID, "", ProgressQueryName)
	require.NoError(t, err)
	assert.Equal(t, types.StateFailed, progress.State)

	select {
	case ev := <-ch:
		require.Equal(t, types.EventFailed, ev.Kind)
		// 终态事件只携带安全摘要，诊断细节留在日志
		assert.Contains(t, ev.Error, "VALIDATION")
		assert.NotContains(t, ev.Error, "field x missing")
	case <-time.After(time.Second):
		t.Fatal("no failed event received")
	}
}

func TestSuspendAndResume(t *testing.T) {
	registry := agentexec.NewRegistry(nil)
	registry.Register("demo", agentexec.NewEchoRunner())
	bus := eventbus.New(nil, nil)
	checkpoints := hitl.NewMemoryCheckpointStore()
	s := NewInProcess(registry, bus, hitl.NewDurableHandler(checkpoints, nil), nil, nil)
	ctx := context.Background()

	ch, cancel := bus.Subscribe(ctx, "t1")
	defer cancel()

	task := types.NewTask("t1", "demo", map[string]any{"request_text": "hi", "interrupt": true})
	task.Context = map[string]any{"session_id": "s1", "exchange_id": "e1"}

	handle, err := s.StartTask(ctx, task)
	require.NoError(t, err)

	// blocked 快照 + 检查点已持久化
	progress, err := s.GetProgress(ctx, handle.WorkflowID, "", ProgressQueryName)
	require.NoError(t, err)
	assert.Equal(t, types.StateBlocked, progress.State)

	checkpoint, err := checkpoints.Load(ctx, "s1", "e1")
	require.NoError(t, err)
	assert.Equal(t, "t1", checkpoint.TaskID)

	// 恢复：blocked 事件不终止订阅，之后还能看到 completed
	resumer := hitl.NewResumer(checkpoints, s, nil)
	require.NoError(t, resumer.Resume(ctx, "s1", "e1", "yes"))

	progress, err = s.GetProgress(ctx, handle.WorkflowID, "", ProgressQueryName)
	require.NoError(t, err)
	assert.Equal(t, types.StateCompleted, progress.State)

	var kinds []types.EventKind
	var states []types.ProgressState
	deadline := time.After(time.Second)
loop:
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				break loop
			}
			kinds = append(kinds, ev.Kind)
			if ev.Progress != nil {
				states = append(states, ev.Progress.State)
			}
		case <-deadline:
			t.Fatal("subscription did not terminate")
		}
	}
	assert.Contains(t, states, types.StateBlocked)
	assert.Equal(t, types.EventCompleted, kinds[len(kinds)-1])
}

func TestCancel(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	ctx := context.Background()

	_, err := s.StartTask(ctx, types.NewTask("t1", "demo", nil))
	require.NoError(t, err)

	assert.NoError(t, s.Cancel(ctx, "in-memory-t1", ""))

	err = s.Cancel(ctx, "in-memory-ghost", "")
	require.Error(t, err)
	assert.Equal(t, types.ErrUnknownWorkflow, types.GetErrorCode(err))
}

type runnerFunc func(ctx context.Context, in *agentexec.Input, mon agentexec.Monitor) (*agentexec.Outcome, error)

func (f runnerFunc) Run(ctx context.Context, in *agentexec.Input, mon agentexec.Monitor) (*agentexec.Outcome, error) {
	return f(ctx, in, mon)
}
