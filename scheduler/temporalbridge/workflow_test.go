package temporalbridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"github.com/BaSui01/taskbridge/agentexec"
	"github.com/BaSui01/taskbridge/hitl"
	"github.com/BaSui01/taskbridge/scheduler"
	"github.com/BaSui01/taskbridge/types"
)

// flakyRunner 记录调用次数并固定失败的测试替身
type flakyRunner struct {
	attempts int
	err      error
}

func (r *flakyRunner) Run(ctx context.Context, in *agentexec.Input, mon agentexec.Monitor) (*agentexec.Outcome, error) {
	r.attempts++
	return nil, r.err
}

func newWorkflowEnv(t *testing.T, registry *agentexec.Registry, interrupts hitl.Handler) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	Register(env, TaskWorkflows{}, NewTaskActivities(registry, interrupts, nil, nil, nil))
	return env
}

func TestRunAgentTaskCompletes(t *testing.T) {
	registry := agentexec.NewRegistry(nil)
	registry.Register("demo", agentexec.NewEchoRunner())
	env := newWorkflowEnv(t, registry, nil)

	env.ExecuteWorkflow(TaskWorkflowName, types.NewTask("t1", "demo", map[string]any{"request_text": "hi"}))

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result TaskResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, types.StatusCompleted, result.Status)
	assert.Equal(t, "echo: hi", result.Content)

	// 终态落定后查询返回 completed / 100
	value, err := env.QueryWorkflow(scheduler.ProgressQueryName)
	require.NoError(t, err)
	var progress types.TaskProgress
	require.NoError(t, value.Get(&progress))
	assert.Equal(t, types.StateCompleted, progress.State)
	assert.Equal(t, float64(100), progress.Percent)
}

func TestRunAgentTaskNonRetryableFailure(t *testing.T) {
	runner := &flakyRunner{err: types.NewError(types.ErrValidation, "payload rejected")}
	registry := agentexec.NewRegistry(nil)
	registry.Register("demo", runner)
	env := newWorkflowEnv(t, registry, nil)

	env.ExecuteWorkflow(TaskWorkflowName, types.NewTask("t1", "demo", nil))

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError(), "failure is a regular FAILED result, not a workflow error")

	var result TaskResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, types.StatusFailed, result.Status)
	assert.Contains(t, result.FinalSummary, "activity failed")
	assert.Contains(t, result.FinalSummary, "[VALIDATION]")

	// 不可重试错误码：恰好一次调用
	assert.Equal(t, 1, runner.attempts)
}

func TestRunAgentTaskRetryableFailureExhaustsAttempts(t *testing.T) {
	runner := &flakyRunner{err: types.NewError(types.ErrUpstreamTimeout, "model gateway timeout")}
	registry := agentexec.NewRegistry(nil)
	registry.Register("demo", runner)
	env := newWorkflowEnv(t, registry, nil)

	env.ExecuteWorkflow(TaskWorkflowName, types.NewTask("t1", "demo", nil))

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result TaskResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, types.StatusFailed, result.Status)
	assert.Contains(t, result.FinalSummary, "[UPSTREAM_TIMEOUT]")

	// 可重试错误：打满重试预算
	assert.Equal(t, 3, runner.attempts)
}

func TestRunAgentTaskUnknownAgent(t *testing.T) {
	env := newWorkflowEnv(t, agentexec.NewRegistry(nil), nil)

	env.ExecuteWorkflow(TaskWorkflowName, types.NewTask("t1", "ghost", nil))

	require.True(t, env.IsWorkflowCompleted())
	var result TaskResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, types.StatusFailed, result.Status)
	assert.Contains(t, result.FinalSummary, "[UNKNOWN_AGENT]")
}

func TestRunAgentTaskSuspendAndResume(t *testing.T) {
	registry := agentexec.NewRegistry(nil)
	registry.Register("demo", agentexec.NewEchoRunner())
	checkpoints := hitl.NewMemoryCheckpointStore()
	env := newWorkflowEnv(t, registry, hitl.NewDurableHandler(checkpoints, nil))

	task := types.NewTask("t1", "demo", map[string]any{"request_text": "hi", "interrupt": true})
	task.Context = map[string]any{"session_id": "s1", "exchange_id": "e1"}

	// 暂停期间：查询可见 blocked，检查点已带工作流路由落盘
	env.RegisterDelayedCallback(func() {
		value, err := env.QueryWorkflow(scheduler.ProgressQueryName)
		require.NoError(t, err)
		var progress types.TaskProgress
		require.NoError(t, value.Get(&progress))
		assert.Equal(t, types.StateBlocked, progress.State)

		checkpoint, err := checkpoints.Load(context.Background(), "s1", "e1")
		require.NoError(t, err)
		assert.Equal(t, "t1", checkpoint.TaskID)
		assert.NotEmpty(t, checkpoint.WorkflowID)
	}, 30*time.Second)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(ResumeSignalName, &ResumeSignal{UserResponse: "yes"})
	}, time.Minute)

	env.ExecuteWorkflow(TaskWorkflowName, task)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result TaskResult
	require.NoError(t, env.GetWorkflowResult(&result))
	assert.Equal(t, types.StatusCompleted, result.Status)
	assert.Equal(t, "echo: hi (confirmed: yes)", result.Content)
}

func TestRunAgentActivity(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestActivityEnvironment()

	registry := agentexec.NewRegistry(nil)
	registry.Register("demo", agentexec.NewEchoRunner())
	activities := NewTaskActivities(registry, nil, nil, nil, nil)
	env.RegisterActivity(activities.RunAgent)

	value, err := env.ExecuteActivity(activities.RunAgent, &agentexec.Input{
		TaskID:      "t1",
		TargetAgent: "demo",
		Payload:     map[string]any{"request_text": "hi"},
	})
	require.NoError(t, err)

	var outcome agentexec.Outcome
	require.NoError(t, value.Get(&outcome))
	require.NotNil(t, outcome.Completed)
	assert.Equal(t, "echo: hi", outcome.Completed.Content)
}

func TestHeartbeatMonitorOutsideActivityContext(t *testing.T) {
	mon := newHeartbeatMonitor(context.Background(), NewProgressReporter(nil, nil), nil, nil)

	// 活动上下文之外心跳必须被吞掉而不是 panic
	assert.NotPanics(t, func() {
		mon.OnPhase("reasoning", "start")
	})
}
