package temporalbridge

import (
	"encoding/json"
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/BaSui01/taskbridge/agentexec"
	"github.com/BaSui01/taskbridge/hitl"
	"github.com/BaSui01/taskbridge/scheduler"
	"github.com/BaSui01/taskbridge/types"
)

// TaskWorkflowName 注册与提交共用的工作流类型名
const TaskWorkflowName = "RunAgentTask"

// TaskResult 工作流的最终返回值。
// 活动层失败被折叠成 Status=FAILED 的正常返回而不是工作流错误：
// 失败是任务的合法终态，工作流历史保持干净。
type TaskResult struct {
	Status       types.TaskStatus `json:"status"`
	Content      string           `json:"content,omitempty"`
	Artifacts    []string         `json:"artifacts,omitempty"`
	FinalSummary string           `json:"final_summary,omitempty"`
}

// Marshal 序列化为事件载荷
func (r *TaskResult) Marshal() (json.RawMessage, error) {
	return json.Marshal(r)
}

// ResumeSignal resume-task 信号载荷。Checkpoint 可空：
// 为空时工作流用暂停时自己留存的检查点。
type ResumeSignal struct {
	UserResponse string            `json:"user_response"`
	Checkpoint   *types.Checkpoint `json:"checkpoint,omitempty"`
}

// TaskWorkflows 工作流定义集合
type TaskWorkflows struct{}

// RunAgentTask 单个任务的工作流：执行 Agent 活动直到完成、失败
// 或被人工输入暂停；暂停时挂在 resume-task 信号上等待，
// 进度通过 query handler 对外可见。
func (TaskWorkflows) RunAgentTask(ctx workflow.Context, task *types.Task) (*TaskResult, error) {
	logger := workflow.GetLogger(ctx)

	// progress 是查询句柄背后的唯一状态；首次心跳前保持 unknown
	progress := types.UnknownProgress()
	done := false

	if err := workflow.SetQueryHandler(ctx, scheduler.ProgressQueryName, func() (types.TaskProgress, error) {
		return progress, nil
	}); err != nil {
		return nil, err
	}

	// 活动侧的心跳进度通过信号汇入；终态落定后迟到的信号被丢弃
	progressCh := workflow.GetSignalChannel(ctx, ProgressSignalName)
	workflow.Go(ctx, func(ctx workflow.Context) {
		for {
			var p types.TaskProgress
			progressCh.Receive(ctx, &p)
			if !done {
				progress = p.Clamp()
			}
		}
	})

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Hour,
		HeartbeatTimeout:    time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: types.NonRetryableErrorTypes(),
		},
	})

	fail := func(err error) *TaskResult {
		summary := activityErrorSummary(err)
		done = true
		progress = types.TaskProgress{State: types.StateFailed, Message: summary}
		logger.Error("task activity failed", "task_id", task.TaskID, "error", err)
		return &TaskResult{Status: types.StatusFailed, FinalSummary: "activity failed: " + summary}
	}

	in := agentexec.InputFromTask(task)
	progress = types.TaskProgress{State: types.StateRunning, Message: "started"}

	var outcome agentexec.Outcome
	if err := workflow.ExecuteActivity(ctx, RunAgentActivityName, in).Get(ctx, &outcome); err != nil {
		return fail(err), nil
	}

	resumeCh := workflow.GetSignalChannel(ctx, ResumeSignalName)
	for outcome.IsSuspended() {
		checkpoint := outcome.Suspended.Checkpoint
		if checkpoint != nil && checkpoint.WorkflowID == "" {
			checkpoint.WorkflowID = workflow.GetInfo(ctx).WorkflowExecution.ID
		}

		interrupt := &hitl.Interrupt{
			SessionID:  in.SessionID,
			ExchangeID: in.ExchangeID,
			Payload:    outcome.Suspended.Payload,
			Checkpoint: checkpoint,
		}
		if err := workflow.ExecuteActivity(ctx, NotifyInterruptActivityName, interrupt).Get(ctx, nil); err != nil {
			return fail(err), nil
		}

		progress = types.TaskProgress{State: types.StateBlocked, Message: "awaiting human input"}
		logger.Info("task awaiting human input",
			"task_id", task.TaskID,
			"session_id", in.SessionID,
			"exchange_id", in.ExchangeID,
		)

		var sig ResumeSignal
		resumeCh.Receive(ctx, &sig)
		if sig.Checkpoint != nil {
			checkpoint = sig.Checkpoint
		}

		progress = types.TaskProgress{State: types.StateRunning, Message: "resumed"}
		req := &ResumeRequest{Input: in, Checkpoint: checkpoint, UserResponse: sig.UserResponse}
		if err := workflow.ExecuteActivity(ctx, ResumeAgentActivityName, req).Get(ctx, &outcome); err != nil {
			return fail(err), nil
		}
	}

	done = true
	progress = types.TaskProgress{State: types.StateCompleted, Percent: 100, Message: "done"}

	result := &TaskResult{Status: types.StatusCompleted}
	if outcome.Completed != nil {
		result.Content = outcome.Completed.Content
		result.Artifacts = outcome.Completed.Artifacts
	}
	return result, nil
}

// activityErrorSummary 从活动错误提取安全摘要；
// 活动层已把领域错误映射为带错误码类型的 ApplicationError
func activityErrorSummary(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return "[" + appErr.Type() + "] " + appErr.Message()
	}
	return "task execution failed"
}
