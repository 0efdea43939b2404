// Package temporalbridge 把任务调度桥接到 Temporal 持久化执行引擎。
// Backend 是 scheduler.Scheduler 的持久化实现：提交即 ExecuteWorkflow，
// 进度查询走 QueryWorkflow，恢复与取消走引擎原生 signal/cancel。
//
// 崩溃恢复、重试、心跳超时全部由引擎承载，本包只做两侧词汇的翻译。
package temporalbridge

import (
	"context"
	"errors"

	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/BaSui01/taskbridge/eventbus"
	"github.com/BaSui01/taskbridge/hitl"
	"github.com/BaSui01/taskbridge/internal/metrics"
	"github.com/BaSui01/taskbridge/scheduler"
	"github.com/BaSui01/taskbridge/types"
)

const temporalBackend = "temporal"

// workflowIDPrefix 持久化后端从 task_id 确定性派生 workflow_id：
// 同一 task_id 重复提交命中引擎的同名在跑工作流，天然幂等
const workflowIDPrefix = "task-"

// ProgressSignalName 活动向自身工作流上报进度的信号名
const ProgressSignalName = "task-progress"

// ResumeSignalName 人工输入到达后唤醒工作流的信号名
const ResumeSignalName = "resume-task"

// Backend 持久化调度后端
type Backend struct {
	client    client.Client
	taskQueue string
	bus       *eventbus.Bus
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewBackend 创建持久化后端。bus 可为 nil（不发布任务事件）。
func NewBackend(c client.Client, taskQueue string, bus *eventbus.Bus, collector *metrics.Collector, logger *zap.Logger) *Backend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		client:    c,
		taskQueue: taskQueue,
		bus:       bus,
		collector: collector,
		logger:    logger.With(zap.String("component", "scheduler_temporal")),
	}
}

var _ scheduler.Scheduler = (*Backend)(nil)
var _ hitl.Signaler = (*Backend)(nil)

// StartTask 实现 Scheduler：引擎确认接受后立即返回。
// 重复提交同一 task_id 返回已存在执行的句柄而不是报错。
func (b *Backend) StartTask(ctx context.Context, task *types.Task) (types.WorkflowHandle, error) {
	if err := task.Validate(); err != nil {
		return types.WorkflowHandle{}, err
	}

	opts := client.StartWorkflowOptions{
		ID:        workflowIDPrefix + task.TaskID,
		TaskQueue: b.taskQueue,
		// 同 workflow_id 已有在跑执行时挂到既有执行上，而不是报错
		WorkflowIDConflictPolicy: enumspb.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
	}

	run, err := b.client.ExecuteWorkflow(ctx, opts, TaskWorkflowName, task)
	if err != nil {
		b.logger.Error("workflow start failed",
			zap.String("task_id", task.TaskID),
			zap.Error(err),
		)
		return types.WorkflowHandle{}, types.NewError(types.ErrServiceUnavailable, "workflow engine rejected submission").WithCause(err)
	}

	handle := types.WorkflowHandle{WorkflowID: run.GetID(), RunID: run.GetRunID()}
	b.collector.TaskSubmitted(temporalBackend, task.TargetAgent)
	b.logger.Info("task submitted to workflow engine",
		zap.String("task_id", task.TaskID),
		zap.String("workflow_id", handle.WorkflowID),
		zap.String("run_id", handle.RunID),
	)

	if b.bus != nil {
		go b.watch(task.TaskID, run)
	}
	return handle, nil
}

// watch 等待工作流结束并把终态翻译成任务事件。
// 进程重启后在途任务不再有 watcher，但记录可以通过 GetProgress 补齐——
// 事件总线本来就只服务"恰好在看"的订阅者。
func (b *Backend) watch(taskID string, run client.WorkflowRun) {
	var result TaskResult
	if err := run.Get(context.Background(), &result); err != nil {
		summary := types.Summarize(err)
		b.bus.Publish(types.NewFailedEvent(taskID, summary))
		b.collector.TaskTerminal(temporalBackend, string(types.StatusFailed), 0)
		return
	}

	if result.Status == types.StatusFailed {
		b.bus.Publish(types.NewFailedEvent(taskID, result.FinalSummary))
		b.collector.TaskTerminal(temporalBackend, string(types.StatusFailed), 0)
		return
	}

	payload, err := result.Marshal()
	if err != nil {
		b.logger.Warn("failed to encode workflow result", zap.String("task_id", taskID), zap.Error(err))
	}
	b.bus.Publish(types.NewCompletedEvent(taskID, payload))
	b.collector.TaskTerminal(temporalBackend, string(types.StatusCompleted), 0)
}

// GetProgress 实现 Scheduler：只读查询，未知 workflowID 返回 unknown
func (b *Backend) GetProgress(ctx context.Context, workflowID, runID, queryName string) (types.TaskProgress, error) {
	if queryName == "" {
		queryName = scheduler.ProgressQueryName
	}

	resp, err := b.client.QueryWorkflow(ctx, workflowID, runID, queryName)
	if err != nil {
		if isNotFound(err) {
			return types.UnknownProgress(), nil
		}
		return types.UnknownProgress(), types.NewError(types.ErrServiceUnavailable, "progress query failed").WithCause(err)
	}

	var progress types.TaskProgress
	if err := resp.Get(&progress); err != nil {
		return types.UnknownProgress(), types.NewError(types.ErrInternalError, "malformed progress query result").WithCause(err)
	}
	return progress, nil
}

// Cancel 实现 Scheduler：传播引擎原生取消
func (b *Backend) Cancel(ctx context.Context, workflowID, runID string) error {
	err := b.client.CancelWorkflow(ctx, workflowID, runID)
	if isNotFound(err) {
		return types.NewError(types.ErrUnknownWorkflow, "unknown workflow: "+workflowID)
	}
	return err
}

// SignalResume 实现 hitl.Signaler：把人工输入作为信号投递给工作流，
// 等待本身由引擎承载
func (b *Backend) SignalResume(ctx context.Context, checkpoint *types.Checkpoint, userResponse string) error {
	workflowID := checkpoint.WorkflowID
	if workflowID == "" && checkpoint.TaskID != "" {
		workflowID = workflowIDPrefix + checkpoint.TaskID
	}
	if workflowID == "" {
		return types.NewError(types.ErrValidation, "checkpoint carries no workflow routing")
	}

	signal := &ResumeSignal{UserResponse: userResponse, Checkpoint: checkpoint}
	err := b.client.SignalWorkflow(ctx, workflowID, "", ResumeSignalName, signal)
	if isNotFound(err) {
		return types.NewError(types.ErrUnknownWorkflow, "unknown workflow: "+workflowID)
	}
	return err
}

func isNotFound(err error) bool {
	var notFound *serviceerror.NotFound
	return errors.As(err, &notFound)
}
