package temporalbridge

import (
	"context"
	"errors"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/BaSui01/taskbridge/agentexec"
	"github.com/BaSui01/taskbridge/hitl"
	"github.com/BaSui01/taskbridge/internal/metrics"
	"github.com/BaSui01/taskbridge/types"
)

// 活动注册名
const (
	RunAgentActivityName        = "RunAgent"
	ResumeAgentActivityName     = "ResumeAgent"
	NotifyInterruptActivityName = "NotifyInterrupt"
)

// ResumeRequest ResumeAgent 活动入参
type ResumeRequest struct {
	Input        *agentexec.Input  `json:"input"`
	Checkpoint   *types.Checkpoint `json:"checkpoint"`
	UserResponse string            `json:"user_response"`
}

// TaskActivities Agent 执行活动集合。
// signaler 用于活动向自身工作流回报进度，可为 nil（进度只走心跳）。
type TaskActivities struct {
	registry   *agentexec.Registry
	interrupts hitl.Handler
	reporter   *ProgressReporter
	collector  *metrics.Collector
	logger     *zap.Logger
}

// NewTaskActivities 创建活动集合。interrupts、c、collector 均可为 nil。
func NewTaskActivities(registry *agentexec.Registry, interrupts hitl.Handler, c client.Client, collector *metrics.Collector, logger *zap.Logger) *TaskActivities {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "task_activities"))
	return &TaskActivities{
		registry:   registry,
		interrupts: interrupts,
		reporter:   NewProgressReporter(c, logger),
		collector:  collector,
		logger:     logger,
	}
}

// RunAgent 执行目标 Agent 直到完成或暂停
func (a *TaskActivities) RunAgent(ctx context.Context, in *agentexec.Input) (*agentexec.Outcome, error) {
	runner, err := a.registry.Get(in.TargetAgent)
	if err != nil {
		return nil, toApplicationError(err)
	}

	mon := newHeartbeatMonitor(ctx, a.reporter, a.collector, a.logger)
	outcome, err := runner.Run(ctx, in, mon)
	if err != nil {
		a.logger.Error("agent run failed",
			zap.String("task_id", in.TaskID),
			zap.String("target_agent", in.TargetAgent),
			zap.Error(err),
		)
		return nil, toApplicationError(err)
	}
	return outcome, nil
}

// ResumeAgent 从检查点恢复执行
func (a *TaskActivities) ResumeAgent(ctx context.Context, req *ResumeRequest) (*agentexec.Outcome, error) {
	runner, err := a.registry.Get(req.Input.TargetAgent)
	if err != nil {
		return nil, toApplicationError(err)
	}
	resumable, ok := runner.(agentexec.ResumableRunner)
	if !ok {
		return nil, toApplicationError(types.NewError(types.ErrValidation, "target agent does not support resume: "+req.Input.TargetAgent))
	}

	mon := newHeartbeatMonitor(ctx, a.reporter, a.collector, a.logger)
	outcome, err := resumable.Resume(ctx, req.Input, req.Checkpoint, req.UserResponse, mon)
	if err != nil {
		a.logger.Error("agent resume failed",
			zap.String("task_id", req.Input.TaskID),
			zap.Error(err),
		)
		return nil, toApplicationError(err)
	}
	return outcome, nil
}

// NotifyInterrupt 持久化检查点并通知等待人工输入
func (a *TaskActivities) NotifyInterrupt(ctx context.Context, interrupt *hitl.Interrupt) error {
	if a.interrupts == nil {
		return nil
	}
	if err := a.interrupts.HandleInterrupt(ctx, interrupt); err != nil {
		if errors.Is(err, hitl.ErrCheckpointRequired) {
			// 逻辑错误，重试无意义
			return toApplicationError(types.NewError(types.ErrValidation, err.Error()))
		}
		return toApplicationError(err)
	}
	return nil
}

// toApplicationError 把领域错误映射为以错误码为类型的 ApplicationError，
// 让重试策略的 NonRetryableErrorTypes 按码匹配；摘要不携带内部细节
func toApplicationError(err error) error {
	var e *types.Error
	if errors.As(err, &e) {
		// Type=错误码供重试策略匹配；Message 只带可展示文本，
		// 摘要由工作流侧重组为 "[CODE] message"
		return temporal.NewApplicationError(e.Message, string(e.Code))
	}
	return err
}
