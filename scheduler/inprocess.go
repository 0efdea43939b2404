package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/taskbridge/agentexec"
	"github.com/BaSui01/taskbridge/eventbus"
	"github.com/BaSui01/taskbridge/hitl"
	"github.com/BaSui01/taskbridge/internal/metrics"
	"github.com/BaSui01/taskbridge/types"
)

const inProcessBackend = "in-process"

// workflowIDPrefix 进程内后端从 task_id 确定性派生 workflow_id，方便调试
const workflowIDPrefix = "in-memory-"

// InProcess 进程内后端：StartTask 内联执行到完成（无真实异步），
// 返回前记录一份完成快照。无持久化、无重试、无跨进程可见性，
// 只为让控制器和测试在没有持久化引擎时也能工作。
type InProcess struct {
	registry   *agentexec.Registry
	bus        *eventbus.Bus
	interrupts hitl.Handler
	collector  *metrics.Collector
	logger     *zap.Logger

	// mu 保护 progress：结构性修改互斥，读取并发
	mu       sync.RWMutex
	progress map[string]types.TaskProgress

	// suspended 暂停任务的执行输入，供 SignalResume 重入
	suspended map[string]*agentexec.Input
}

// NewInProcess 创建进程内后端
func NewInProcess(registry *agentexec.Registry, bus *eventbus.Bus, interrupts hitl.Handler, collector *metrics.Collector, logger *zap.Logger) *InProcess {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InProcess{
		registry:   registry,
		bus:        bus,
		interrupts: interrupts,
		collector:  collector,
		logger:     logger.With(zap.String("component", "scheduler_inprocess")),
		progress:   make(map[string]types.TaskProgress),
		suspended:  make(map[string]*agentexec.Input),
	}
}

var _ Scheduler = (*InProcess)(nil)
var _ hitl.Signaler = (*InProcess)(nil)

// StartTask 实现 Scheduler
func (s *InProcess) StartTask(ctx context.Context, task *types.Task) (types.WorkflowHandle, error) {
	if err := task.Validate(); err != nil {
		return types.WorkflowHandle{}, err
	}

	runner, err := s.registry.Get(task.TargetAgent)
	if err != nil {
		return types.WorkflowHandle{}, err
	}

	handle := types.WorkflowHandle{WorkflowID: workflowIDPrefix + task.TaskID}
	s.collector.TaskSubmitted(inProcessBackend, task.TargetAgent)
	started := time.Now()

	s.logger.Info("executing task inline",
		zap.String("task_id", task.TaskID),
		zap.String("workflow_id", handle.WorkflowID),
		zap.String("target_agent", task.TargetAgent),
	)

	in := agentexec.InputFromTask(task)
	outcome, runErr := runner.Run(ctx, in, agentexec.NopMonitor{})

	switch {
	case runErr != nil:
		s.recordFailure(handle.WorkflowID, task.TaskID, runErr)
		s.collector.TaskTerminal(inProcessBackend, string(types.StatusFailed), time.Since(started))

	case outcome.IsSuspended():
		if err := s.recordSuspension(ctx, handle.WorkflowID, in, outcome.Suspended); err != nil {
			return types.WorkflowHandle{}, err
		}

	default:
		s.recordCompletion(handle.WorkflowID, task.TaskID, outcome.Completed)
		s.collector.TaskTerminal(inProcessBackend, string(types.StatusCompleted), time.Since(started))
	}

	return handle, nil
}

// GetProgress 实现 Scheduler：本地 map 的纯查找
func (s *InProcess) GetProgress(ctx context.Context, workflowID, runID, queryName string) (types.TaskProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	progress, ok := s.progress[workflowID]
	if !ok {
		return types.UnknownProgress(), nil
	}
	return progress, nil
}

// Cancel 实现 Scheduler。内联执行在返回时已结束，已知 workflowID
// 的取消是 no-op；未知 workflowID 报错
func (s *InProcess) Cancel(ctx context.Context, workflowID, runID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.progress[workflowID]; !ok {
		return types.NewError(types.ErrUnknownWorkflow, "unknown workflow: "+workflowID)
	}
	return nil
}

// SignalResume 实现 hitl.Signaler：从检查点重入执行
func (s *InProcess) SignalResume(ctx context.Context, checkpoint *types.Checkpoint, userResponse string) error {
	workflowID := checkpoint.WorkflowID
	if workflowID == "" {
		workflowID = workflowIDPrefix + checkpoint.TaskID
	}

	s.mu.Lock()
	in, ok := s.suspended[workflowID]
	if ok {
		delete(s.suspended, workflowID)
	}
	s.mu.Unlock()
	if !ok {
		return types.NewError(types.ErrUnknownWorkflow, "no suspended task for workflow: "+workflowID)
	}

	runner, err := s.registry.Get(in.TargetAgent)
	if err != nil {
		return err
	}
	resumable, ok := runner.(agentexec.ResumableRunner)
	if !ok {
		return types.NewError(types.ErrValidation, "target agent does not support resume: "+in.TargetAgent)
	}

	s.setProgress(workflowID, types.TaskProgress{State: types.StateRunning, Message: "resumed"})
	s.bus.Publish(types.NewProgressEvent(in.TaskID, types.TaskProgress{State: types.StateRunning, Message: "resumed"}))

	outcome, runErr := resumable.Resume(ctx, in, checkpoint, userResponse, agentexec.NopMonitor{})
	switch {
	case runErr != nil:
		s.recordFailure(workflowID, in.TaskID, runErr)
	case outcome.IsSuspended():
		return s.recordSuspension(ctx, workflowID, in, outcome.Suspended)
	default:
		s.recordCompletion(workflowID, in.TaskID, outcome.Completed)
	}
	return nil
}

func (s *InProcess) recordCompletion(workflowID, taskID string, result *agentexec.Result) {
	s.setProgress(workflowID, types.TaskProgress{State: types.StateCompleted, Percent: 100, Message: "done"})
	s.bus.Publish(types.NewCompletedEvent(taskID, agentexec.MarshalResult(result)))
}

func (s *InProcess) recordFailure(workflowID, taskID string, err error) {
	summary := types.Summarize(err)
	s.logger.Error("inline execution failed",
		zap.String("workflow_id", workflowID),
		zap.Error(err),
	)
	s.setProgress(workflowID, types.TaskProgress{State: types.StateFailed, Message: summary})
	s.bus.Publish(types.NewFailedEvent(taskID, summary))
}

func (s *InProcess) recordSuspension(ctx context.Context, workflowID string, in *agentexec.Input, suspension *agentexec.Suspension) error {
	if suspension.Checkpoint != nil && suspension.Checkpoint.WorkflowID == "" {
		suspension.Checkpoint.WorkflowID = workflowID
	}

	if s.interrupts != nil {
		err := s.interrupts.HandleInterrupt(ctx, &hitl.Interrupt{
			SessionID:  in.SessionID,
			ExchangeID: in.ExchangeID,
			Payload:    suspension.Payload,
			Checkpoint: suspension.Checkpoint,
		})
		if err != nil {
			s.recordFailure(workflowID, in.TaskID, err)
			return err
		}
	}

	s.mu.Lock()
	s.suspended[workflowID] = in
	s.mu.Unlock()

	blocked := types.TaskProgress{State: types.StateBlocked, Message: "awaiting human input"}
	s.setProgress(workflowID, blocked)
	s.bus.Publish(types.NewProgressEvent(in.TaskID, blocked))
	return nil
}

func (s *InProcess) setProgress(workflowID string, progress types.TaskProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[workflowID] = progress.Clamp()
}
