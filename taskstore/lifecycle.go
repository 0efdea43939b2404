package taskstore

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/BaSui01/taskbridge/eventbus"
	"github.com/BaSui01/taskbridge/types"
)

// Lifecycle 消费事件总线上的任务事件并落到权威记录。
// 记录更新由调用方层驱动（调度器不写记录），这个消费者就是那个
// 调用方层：QUEUED→RUNNING 在首个 running 进度；blocked⇄running 跟随
// 进度事件；终态事件写入 COMPLETED/FAILED 后停止。
type Lifecycle struct {
	store  Store
	bus    *eventbus.Bus
	logger *zap.Logger
}

// NewLifecycle 创建生命周期消费者
func NewLifecycle(store Store, bus *eventbus.Bus, logger *zap.Logger) *Lifecycle {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lifecycle{
		store:  store,
		bus:    bus,
		logger: logger.With(zap.String("component", "task_lifecycle")),
	}
}

// Start 同步挂上订阅后在后台消费事件。
// 返回时订阅已生效：提交方先 Start 再触发执行，不会漏掉
// 内联后端在 StartTask 期间发布的事件。
func (l *Lifecycle) Start(ctx context.Context, taskID string) {
	ch, cancel := l.bus.Subscribe(ctx, taskID)
	go func() {
		defer cancel()
		l.consume(ctx, taskID, ch)
	}()
}

// Watch 订阅任务事件并同步记录，直到终态事件或 ctx 取消
func (l *Lifecycle) Watch(ctx context.Context, taskID string) {
	ch, cancel := l.bus.Subscribe(ctx, taskID)
	defer cancel()
	l.consume(ctx, taskID, ch)
}

func (l *Lifecycle) consume(ctx context.Context, taskID string, ch <-chan types.TaskEvent) {
	for event := range ch {
		if err := l.Apply(ctx, event); err != nil {
			l.logger.Warn("failed to apply task event to record",
				zap.String("task_id", taskID),
				zap.String("kind", string(event.Kind)),
				zap.Error(err),
			)
		}
		if event.IsTerminal() {
			return
		}
	}
}

// ApplySnapshot 用一份时间点进度快照对齐记录，提交方在订阅挂上之前
// 错过的事件靠它补课。与事件消费并发竞争时输掉的一方拿到
// ErrIllegalTransition，这里视为已对齐。
func (l *Lifecycle) ApplySnapshot(ctx context.Context, taskID string, progress types.TaskProgress) error {
	record, err := l.store.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if record.Status.IsTerminal() {
		return nil
	}

	switch progress.State {
	case types.StateRunning, types.StateBlocked:
		return l.applyProgress(ctx, types.NewProgressEvent(taskID, progress))

	case types.StateCompleted:
		if record.Status == types.StatusQueued {
			if err := l.store.Transition(ctx, taskID, types.StatusRunning, nil); err != nil && !errors.Is(err, ErrIllegalTransition) {
				return err
			}
		}
		err := l.store.Transition(ctx, taskID, types.StatusCompleted, func(record *types.TaskRecord) {
			record.PercentComplete = 100
			record.LastMessage = progress.Message
		})
		if errors.Is(err, ErrIllegalTransition) {
			return nil
		}
		return err

	case types.StateFailed:
		err := l.store.Transition(ctx, taskID, types.StatusFailed, func(record *types.TaskRecord) {
			record.ErrorDetails = progress.Message
			record.LastMessage = progress.Message
		})
		if errors.Is(err, ErrIllegalTransition) {
			return nil
		}
		return err
	}
	return nil
}

// Apply 把单个事件转换为记录更新
func (l *Lifecycle) Apply(ctx context.Context, event types.TaskEvent) error {
	switch event.Kind {
	case types.EventProgress:
		return l.applyProgress(ctx, event)

	case types.EventCompleted:
		// 内联后端可能没发过 running 进度就直接完成，先补一步合法路径
		if err := l.promoteQueued(ctx, event.TaskID); err != nil {
			return err
		}
		return l.store.Transition(ctx, event.TaskID, types.StatusCompleted, func(record *types.TaskRecord) {
			record.PercentComplete = 100
			record.LastMessage = "completed"
		})

	case types.EventFailed:
		return l.store.Transition(ctx, event.TaskID, types.StatusFailed, func(record *types.TaskRecord) {
			record.ErrorDetails = event.Error
			record.LastMessage = event.Error
		})

	default:
		return nil
	}
}

// promoteQueued 把仍在 QUEUED 的记录推进到 RUNNING；
// 与其他写方竞争输掉拿到 ErrIllegalTransition，视为已对齐
func (l *Lifecycle) promoteQueued(ctx context.Context, taskID string) error {
	record, err := l.store.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if record.Status != types.StatusQueued {
		return nil
	}
	if err := l.store.Transition(ctx, taskID, types.StatusRunning, nil); err != nil && !errors.Is(err, ErrIllegalTransition) {
		return err
	}
	return nil
}

func (l *Lifecycle) applyProgress(ctx context.Context, event types.TaskEvent) error {
	progress := event.Progress
	if progress == nil {
		return nil
	}

	record, err := l.store.Get(ctx, event.TaskID)
	if err != nil {
		return err
	}

	switch progress.State {
	case types.StateBlocked:
		if record.Status == types.StatusBlocked {
			break
		}
		// 内联后端可能不经过 running 直接暂停，记录要按合法路径补一步
		if record.Status == types.StatusQueued {
			if err := l.store.Transition(ctx, event.TaskID, types.StatusRunning, nil); err != nil && !errors.Is(err, ErrIllegalTransition) {
				return err
			}
		}
		return l.store.Transition(ctx, event.TaskID, types.StatusBlocked, func(record *types.TaskRecord) {
			record.BlockedDetails = progress.Message
			record.LastMessage = progress.Message
			record.PercentComplete = progress.Percent
		})

	case types.StateRunning:
		if record.Status == types.StatusQueued || record.Status == types.StatusBlocked {
			err := l.store.Transition(ctx, event.TaskID, types.StatusRunning, func(record *types.TaskRecord) {
				record.LastMessage = progress.Message
				record.PercentComplete = progress.Percent
			})
			if err != nil && !errors.Is(err, ErrIllegalTransition) {
				return err
			}
			return nil
		}
	}

	return l.store.UpdateProgress(ctx, event.TaskID, progress.Percent, progress.Message)
}
