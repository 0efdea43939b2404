package hitl

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/BaSui01/taskbridge/types"
)

// ErrCheckpointRequired 可恢复的工作流缺少检查点属于逻辑错误，
// 必须大声失败而不是静默降级
var ErrCheckpointRequired = errors.New("interrupt requires a checkpoint")

// Interrupt 一次人工介入请求
type Interrupt struct {
	SessionID  string
	ExchangeID string

	// Payload 自由格式载荷（问题、选项等），原样转发给通知方
	Payload map[string]any

	// Checkpoint 必填：恢复执行所需的状态快照
	Checkpoint *types.Checkpoint
}

// Handler 中断处理器。两种策略实现同一接口，Agent 执行层
// 不感知当前激活的是哪一种——它只负责"发生了中断，交给处理器"。
type Handler interface {
	// HandleInterrupt 必须：(1) 尽力持久化检查点——失败记录日志但
	// 不阻止 (2)；(2) 通知当前传输方式任务进入等待人工输入状态
	HandleInterrupt(ctx context.Context, interrupt *Interrupt) error
}

// LiveHandler "实时/流式"策略：向已连接的监听者推送事件
type LiveHandler struct {
	checkpoints CheckpointStore
	notifier    Notifier
	logger      *zap.Logger
}

// NewLiveHandler 创建实时策略处理器
func NewLiveHandler(checkpoints CheckpointStore, notifier Notifier, logger *zap.Logger) *LiveHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LiveHandler{
		checkpoints: checkpoints,
		notifier:    notifier,
		logger:      logger.With(zap.String("component", "hitl_live")),
	}
}

// HandleInterrupt 实现 Handler
func (h *LiveHandler) HandleInterrupt(ctx context.Context, interrupt *Interrupt) error {
	if err := persistCheckpoint(ctx, h.checkpoints, interrupt, h.logger); err != nil {
		return err
	}

	return h.notifier.Emit(ctx, &Notification{
		SessionID:  interrupt.SessionID,
		ExchangeID: interrupt.ExchangeID,
		Payload:    interrupt.Payload,
	})
}

// DurableHandler "持久化/无监听者"策略：工作流可能比任何连接的
// 监听者都活得久，等待本身由工作流引擎的 signal 机制承载，
// 这里只保证检查点可恢复并留下日志痕迹
type DurableHandler struct {
	checkpoints CheckpointStore
	logger      *zap.Logger
}

// NewDurableHandler 创建持久化策略处理器
func NewDurableHandler(checkpoints CheckpointStore, logger *zap.Logger) *DurableHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DurableHandler{
		checkpoints: checkpoints,
		logger:      logger.With(zap.String("component", "hitl_durable")),
	}
}

// HandleInterrupt 实现 Handler
func (h *DurableHandler) HandleInterrupt(ctx context.Context, interrupt *Interrupt) error {
	if err := persistCheckpoint(ctx, h.checkpoints, interrupt, h.logger); err != nil {
		return err
	}

	h.logger.Info("task awaiting human input",
		zap.String("session_id", interrupt.SessionID),
		zap.String("exchange_id", interrupt.ExchangeID),
	)
	return nil
}

// persistCheckpoint 校验检查点并尽力持久化。
// 缺失检查点 → 大声失败；持久化失败 → 记录日志后继续，
// 不能因为落盘失败丢掉通知
func persistCheckpoint(ctx context.Context, store CheckpointStore, interrupt *Interrupt, logger *zap.Logger) error {
	if interrupt.Checkpoint.Empty() {
		return ErrCheckpointRequired
	}

	if store == nil {
		return nil
	}
	if err := store.Save(ctx, interrupt.Checkpoint); err != nil {
		logger.Error("checkpoint persistence failed, continuing with notification",
			zap.String("session_id", interrupt.SessionID),
			zap.String("exchange_id", interrupt.ExchangeID),
			zap.Error(err),
		)
	}
	return nil
}
