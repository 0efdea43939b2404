package hitl

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/taskbridge/types"
)

// Signaler 把"继续执行"送回正在等待的任务。
// 持久化后端通过引擎的 signal 机制实现；进程内后端直接重入执行。
type Signaler interface {
	SignalResume(ctx context.Context, checkpoint *types.Checkpoint, userResponse string) error
}

// Resumer 恢复入口：加载检查点并把人工输入路由回任务
type Resumer struct {
	checkpoints CheckpointStore
	signaler    Signaler
	logger      *zap.Logger
}

// NewResumer 创建恢复入口
func NewResumer(checkpoints CheckpointStore, signaler Signaler, logger *zap.Logger) *Resumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resumer{
		checkpoints: checkpoints,
		signaler:    signaler,
		logger:      logger.With(zap.String("component", "resumer")),
	}
}

// Resume 从 (session_id, exchange_id) 定位检查点并恢复执行
func (r *Resumer) Resume(ctx context.Context, sessionID, exchangeID, userResponse string) error {
	checkpoint, err := r.checkpoints.Load(ctx, sessionID, exchangeID)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	r.logger.Info("resuming task from checkpoint",
		zap.String("session_id", sessionID),
		zap.String("exchange_id", exchangeID),
		zap.String("task_id", checkpoint.TaskID),
	)

	if err := r.signaler.SignalResume(ctx, checkpoint, userResponse); err != nil {
		return fmt.Errorf("signal resume: %w", err)
	}

	// 恢复信号送达后清理检查点；清理失败不影响恢复本身
	if err := r.checkpoints.Delete(ctx, sessionID, exchangeID); err != nil {
		r.logger.Warn("checkpoint cleanup failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}
	return nil
}
