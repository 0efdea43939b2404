package temporalbridge

import (
	"context"

	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/BaSui01/taskbridge/types"
)

// ProgressReporter 把活动侧的进度快照作为信号投递给工作流。
// 引擎心跳的 details 对 query 不可见，查询句柄要的数据得自己送进去。
type ProgressReporter struct {
	client client.Client
	logger *zap.Logger
}

// NewProgressReporter 创建进度上报器，c 为 nil 时上报为 no-op
func NewProgressReporter(c client.Client, logger *zap.Logger) *ProgressReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressReporter{client: c, logger: logger}
}

// Report 尽力而为的上报，失败只记日志
func (r *ProgressReporter) Report(ctx context.Context, workflowID, runID string, progress types.TaskProgress) {
	if r == nil || r.client == nil || workflowID == "" {
		return
	}

	if err := r.client.SignalWorkflow(ctx, workflowID, runID, ProgressSignalName, progress); err != nil {
		r.logger.Debug("progress signal failed",
			zap.String("workflow_id", workflowID),
			zap.Error(err),
		)
	}
}
