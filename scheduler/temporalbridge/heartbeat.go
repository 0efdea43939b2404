package temporalbridge

import (
	"context"

	"go.temporal.io/sdk/activity"
	"go.uber.org/zap"

	"github.com/BaSui01/taskbridge/agentexec"
	"github.com/BaSui01/taskbridge/internal/metrics"
	"github.com/BaSui01/taskbridge/types"
)

// heartbeatMonitor 把 Agent 执行的阶段转换翻译成引擎心跳：
// RecordHeartbeat 喂给引擎做停滞检测，进度信号喂给自身工作流的
// 查询句柄。两条路都是尽力而为——心跳失败绝不弄死任务。
type heartbeatMonitor struct {
	ctx       context.Context
	reporter  *ProgressReporter
	collector *metrics.Collector
	logger    *zap.Logger
}

func newHeartbeatMonitor(ctx context.Context, reporter *ProgressReporter, collector *metrics.Collector, logger *zap.Logger) *heartbeatMonitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &heartbeatMonitor{
		ctx:       ctx,
		reporter:  reporter,
		collector: collector,
		logger:    logger,
	}
}

var _ agentexec.Monitor = (*heartbeatMonitor)(nil)

// OnPhase 实现 agentexec.Monitor
func (m *heartbeatMonitor) OnPhase(label, phase string) {
	m.emit(types.TaskProgress{
		State:   types.StateRunning,
		Message: label + ":" + phase,
	})
}

// emit 记录一次心跳并上报进度。
// RecordHeartbeat/GetInfo 在活动上下文之外会 panic（比如单测直接调
// Runner），recover 把它吞成一次被忽略的心跳。
func (m *heartbeatMonitor) emit(progress types.TaskProgress) {
	defer func() {
		if r := recover(); r != nil {
			m.collector.HeartbeatSwallowed()
			m.logger.Debug("heartbeat outside activity context, ignored",
				zap.Any("reason", r),
			)
		}
	}()

	info := activity.GetInfo(m.ctx)
	activity.RecordHeartbeat(m.ctx, progress.Message)
	m.collector.HeartbeatEmitted()

	m.reporter.Report(m.ctx,
		info.WorkflowExecution.ID,
		info.WorkflowExecution.RunID,
		progress,
	)
}
