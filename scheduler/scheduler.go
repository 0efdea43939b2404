// Package scheduler 定义任务调度的能力接口，以及进程内后端实现。
// 两种后端（进程内、持久化引擎桥接）实现同一接口，调用方不感知差异——
// 这条缝让开发和测试可以在不安装持久化引擎的情况下运行整个系统。
//
// 调度器自身的 handle→progress 簿记是临时缓存，可随时丢弃重建；
// 权威状态在 taskstore.TaskRecord。
package scheduler

import (
	"context"

	"github.com/BaSui01/taskbridge/types"
)

// ProgressQueryName 默认进度查询名
const ProgressQueryName = "task-progress"

// Scheduler 任务调度能力接口
// 构造时按配置选择后端实例并显式注入，不使用全局单例
type Scheduler interface {
	// StartTask 提交任务。后端确认"接受"后立即返回，绝不等待任务完成。
	// 持久化后端按 task_id 去重（幂等）；进程内后端每次调用都是新执行。
	StartTask(ctx context.Context, task *types.Task) (types.WorkflowHandle, error)

	// GetProgress 时间点查询，不改变任何状态。
	// workflowID 未知时返回 state=unknown 而不是错误：查询方可能只是
	// 跑在提交前面（弱保证，刻意为之）。
	GetProgress(ctx context.Context, workflowID, runID, queryName string) (types.TaskProgress, error)

	// Cancel 取消任务。持久化后端传播引擎原生取消信号；
	// 进程内后端对未知 workflowID 返回 UNKNOWN_WORKFLOW。
	Cancel(ctx context.Context, workflowID, runID string) error
}
