package temporalbridge

import (
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/workflow"
)

// registrar worker.Worker 与测试环境共同满足的注册面
type registrar interface {
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)
	RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions)
}

// Register 按固定名字注册工作流与活动。
// 用显式名字而不是函数名反射，提交侧不需要 import worker 侧的符号。
func Register(r registrar, workflows TaskWorkflows, activities *TaskActivities) {
	r.RegisterWorkflowWithOptions(workflows.RunAgentTask, workflow.RegisterOptions{Name: TaskWorkflowName})
	r.RegisterActivityWithOptions(activities.RunAgent, activity.RegisterOptions{Name: RunAgentActivityName})
	r.RegisterActivityWithOptions(activities.ResumeAgent, activity.RegisterOptions{Name: ResumeAgentActivityName})
	r.RegisterActivityWithOptions(activities.NotifyInterrupt, activity.RegisterOptions{Name: NotifyInterruptActivityName})
}
