// Package agentexec 定义调度器与 Agent 执行层之间的协作契约。
// 调度器只知道"调用一个 Agent 并拿到结果"；推理图、工具选择、检索
// 等都在 Runner 实现内部，不属于本仓库。
package agentexec

import (
	"context"
	"encoding/json"

	"github.com/BaSui01/taskbridge/types"
)

// Input Agent 执行输入
type Input struct {
	TaskID      string         `json:"task_id"`
	TargetAgent string         `json:"target_agent"`
	Payload     map[string]any `json:"payload,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	SessionID   string         `json:"session_id,omitempty"`
	ExchangeID  string         `json:"exchange_id,omitempty"`
}

// Result Agent 执行结果
type Result struct {
	Content   string         `json:"content"`
	Artifacts []string       `json:"artifacts,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Suspension 执行中断：Agent 需要人工输入才能继续。
// 这是一次主动暂停而不是失败，所以建模为独立的结果变体而不是 error——
// 通用错误处理路径不会把暂停误当成失败。
type Suspension struct {
	Payload    map[string]any    `json:"payload,omitempty"`
	Checkpoint *types.Checkpoint `json:"checkpoint"`
}

// Outcome 执行结局的标签联合：Completed | Suspended 二选一。
// 失败通过 Run 的 error 返回值表达。
type Outcome struct {
	Completed *Result     `json:"completed,omitempty"`
	Suspended *Suspension `json:"suspended,omitempty"`
}

// IsSuspended 是否以暂停结束
func (o *Outcome) IsSuspended() bool {
	return o != nil && o.Suspended != nil
}

// CompletedOutcome 构造完成结局
func CompletedOutcome(result *Result) *Outcome {
	return &Outcome{Completed: result}
}

// SuspendedOutcome 构造暂停结局
func SuspendedOutcome(payload map[string]any, checkpoint *types.Checkpoint) *Outcome {
	return &Outcome{Suspended: &Suspension{Payload: payload, Checkpoint: checkpoint}}
}

// MarshalResult 把结果序列化为事件载荷
func MarshalResult(r *Result) json.RawMessage {
	if r == nil {
		return nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil
	}
	return data
}

// Monitor 挂在 Agent 执行循环上的阶段钩子。
// 每个主要阶段转换（推理步开始、工具调用开始）触发一次 OnPhase。
// 实现必须是尽力而为的：钩子失败不允许影响任务本身。
type Monitor interface {
	OnPhase(label, phase string)
}

// NopMonitor 空钩子
type NopMonitor struct{}

func (NopMonitor) OnPhase(string, string) {}

// Runner Agent 执行协作方
type Runner interface {
	// Run 执行任务直到完成或暂停；失败通过 error 返回
	Run(ctx context.Context, in *Input, mon Monitor) (*Outcome, error)
}

// ResumableRunner 支持从检查点恢复执行的 Runner
type ResumableRunner interface {
	Runner

	// Resume 从检查点恢复执行，userResponse 是人工输入
	Resume(ctx context.Context, in *Input, checkpoint *types.Checkpoint, userResponse string, mon Monitor) (*Outcome, error)
}

// InputFromTask 把任务转换为执行输入
func InputFromTask(task *types.Task) *Input {
	return &Input{
		TaskID:      task.TaskID,
		TargetAgent: task.TargetAgent,
		Payload:     task.Payload,
		Context:     task.Context,
		SessionID:   task.SessionID(),
		ExchangeID:  task.ExchangeID(),
	}
}
