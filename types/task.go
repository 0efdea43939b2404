package types

import (
	"strings"

	"github.com/google/uuid"
)

// Task 一次 Agent 调用请求（提交后不可变）
type Task struct {
	// TaskID 任务唯一标识，调用方提供或自动生成
	TaskID string `json:"task_id"`

	// TargetAgent 目标 Agent 名称
	TargetAgent string `json:"target_agent"`

	// Payload 任务输入数据
	Payload map[string]any `json:"payload,omitempty"`

	// Context 调用上下文（会话、交换标识等）
	Context map[string]any `json:"context,omitempty"`

	// CallerActor 发起方标识（可选）
	CallerActor string `json:"caller_actor,omitempty"`
}

// NewTask 创建任务，taskID 为空时自动生成
func NewTask(taskID, targetAgent string, payload map[string]any) *Task {
	if taskID == "" {
		taskID = uuid.New().String()
	}
	return &Task{
		TaskID:      taskID,
		TargetAgent: targetAgent,
		Payload:     payload,
	}
}

// Validate 校验任务是否可提交
func (t *Task) Validate() error {
	if t == nil {
		return NewError(ErrInvalidRequest, "task is nil")
	}
	if strings.TrimSpace(t.TaskID) == "" {
		return NewError(ErrInvalidRequest, "task_id is required")
	}
	if strings.TrimSpace(t.TargetAgent) == "" {
		return NewError(ErrInvalidRequest, "target_agent is required")
	}
	return nil
}

// SessionID 从 Context 提取会话 ID
func (t *Task) SessionID() string {
	return t.contextString("session_id")
}

// ExchangeID 从 Context 提取交换 ID
func (t *Task) ExchangeID() string {
	return t.contextString("exchange_id")
}

func (t *Task) contextString(key string) string {
	if t.Context == nil {
		return ""
	}
	if v, ok := t.Context[key].(string); ok {
		return v
	}
	return ""
}

// WorkflowHandle 后端返回的不透明关联标识
// WorkflowID 全局唯一；RunID 区分同一 WorkflowID 的多次执行（仅持久化后端）
type WorkflowHandle struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id,omitempty"`
}
