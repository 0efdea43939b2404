package types

import (
	"encoding/json"
	"time"
)

// TaskStatus 任务记录的权威生命周期状态
// 与 ProgressState 不同：TaskRecord 必须在调度器重启后仍然可见，
// 并统一两种后端的对外状态
type TaskStatus string

const (
	StatusQueued    TaskStatus = "QUEUED"
	StatusRunning   TaskStatus = "RUNNING"
	StatusBlocked   TaskStatus = "BLOCKED"
	StatusCompleted TaskStatus = "COMPLETED"
	StatusFailed    TaskStatus = "FAILED"
	StatusCanceled  TaskStatus = "CANCELED"
)

// IsTerminal 终态判断；终态记录不可变
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// CanTransitionTo 状态迁移合法性
// QUEUED → RUNNING/CANCELED；RUNNING ⇄ BLOCKED；RUNNING/BLOCKED → 终态
func (s TaskStatus) CanTransitionTo(to TaskStatus) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case StatusQueued:
		return to == StatusRunning || to == StatusCanceled || to == StatusFailed
	case StatusRunning:
		return to == StatusBlocked || to.IsTerminal()
	case StatusBlocked:
		return to == StatusRunning || to.IsTerminal()
	default:
		return false
	}
}

// TaskRecord 持久化、可查询的任务记录（独立于执行引擎的在途状态）
type TaskRecord struct {
	TaskID      string         `json:"task_id" gorm:"primaryKey;column:task_id"`
	UserID      string         `json:"user_id,omitempty" gorm:"column:user_id;index"`
	TargetAgent string         `json:"target_agent" gorm:"column:target_agent;index"`
	Status      TaskStatus     `json:"status" gorm:"column:status;index"`
	RequestText string         `json:"request_text,omitempty" gorm:"column:request_text"`
	Context     map[string]any `json:"context,omitempty" gorm:"serializer:json;column:context"`
	Parameters  map[string]any `json:"parameters,omitempty" gorm:"serializer:json;column:parameters"`

	// WorkflowID 创建时写入，之后不再变化
	WorkflowID string `json:"workflow_id" gorm:"column:workflow_id;index"`
	// RunID 同一 WorkflowID 重试/恢复时可能变化
	RunID string `json:"run_id,omitempty" gorm:"column:run_id"`

	LastMessage     string   `json:"last_message,omitempty" gorm:"column:last_message"`
	PercentComplete float64  `json:"percent_complete" gorm:"column:percent_complete"`
	Artifacts       []string `json:"artifacts,omitempty" gorm:"serializer:json;column:artifacts"`

	// ErrorDetails 当且仅当 Status=FAILED 时设置
	ErrorDetails string `json:"error_details,omitempty" gorm:"column:error_details"`
	// BlockedDetails 当且仅当 Status=BLOCKED 时设置
	BlockedDetails string `json:"blocked_details,omitempty" gorm:"serializer:json;column:blocked_details"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at"`
}

// TableName gorm 表名
func (TaskRecord) TableName() string { return "task_records" }

// IsTerminal 记录是否处于终态
func (r *TaskRecord) IsTerminal() bool { return r.Status.IsTerminal() }

// Clone 深拷贝（存储实现返回副本，避免调用方改写内部状态）
func (r *TaskRecord) Clone() *TaskRecord {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Context != nil {
		cp.Context = make(map[string]any, len(r.Context))
		for k, v := range r.Context {
			cp.Context[k] = v
		}
	}
	if r.Parameters != nil {
		cp.Parameters = make(map[string]any, len(r.Parameters))
		for k, v := range r.Parameters {
			cp.Parameters[k] = v
		}
	}
	if r.Artifacts != nil {
		cp.Artifacts = append([]string(nil), r.Artifacts...)
	}
	return &cp
}

// Checkpoint 暂停 Agent 的不透明状态快照，按 (SessionID, ExchangeID) 索引
// 调度器核心只负责搬运，State 的内容由 Agent 执行层解释
type Checkpoint struct {
	SessionID  string `json:"session_id"`
	ExchangeID string `json:"exchange_id"`

	// TaskID/WorkflowID 用于恢复时把检查点路由回原任务
	TaskID     string `json:"task_id,omitempty"`
	WorkflowID string `json:"workflow_id,omitempty"`

	// State 不透明快照内容
	State json.RawMessage `json:"state"`

	CreatedAt time.Time `json:"created_at"`
}

// Empty 检查点是否缺少可恢复内容
func (c *Checkpoint) Empty() bool {
	return c == nil || len(c.State) == 0
}
