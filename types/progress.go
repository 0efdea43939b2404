package types

import (
	"encoding/json"
	"time"
)

// ProgressState 某一时刻的执行状态（非权威，见 TaskStatus）
type ProgressState string

const (
	StateRunning   ProgressState = "running"
	StateBlocked   ProgressState = "blocked"
	StateCompleted ProgressState = "completed"
	StateFailed    ProgressState = "failed"
	StateUnknown   ProgressState = "unknown"
)

// TaskProgress 任务进度快照
// Percent 是"最后已知值"，不保证单调递增（心跳可能重置）
type TaskProgress struct {
	State   ProgressState `json:"state"`
	Percent float64       `json:"percent"`
	Message string        `json:"message,omitempty"`
}

// UnknownProgress 未知进度（查询未命中或尚无心跳时返回）
func UnknownProgress() TaskProgress {
	return TaskProgress{State: StateUnknown}
}

// Clamp 将 Percent 收敛到 [0,100]
func (p TaskProgress) Clamp() TaskProgress {
	if p.Percent < 0 {
		p.Percent = 0
	}
	if p.Percent > 100 {
		p.Percent = 100
	}
	return p
}

// EventKind 任务事件类型
type EventKind string

const (
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
)

// TaskEvent 任务事件（progress | completed | failed 的标签联合）
type TaskEvent struct {
	TaskID    string    `json:"task_id"`
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`

	// Progress 仅 Kind=progress 时有效
	Progress *TaskProgress `json:"progress,omitempty"`

	// Result 仅 Kind=completed 时有效
	Result json.RawMessage `json:"result,omitempty"`

	// Error 仅 Kind=failed 时有效；只携带可展示的摘要
	Error string `json:"error,omitempty"`
}

// IsTerminal 仅 completed/failed 为终态；blocked 进度事件不是终态，
// 订阅者收到 blocked 后应继续监听
func (e TaskEvent) IsTerminal() bool {
	return e.Kind == EventCompleted || e.Kind == EventFailed
}

// NewProgressEvent 创建进度事件
func NewProgressEvent(taskID string, progress TaskProgress) TaskEvent {
	p := progress.Clamp()
	return TaskEvent{
		TaskID:    taskID,
		Kind:      EventProgress,
		Timestamp: time.Now(),
		Progress:  &p,
	}
}

// NewCompletedEvent 创建完成事件
func NewCompletedEvent(taskID string, result json.RawMessage) TaskEvent {
	return TaskEvent{
		TaskID:    taskID,
		Kind:      EventCompleted,
		Timestamp: time.Now(),
		Result:    result,
	}
}

// NewFailedEvent 创建失败事件，summary 必须是安全可展示的短摘要
func NewFailedEvent(taskID, summary string) TaskEvent {
	return TaskEvent{
		TaskID:    taskID,
		Kind:      EventFailed,
		Timestamp: time.Now(),
		Error:     summary,
	}
}
