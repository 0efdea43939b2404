// Package taskstore 持久化任务记录（TaskRecord）的权威存储。
// 记录的生命周期独立于执行引擎的在途状态：调度器重启后它仍然可查，
// 并为两种后端提供统一的对外视图。
//
// 状态迁移由调用方层（API/生命周期消费者）驱动，调度器自身不写记录。
package taskstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/taskbridge/types"
)

// ErrNotFound 记录不存在
var ErrNotFound = errors.New("task record not found")

// ErrAlreadyExists 记录已存在（task_id 必须全局唯一）
var ErrAlreadyExists = errors.New("task record already exists")

// ErrIllegalTransition 非法状态迁移（含对终态记录的任何修改）
var ErrIllegalTransition = errors.New("illegal task status transition")

// Filter 列表查询条件
type Filter struct {
	UserID      string
	TargetAgent string
	Status      []types.TaskStatus
	Limit       int
	Offset      int
}

// Store 任务记录存储接口
// 实现必须保证每次状态迁移是单行读-改-写（自带事务语义）
type Store interface {
	// Create 创建 QUEUED 记录；task_id 冲突返回 ErrAlreadyExists
	Create(ctx context.Context, record *types.TaskRecord) error

	// Get 按 task_id 查询
	Get(ctx context.Context, taskID string) (*types.TaskRecord, error)

	// GetByWorkflowID 按 workflow_id 查询
	GetByWorkflowID(ctx context.Context, workflowID string) (*types.TaskRecord, error)

	// List 条件查询，按创建时间倒序
	List(ctx context.Context, filter Filter) ([]*types.TaskRecord, error)

	// AttachHandle 写入后端返回的工作流句柄。
	// 句柄是关联标识而不是生命周期字段，任何状态下都可写
	AttachHandle(ctx context.Context, taskID string, handle types.WorkflowHandle) error

	// UpdateProgress 更新进度快照（不改变 Status；终态记录拒绝更新）
	UpdateProgress(ctx context.Context, taskID string, percent float64, message string) error

	// Transition 迁移状态；mutate 在合法性检查通过后、持久化前执行，
	// 用于同步设置 ErrorDetails/BlockedDetails/RunID 等字段
	Transition(ctx context.Context, taskID string, to types.TaskStatus, mutate func(*types.TaskRecord)) error
}

// NewRecord 从任务和句柄构造一条 QUEUED 记录
func NewRecord(task *types.Task, handle types.WorkflowHandle, userID, requestText string) *types.TaskRecord {
	now := time.Now()
	return &types.TaskRecord{
		TaskID:      task.TaskID,
		UserID:      userID,
		TargetAgent: task.TargetAgent,
		Status:      types.StatusQueued,
		RequestText: requestText,
		Context:     task.Context,
		Parameters:  task.Payload,
		WorkflowID:  handle.WorkflowID,
		RunID:       handle.RunID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// applyTransition 共享的迁移校验与不变量维护
func applyTransition(record *types.TaskRecord, to types.TaskStatus, mutate func(*types.TaskRecord)) error {
	if !record.Status.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s (task %s)", ErrIllegalTransition, record.Status, to, record.TaskID)
	}

	record.Status = to
	if mutate != nil {
		mutate(record)
	}

	// error_details 当且仅当 FAILED；blocked_details 当且仅当 BLOCKED
	if to != types.StatusFailed {
		record.ErrorDetails = ""
	}
	if to != types.StatusBlocked {
		record.BlockedDetails = ""
	}
	record.UpdatedAt = time.Now()
	return nil
}
