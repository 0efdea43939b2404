package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/taskbridge/hitl"
	"github.com/BaSui01/taskbridge/scheduler"
	"github.com/BaSui01/taskbridge/taskstore"
	"github.com/BaSui01/taskbridge/types"
)

// =============================================================================
// Task Handler
// =============================================================================

// TaskHandler 任务提交、查询、恢复、取消
type TaskHandler struct {
	scheduler scheduler.Scheduler
	store     taskstore.Store
	lifecycle *taskstore.Lifecycle
	resumer   *hitl.Resumer
	logger    *zap.Logger

	// watchCtx 生命周期消费 goroutine 的父上下文，随进程存活
	watchCtx context.Context
}

// SubmitTaskRequest 任务提交请求
type SubmitTaskRequest struct {
	TaskID      string         `json:"task_id,omitempty"`
	TargetAgent string         `json:"target_agent"`
	RequestText string         `json:"request_text,omitempty"`
	UserID      string         `json:"user_id,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
}

// SubmitTaskResponse 任务提交响应
type SubmitTaskResponse struct {
	TaskID     string           `json:"task_id"`
	WorkflowID string           `json:"workflow_id"`
	RunID      string           `json:"run_id,omitempty"`
	Status     types.TaskStatus `json:"status"`
}

// TaskProgressResponse 进度查询响应：权威记录状态 + 实时进度快照
type TaskProgressResponse struct {
	TaskID   string             `json:"task_id"`
	Status   types.TaskStatus   `json:"status"`
	Progress types.TaskProgress `json:"progress"`
}

// ResumeTaskRequest 恢复请求
type ResumeTaskRequest struct {
	UserResponse string `json:"user_response"`
}

// NewTaskHandler 创建任务处理器
func NewTaskHandler(s scheduler.Scheduler, store taskstore.Store, lifecycle *taskstore.Lifecycle, resumer *hitl.Resumer, logger *zap.Logger) *TaskHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskHandler{
		scheduler: s,
		store:     store,
		lifecycle: lifecycle,
		resumer:   resumer,
		logger:    logger.With(zap.String("handler", "tasks")),
		watchCtx:  context.Background(),
	}
}

// Register 注册路由
func (h *TaskHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/tasks", h.HandleSubmitTask)
	mux.HandleFunc("GET /v1/tasks", h.HandleListTasks)
	mux.HandleFunc("GET /v1/tasks/{task_id}", h.HandleGetTask)
	mux.HandleFunc("GET /v1/tasks/{task_id}/progress", h.HandleGetProgress)
	mux.HandleFunc("POST /v1/tasks/{task_id}/resume", h.HandleResumeTask)
	mux.HandleFunc("POST /v1/tasks/{task_id}/cancel", h.HandleCancelTask)
}

// HandleSubmitTask 提交任务
// @Summary Submit task
// @Description Submit a task for asynchronous agent execution
// @Tags tasks
// @Accept json
// @Produce json
// @Success 201 {object} Response{data=SubmitTaskResponse} "Task accepted"
// @Failure 400 {object} Response "Invalid request"
// @Router /v1/tasks [post]
func (h *TaskHandler) HandleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	if req.TaskID == "" {
		req.TaskID = uuid.New().String()
	}
	task := types.NewTask(req.TaskID, req.TargetAgent, req.Payload)
	task.Context = req.Context
	if req.RequestText != "" {
		if task.Payload == nil {
			task.Payload = map[string]any{}
		}
		task.Payload["request_text"] = req.RequestText
	}
	if err := task.Validate(); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	// 先建 QUEUED 记录、挂上事件订阅，再触发执行：
	// 内联后端在 StartTask 期间就把事件发完了
	record := taskstore.NewRecord(task, types.WorkflowHandle{}, req.UserID, req.RequestText)
	if err := h.store.Create(r.Context(), record); err != nil {
		if errors.Is(err, taskstore.ErrAlreadyExists) {
			h.respondExisting(w, r, task.TaskID)
			return
		}
		WriteError(w, types.NewError(types.ErrInternalError, "failed to create task record").WithCause(err), h.logger)
		return
	}
	h.lifecycle.Start(h.watchCtx, task.TaskID)

	handle, err := h.scheduler.StartTask(r.Context(), task)
	if err != nil {
		// 提交失败是记录的终态，不留悬空的 QUEUED
		summary := types.Summarize(err)
		if terr := h.store.Transition(r.Context(), task.TaskID, types.StatusFailed, func(record *types.TaskRecord) {
			record.ErrorDetails = summary
		}); terr != nil {
			h.logger.Warn("failed to mark unsubmitted task as failed",
				zap.String("task_id", task.TaskID),
				zap.Error(terr),
			)
		}
		WriteError(w, err, h.logger)
		return
	}

	if err := h.store.AttachHandle(r.Context(), task.TaskID, handle); err != nil {
		h.logger.Warn("failed to attach workflow handle",
			zap.String("task_id", task.TaskID),
			zap.Error(err),
		)
	}

	// 补课：订阅挂上之前后端可能已经跑完了
	h.reconcile(r.Context(), task.TaskID, handle)

	current, err := h.store.Get(r.Context(), task.TaskID)
	if err != nil {
		WriteError(w, types.NewError(types.ErrInternalError, "task record lookup failed").WithCause(err), h.logger)
		return
	}

	WriteCreated(w, SubmitTaskResponse{
		TaskID:     task.TaskID,
		WorkflowID: handle.WorkflowID,
		RunID:      handle.RunID,
		Status:     current.Status,
	})
}

// respondExisting 幂等路径：同一 task_id 重复提交返回已有记录
func (h *TaskHandler) respondExisting(w http.ResponseWriter, r *http.Request, taskID string) {
	record, err := h.store.Get(r.Context(), taskID)
	if err != nil {
		WriteError(w, types.NewError(types.ErrInternalError, "task record lookup failed").WithCause(err), h.logger)
		return
	}
	WriteSuccess(w, SubmitTaskResponse{
		TaskID:     record.TaskID,
		WorkflowID: record.WorkflowID,
		RunID:      record.RunID,
		Status:     record.Status,
	})
}

func (h *TaskHandler) reconcile(ctx context.Context, taskID string, handle types.WorkflowHandle) {
	progress, err := h.scheduler.GetProgress(ctx, handle.WorkflowID, handle.RunID, scheduler.ProgressQueryName)
	if err != nil {
		h.logger.Debug("progress reconciliation skipped", zap.String("task_id", taskID), zap.Error(err))
		return
	}
	if err := h.lifecycle.ApplySnapshot(ctx, taskID, progress); err != nil {
		h.logger.Warn("progress reconciliation failed", zap.String("task_id", taskID), zap.Error(err))
	}
}

// HandleGetTask 查询单条任务记录
// @Router /v1/tasks/{task_id} [get]
func (h *TaskHandler) HandleGetTask(w http.ResponseWriter, r *http.Request) {
	record, ok := h.loadRecord(w, r)
	if !ok {
		return
	}
	WriteSuccess(w, record)
}

// HandleListTasks 条件查询任务记录
// @Router /v1/tasks [get]
func (h *TaskHandler) HandleListTasks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := taskstore.Filter{
		UserID:      query.Get("user_id"),
		TargetAgent: query.Get("target_agent"),
	}
	if raw := query.Get("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			filter.Status = append(filter.Status, types.TaskStatus(strings.ToUpper(strings.TrimSpace(s))))
		}
	}
	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "invalid limit", h.logger)
			return
		}
		filter.Limit = limit
	}
	if raw := query.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "invalid offset", h.logger)
			return
		}
		filter.Offset = offset
	}

	records, err := h.store.List(r.Context(), filter)
	if err != nil {
		WriteError(w, types.NewError(types.ErrInternalError, "task list failed").WithCause(err), h.logger)
		return
	}
	WriteSuccess(w, records)
}

// HandleGetProgress 查询任务进度：终态记录直接回放记录快照，
// 在途任务透传后端查询
// @Router /v1/tasks/{task_id}/progress [get]
func (h *TaskHandler) HandleGetProgress(w http.ResponseWriter, r *http.Request) {
	record, ok := h.loadRecord(w, r)
	if !ok {
		return
	}

	if record.Status.IsTerminal() {
		WriteSuccess(w, TaskProgressResponse{
			TaskID:   record.TaskID,
			Status:   record.Status,
			Progress: progressFromRecord(record),
		})
		return
	}

	progress, err := h.scheduler.GetProgress(r.Context(), record.WorkflowID, record.RunID, scheduler.ProgressQueryName)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	// 查询带回的状态要落回记录：持久化后端暂停/结束时没有事件流经
	// 本进程，记录的 BLOCKED/终态全靠查询补齐
	if err := h.lifecycle.ApplySnapshot(r.Context(), record.TaskID, progress); err != nil {
		h.logger.Warn("progress alignment failed",
			zap.String("task_id", record.TaskID),
			zap.Error(err),
		)
	} else if refreshed, gerr := h.store.Get(r.Context(), record.TaskID); gerr == nil {
		record = refreshed
	}

	WriteSuccess(w, TaskProgressResponse{
		TaskID:   record.TaskID,
		Status:   record.Status,
		Progress: progress,
	})
}

// HandleResumeTask 用人工输入恢复 BLOCKED 任务
// @Router /v1/tasks/{task_id}/resume [post]
func (h *TaskHandler) HandleResumeTask(w http.ResponseWriter, r *http.Request) {
	record, ok := h.loadRecord(w, r)
	if !ok {
		return
	}
	if record.Status.IsTerminal() {
		WriteErrorMessage(w, http.StatusConflict, types.ErrValidation,
			"task is not awaiting human input: "+string(record.Status), h.logger)
		return
	}
	if record.Status != types.StatusBlocked {
		// 持久化后端暂停时记录可能还停在 RUNNING，以实时进度为准
		progress, err := h.scheduler.GetProgress(r.Context(), record.WorkflowID, record.RunID, scheduler.ProgressQueryName)
		if err == nil && progress.State == types.StateBlocked {
			if aerr := h.lifecycle.ApplySnapshot(r.Context(), record.TaskID, progress); aerr != nil {
				h.logger.Warn("progress alignment failed",
					zap.String("task_id", record.TaskID),
					zap.Error(aerr),
				)
			} else if refreshed, gerr := h.store.Get(r.Context(), record.TaskID); gerr == nil {
				record = refreshed
			}
		}
	}
	if record.Status != types.StatusBlocked {
		WriteErrorMessage(w, http.StatusConflict, types.ErrValidation,
			"task is not awaiting human input: "+string(record.Status), h.logger)
		return
	}

	var req ResumeTaskRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	sessionID, _ := record.Context["session_id"].(string)
	exchangeID, _ := record.Context["exchange_id"].(string)
	if sessionID == "" || exchangeID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrValidation,
			"task record carries no session/exchange routing", h.logger)
		return
	}

	if err := h.resumer.Resume(r.Context(), sessionID, exchangeID, req.UserResponse); err != nil {
		if errors.Is(err, hitl.ErrCheckpointNotFound) {
			WriteErrorMessage(w, http.StatusNotFound, types.ErrUnknownWorkflow, "no checkpoint for task", h.logger)
			return
		}
		WriteError(w, err, h.logger)
		return
	}

	// 恢复信号送达后记录先回 RUNNING，后续进度/终态事件照常覆盖。
	// 内联后端可能已经跑完写了终态，竞争输掉视为已对齐
	if err := h.store.Transition(r.Context(), record.TaskID, types.StatusRunning, func(rec *types.TaskRecord) {
		rec.BlockedDetails = ""
	}); err != nil && !errors.Is(err, taskstore.ErrIllegalTransition) {
		h.logger.Warn("resume bookkeeping failed",
			zap.String("task_id", record.TaskID),
			zap.Error(err),
		)
	}
	WriteSuccess(w, map[string]string{"task_id": record.TaskID, "status": "resuming"})
}

// HandleCancelTask 取消任务
// @Router /v1/tasks/{task_id}/cancel [post]
func (h *TaskHandler) HandleCancelTask(w http.ResponseWriter, r *http.Request) {
	record, ok := h.loadRecord(w, r)
	if !ok {
		return
	}
	if record.Status.IsTerminal() {
		WriteErrorMessage(w, http.StatusConflict, types.ErrValidation,
			"task already terminal: "+string(record.Status), h.logger)
		return
	}

	if err := h.scheduler.Cancel(r.Context(), record.WorkflowID, record.RunID); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	if err := h.store.Transition(r.Context(), record.TaskID, types.StatusCanceled, nil); err != nil &&
		!errors.Is(err, taskstore.ErrIllegalTransition) {
		WriteError(w, types.NewError(types.ErrInternalError, "cancel bookkeeping failed").WithCause(err), h.logger)
		return
	}

	current, err := h.store.Get(r.Context(), record.TaskID)
	if err != nil {
		WriteError(w, types.NewError(types.ErrInternalError, "task record lookup failed").WithCause(err), h.logger)
		return
	}
	WriteSuccess(w, current)
}

func (h *TaskHandler) loadRecord(w http.ResponseWriter, r *http.Request) (*types.TaskRecord, bool) {
	taskID := r.PathValue("task_id")
	if taskID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "task_id is required", h.logger)
		return nil, false
	}

	record, err := h.store.Get(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, taskstore.ErrNotFound) {
			WriteErrorMessage(w, http.StatusNotFound, types.ErrUnknownWorkflow, "task not found: "+taskID, h.logger)
			return nil, false
		}
		WriteError(w, types.NewError(types.ErrInternalError, "task record lookup failed").WithCause(err), h.logger)
		return nil, false
	}
	return record, true
}

func progressFromRecord(record *types.TaskRecord) types.TaskProgress {
	var state types.ProgressState
	switch record.Status {
	case types.StatusCompleted:
		state = types.StateCompleted
	case types.StatusFailed, types.StatusCanceled:
		state = types.StateFailed
	case types.StatusBlocked:
		state = types.StateBlocked
	default:
		state = types.StateRunning
	}
	return types.TaskProgress{
		State:   state,
		Percent: record.PercentComplete,
		Message: record.LastMessage,
	}
}
