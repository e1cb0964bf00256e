package dto

import (
	"encoding/json"

	"github.com/LENAX/aether/pkg/core/task"
	"github.com/LENAX/aether/pkg/core/workflow"
	"github.com/LENAX/aether/pkg/storage"
)

// ErrorResponse 错误响应
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(code, message string) ErrorResponse {
	return ErrorResponse{Code: code, Message: message}
}

// StartWorkflowResponse POST /workflows响应
type StartWorkflowResponse struct {
	WorkflowID string `json:"workflow_id"`
}

// WorkflowStatusResponse GET /workflows/:id响应
type WorkflowStatusResponse struct {
	WorkflowID  string `json:"workflow_id"`
	State       string `json:"state"`
	CurrentStep string `json:"current_step,omitempty"`
	StartedAt   int64  `json:"started_at"`
	CompletedAt int64  `json:"completed_at,omitempty"`
}

// NewWorkflowStatusResponse 由记录生成状态响应
func NewWorkflowStatusResponse(w *workflow.Workflow) WorkflowStatusResponse {
	resp := WorkflowStatusResponse{
		WorkflowID:  w.ID,
		State:       string(w.State),
		CurrentStep: w.CurrentStep,
		StartedAt:   w.StartedAt.Unix(),
	}
	if w.CompletedAt != nil {
		resp.CompletedAt = w.CompletedAt.Unix()
	}
	return resp
}

// WorkflowResultResponse GET /workflows/:id/result响应
type WorkflowResultResponse struct {
	WorkflowID string          `json:"workflow_id"`
	State      string          `json:"state"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// StillRunningResponse await超时的可恢复信号
type StillRunningResponse struct {
	WorkflowID string `json:"workflow_id"`
	Status     string `json:"status"` // 固定为still_running
}

// CancelWorkflowResponse DELETE /workflows/:id响应
type CancelWorkflowResponse struct {
	WorkflowID string `json:"workflow_id"`
	Status     string `json:"status"` // accepted / already_terminal
}

// RegisterWorkerResponse POST /workers响应
type RegisterWorkerResponse struct {
	WorkerID     string `json:"worker_id"`
	SessionToken string `json:"session_token"`
}

// TaskPayload 派发给Worker的任务
type TaskPayload struct {
	TaskID       string          `json:"task_id"`
	WorkflowID   string          `json:"workflow_id"`
	WorkflowType string          `json:"workflow_type"`
	StepName     string          `json:"step_name"`
	Attempt      int             `json:"attempt"`
	Input        json.RawMessage `json:"input,omitempty"`
	RetryPolicy  RetryPolicyInfo `json:"retry_policy"`
}

// RetryPolicyInfo 任务携带的重试策略
type RetryPolicyInfo struct {
	MaxRetries        int     `json:"max_retries"`
	InitialIntervalMs int64   `json:"initial_interval_ms"`
	BackoffMultiplier float64 `json:"backoff_multiplier"`
}

// NewTaskPayload 由Task生成派发载荷
func NewTaskPayload(t *task.Task) TaskPayload {
	return TaskPayload{
		TaskID:       t.TaskID,
		WorkflowID:   t.WorkflowID,
		WorkflowType: t.WorkflowType,
		StepName:     t.StepName,
		Attempt:      t.Attempt,
		Input:        json.RawMessage(t.Input),
		RetryPolicy: RetryPolicyInfo{
			MaxRetries:        t.Retry.MaxRetries,
			InitialIntervalMs: t.Retry.InitialInterval.Milliseconds(),
			BackoffMultiplier: t.Retry.BackoffMultiplier,
		},
	}
}

// PollTasksResponse POST /workers/poll响应
type PollTasksResponse struct {
	Tasks []TaskPayload `json:"tasks"`
}

// AckResponse 简单确认
type AckResponse struct {
	OK bool `json:"ok"`
}

// WorkflowSummaryInfo 列表摘要
type WorkflowSummaryInfo struct {
	WorkflowID   string `json:"workflow_id"`
	WorkflowType string `json:"workflow_type"`
	State        string `json:"state"`
	CurrentStep  string `json:"current_step,omitempty"`
	StartedAt    int64  `json:"started_at"`
	CompletedAt  int64  `json:"completed_at,omitempty"`
}

// NewWorkflowSummaryInfo 由存储摘要生成
func NewWorkflowSummaryInfo(s *storage.Summary) WorkflowSummaryInfo {
	info := WorkflowSummaryInfo{
		WorkflowID:   s.WorkflowID,
		WorkflowType: s.WorkflowType,
		State:        string(s.State),
		CurrentStep:  s.CurrentStep,
		StartedAt:    s.StartedAt.Unix(),
	}
	if s.CompletedAt != nil {
		info.CompletedAt = s.CompletedAt.Unix()
	}
	return info
}

// StepExecutionInfo Step执行记录
type StepExecutionInfo struct {
	StepName     string          `json:"step_name"`
	Status       string          `json:"status"`
	Attempt      int             `json:"attempt"`
	Input        json.RawMessage `json:"input,omitempty"`
	Output       json.RawMessage `json:"output,omitempty"`
	Error        string          `json:"error_message,omitempty"`
	Dependencies []string        `json:"dependencies,omitempty"`
	StartedAt    int64           `json:"started_at,omitempty"`
	CompletedAt  int64           `json:"completed_at,omitempty"`
}

// WorkflowDetailInfo 完整记录（含Step执行历史）
type WorkflowDetailInfo struct {
	WorkflowID     string              `json:"workflow_id"`
	WorkflowType   string              `json:"workflow_type"`
	State          string              `json:"state"`
	CurrentStep    string              `json:"current_step,omitempty"`
	Result         json.RawMessage     `json:"result,omitempty"`
	Error          string              `json:"error_message,omitempty"`
	StartedAt      int64               `json:"started_at"`
	CompletedAt    int64               `json:"completed_at,omitempty"`
	StepExecutions []StepExecutionInfo `json:"step_executions"`
}

// NewWorkflowDetailInfo 由完整记录生成
func NewWorkflowDetailInfo(w *workflow.Workflow) WorkflowDetailInfo {
	detail := WorkflowDetailInfo{
		WorkflowID:     w.ID,
		WorkflowType:   w.Type,
		State:          string(w.State),
		CurrentStep:    w.CurrentStep,
		Result:         json.RawMessage(w.Result),
		Error:          w.ErrorMessage,
		StartedAt:      w.StartedAt.Unix(),
		StepExecutions: make([]StepExecutionInfo, 0, len(w.Steps)),
	}
	if w.CompletedAt != nil {
		detail.CompletedAt = w.CompletedAt.Unix()
	}
	for _, s := range w.Steps {
		info := StepExecutionInfo{
			StepName:     s.StepName,
			Status:       string(s.Status),
			Attempt:      s.Attempt,
			Input:        json.RawMessage(s.Input),
			Output:       json.RawMessage(s.Output),
			Error:        s.ErrorMessage,
			Dependencies: s.Dependencies,
		}
		if s.StartedAt != nil {
			info.StartedAt = s.StartedAt.Unix()
		}
		if s.CompletedAt != nil {
			info.CompletedAt = s.CompletedAt.Unix()
		}
		detail.StepExecutions = append(detail.StepExecutions, info)
	}
	return detail
}

// WorkerInfo Worker注册记录（管理查询）
type WorkerInfo struct {
	WorkerID        string   `json:"worker_id"`
	ServiceName     string   `json:"service_name"`
	Group           string   `json:"group"`
	State           string   `json:"state"`
	AdvertisedTypes []string `json:"advertised_types"`
	LastHeartbeatAt int64    `json:"last_heartbeat_at"`
}
