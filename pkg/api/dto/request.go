// Package dto 协调面与Monitor面的请求/响应结构。
// 线格式字段统一snake_case；step输入输出对核心是不透明字节，
// HTTP面上以原始JSON透传。
package dto

import "encoding/json"

// StartWorkflowRequest POST /workflows
type StartWorkflowRequest struct {
	WorkflowType string          `json:"workflow_type" binding:"required"`
	Input        json.RawMessage `json:"input"`
}

// RegisterWorkerRequest POST /workers
type RegisterWorkerRequest struct {
	WorkerID      string            `json:"worker_id"`
	ServiceName   string            `json:"service_name" binding:"required"`
	Group         string            `json:"group"`
	Capabilities  []CapabilityInfo  `json:"capabilities"`
	WorkflowTypes []string          `json:"workflow_types"`
	Metadata      map[string]string `json:"metadata"`
}

// CapabilityInfo (名称, 类型)能力声明。kind大小写不敏感，
// 未知值按step处理。
type CapabilityInfo struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// PollTasksRequest POST /workers/poll
type PollTasksRequest struct {
	Max int `json:"max"`
}

// CompleteStepRequest POST /steps/:taskId/complete
// Result与Error二选一；Cancelled=true表示以取消完成响应。
type CompleteStepRequest struct {
	Result    json.RawMessage `json:"result"`
	Error     string          `json:"error"`
	Cancelled bool            `json:"cancelled"`
}

// ReportStepRequest POST /steps/report
type ReportStepRequest struct {
	WorkflowID string          `json:"workflow_id" binding:"required"`
	StepName   string          `json:"step_name" binding:"required"`
	Status     string          `json:"status" binding:"required"`
	Payload    json.RawMessage `json:"payload"`
	Error      string          `json:"error"`
}
