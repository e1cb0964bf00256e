// Package task 定义可调度的Step执行单元
package task

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CapabilityKind Worker能力类型
type CapabilityKind string

const (
	KindStep     CapabilityKind = "step"
	KindActivity CapabilityKind = "activity"
	KindWorkflow CapabilityKind = "workflow"
)

// ParseCapabilityKind 宽松解析能力类型，未知值按Step处理
func ParseCapabilityKind(s string) CapabilityKind {
	switch CapabilityKind(s) {
	case KindActivity, "Activity", "ACTIVITY":
		return KindActivity
	case KindWorkflow, "Workflow", "WORKFLOW":
		return KindWorkflow
	default:
		return KindStep
	}
}

// Capability Worker声明的(名称, 类型)能力
type Capability struct {
	Name string         `json:"name"`
	Kind CapabilityKind `json:"kind"`
}

// RetryPolicy Step重试策略
type RetryPolicy struct {
	MaxRetries        int           `json:"max_retries"`
	InitialInterval   time.Duration `json:"initial_interval"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
}

// DefaultRetryPolicy 默认重试策略
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		InitialInterval:   time.Second,
		BackoffMultiplier: 2.0,
	}
}

// BackoffFor 第attempt次（1-based）失败后的重试等待时长
func (p RetryPolicy) BackoffFor(attempt int) time.Duration {
	d := p.InitialInterval
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.BackoffMultiplier)
	}
	return d
}

// Task 一次Step派发单元。TaskID是claim凭据，每次派发重新生成；
// Worker完成时引用TaskID。
type Task struct {
	TaskID       string      `json:"task_id"`
	WorkflowID   string      `json:"workflow_id"`
	WorkflowType string      `json:"workflow_type"`
	StepName     string      `json:"step_name"`
	Attempt      int         `json:"attempt"`
	Input        []byte      `json:"input,omitempty"`
	Retry        RetryPolicy `json:"retry_policy"`
	EnqueuedAt   time.Time   `json:"enqueued_at"`
}

// New 创建Task并分配新TaskID
func New(workflowID, workflowType, stepName string, attempt int, input []byte, retry RetryPolicy) *Task {
	return &Task{
		TaskID:       uuid.NewString(),
		WorkflowID:   workflowID,
		WorkflowType: workflowType,
		StepName:     stepName,
		Attempt:      attempt,
		Input:        input,
		Retry:        retry,
		EnqueuedAt:   time.Now(),
	}
}

// Key 幂等入队键（workflow-id, step-name, attempt）
func (t *Task) Key() string {
	return fmt.Sprintf("%s/%s/%d", t.WorkflowID, t.StepName, t.Attempt)
}
