// Package storage 定义工作流状态的持久化接口与分层实现的公共类型
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/LENAX/aether/pkg/core/workflow"
)

var (
	// ErrNotFound workflow-id不存在
	ErrNotFound = errors.New("workflow not found")
	// ErrDuplicateID 创建时workflow-id冲突
	ErrDuplicateID = errors.New("workflow id already exists")
	// ErrConflict 并发更新冲突
	ErrConflict = errors.New("workflow update conflict")
	// ErrPersistence I/O失败。调用方应将内存态视为过期并重新加载。
	ErrPersistence = errors.New("persistence failure")
)

// MutationFunc 对单个Workflow的原子变更。实现方保证同一
// workflow-id上的变更串行生效。
type MutationFunc func(w *workflow.Workflow) error

// Filter 列表查询过滤条件
type Filter struct {
	ActiveOnly bool
	Type       string
	State      workflow.State
	Since      time.Time
}

// matches 过滤判断
func (f Filter) matches(w *workflow.Workflow) bool {
	if f.ActiveOnly && w.State.IsTerminal() {
		return false
	}
	if f.Type != "" && f.Type != w.Type {
		return false
	}
	if f.State != "" && f.State != w.State {
		return false
	}
	if !f.Since.IsZero() && w.StartedAt.Before(f.Since) {
		return false
	}
	return true
}

// Matches 导出的过滤判断
func (f Filter) Matches(w *workflow.Workflow) bool {
	return f.matches(w)
}

// Summary Monitor API使用的列表摘要
type Summary struct {
	WorkflowID   string         `json:"workflow_id"`
	WorkflowType string         `json:"workflow_type"`
	State        workflow.State `json:"state"`
	CurrentStep  string         `json:"current_step,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// Summarize 由完整记录生成摘要
func Summarize(w *workflow.Workflow) *Summary {
	return &Summary{
		WorkflowID:   w.ID,
		WorkflowType: w.Type,
		State:        w.State,
		CurrentStep:  w.CurrentStep,
		StartedAt:    w.StartedAt,
		CompletedAt:  w.CompletedAt,
	}
}

// ActionKind L2动作日志的动作类别
type ActionKind string

const (
	ActionCreate ActionKind = "create"
	ActionUpdate ActionKind = "update"
)

// ActionLogEntry L2追加日志记录。seq在单个workflow内单调递增。
type ActionLogEntry struct {
	Version    int        `json:"v"`
	Seq        uint64     `json:"seq"`
	WorkflowID string     `json:"workflow_id"`
	Kind       ActionKind `json:"kind"`
	Before     string     `json:"before"`
	After      string     `json:"after"`
	Timestamp  time.Time  `json:"timestamp"`
	// Payload 变更后的完整状态，回放时直接生效
	Payload []byte `json:"payload"`
}

// Store 持久化层统一接口。所有操作对单个workflow-id原子。
// 启动时实现方必须先呈现一致快照再接受变更。
type Store interface {
	// CreateWorkflow 创建新记录；ID冲突返回ErrDuplicateID
	CreateWorkflow(ctx context.Context, w *workflow.Workflow) error
	// GetWorkflow 读取记录副本；不存在返回ErrNotFound
	GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error)
	// UpdateWorkflow 在每workflow串行化约束下应用变更并返回新状态
	UpdateWorkflow(ctx context.Context, id string, fn MutationFunc) (*workflow.Workflow, error)
	// AppendStepExecution 追加一条Step执行记录
	AppendStepExecution(ctx context.Context, id string, step *workflow.StepExecution) error
	// ListWorkflows 按过滤条件返回摘要
	ListWorkflows(ctx context.Context, filter Filter) ([]*Summary, error)
	// DeleteWorkflow 删除记录（仅保留策略调用）；不存在返回ErrNotFound
	DeleteWorkflow(ctx context.Context, id string) error
	// Close 释放资源；L1在关闭前落一次快照
	Close() error
}
