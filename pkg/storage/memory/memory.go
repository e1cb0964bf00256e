// Package memory L0持久层：全部状态驻留进程内存，重启即丢失。
// 用于开发与测试。
package memory

import (
	"context"
	"sync"

	"github.com/LENAX/aether/pkg/core/workflow"
	"github.com/LENAX/aether/pkg/storage"
)

// Store L0内存实现
type Store struct {
	mu        sync.RWMutex
	workflows map[string]*workflow.Workflow
}

// New 创建内存存储
func New() *Store {
	return &Store{
		workflows: make(map[string]*workflow.Workflow),
	}
}

// CreateWorkflow 创建记录
func (s *Store) CreateWorkflow(_ context.Context, w *workflow.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[w.ID]; ok {
		return storage.ErrDuplicateID
	}
	s.workflows[w.ID] = w.Clone()
	return nil
}

// GetWorkflow 读取记录副本
func (s *Store) GetWorkflow(_ context.Context, id string) (*workflow.Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workflows[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return w.Clone(), nil
}

// UpdateWorkflow 应用变更。变更函数作用在副本上，成功后整体替换，
// 失败时原记录不变。
func (s *Store) UpdateWorkflow(_ context.Context, id string, fn storage.MutationFunc) (*workflow.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workflows[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	next := w.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.workflows[id] = next
	return next.Clone(), nil
}

// AppendStepExecution 追加Step执行记录
func (s *Store) AppendStepExecution(ctx context.Context, id string, step *workflow.StepExecution) error {
	_, err := s.UpdateWorkflow(ctx, id, func(w *workflow.Workflow) error {
		w.Steps = append(w.Steps, step.Clone())
		return nil
	})
	return err
}

// ListWorkflows 过滤并生成摘要
func (s *Store) ListWorkflows(_ context.Context, filter storage.Filter) ([]*storage.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*storage.Summary, 0, len(s.workflows))
	for _, w := range s.workflows {
		if filter.Matches(w) {
			out = append(out, storage.Summarize(w))
		}
	}
	return out, nil
}

// All 返回全部记录副本（L1快照与恢复复用）
func (s *Store) All() []*workflow.Workflow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*workflow.Workflow, 0, len(s.workflows))
	for _, w := range s.workflows {
		out = append(out, w.Clone())
	}
	return out
}

// Load 预置一条记录（恢复路径，绕过重复检查）
func (s *Store) Load(w *workflow.Workflow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workflows[w.ID] = w.Clone()
}

// DeleteWorkflow 删除记录（保留策略清理使用）
func (s *Store) DeleteWorkflow(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.workflows, id)
	return nil
}

// Close 无资源可释放
func (s *Store) Close() error {
	return nil
}
