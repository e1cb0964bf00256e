package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/LENAX/aether/pkg/core/event"
	"github.com/LENAX/aether/pkg/core/workflow"
	"github.com/LENAX/aether/pkg/metrics"
	"github.com/LENAX/aether/pkg/storage"
)

// StartWorkflow 客户端面：创建并启动workflow，返回workflow-id。
// 次序：持久化创建 -> 转Running -> 发workflow:started -> 入队首任务。
func (e *Engine) StartWorkflow(ctx context.Context, workflowType string, input []byte) (string, error) {
	id := uuid.NewString()
	w := workflow.New(id, workflowType, input)

	mu := e.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	if err := e.store.CreateWorkflow(ctx, w); err != nil {
		return "", e.persistErr(err)
	}
	updated, err := e.store.UpdateWorkflow(ctx, id, func(m *workflow.Workflow) error {
		return m.Start()
	})
	if err != nil {
		return "", e.persistErr(err)
	}
	e.persistOK()

	e.emit(event.New(event.WorkflowStarted, updated.ID, updated.Type, event.Payload{Input: updated.Input}))
	metrics.WorkflowsStarted.WithLabelValues(workflowType).Inc()

	// 入队失败不回滚状态：入队按(workflow, step, attempt)幂等，
	// 下次恢复时重建
	if err := e.enqueueInitial(updated); err != nil {
		return "", err
	}
	return id, nil
}

// GetWorkflow 读取完整记录（Monitor详情与状态查询共用）
func (e *Engine) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	w, err := e.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, e.persistErr(err)
	}
	return w, nil
}

// ListWorkflows 按过滤条件列出摘要
func (e *Engine) ListWorkflows(ctx context.Context, filter storage.Filter) ([]*storage.Summary, error) {
	summaries, err := e.store.ListWorkflows(ctx, filter)
	if err != nil {
		return nil, e.persistErr(err)
	}
	return summaries, nil
}

// AwaitResult 阻塞等待终态，最长timeout。
// timeout=0立即返回：未终态给ErrStillRunning，否则给终值。
// 等待方取消或超时不影响workflow状态。
func (e *Engine) AwaitResult(ctx context.Context, id string, timeout time.Duration) (*workflow.Workflow, error) {
	w, err := e.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}
	if w.State.IsTerminal() {
		return w, nil
	}
	if timeout <= 0 {
		return nil, ErrStillRunning
	}

	ch := make(chan *workflow.Workflow, 1)
	e.awaitMu.Lock()
	e.awaiters[id] = append(e.awaiters[id], ch)
	e.awaitMu.Unlock()

	// 注册与首查之间可能已经到达终态，补查一次防丢通知
	if w, err := e.GetWorkflow(ctx, id); err == nil && w.State.IsTerminal() {
		e.dropAwaiter(id, ch)
		return w, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case w := <-ch:
		return w, nil
	case <-timer.C:
		e.dropAwaiter(id, ch)
		return nil, ErrStillRunning
	case <-ctx.Done():
		e.dropAwaiter(id, ch)
		return nil, ErrCancelled
	}
}

func (e *Engine) dropAwaiter(id string, ch chan *workflow.Workflow) {
	e.awaitMu.Lock()
	defer e.awaitMu.Unlock()
	waiters := e.awaiters[id]
	for i, c := range waiters {
		if c == ch {
			e.awaiters[id] = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(e.awaiters[id]) == 0 {
		delete(e.awaiters, id)
	}
}

// CancelWorkflow 请求取消。无Step在途时直接转Cancelled；
// 有Step在途时置取消标记，经任务流通知Worker，超过
// cancelDeadline后强制转Cancelled（在途Step记录保持Running，
// Worker的迟到汇报仅作审计）。
// 返回值：true=accepted，false=already-terminal。
func (e *Engine) CancelWorkflow(ctx context.Context, id string) (bool, error) {
	mu := e.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	w, err := e.GetWorkflow(ctx, id)
	if err != nil {
		return false, err
	}
	if w.State.IsTerminal() {
		return false, nil
	}

	hasInflight := w.RunningStep() != nil || e.queue.HasClaimForWorkflow(id)
	if !hasInflight {
		// 丢弃尚未claim的排队任务后直接终态
		e.queue.DropWorkflow(id)
		updated, err := e.store.UpdateWorkflow(ctx, id, func(m *workflow.Workflow) error {
			return m.Cancel()
		})
		if err != nil {
			return false, e.persistErr(err)
		}
		e.persistOK()
		e.emit(event.New(event.WorkflowCancelled, updated.ID, updated.Type, event.Payload{}))
		metrics.WorkflowsFinished.WithLabelValues(string(workflow.StateCancelled)).Inc()
		e.notifyTerminal(updated)
		return true, nil
	}

	if _, err := e.store.UpdateWorkflow(ctx, id, func(m *workflow.Workflow) error {
		m.RequestCancel()
		return nil
	}); err != nil {
		return false, e.persistErr(err)
	}
	e.persistOK()
	e.queue.DropWorkflow(id)

	// 取消兜底：deadline内Worker未确认则强制终态
	time.AfterFunc(e.cancelDeadline, func() {
		e.forceCancel(id)
	})
	return true, nil
}

// forceCancel 取消deadline到期的强制转换
func (e *Engine) forceCancel(id string) {
	ctx := context.Background()
	mu := e.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	w, err := e.GetWorkflow(ctx, id)
	if err != nil || w.State.IsTerminal() || !w.CancelRequested {
		return
	}
	// 在途Step记录保持Running，Worker最终汇报时仅作审计更新
	updated, err := e.store.UpdateWorkflow(ctx, id, func(m *workflow.Workflow) error {
		return m.Cancel()
	})
	if err != nil {
		e.persistErr(err)
		return
	}
	e.persistOK()
	e.emit(event.New(event.WorkflowCancelled, updated.ID, updated.Type, event.Payload{}))
	metrics.WorkflowsFinished.WithLabelValues(string(workflow.StateCancelled)).Inc()
	e.notifyTerminal(updated)
}

// CancelRequestedFor 某claim中任务对应的workflow是否已请求取消
// （任务流借此把取消通知推给Worker）
func (e *Engine) CancelRequestedFor(ctx context.Context, workflowID string) bool {
	w, err := e.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return false
	}
	return w.CancelRequested && !w.State.IsTerminal()
}

// IsTerminal 是否已终态（存储不可达时返回错误）
func (e *Engine) IsTerminal(ctx context.Context, id string) (bool, error) {
	w, err := e.GetWorkflow(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, ErrNotFound
		}
		return false, err
	}
	return w.State.IsTerminal(), nil
}
