package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/LENAX/aether/pkg/core/event"
	"github.com/LENAX/aether/pkg/core/queue"
	"github.com/LENAX/aether/pkg/core/registry"
	"github.com/LENAX/aether/pkg/core/task"
	"github.com/LENAX/aether/pkg/core/workflow"
	"github.com/LENAX/aether/pkg/metrics"
)

// RegisterWorker Worker面：注册并签发session-token
func (e *Engine) RegisterWorker(workerID, serviceName, group string, capabilities []task.Capability, advertisedTypes []string, metadata map[string]string) (*registry.Worker, error) {
	w, err := e.registry.Register(workerID, serviceName, group, capabilities, advertisedTypes, metadata)
	if err != nil {
		if errors.Is(err, registry.ErrDuplicateWorker) {
			return nil, fmt.Errorf("%w: worker %s", ErrDuplicate, workerID)
		}
		return nil, err
	}
	metrics.ActiveWorkers.Inc()
	log.Printf("🔌 worker %s registered (service=%s group=%s types=%v)", w.WorkerID, serviceName, group, advertisedTypes)
	return w, nil
}

// HeartbeatSession 会话心跳
func (e *Engine) HeartbeatSession(sessionToken string) error {
	if err := e.registry.Heartbeat(sessionToken); err != nil {
		return e.mapSessionErr(err)
	}
	return nil
}

// HeartbeatTask 任务心跳：刷新claim的可见性期限
func (e *Engine) HeartbeatTask(taskID string) error {
	if err := e.queue.HeartbeatTask(taskID); err != nil {
		return fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	}
	return nil
}

// DrainWorker 转入Draining
func (e *Engine) DrainWorker(sessionToken string) error {
	if err := e.registry.Drain(sessionToken); err != nil {
		return e.mapSessionErr(err)
	}
	return nil
}

// ReturnTask Worker显式退回任务，claim释放后任务回到队头
func (e *Engine) ReturnTask(sessionToken, taskID string) error {
	err := e.queue.Return(taskID, sessionToken)
	switch {
	case errors.Is(err, queue.ErrUnknownTask):
		return fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	case errors.Is(err, queue.ErrClaimMismatch):
		return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	return err
}

func (e *Engine) mapSessionErr(err error) error {
	switch {
	case errors.Is(err, registry.ErrUnknownSession):
		return fmt.Errorf("%w: session token", ErrNotFound)
	case errors.Is(err, registry.ErrSessionDead):
		return fmt.Errorf("%w: session is dead", ErrProtocolViolation)
	}
	return err
}

// ClaimTasks 为某会话claim至多max个任务并登记Step开始。
// 流式与轮询两种派发共用此入口。
func (e *Engine) ClaimTasks(ctx context.Context, sessionToken string, max int) ([]*task.Task, error) {
	w, err := e.registry.Get(sessionToken)
	if err != nil {
		return nil, e.mapSessionErr(err)
	}
	if w.State != registry.SessionActive {
		return nil, nil
	}

	claimed := e.queue.Poll(w.WorkerID, sessionToken, w.AdvertisedTypes, max)
	out := make([]*task.Task, 0, len(claimed))
	for _, t := range claimed {
		if err := e.dispatchBegin(ctx, t); err != nil {
			// 派发失败（终态/协议异常）：吞掉任务，不交给Worker
			e.queue.Ack(t.TaskID)
			log.Printf("⚠️ drop task %s (%s/%s): %v", t.TaskID, t.WorkflowID, t.StepName, err)
			continue
		}
		out = append(out, t)
		metrics.StepsDispatched.Inc()
	}
	metrics.QueueClaims.Set(float64(e.queue.ClaimCount()))
	return out, nil
}

// dispatchBegin 任务派发时登记Step开始并发step:started。
// steps模式追加Running记录；body模式的start任务不生成记录，
// Step记录由Worker的report-step给出。
func (e *Engine) dispatchBegin(ctx context.Context, t *task.Task) error {
	mu := e.lockFor(t.WorkflowID)
	mu.Lock()
	defer mu.Unlock()

	w, err := e.GetWorkflow(ctx, t.WorkflowID)
	if err != nil {
		return err
	}
	if w.State.IsTerminal() {
		return fmt.Errorf("%w: workflow %s is %s", ErrProtocolViolation, w.ID, w.State)
	}

	mode, plan := e.modeOf(w.Type)
	if mode == ModeBody && t.StepName == startStepName {
		return nil
	}

	if rec := w.RunningStep(); rec != nil {
		if rec.StepName == t.StepName && rec.Attempt == t.Attempt {
			// 崩溃恢复后的重派：复用原Running记录，started允许重复（I5）
			e.emit(event.New(event.StepStarted, w.ID, w.Type, event.Payload{
				StepName: t.StepName,
				Attempt:  t.Attempt,
				Input:    t.Input,
			}))
			return nil
		}
		return fmt.Errorf("%w: step %s already running", ErrProtocolViolation, rec.StepName)
	}

	var deps []string
	if plan != nil {
		if def, ok := plan.Step(t.StepName); ok {
			deps = def.Dependencies
		}
	}
	updated, err := e.store.UpdateWorkflow(ctx, t.WorkflowID, func(m *workflow.Workflow) error {
		_, err := m.BeginStep(t.StepName, t.Input, t.Attempt, deps)
		return err
	})
	if err != nil {
		return e.mapWorkflowErr(err)
	}
	e.persistOK()
	e.emit(event.New(event.StepStarted, updated.ID, updated.Type, event.Payload{
		StepName: t.StepName,
		Attempt:  t.Attempt,
		Input:    t.Input,
	}))
	return nil
}

// mapWorkflowErr 把状态机错误映射到错误分类
func (e *Engine) mapWorkflowErr(err error) error {
	switch {
	case errors.Is(err, workflow.ErrTerminal),
		errors.Is(err, workflow.ErrStepMismatch),
		errors.Is(err, workflow.ErrStepRunning):
		return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	case errors.Is(err, workflow.ErrInvalidTransition):
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return e.persistErr(err)
}

// CompleteStep Worker面：按task-id提交完成。幂等：重复提交返回ok
// 且不重复发事件（I5）。cancelled=true表示Worker以取消完成响应。
func (e *Engine) CompleteStep(ctx context.Context, sessionToken, taskID string, output []byte, errMsg string, cancelled bool) error {
	if e.taskDone(taskID) {
		return nil
	}
	claim, ok := e.queue.ClaimOf(taskID)
	if !ok {
		return fmt.Errorf("%w: task %s", ErrNotFound, taskID)
	}
	if sessionToken != "" && claim.SessionToken != sessionToken {
		return fmt.Errorf("%w: task %s claimed by another session", ErrProtocolViolation, taskID)
	}
	t := claim.Task

	mu := e.lockFor(t.WorkflowID)
	mu.Lock()
	defer mu.Unlock()

	// 锁内复查幂等：并发的重复提交只有一个进入此处之后的路径
	if e.taskDone(taskID) {
		return nil
	}

	w, err := e.GetWorkflow(ctx, t.WorkflowID)
	if err != nil {
		return err
	}
	e.queue.Ack(taskID)
	e.markTaskDone(taskID, t.WorkflowID)

	if w.State.IsTerminal() {
		// 迟到完成（如取消deadline已过）：仅审计更新在途Step记录
		return e.auditLateStep(ctx, w, t.StepName, output, errMsg, cancelled)
	}

	mode, plan := e.modeOf(w.Type)
	switch {
	case cancelled:
		return e.finishCancelled(ctx, w, t, mode)
	case errMsg != "":
		return e.handleStepFailure(ctx, w, t, errMsg, mode, plan, false)
	default:
		if mode == ModeBody {
			return e.completeBody(ctx, w, t, output)
		}
		return e.advanceSteps(ctx, w, t, output, plan)
	}
}

// completeBody body模式的最终完成：Worker跑完整个workflow体。
// 未经report-step的单步流程合成一条start记录，保证事件序
// workflow:started, step:started, step:completed, workflow:completed。
func (e *Engine) completeBody(ctx context.Context, w *workflow.Workflow, t *task.Task, output []byte) error {
	synthesized := false
	closedReported := ""
	updated, err := e.store.UpdateWorkflow(ctx, w.ID, func(m *workflow.Workflow) error {
		if rec := m.RunningStep(); rec != nil {
			// Worker没收尾最后一个汇报Step：按完成关闭
			if _, err := m.FinishStep(rec.StepName, workflow.StepCompleted, nil, ""); err != nil {
				return err
			}
			closedReported = rec.StepName
		} else if len(m.Steps) == 0 {
			if _, err := m.BeginStep(startStepName, t.Input, t.Attempt, nil); err != nil {
				return err
			}
			if _, err := m.FinishStep(startStepName, workflow.StepCompleted, output, ""); err != nil {
				return err
			}
			synthesized = true
		}
		return m.Complete(output)
	})
	if err != nil {
		return e.mapWorkflowErr(err)
	}
	e.persistOK()

	if closedReported != "" {
		e.emit(event.New(event.StepCompleted, updated.ID, updated.Type, event.Payload{StepName: closedReported}))
		metrics.StepsCompleted.WithLabelValues(string(workflow.StepCompleted)).Inc()
	}
	if synthesized {
		e.emit(event.New(event.StepStarted, updated.ID, updated.Type, event.Payload{
			StepName: startStepName,
			Attempt:  t.Attempt,
			Input:    t.Input,
		}))
		e.emit(event.New(event.StepCompleted, updated.ID, updated.Type, event.Payload{
			StepName: startStepName,
			Attempt:  t.Attempt,
			Output:   output,
		}))
		metrics.StepsCompleted.WithLabelValues(string(workflow.StepCompleted)).Inc()
	}
	e.emit(event.New(event.WorkflowCompleted, updated.ID, updated.Type, event.Payload{Result: updated.Result}))
	metrics.WorkflowsFinished.WithLabelValues(string(workflow.StateCompleted)).Inc()
	e.notifyTerminal(updated)
	return nil
}

// advanceSteps steps模式推进：关当前Step，入队下一Step或收尾
func (e *Engine) advanceSteps(ctx context.Context, w *workflow.Workflow, t *task.Task, output []byte, plan *workflow.Plan) error {
	updated, err := e.store.UpdateWorkflow(ctx, w.ID, func(m *workflow.Workflow) error {
		_, err := m.FinishStep(t.StepName, workflow.StepCompleted, output, "")
		return err
	})
	if err != nil {
		return e.mapWorkflowErr(err)
	}
	e.persistOK()
	e.emit(event.New(event.StepCompleted, updated.ID, updated.Type, event.Payload{
		StepName: t.StepName,
		Attempt:  t.Attempt,
		Output:   output,
	}))
	metrics.StepsCompleted.WithLabelValues(string(workflow.StepCompleted)).Inc()

	if updated.CancelRequested {
		// 取消请求落在Step在途期间：当前Step收尾后直接终态
		final, err := e.store.UpdateWorkflow(ctx, w.ID, func(m *workflow.Workflow) error {
			return m.Cancel()
		})
		if err != nil {
			return e.mapWorkflowErr(err)
		}
		e.emit(event.New(event.WorkflowCancelled, final.ID, final.Type, event.Payload{}))
		metrics.WorkflowsFinished.WithLabelValues(string(workflow.StateCancelled)).Inc()
		e.notifyTerminal(final)
		return nil
	}

	next, ok := plan.NextStep(updated.CompletedStepNames())
	if !ok {
		return e.finishFromPlan(ctx, updated)
	}
	attempt := updated.AttemptCount(next.Name) + 1
	nt := task.New(updated.ID, updated.Type, next.Name, attempt, e.stepInput(updated), e.retryFor(plan, next.Name))
	e.queue.Enqueue(nt)
	return nil
}

// finishCancelled Worker在deadline内以取消完成响应
func (e *Engine) finishCancelled(ctx context.Context, w *workflow.Workflow, t *task.Task, mode DispatchMode) error {
	updated, err := e.store.UpdateWorkflow(ctx, w.ID, func(m *workflow.Workflow) error {
		if rec := m.RunningStep(); rec != nil {
			if _, err := m.FinishStep(rec.StepName, workflow.StepCancelled, nil, ""); err != nil {
				return err
			}
		} else if mode == ModeBody && len(m.Steps) == 0 {
			// 单步流程取消：合成一条Cancelled记录供审计
			if _, err := m.BeginStep(startStepName, t.Input, t.Attempt, nil); err != nil {
				return err
			}
			if _, err := m.FinishStep(startStepName, workflow.StepCancelled, nil, ""); err != nil {
				return err
			}
		}
		return m.Cancel()
	})
	if err != nil {
		return e.mapWorkflowErr(err)
	}
	e.persistOK()
	metrics.StepsCompleted.WithLabelValues(string(workflow.StepCancelled)).Inc()
	e.emit(event.New(event.WorkflowCancelled, updated.ID, updated.Type, event.Payload{}))
	metrics.WorkflowsFinished.WithLabelValues(string(workflow.StateCancelled)).Inc()
	e.notifyTerminal(updated)
	return nil
}

// handleStepFailure 失败路径：关记录、按策略重试或判死workflow。
// viaReclaim=true时走立即重回队头（worker-lost/可见性超时），
// 否则按退避延迟重新入队。
func (e *Engine) handleStepFailure(ctx context.Context, w *workflow.Workflow, t *task.Task, reason string, mode DispatchMode, plan *workflow.Plan, viaReclaim bool) error {
	failedStep := t.StepName
	failedAttempt := t.Attempt
	updated, err := e.store.UpdateWorkflow(ctx, w.ID, func(m *workflow.Workflow) error {
		if rec := m.RunningStep(); rec != nil {
			failedStep = rec.StepName
			failedAttempt = rec.Attempt
			_, err := m.FinishStep(rec.StepName, workflow.StepFailed, nil, reason)
			return err
		}
		// body模式未经report-step的失败：合成失败记录（审计与attempt计数）
		if _, err := m.BeginStep(t.StepName, t.Input, t.Attempt, nil); err != nil {
			return err
		}
		_, err := m.FinishStep(t.StepName, workflow.StepFailed, nil, reason)
		return err
	})
	if err != nil {
		return e.mapWorkflowErr(err)
	}
	e.persistOK()
	e.emit(event.New(event.StepFailed, updated.ID, updated.Type, event.Payload{
		StepName: failedStep,
		Attempt:  failedAttempt,
		Error:    reason,
	}))
	metrics.StepsCompleted.WithLabelValues(string(workflow.StepFailed)).Inc()

	if updated.CancelRequested {
		final, err := e.store.UpdateWorkflow(ctx, w.ID, func(m *workflow.Workflow) error {
			return m.Cancel()
		})
		if err != nil {
			return e.mapWorkflowErr(err)
		}
		e.emit(event.New(event.WorkflowCancelled, final.ID, final.Type, event.Payload{}))
		metrics.WorkflowsFinished.WithLabelValues(string(workflow.StateCancelled)).Inc()
		e.notifyTerminal(final)
		return nil
	}

	retry := t.Retry
	if retry.MaxRetries <= 0 {
		retry = e.retryFor(plan, t.StepName)
	}
	if t.Attempt < retry.MaxRetries {
		metrics.StepRetries.Inc()
		nt := task.New(t.WorkflowID, t.WorkflowType, t.StepName, t.Attempt+1, t.Input, retry)
		if viaReclaim {
			// 收回重派直接回队头，保持该workflow的FIFO次序
			e.queue.EnqueueFront(nt)
		} else {
			backoff := retry.BackoffFor(t.Attempt)
			time.AfterFunc(backoff, func() {
				e.enqueueRetry(nt)
			})
		}
		return nil
	}

	// 重试耗尽：workflow判死，单次workflow:failed事件
	final, err := e.store.UpdateWorkflow(ctx, w.ID, func(m *workflow.Workflow) error {
		return m.Fail(reason)
	})
	if err != nil {
		return e.mapWorkflowErr(err)
	}
	e.emit(event.New(event.WorkflowFailed, final.ID, final.Type, event.Payload{Error: reason}))
	metrics.WorkflowsFinished.WithLabelValues(string(workflow.StateFailed)).Inc()
	e.notifyTerminal(final)
	return nil
}

// enqueueRetry 退避到期的重试入队（检查workflow仍可推进）
func (e *Engine) enqueueRetry(t *task.Task) {
	ctx := context.Background()
	mu := e.lockFor(t.WorkflowID)
	mu.Lock()
	defer mu.Unlock()

	w, err := e.GetWorkflow(ctx, t.WorkflowID)
	if err != nil || w.State.IsTerminal() || w.CancelRequested {
		return
	}
	e.queue.Enqueue(t)
}

// handleReclaim queue收回claim的入口（会话死亡/可见性超时/显式退回）
func (e *Engine) handleReclaim(t *task.Task, reason queue.ReclaimReason) {
	metrics.TasksReclaimed.WithLabelValues(string(reason)).Inc()
	if reason == queue.ReclaimReturned {
		// 显式退回不计失败，任务原样回队头等待重派
		e.queue.EnqueueFront(t)
		return
	}

	ctx := context.Background()
	mu := e.lockFor(t.WorkflowID)
	mu.Lock()
	defer mu.Unlock()

	w, err := e.GetWorkflow(ctx, t.WorkflowID)
	if err != nil || w.State.IsTerminal() {
		return
	}
	mode, plan := e.modeOf(w.Type)
	if err := e.handleStepFailure(ctx, w, t, string(reason), mode, plan, true); err != nil {
		log.Printf("⚠️ reclaim %s (%s/%s): %v", t.TaskID, t.WorkflowID, t.StepName, err)
	}
}

// ReportStep Worker面：细粒度进度汇报（无task-id关联）。
// body模式下report-step对Step记录具有权威性；未经入队的Step
// 也接受并记录。终态workflow的迟到汇报仅作审计。
func (e *Engine) ReportStep(ctx context.Context, workflowID, stepName, status string, payload []byte, errMsg string) error {
	mu := e.lockFor(workflowID)
	mu.Lock()
	defer mu.Unlock()

	w, err := e.GetWorkflow(ctx, workflowID)
	if err != nil {
		return err
	}
	if w.State.IsTerminal() {
		return e.auditLateStep(ctx, w, stepName, payload, errMsg, status == "cancelled")
	}

	switch status {
	case "started":
		if rec := w.RunningStep(); rec != nil {
			if rec.StepName == stepName {
				return nil
			}
			return fmt.Errorf("%w: step %s already running", ErrProtocolViolation, rec.StepName)
		}
		attempt := w.AttemptCount(stepName) + 1
		updated, err := e.store.UpdateWorkflow(ctx, workflowID, func(m *workflow.Workflow) error {
			_, err := m.BeginStep(stepName, payload, attempt, nil)
			return err
		})
		if err != nil {
			return e.mapWorkflowErr(err)
		}
		e.persistOK()
		e.emit(event.New(event.StepStarted, updated.ID, updated.Type, event.Payload{
			StepName: stepName,
			Attempt:  attempt,
			Input:    payload,
		}))
		return nil

	case "completed", "failed":
		stepStatus := workflow.StepCompleted
		if status == "failed" {
			stepStatus = workflow.StepFailed
		}
		synthesized := false
		attempt := 0
		updated, err := e.store.UpdateWorkflow(ctx, workflowID, func(m *workflow.Workflow) error {
			if rec := m.RunningStep(); rec != nil && rec.StepName == stepName {
				attempt = rec.Attempt
				_, err := m.FinishStep(stepName, stepStatus, payload, errMsg)
				return err
			}
			// 未经started/入队的Step：接受并整体记录
			attempt = m.AttemptCount(stepName) + 1
			if _, err := m.BeginStep(stepName, nil, attempt, nil); err != nil {
				return err
			}
			_, err := m.FinishStep(stepName, stepStatus, payload, errMsg)
			if err == nil {
				synthesized = true
			}
			return err
		})
		if err != nil {
			return e.mapWorkflowErr(err)
		}
		e.persistOK()
		if synthesized {
			e.emit(event.New(event.StepStarted, updated.ID, updated.Type, event.Payload{
				StepName: stepName,
				Attempt:  attempt,
			}))
		}
		evType := event.StepCompleted
		pl := event.Payload{StepName: stepName, Attempt: attempt, Output: payload}
		if stepStatus == workflow.StepFailed {
			evType = event.StepFailed
			pl = event.Payload{StepName: stepName, Attempt: attempt, Error: errMsg}
		}
		e.emit(event.New(evType, updated.ID, updated.Type, pl))
		metrics.StepsCompleted.WithLabelValues(string(stepStatus)).Inc()
		return nil

	default:
		return fmt.Errorf("%w: unknown report status %q", ErrProtocolViolation, status)
	}
}

// auditLateStep 终态后的迟到汇报：只修Step记录，不发事件、不改状态
func (e *Engine) auditLateStep(ctx context.Context, w *workflow.Workflow, stepName string, output []byte, errMsg string, cancelled bool) error {
	rec := w.RunningStep()
	if rec == nil || rec.StepName != stepName {
		return nil
	}
	status := workflow.StepCompleted
	switch {
	case cancelled:
		status = workflow.StepCancelled
	case errMsg != "":
		status = workflow.StepFailed
	}
	_, err := e.store.UpdateWorkflow(ctx, w.ID, func(m *workflow.Workflow) error {
		for i := len(m.Steps) - 1; i >= 0; i-- {
			s := m.Steps[i]
			if s.StepName == stepName && s.Status == workflow.StepRunning {
				s.Output = output
				s.ErrorMessage = errMsg
				s.Status = status
				now := time.Now()
				s.CompletedAt = &now
				break
			}
		}
		return nil
	})
	if err != nil {
		return e.persistErr(err)
	}
	return nil
}
