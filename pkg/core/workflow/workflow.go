// Package workflow 定义Workflow聚合根与状态机转换规则
package workflow

import (
	"errors"
	"fmt"
	"time"
)

// State Workflow生命周期状态
type State string

const (
	StatePending   State = "pending"   // 已创建，未开始
	StateRunning   State = "running"   // 执行中
	StateCompleted State = "completed" // 成功结束
	StateFailed    State = "failed"    // 失败结束
	StateCancelled State = "cancelled" // 已取消
)

// IsTerminal 是否终态（I1：终态不再转换）
func (s State) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

// Valid 是否合法状态值
func (s State) Valid() bool {
	switch s {
	case StatePending, StateRunning, StateCompleted, StateFailed, StateCancelled:
		return true
	}
	return false
}

var (
	// ErrTerminal 对终态Workflow执行转换
	ErrTerminal = errors.New("workflow is in terminal state")
	// ErrInvalidTransition 非法状态转换
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrStepMismatch 完成消息与当前Step不匹配
	ErrStepMismatch = errors.New("step name does not match current step")
	// ErrStepRunning 已有Step处于Running（I2）
	ErrStepRunning = errors.New("another step is already running")
)

// Workflow 一次工作流执行实例。聚合根，仅由状态机（engine包）修改。
type Workflow struct {
	ID              string           `json:"workflow_id"`
	Type            string           `json:"workflow_type"`
	State           State            `json:"state"`
	Input           []byte           `json:"input,omitempty"`
	Result          []byte           `json:"result,omitempty"`
	ErrorMessage    string           `json:"error_message,omitempty"`
	CurrentStep     string           `json:"current_step,omitempty"`
	CancelRequested bool             `json:"cancel_requested,omitempty"`
	StartedAt       time.Time        `json:"started_at"`
	CompletedAt     *time.Time       `json:"completed_at,omitempty"`
	UpdatedAt       time.Time        `json:"updated_at"`
	Steps           []*StepExecution `json:"step_executions"`
}

// New 创建Pending状态的Workflow
func New(id, workflowType string, input []byte) *Workflow {
	now := time.Now()
	return &Workflow{
		ID:        id,
		Type:      workflowType,
		State:     StatePending,
		Input:     input,
		StartedAt: now,
		UpdatedAt: now,
		Steps:     make([]*StepExecution, 0, 4),
	}
}

// Start Pending -> Running
func (w *Workflow) Start() error {
	if w.State.IsTerminal() {
		return ErrTerminal
	}
	if w.State != StatePending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, w.State, StateRunning)
	}
	w.State = StateRunning
	w.touch()
	return nil
}

// Complete Running -> Completed，记录结果
func (w *Workflow) Complete(result []byte) error {
	if w.State.IsTerminal() {
		return ErrTerminal
	}
	if w.State != StateRunning {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, w.State, StateCompleted)
	}
	w.State = StateCompleted
	w.Result = result
	w.CurrentStep = ""
	w.finish()
	return nil
}

// Fail Running -> Failed，记录错误信息
func (w *Workflow) Fail(errMsg string) error {
	if w.State.IsTerminal() {
		return ErrTerminal
	}
	if w.State != StateRunning {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, w.State, StateFailed)
	}
	w.State = StateFailed
	w.ErrorMessage = errMsg
	w.CurrentStep = ""
	w.finish()
	return nil
}

// Cancel Pending/Running -> Cancelled
func (w *Workflow) Cancel() error {
	if w.State.IsTerminal() {
		return ErrTerminal
	}
	w.State = StateCancelled
	w.CurrentStep = ""
	w.finish()
	return nil
}

// RequestCancel 设置取消标记，不改变状态
func (w *Workflow) RequestCancel() {
	w.CancelRequested = true
	w.touch()
}

// BeginStep 追加一条Running状态的StepExecution记录并更新CurrentStep。
// 同一时刻至多一个Running Step（I2）。
func (w *Workflow) BeginStep(stepName string, input []byte, attempt int, dependencies []string) (*StepExecution, error) {
	if w.State.IsTerminal() {
		return nil, ErrTerminal
	}
	if running := w.RunningStep(); running != nil {
		return nil, fmt.Errorf("%w: %s", ErrStepRunning, running.StepName)
	}
	step := newStepExecution(stepName, input, attempt, dependencies)
	step.markStarted()
	w.Steps = append(w.Steps, step)
	w.CurrentStep = stepName
	w.touch()
	return step, nil
}

// FinishStep 结束当前Running Step。status只允许终态。
// stepName必须与CurrentStep一致，否则视为协议违规。
func (w *Workflow) FinishStep(stepName string, status StepStatus, output []byte, errMsg string) (*StepExecution, error) {
	step := w.RunningStep()
	if step == nil || step.StepName != stepName {
		return nil, fmt.Errorf("%w: got %q, current %q", ErrStepMismatch, stepName, w.CurrentStep)
	}
	switch status {
	case StepCompleted:
		step.markCompleted(output)
	case StepFailed:
		step.markFailed(errMsg)
	case StepCancelled:
		step.markCancelled()
	default:
		return nil, fmt.Errorf("%w: non-terminal step status %q", ErrInvalidTransition, status)
	}
	w.CurrentStep = ""
	w.touch()
	return step, nil
}

// RunningStep 返回当前Running状态的记录（无则nil）
func (w *Workflow) RunningStep() *StepExecution {
	for i := len(w.Steps) - 1; i >= 0; i-- {
		if w.Steps[i].Status == StepRunning {
			return w.Steps[i]
		}
	}
	return nil
}

// LatestAttempt 返回某Step名称的最新一次记录
func (w *Workflow) LatestAttempt(stepName string) *StepExecution {
	for i := len(w.Steps) - 1; i >= 0; i-- {
		if w.Steps[i].StepName == stepName {
			return w.Steps[i]
		}
	}
	return nil
}

// AttemptCount 某Step已有的记录条数
func (w *Workflow) AttemptCount(stepName string) int {
	n := 0
	for _, s := range w.Steps {
		if s.StepName == stepName {
			n++
		}
	}
	return n
}

// CompletedStepNames 已成功完成的Step名称集合
func (w *Workflow) CompletedStepNames() map[string]bool {
	done := make(map[string]bool, len(w.Steps))
	for _, s := range w.Steps {
		if s.Status == StepCompleted {
			done[s.StepName] = true
		}
	}
	return done
}

// Clone 深拷贝，供存储层返回隔离副本
func (w *Workflow) Clone() *Workflow {
	cp := *w
	if w.CompletedAt != nil {
		t := *w.CompletedAt
		cp.CompletedAt = &t
	}
	cp.Input = append([]byte(nil), w.Input...)
	cp.Result = append([]byte(nil), w.Result...)
	cp.Steps = make([]*StepExecution, len(w.Steps))
	for i, s := range w.Steps {
		cp.Steps[i] = s.Clone()
	}
	return &cp
}

func (w *Workflow) touch() {
	w.UpdatedAt = time.Now()
}

func (w *Workflow) finish() {
	now := time.Now()
	w.CompletedAt = &now
	w.UpdatedAt = now
}
