// Package engine 实现工作流状态机与三个并发域（客户端请求、
// Worker会话、事件订阅）的协调核心。
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/LENAX/aether/pkg/core/event"
	"github.com/LENAX/aether/pkg/core/queue"
	"github.com/LENAX/aether/pkg/core/registry"
	"github.com/LENAX/aether/pkg/core/task"
	"github.com/LENAX/aether/pkg/core/workflow"
	"github.com/LENAX/aether/pkg/metrics"
	"github.com/LENAX/aether/pkg/storage"
)

// DefaultCancelDeadline 取消后等待Worker确认的默认时限
const DefaultCancelDeadline = 30 * time.Second

// startStepName body模式下驱动workflow体的合成任务Step名
const startStepName = "start"

// DispatchMode workflow-type的派发模式
type DispatchMode string

const (
	// ModeSteps 预声明Step列表，核心逐步派发
	ModeSteps DispatchMode = "steps"
	// ModeBody 单个start任务，Worker驱动整个body并用report-step汇报
	ModeBody DispatchMode = "body"
)

// Options Engine配置
type Options struct {
	// Plans 预声明Step计划（workflow-type -> Plan）
	Plans map[string]*workflow.Plan
	// DefaultRetry 任务默认重试策略
	DefaultRetry task.RetryPolicy
	// CancelDeadline 取消后等待Worker确认的时限
	CancelDeadline time.Duration
}

// Engine 状态机与协调核心。Workflow与StepExecution记录的唯一修改者。
// 单workflow-id上的所有变更串行（lockFor），跨workflow无全局锁。
// 每次状态变更遵循固定次序：校验不变量、持久化（L2含动作日志）、
// 发事件、必要时入队下一任务、应答调用方。
type Engine struct {
	store    storage.Store
	bus      *event.Bus
	queue    *queue.Queue
	registry *registry.Registry

	plans          map[string]*workflow.Plan
	defaultRetry   task.RetryPolicy
	cancelDeadline time.Duration

	// 每workflow串行化锁
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	// 终态等待者（workflow-id -> 通知通道）
	awaitMu  sync.Mutex
	awaiters map[string][]chan *workflow.Workflow

	// 已确认完成的task-id -> 对应workflow-id（complete-step幂等）
	doneMu    sync.Mutex
	doneTasks map[string]string

	// 持久化降级标志：写路径故障时进入只读模式
	degraded atomic.Bool

	running  bool
	stopOnce sync.Once
	cancelFn context.CancelFunc
}

// New 创建Engine
func New(store storage.Store, bus *event.Bus, q *queue.Queue, reg *registry.Registry, opts Options) *Engine {
	if opts.CancelDeadline <= 0 {
		opts.CancelDeadline = DefaultCancelDeadline
	}
	if opts.DefaultRetry.MaxRetries <= 0 {
		opts.DefaultRetry = task.DefaultRetryPolicy()
	}
	if opts.Plans == nil {
		opts.Plans = make(map[string]*workflow.Plan)
	}
	e := &Engine{
		store:          store,
		bus:            bus,
		queue:          q,
		registry:       reg,
		plans:          opts.Plans,
		defaultRetry:   opts.DefaultRetry,
		cancelDeadline: opts.CancelDeadline,
		locks:          make(map[string]*sync.Mutex),
		awaiters:       make(map[string][]chan *workflow.Workflow),
		doneTasks:      make(map[string]string),
	}
	q.OnReclaim(e.handleReclaim)
	reg.OnDead(func(_, sessionToken string) {
		metrics.ActiveWorkers.Dec()
		q.ReleaseSession(sessionToken)
	})
	return e
}

// Start 启动协调核心：恢复未完成workflow并开始后台巡检
func (e *Engine) Start(ctx context.Context) error {
	if e.running {
		return nil
	}
	ctx, e.cancelFn = context.WithCancel(ctx)
	e.registry.Start(ctx)
	e.queue.Start(ctx)
	if err := e.recoverInflight(ctx); err != nil {
		return fmt.Errorf("recover in-flight workflows: %w", err)
	}
	e.running = true
	log.Println("✅ coordination core started")
	return nil
}

// Stop 停止后台巡检
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		if e.cancelFn != nil {
			e.cancelFn()
		}
		e.registry.Stop()
		e.queue.Stop()
		e.running = false
		log.Println("🛑 coordination core stopped")
	})
}

// Degraded 写路径是否处于降级（只读）状态
func (e *Engine) Degraded() bool {
	return e.degraded.Load()
}

// Registry 暴露Worker注册表（API层使用）
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Queue 暴露任务队列（API层流式派发使用）
func (e *Engine) Queue() *queue.Queue {
	return e.queue
}

// Bus 暴露事件总线（Monitor订阅使用）
func (e *Engine) Bus() *event.Bus {
	return e.bus
}

// lockFor 取每workflow串行化锁
func (e *Engine) lockFor(id string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	mu, ok := e.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		e.locks[id] = mu
	}
	return mu
}

// modeOf 解析workflow-type的派发模式：注册元数据覆盖优先，
// 其次看是否存在预声明Plan
func (e *Engine) modeOf(workflowType string) (DispatchMode, *workflow.Plan) {
	plan := e.plans[workflowType]
	if override, ok := e.registry.TypeMode(workflowType); ok {
		switch DispatchMode(override) {
		case ModeBody:
			return ModeBody, nil
		case ModeSteps:
			if plan != nil {
				return ModeSteps, plan
			}
		}
	}
	if plan != nil {
		return ModeSteps, plan
	}
	return ModeBody, nil
}

// retryFor 某Step的重试策略（Plan可覆盖max_retries）
func (e *Engine) retryFor(plan *workflow.Plan, stepName string) task.RetryPolicy {
	policy := e.defaultRetry
	if plan != nil {
		if def, ok := plan.Step(stepName); ok && def.MaxRetries > 0 {
			policy.MaxRetries = def.MaxRetries
		}
	}
	return policy
}

// persistErr 把存储错误映射到错误分类，写故障时进入降级
func (e *Engine) persistErr(err error) error {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, storage.ErrDuplicateID):
		return ErrDuplicate
	case errors.Is(err, storage.ErrPersistence):
		e.degraded.Store(true)
		metrics.PersistenceFailures.Inc()
		log.Printf("🚨 persistence failure, entering read-only mode: %v", err)
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	default:
		return err
	}
}

// persistOK 写路径成功时解除降级
func (e *Engine) persistOK() {
	if e.degraded.Swap(false) {
		log.Println("✅ persistence recovered, leaving read-only mode")
	}
}

// emit 发布事件（持久化提交之后调用）
func (e *Engine) emit(ev *event.Event) {
	if err := e.bus.Publish(ev); err != nil {
		// 事件是尽力投递；持久化状态才是事实来源
		log.Printf("⚠️ event publish failed: %v", err)
	}
	metrics.EventsEmitted.WithLabelValues(string(ev.Type)).Inc()
}

// notifyTerminal 唤醒await-result等待者
func (e *Engine) notifyTerminal(w *workflow.Workflow) {
	e.awaitMu.Lock()
	waiters := e.awaiters[w.ID]
	delete(e.awaiters, w.ID)
	e.awaitMu.Unlock()
	for _, ch := range waiters {
		ch <- w
	}
}

// markTaskDone 登记已确认完成的task-id
func (e *Engine) markTaskDone(taskID, workflowID string) {
	e.doneMu.Lock()
	e.doneTasks[taskID] = workflowID
	e.doneMu.Unlock()
}

// taskDone 查询task-id是否已确认完成
func (e *Engine) taskDone(taskID string) bool {
	e.doneMu.Lock()
	defer e.doneMu.Unlock()
	_, ok := e.doneTasks[taskID]
	return ok
}

// recoverInflight 启动恢复：Pending的补启动，Running的把当前Step重新入队。
// 入队按(workflow-id, step-name, attempt)幂等，重复恢复无副作用。
func (e *Engine) recoverInflight(ctx context.Context) error {
	summaries, err := e.store.ListWorkflows(ctx, storage.Filter{ActiveOnly: true})
	if err != nil {
		return e.persistErr(err)
	}
	for _, s := range summaries {
		mu := e.lockFor(s.WorkflowID)
		mu.Lock()
		if err := e.recoverOne(ctx, s.WorkflowID); err != nil {
			log.Printf("⚠️ recover workflow %s failed: %v", s.WorkflowID, err)
		}
		mu.Unlock()
	}
	if n := len(summaries); n > 0 {
		log.Printf("🔁 re-enqueued %d in-flight workflows", n)
	}
	return nil
}

func (e *Engine) recoverOne(ctx context.Context, id string) error {
	w, err := e.store.GetWorkflow(ctx, id)
	if err != nil {
		return e.persistErr(err)
	}
	if w.State.IsTerminal() {
		return nil
	}
	if w.State == workflow.StatePending {
		w, err = e.store.UpdateWorkflow(ctx, id, func(m *workflow.Workflow) error {
			return m.Start()
		})
		if err != nil {
			return e.persistErr(err)
		}
		e.emit(event.New(event.WorkflowStarted, w.ID, w.Type, event.Payload{Input: w.Input}))
		return e.enqueueInitial(w)
	}

	// Running：重建当前Step的任务。崩溃时在飞的claim已随进程丢失。
	mode, plan := e.modeOf(w.Type)
	if mode == ModeBody {
		// start任务只在失败时留下记录，重派attempt接着失败次数递增
		attempt := w.AttemptCount(startStepName) + 1
		t := task.New(w.ID, w.Type, startStepName, attempt, w.Input, e.defaultRetry)
		e.queue.Enqueue(t)
		return nil
	}

	if rec := w.RunningStep(); rec != nil {
		// 在飞Step按原attempt重派；claim时复用该Running记录
		t := task.New(w.ID, w.Type, rec.StepName, rec.Attempt, rec.Input, e.retryFor(plan, rec.StepName))
		e.queue.Enqueue(t)
		return nil
	}
	next, ok := plan.NextStep(w.CompletedStepNames())
	if !ok {
		// 所有Step已完成但终态未落：收尾
		return e.finishFromPlan(ctx, w)
	}
	attempt := w.AttemptCount(next.Name) + 1
	t := task.New(w.ID, w.Type, next.Name, attempt, e.stepInput(w), e.retryFor(plan, next.Name))
	e.queue.Enqueue(t)
	return nil
}

// stepInput 流水线输入：首个Step用workflow输入，其后用最近一次
// 完成Step的输出
func (e *Engine) stepInput(w *workflow.Workflow) []byte {
	for i := len(w.Steps) - 1; i >= 0; i-- {
		if w.Steps[i].Status == workflow.StepCompleted {
			if len(w.Steps[i].Output) > 0 {
				return w.Steps[i].Output
			}
			return w.Input
		}
	}
	return w.Input
}

// finishFromPlan 计划内全部Step完成时收尾workflow
func (e *Engine) finishFromPlan(ctx context.Context, w *workflow.Workflow) error {
	result := e.stepInput(w)
	updated, err := e.store.UpdateWorkflow(ctx, w.ID, func(m *workflow.Workflow) error {
		return m.Complete(result)
	})
	if err != nil {
		return e.persistErr(err)
	}
	e.persistOK()
	e.emit(event.New(event.WorkflowCompleted, updated.ID, updated.Type, event.Payload{Result: updated.Result}))
	metrics.WorkflowsFinished.WithLabelValues(string(workflow.StateCompleted)).Inc()
	e.notifyTerminal(updated)
	return nil
}

// enqueueInitial 入队首个任务
func (e *Engine) enqueueInitial(w *workflow.Workflow) error {
	mode, plan := e.modeOf(w.Type)
	if mode == ModeBody {
		t := task.New(w.ID, w.Type, startStepName, 1, w.Input, e.defaultRetry)
		e.queue.Enqueue(t)
		return nil
	}
	first, ok := plan.NextStep(nil)
	if !ok {
		return fmt.Errorf("%w: plan %q is empty", ErrInternal, w.Type)
	}
	t := task.New(w.ID, w.Type, first.Name, 1, w.Input, e.retryFor(plan, first.Name))
	e.queue.Enqueue(t)
	return nil
}
