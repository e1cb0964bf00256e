package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/aether/pkg/core/event"
	"github.com/LENAX/aether/pkg/core/queue"
	"github.com/LENAX/aether/pkg/core/registry"
	"github.com/LENAX/aether/pkg/core/task"
	"github.com/LENAX/aether/pkg/core/workflow"
	"github.com/LENAX/aether/pkg/storage"
	"github.com/LENAX/aether/pkg/storage/memory"
)

// testHarness 单元测试用的组件集
type testHarness struct {
	store storage.Store
	bus   *event.Bus
	queue *queue.Queue
	reg   *registry.Registry
	eng   *Engine
}

func newHarness(t *testing.T, opts Options) *testHarness {
	t.Helper()
	if opts.DefaultRetry.MaxRetries == 0 {
		opts.DefaultRetry = task.RetryPolicy{
			MaxRetries:        3,
			InitialInterval:   time.Millisecond,
			BackoffMultiplier: 2.0,
		}
	}
	h := &testHarness{
		store: memory.New(),
		bus:   event.NewBus(),
		queue: queue.New(time.Minute),
		reg:   registry.New(time.Minute),
	}
	h.eng = New(h.store, h.bus, h.queue, h.reg, opts)
	require.NoError(t, h.eng.Start(context.Background()))
	t.Cleanup(func() {
		h.eng.Stop()
		h.bus.Close()
	})
	return h
}

// registerWorker 注册一个声明给定types的Worker并返回token
func (h *testHarness) registerWorker(t *testing.T, types ...string) string {
	t.Helper()
	w, err := h.eng.RegisterWorker("", "test-service", "test-group", nil, types, nil)
	require.NoError(t, err)
	return w.SessionToken
}

// claimOne 等待并claim一个任务
func (h *testHarness) claimOne(t *testing.T, token string) *task.Task {
	t.Helper()
	var claimed *task.Task
	require.Eventually(t, func() bool {
		tasks, err := h.eng.ClaimTasks(context.Background(), token, 1)
		if err != nil || len(tasks) == 0 {
			return false
		}
		claimed = tasks[0]
		return true
	}, 2*time.Second, 2*time.Millisecond)
	return claimed
}

// nextEvent 带超时读取下一个事件
func nextEvent(t *testing.T, sub *event.Subscription) *event.Event {
	t.Helper()
	select {
	case env, ok := <-sub.C:
		require.True(t, ok)
		return env.Event
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
		return nil
	}
}

func assertNoEvent(t *testing.T, sub *event.Subscription) {
	t.Helper()
	select {
	case env := <-sub.C:
		t.Fatalf("unexpected event: %s", env.Event.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func stepsPlan(t *testing.T, workflowType string, names ...string) map[string]*workflow.Plan {
	t.Helper()
	defs := make([]workflow.StepDef, 0, len(names))
	for i, name := range names {
		def := workflow.StepDef{Name: name}
		if i > 0 {
			def.Dependencies = []string{names[i-1]}
		}
		defs = append(defs, def)
	}
	plan, err := workflow.NewPlan(workflowType, defs)
	require.NoError(t, err)
	return map[string]*workflow.Plan{workflowType: plan}
}

func TestSingleStepHappyPath(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	sub := h.bus.Subscribe(event.Filter{})
	defer sub.Cancel()

	id, err := h.eng.StartWorkflow(ctx, "greet", []byte(`"World"`))
	require.NoError(t, err)

	token := h.registerWorker(t, "greet")
	claimed := h.claimOne(t, token)
	assert.Equal(t, "start", claimed.StepName)
	assert.Equal(t, "greet", claimed.WorkflowType)
	assert.Equal(t, id, claimed.WorkflowID)
	assert.Equal(t, []byte(`"World"`), claimed.Input)

	require.NoError(t, h.eng.CompleteStep(ctx, token, claimed.TaskID, []byte(`"Hello, World!"`), "", false))

	w, err := h.eng.AwaitResult(ctx, id, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateCompleted, w.State)
	assert.Equal(t, []byte(`"Hello, World!"`), w.Result)

	// 事件序：workflow:started, step:started, step:completed, workflow:completed
	assert.Equal(t, event.WorkflowStarted, nextEvent(t, sub).Type)
	started := nextEvent(t, sub)
	assert.Equal(t, event.StepStarted, started.Type)
	assert.Equal(t, "start", started.Payload.StepName)
	completed := nextEvent(t, sub)
	assert.Equal(t, event.StepCompleted, completed.Type)
	assert.Equal(t, "start", completed.Payload.StepName)
	assert.Equal(t, event.WorkflowCompleted, nextEvent(t, sub).Type)
}

func TestCompleteStepIdempotent(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	id, err := h.eng.StartWorkflow(ctx, "greet", nil)
	require.NoError(t, err)
	token := h.registerWorker(t, "greet")
	claimed := h.claimOne(t, token)

	require.NoError(t, h.eng.CompleteStep(ctx, token, claimed.TaskID, []byte("r"), "", false))

	sub := h.bus.Subscribe(event.Filter{})
	defer sub.Cancel()

	// 重复完成：返回ok，状态不变，不发重复事件（I5）
	require.NoError(t, h.eng.CompleteStep(ctx, token, claimed.TaskID, []byte("r"), "", false))
	assertNoEvent(t, sub)

	w, err := h.eng.GetWorkflow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateCompleted, w.State)
	assert.Len(t, w.Steps, 1)
}

func TestMultiStepSequential(t *testing.T) {
	h := newHarness(t, Options{
		Plans: stepsPlan(t, "slow-process", "step-1-init", "step-2-process", "step-3-finalize"),
	})
	ctx := context.Background()

	id, err := h.eng.StartWorkflow(ctx, "slow-process", []byte(`"in"`))
	require.NoError(t, err)
	token := h.registerWorker(t, "slow-process")

	for _, want := range []string{"step-1-init", "step-2-process", "step-3-finalize"} {
		claimed := h.claimOne(t, token)
		assert.Equal(t, want, claimed.StepName)
		require.NoError(t, h.eng.CompleteStep(ctx, token, claimed.TaskID, []byte(`"out-`+want+`"`), "", false))
	}

	w, err := h.eng.AwaitResult(ctx, id, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateCompleted, w.State)
	assert.Equal(t, []byte(`"out-step-3-finalize"`), w.Result)

	require.Len(t, w.Steps, 3)
	for i, want := range []string{"step-1-init", "step-2-process", "step-3-finalize"} {
		s := w.Steps[i]
		assert.Equal(t, want, s.StepName)
		assert.Equal(t, workflow.StepCompleted, s.Status)
		if i > 0 {
			prev := w.Steps[i-1]
			assert.False(t, s.StartedAt.Before(*prev.StartedAt), "timestamps must be non-decreasing")
		}
	}
	// 流水线输入：后继Step的输入是前驱输出
	assert.Equal(t, []byte(`"out-step-1-init"`), w.Steps[1].Input)
}

func TestReportStepDrivenBody(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	id, err := h.eng.StartWorkflow(ctx, "slow-process", nil)
	require.NoError(t, err)
	token := h.registerWorker(t, "slow-process")
	claimed := h.claimOne(t, token)

	for _, step := range []string{"step-1-init", "step-2-process", "step-3-finalize"} {
		require.NoError(t, h.eng.ReportStep(ctx, id, step, "started", nil, ""))
		require.NoError(t, h.eng.ReportStep(ctx, id, step, "completed", []byte(`"ok"`), ""))
	}
	require.NoError(t, h.eng.CompleteStep(ctx, token, claimed.TaskID, []byte(`"done"`), "", false))

	w, err := h.eng.GetWorkflow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateCompleted, w.State)
	// body模式的Step记录完全来自report-step，无合成start记录
	require.Len(t, w.Steps, 3)
	assert.Equal(t, "step-1-init", w.Steps[0].StepName)
	assert.Equal(t, "step-3-finalize", w.Steps[2].StepName)
}

func TestReportStepForUnenqueuedStepIsRecorded(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	id, err := h.eng.StartWorkflow(ctx, "greet", nil)
	require.NoError(t, err)

	// 未经started直接completed：接受并整体记录
	require.NoError(t, h.eng.ReportStep(ctx, id, "surprise-step", "completed", []byte(`"x"`), ""))

	w, err := h.eng.GetWorkflow(ctx, id)
	require.NoError(t, err)
	require.Len(t, w.Steps, 1)
	assert.Equal(t, "surprise-step", w.Steps[0].StepName)
	assert.Equal(t, workflow.StepCompleted, w.Steps[0].Status)
}

func TestReportStepSecondRunningRejected(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	id, err := h.eng.StartWorkflow(ctx, "greet", nil)
	require.NoError(t, err)

	require.NoError(t, h.eng.ReportStep(ctx, id, "a", "started", nil, ""))
	// I2：并发第二个Running Step被拒
	err = h.eng.ReportStep(ctx, id, "b", "started", nil, "")
	assert.ErrorIs(t, err, ErrProtocolViolation)
	// 同名started幂等（重投递场景）
	assert.NoError(t, h.eng.ReportStep(ctx, id, "a", "started", nil, ""))
}

func TestRetryExhaustionFailsWorkflow(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	sub := h.bus.Subscribe(event.Filter{})
	defer sub.Cancel()

	id, err := h.eng.StartWorkflow(ctx, "greet", nil)
	require.NoError(t, err)
	token := h.registerWorker(t, "greet")

	for attempt := 1; attempt <= 3; attempt++ {
		claimed := h.claimOne(t, token)
		assert.Equal(t, attempt, claimed.Attempt)
		require.NoError(t, h.eng.CompleteStep(ctx, token, claimed.TaskID, nil, "boom", false))
	}

	w, err := h.eng.AwaitResult(ctx, id, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateFailed, w.State)
	assert.Equal(t, "boom", w.ErrorMessage)

	require.Len(t, w.Steps, 3)
	for i, s := range w.Steps {
		assert.Equal(t, i+1, s.Attempt)
		assert.Equal(t, workflow.StepFailed, s.Status)
	}

	// 单次workflow:failed事件
	failedEvents := 0
	for done := false; !done; {
		select {
		case env := <-sub.C:
			if env.Event.Type == event.WorkflowFailed {
				failedEvents++
			}
		case <-time.After(200 * time.Millisecond):
			done = true
		}
	}
	assert.Equal(t, 1, failedEvents)
}

func TestWorkerLostReclaim(t *testing.T) {
	h := newHarness(t, Options{
		Plans: stepsPlan(t, "order", "process"),
	})
	ctx := context.Background()

	id, err := h.eng.StartWorkflow(ctx, "order", nil)
	require.NoError(t, err)

	token1 := h.registerWorker(t, "order")
	claimed := h.claimOne(t, token1)
	assert.Equal(t, 1, claimed.Attempt)

	// 会话判死：claim收回，Running记录按worker-lost判失败，attempt递增重派
	h.queue.ReleaseSession(token1)

	w, err := h.eng.GetWorkflow(ctx, id)
	require.NoError(t, err)
	first := w.Steps[0]
	assert.Equal(t, workflow.StepFailed, first.Status)
	assert.Equal(t, "worker-lost", first.ErrorMessage)

	token2 := h.registerWorker(t, "order")
	redelivered := h.claimOne(t, token2)
	assert.Equal(t, "process", redelivered.StepName)
	assert.Equal(t, 2, redelivered.Attempt)

	require.NoError(t, h.eng.CompleteStep(ctx, token2, redelivered.TaskID, []byte(`"ok"`), "", false))
	w, err = h.eng.AwaitResult(ctx, id, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateCompleted, w.State)
}

func TestVisibilityTimeoutDoesNotSkipSteps(t *testing.T) {
	// 收回重派不会把Step推进到计划之外（以会话释放触发收回；可见性超时走同一handleReclaim路径）
	h := newHarness(t, Options{
		Plans: stepsPlan(t, "order", "a", "b"),
	})
	ctx := context.Background()

	id, err := h.eng.StartWorkflow(ctx, "order", nil)
	require.NoError(t, err)
	token := h.registerWorker(t, "order")
	claimed := h.claimOne(t, token)
	assert.Equal(t, "a", claimed.StepName)

	h.queue.ReleaseSession(token)

	token2 := h.registerWorker(t, "order")
	redelivered := h.claimOne(t, token2)
	// 仍是step a，attempt递增，而非跳到b
	assert.Equal(t, "a", redelivered.StepName)
	assert.Equal(t, 2, redelivered.Attempt)

	w, err := h.eng.GetWorkflow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "a", w.CurrentStep)
}

func TestCancelPendingQueue(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	id, err := h.eng.StartWorkflow(ctx, "greet", nil)
	require.NoError(t, err)

	// 无Worker claim：直接转Cancelled并清空排队任务
	accepted, err := h.eng.CancelWorkflow(ctx, id)
	require.NoError(t, err)
	assert.True(t, accepted)

	w, err := h.eng.GetWorkflow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateCancelled, w.State)
	assert.Equal(t, 0, h.queue.Depth("greet"))

	// 终态再取消：already-terminal
	accepted, err = h.eng.CancelWorkflow(ctx, id)
	require.NoError(t, err)
	assert.False(t, accepted)
}

func TestCancelMidRunWorkerAcknowledges(t *testing.T) {
	h := newHarness(t, Options{
		Plans: stepsPlan(t, "order", "process"),
	})
	ctx := context.Background()

	id, err := h.eng.StartWorkflow(ctx, "order", nil)
	require.NoError(t, err)
	token := h.registerWorker(t, "order")
	claimed := h.claimOne(t, token)

	accepted, err := h.eng.CancelWorkflow(ctx, id)
	require.NoError(t, err)
	assert.True(t, accepted)
	assert.True(t, h.eng.CancelRequestedFor(ctx, id))

	// Worker在deadline内以取消完成响应
	require.NoError(t, h.eng.CompleteStep(ctx, token, claimed.TaskID, nil, "", true))

	w, err := h.eng.GetWorkflow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateCancelled, w.State)
	require.Len(t, w.Steps, 1)
	assert.Equal(t, workflow.StepCancelled, w.Steps[0].Status)
}

func TestCancelDeadlineForcesTerminal(t *testing.T) {
	h := newHarness(t, Options{
		Plans:          stepsPlan(t, "order", "process"),
		CancelDeadline: 20 * time.Millisecond,
	})
	ctx := context.Background()

	id, err := h.eng.StartWorkflow(ctx, "order", nil)
	require.NoError(t, err)
	token := h.registerWorker(t, "order")
	claimed := h.claimOne(t, token)

	accepted, err := h.eng.CancelWorkflow(ctx, id)
	require.NoError(t, err)
	assert.True(t, accepted)

	// deadline到期强制Cancelled，在途Step记录保持Running
	require.Eventually(t, func() bool {
		w, err := h.eng.GetWorkflow(ctx, id)
		return err == nil && w.State == workflow.StateCancelled
	}, 2*time.Second, 5*time.Millisecond)

	w, err := h.eng.GetWorkflow(ctx, id)
	require.NoError(t, err)
	require.Len(t, w.Steps, 1)
	assert.Equal(t, workflow.StepRunning, w.Steps[0].Status)

	// 迟到汇报仅作审计：记录被收尾，状态不变
	require.NoError(t, h.eng.CompleteStep(ctx, token, claimed.TaskID, nil, "", true))
	w, err = h.eng.GetWorkflow(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateCancelled, w.State)
	assert.Equal(t, workflow.StepCancelled, w.Steps[0].Status)
}

func TestAwaitResultTimeoutZero(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	id, err := h.eng.StartWorkflow(ctx, "greet", nil)
	require.NoError(t, err)

	_, err = h.eng.AwaitResult(ctx, id, 0)
	assert.ErrorIs(t, err, ErrStillRunning)
}

func TestAwaitResultBlocksUntilTerminal(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	id, err := h.eng.StartWorkflow(ctx, "greet", nil)
	require.NoError(t, err)
	token := h.registerWorker(t, "greet")
	claimed := h.claimOne(t, token)

	go func() {
		time.Sleep(50 * time.Millisecond)
		h.eng.CompleteStep(context.Background(), token, claimed.TaskID, []byte(`"r"`), "", false)
	}()

	w, err := h.eng.AwaitResult(ctx, id, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateCompleted, w.State)
}

func TestAwaitResultShortTimeout(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	id, err := h.eng.StartWorkflow(ctx, "greet", nil)
	require.NoError(t, err)

	start := time.Now()
	_, err = h.eng.AwaitResult(ctx, id, 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrStillRunning)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDuplicateWorkerRegistration(t *testing.T) {
	h := newHarness(t, Options{})

	_, err := h.eng.RegisterWorker("worker-1", "svc", "g", nil, []string{"greet"}, nil)
	require.NoError(t, err)
	_, err = h.eng.RegisterWorker("worker-1", "svc", "g", nil, []string{"greet"}, nil)
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestCompleteUnknownTask(t *testing.T) {
	h := newHarness(t, Options{})
	err := h.eng.CompleteStep(context.Background(), "", "no-such-task", nil, "", false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompleteStepWrongSession(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	_, err := h.eng.StartWorkflow(ctx, "greet", nil)
	require.NoError(t, err)
	token := h.registerWorker(t, "greet")
	claimed := h.claimOne(t, token)

	err = h.eng.CompleteStep(ctx, "stolen-token", claimed.TaskID, nil, "", false)
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestStatusUnknownWorkflow(t *testing.T) {
	h := newHarness(t, Options{})
	_, err := h.eng.GetWorkflow(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRecoveryReenqueuesInflight(t *testing.T) {
	// L0重启等价场景：同一store换一套运行时组件，
	// 未完成workflow的当前Step被重新入队
	store := memory.New()
	ctx := context.Background()

	bus1 := event.NewBus()
	q1 := queue.New(time.Minute)
	r1 := registry.New(time.Minute)
	eng1 := New(store, bus1, q1, r1, Options{})
	require.NoError(t, eng1.Start(ctx))

	id, err := eng1.StartWorkflow(ctx, "greet", []byte(`"x"`))
	require.NoError(t, err)

	eng1.Stop()
	bus1.Close()

	bus2 := event.NewBus()
	q2 := queue.New(time.Minute)
	r2 := registry.New(time.Minute)
	eng2 := New(store, bus2, q2, r2, Options{})
	require.NoError(t, eng2.Start(ctx))
	defer func() {
		eng2.Stop()
		bus2.Close()
	}()

	w, err := eng2.RegisterWorker("", "svc", "g", nil, []string{"greet"}, nil)
	require.NoError(t, err)

	var claimed *task.Task
	require.Eventually(t, func() bool {
		tasks, err := eng2.ClaimTasks(ctx, w.SessionToken, 1)
		if err != nil || len(tasks) == 0 {
			return false
		}
		claimed = tasks[0]
		return true
	}, 2*time.Second, 2*time.Millisecond)

	require.NoError(t, eng2.CompleteStep(ctx, w.SessionToken, claimed.TaskID, []byte(`"done"`), "", false))

	got, err := eng2.AwaitResult(ctx, id, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, workflow.StateCompleted, got.State)
}

func TestDrainingWorkerGetsNoTasks(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	_, err := h.eng.StartWorkflow(ctx, "greet", nil)
	require.NoError(t, err)
	token := h.registerWorker(t, "greet")
	require.NoError(t, h.eng.DrainWorker(token))

	tasks, err := h.eng.ClaimTasks(ctx, token, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestRetentionSweepRemovesTerminal(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	id, err := h.eng.StartWorkflow(ctx, "greet", nil)
	require.NoError(t, err)
	token := h.registerWorker(t, "greet")
	claimed := h.claimOne(t, token)
	require.NoError(t, h.eng.CompleteStep(ctx, token, claimed.TaskID, nil, "", false))

	retention := NewRetention(h.eng, RetentionOptions{Enabled: true, MaxAge: time.Nanosecond})
	time.Sleep(time.Millisecond)
	retention.Sweep()

	_, err = h.eng.GetWorkflow(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}
