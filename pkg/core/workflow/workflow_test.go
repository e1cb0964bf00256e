package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowLifecycle(t *testing.T) {
	w := New("wf-1", "test-type", []byte("input"))
	assert.Equal(t, StatePending, w.State)

	require.NoError(t, w.Start())
	assert.Equal(t, StateRunning, w.State)

	step, err := w.BeginStep("step-1", []byte("in"), 1, nil)
	require.NoError(t, err)
	assert.Equal(t, StepRunning, step.Status)
	assert.Equal(t, "step-1", w.CurrentStep)
	assert.NotNil(t, step.StartedAt)

	done, err := w.FinishStep("step-1", StepCompleted, []byte("out"), "")
	require.NoError(t, err)
	assert.Equal(t, StepCompleted, done.Status)
	assert.Empty(t, w.CurrentStep)
	// I4: 终态记录两个时间戳齐备且completed >= started
	require.NotNil(t, done.StartedAt)
	require.NotNil(t, done.CompletedAt)
	assert.False(t, done.CompletedAt.Before(*done.StartedAt))

	require.NoError(t, w.Complete([]byte("result")))
	assert.Equal(t, StateCompleted, w.State)
	assert.NotNil(t, w.CompletedAt)
}

func TestTerminalStateIsFinal(t *testing.T) {
	// I1: 终态不再转换
	w := New("wf-1", "test-type", nil)
	require.NoError(t, w.Start())
	require.NoError(t, w.Complete(nil))

	assert.ErrorIs(t, w.Fail("boom"), ErrTerminal)
	assert.ErrorIs(t, w.Cancel(), ErrTerminal)
	assert.ErrorIs(t, w.Start(), ErrTerminal)
	_, err := w.BeginStep("x", nil, 1, nil)
	assert.ErrorIs(t, err, ErrTerminal)
}

func TestSingleRunningStep(t *testing.T) {
	// I2: 同一时刻至多一个Running Step
	w := New("wf-1", "test-type", nil)
	require.NoError(t, w.Start())

	_, err := w.BeginStep("step-1", nil, 1, nil)
	require.NoError(t, err)

	_, err = w.BeginStep("step-2", nil, 1, nil)
	assert.ErrorIs(t, err, ErrStepRunning)
}

func TestFinishStepMismatch(t *testing.T) {
	w := New("wf-1", "test-type", nil)
	require.NoError(t, w.Start())
	_, err := w.BeginStep("step-1", nil, 1, nil)
	require.NoError(t, err)

	_, err = w.FinishStep("other-step", StepCompleted, nil, "")
	assert.ErrorIs(t, err, ErrStepMismatch)

	// 无Running Step时同样拒绝
	_, err = w.FinishStep("step-1", StepCompleted, nil, "")
	require.NoError(t, err)
	_, err = w.FinishStep("step-1", StepCompleted, nil, "")
	assert.ErrorIs(t, err, ErrStepMismatch)
}

func TestAttemptRecordsAppendOnly(t *testing.T) {
	w := New("wf-1", "test-type", nil)
	require.NoError(t, w.Start())

	for attempt := 1; attempt <= 3; attempt++ {
		_, err := w.BeginStep("step-1", nil, attempt, nil)
		require.NoError(t, err)
		_, err = w.FinishStep("step-1", StepFailed, nil, "boom")
		require.NoError(t, err)
	}

	assert.Equal(t, 3, w.AttemptCount("step-1"))
	assert.Len(t, w.Steps, 3)
	for i, s := range w.Steps {
		assert.Equal(t, i+1, s.Attempt)
		assert.Equal(t, StepFailed, s.Status)
	}
	latest := w.LatestAttempt("step-1")
	require.NotNil(t, latest)
	assert.Equal(t, 3, latest.Attempt)
}

func TestPendingDirectCancel(t *testing.T) {
	w := New("wf-1", "test-type", nil)
	require.NoError(t, w.Cancel())
	assert.Equal(t, StateCancelled, w.State)
}

func TestInvalidTransitions(t *testing.T) {
	w := New("wf-1", "test-type", nil)
	// Pending不能直接Complete/Fail
	assert.ErrorIs(t, w.Complete(nil), ErrInvalidTransition)
	assert.ErrorIs(t, w.Fail("x"), ErrInvalidTransition)
}

func TestCloneIsolation(t *testing.T) {
	w := New("wf-1", "test-type", []byte("input"))
	require.NoError(t, w.Start())
	_, err := w.BeginStep("step-1", []byte("in"), 1, []string{"dep"})
	require.NoError(t, err)

	cp := w.Clone()
	cp.Steps[0].Status = StepFailed
	cp.Input[0] = 'X'

	assert.Equal(t, StepRunning, w.Steps[0].Status)
	assert.Equal(t, byte('i'), w.Input[0])
}

func TestCompletedStepNames(t *testing.T) {
	w := New("wf-1", "test-type", nil)
	require.NoError(t, w.Start())

	_, err := w.BeginStep("a", nil, 1, nil)
	require.NoError(t, err)
	_, err = w.FinishStep("a", StepCompleted, nil, "")
	require.NoError(t, err)

	_, err = w.BeginStep("b", nil, 1, nil)
	require.NoError(t, err)
	_, err = w.FinishStep("b", StepFailed, nil, "boom")
	require.NoError(t, err)

	done := w.CompletedStepNames()
	assert.True(t, done["a"])
	assert.False(t, done["b"])
}
