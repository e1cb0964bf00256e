package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LENAX/aether/pkg/core/workflow"
	"github.com/LENAX/aether/pkg/storage"
)

func TestCreateAndGet(t *testing.T) {
	s := New()
	ctx := context.Background()

	w := workflow.New("wf-1", "greet", []byte("input"))
	require.NoError(t, s.CreateWorkflow(ctx, w))

	got, err := s.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "greet", got.Type)
	assert.Equal(t, workflow.StatePending, got.State)
}

func TestCreateDuplicate(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.CreateWorkflow(ctx, workflow.New("wf-1", "greet", nil)))
	err := s.CreateWorkflow(ctx, workflow.New("wf-1", "greet", nil))
	assert.ErrorIs(t, err, storage.ErrDuplicateID)
}

func TestGetNotFound(t *testing.T) {
	s := New()
	_, err := s.GetWorkflow(context.Background(), "nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateWorkflow(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateWorkflow(ctx, workflow.New("wf-1", "greet", nil)))

	updated, err := s.UpdateWorkflow(ctx, "wf-1", func(w *workflow.Workflow) error {
		return w.Start()
	})
	require.NoError(t, err)
	assert.Equal(t, workflow.StateRunning, updated.State)

	got, err := s.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StateRunning, got.State)
}

func TestUpdateFailureLeavesStateUntouched(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateWorkflow(ctx, workflow.New("wf-1", "greet", nil)))

	_, err := s.UpdateWorkflow(ctx, "wf-1", func(w *workflow.Workflow) error {
		w.State = workflow.StateRunning
		return assert.AnError
	})
	require.Error(t, err)

	got, err := s.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatePending, got.State)
}

func TestReturnedCopyIsIsolated(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateWorkflow(ctx, workflow.New("wf-1", "greet", nil)))

	got, err := s.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	got.State = workflow.StateFailed

	again, err := s.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.StatePending, again.State)
}

func TestListWorkflowsFilter(t *testing.T) {
	s := New()
	ctx := context.Background()

	w1 := workflow.New("wf-1", "greet", nil)
	require.NoError(t, s.CreateWorkflow(ctx, w1))
	w2 := workflow.New("wf-2", "order", nil)
	require.NoError(t, s.CreateWorkflow(ctx, w2))
	_, err := s.UpdateWorkflow(ctx, "wf-2", func(w *workflow.Workflow) error {
		if err := w.Start(); err != nil {
			return err
		}
		return w.Complete(nil)
	})
	require.NoError(t, err)

	all, err := s.ListWorkflows(ctx, storage.Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := s.ListWorkflows(ctx, storage.Filter{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "wf-1", active[0].WorkflowID)

	byType, err := s.ListWorkflows(ctx, storage.Filter{Type: "order"})
	require.NoError(t, err)
	assert.Len(t, byType, 1)

	byState, err := s.ListWorkflows(ctx, storage.Filter{State: workflow.StateCompleted})
	require.NoError(t, err)
	assert.Len(t, byState, 1)

	since, err := s.ListWorkflows(ctx, storage.Filter{Since: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, since)
}

func TestAppendStepExecution(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateWorkflow(ctx, workflow.New("wf-1", "greet", nil)))

	step := &workflow.StepExecution{StepName: "start", Status: workflow.StepPending, Attempt: 1}
	require.NoError(t, s.AppendStepExecution(ctx, "wf-1", step))

	got, err := s.GetWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, "start", got.Steps[0].StepName)
}

func TestDeleteWorkflow(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.CreateWorkflow(ctx, workflow.New("wf-1", "greet", nil)))

	require.NoError(t, s.DeleteWorkflow(ctx, "wf-1"))
	_, err := s.GetWorkflow(ctx, "wf-1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.ErrorIs(t, s.DeleteWorkflow(ctx, "wf-1"), storage.ErrNotFound)
}
