package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanTopologicalOrder(t *testing.T) {
	plan, err := NewPlan("slow-process", []StepDef{
		{Name: "step-3-finalize", Dependencies: []string{"step-2-process"}},
		{Name: "step-1-init"},
		{Name: "step-2-process", Dependencies: []string{"step-1-init"}},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"step-1-init", "step-2-process", "step-3-finalize"}, plan.Order())
	assert.Equal(t, 3, plan.Len())
}

func TestPlanNextStep(t *testing.T) {
	plan, err := NewPlan("p", []StepDef{
		{Name: "a"},
		{Name: "b", Dependencies: []string{"a"}},
	})
	require.NoError(t, err)

	first, ok := plan.NextStep(nil)
	require.True(t, ok)
	assert.Equal(t, "a", first.Name)

	second, ok := plan.NextStep(map[string]bool{"a": true})
	require.True(t, ok)
	assert.Equal(t, "b", second.Name)

	_, ok = plan.NextStep(map[string]bool{"a": true, "b": true})
	assert.False(t, ok)
}

func TestPlanRejectsCycle(t *testing.T) {
	_, err := NewPlan("cyclic", []StepDef{
		{Name: "a", Dependencies: []string{"b"}},
		{Name: "b", Dependencies: []string{"a"}},
	})
	assert.Error(t, err)
}

func TestPlanRejectsUnknownDependency(t *testing.T) {
	_, err := NewPlan("bad", []StepDef{
		{Name: "a", Dependencies: []string{"missing"}},
	})
	assert.Error(t, err)
}

func TestPlanRejectsDuplicateStep(t *testing.T) {
	_, err := NewPlan("dup", []StepDef{
		{Name: "a"},
		{Name: "a"},
	})
	assert.Error(t, err)
}

func TestPlanRejectsEmpty(t *testing.T) {
	_, err := NewPlan("empty", nil)
	assert.Error(t, err)
}

func TestPlanStepLookup(t *testing.T) {
	plan, err := NewPlan("p", []StepDef{
		{Name: "a", MaxRetries: 5},
	})
	require.NoError(t, err)

	def, ok := plan.Step("a")
	require.True(t, ok)
	assert.Equal(t, 5, def.MaxRetries)

	_, ok = plan.Step("nope")
	assert.False(t, ok)
}
