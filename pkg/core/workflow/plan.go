package workflow

import (
	"fmt"

	dag "github.com/begmaroman/go-dag"
)

// StepDef 预声明Step定义（来自workflow-type定义文件）
type StepDef struct {
	Name         string   `yaml:"name" json:"name"`
	Dependencies []string `yaml:"dependencies" json:"dependencies,omitempty"`
	MaxRetries   int      `yaml:"max_retries" json:"max_retries,omitempty"`
}

// planNode go-dag节点包装
type planNode struct {
	name string
}

func (n *planNode) ID() string {
	return n.name
}

// Plan 某workflow-type的预声明Step计划。
// 构建时校验依赖图无环，并固化一个确定性的串行执行顺序
// （Step串行调度，见I2；顺序为声明序的拓扑排序）。
type Plan struct {
	workflowType string
	steps        map[string]StepDef
	order        []string
}

// NewPlan 构建Plan。依赖缺失或成环返回错误。
func NewPlan(workflowType string, steps []StepDef) (*Plan, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("plan %q has no steps", workflowType)
	}

	byName := make(map[string]StepDef, len(steps))
	d := dag.NewDAG[*planNode]()
	for _, s := range steps {
		if _, dup := byName[s.Name]; dup {
			return nil, fmt.Errorf("plan %q: duplicate step %q", workflowType, s.Name)
		}
		byName[s.Name] = s
		if _, err := d.AddVertex(&planNode{name: s.Name}); err != nil {
			return nil, fmt.Errorf("plan %q: add step %q: %w", workflowType, s.Name, err)
		}
	}
	for _, s := range steps {
		for _, dep := range s.Dependencies {
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("plan %q: step %q depends on unknown step %q", workflowType, s.Name, dep)
			}
			// go-dag在成环时拒绝加边
			if err := d.AddEdge(dep, s.Name); err != nil {
				return nil, fmt.Errorf("plan %q: dependency %s -> %s: %w", workflowType, dep, s.Name, err)
			}
		}
	}

	order, err := topoOrder(steps)
	if err != nil {
		return nil, fmt.Errorf("plan %q: %w", workflowType, err)
	}

	return &Plan{
		workflowType: workflowType,
		steps:        byName,
		order:        order,
	}, nil
}

// topoOrder 声明序优先的拓扑排序（Kahn）
func topoOrder(steps []StepDef) ([]string, error) {
	order := make([]string, 0, len(steps))
	done := make(map[string]bool, len(steps))
	for len(order) < len(steps) {
		progressed := false
		for _, s := range steps {
			if done[s.Name] {
				continue
			}
			ready := true
			for _, dep := range s.Dependencies {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				order = append(order, s.Name)
				done[s.Name] = true
				progressed = true
			}
		}
		if !progressed {
			return nil, fmt.Errorf("dependency cycle detected")
		}
	}
	return order, nil
}

// Type plan对应的workflow-type
func (p *Plan) Type() string {
	return p.workflowType
}

// Order 固化的串行执行顺序
func (p *Plan) Order() []string {
	return append([]string(nil), p.order...)
}

// Step 按名称取定义
func (p *Plan) Step(name string) (StepDef, bool) {
	s, ok := p.steps[name]
	return s, ok
}

// NextStep 给定已完成集合，返回下一个应执行的Step；全部完成返回false
func (p *Plan) NextStep(completed map[string]bool) (StepDef, bool) {
	for _, name := range p.order {
		if !completed[name] {
			return p.steps[name], true
		}
	}
	return StepDef{}, false
}

// Len Step数量
func (p *Plan) Len() int {
	return len(p.order)
}
