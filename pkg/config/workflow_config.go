package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/LENAX/aether/pkg/core/workflow"
)

// WorkflowTypeConfig workflow-type定义文件（YAML）。
// 声明了steps的type走逐步派发；未声明的type由Worker驱动body。
type WorkflowTypeConfig struct {
	WorkflowTypes []WorkflowTypeDefinition `yaml:"workflow_types"`
}

// WorkflowTypeDefinition 单个workflow-type定义
type WorkflowTypeDefinition struct {
	Type        string             `yaml:"type"`
	Description string             `yaml:"description"`
	Steps       []workflow.StepDef `yaml:"steps"`
}

// LoadWorkflowTypes 从目录加载全部workflow-type定义并构建Plan。
// 目录不存在时返回空集合。
func LoadWorkflowTypes(dir string) (map[string]*workflow.Plan, error) {
	plans := make(map[string]*workflow.Plan)
	if dir == "" {
		return plans, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return plans, nil
		}
		return nil, fmt.Errorf("read definitions dir %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var cfg WorkflowTypeConfig
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		for _, def := range cfg.WorkflowTypes {
			if def.Type == "" {
				return nil, fmt.Errorf("%s: workflow type name is required", path)
			}
			if len(def.Steps) == 0 {
				// 无steps的type按body模式处理，不建Plan
				continue
			}
			if _, dup := plans[def.Type]; dup {
				return nil, fmt.Errorf("%s: duplicate workflow type %q", path, def.Type)
			}
			plan, err := workflow.NewPlan(def.Type, def.Steps)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			plans[def.Type] = plan
		}
	}
	return plans, nil
}
