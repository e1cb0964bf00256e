package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/LENAX/aether/pkg/cli/output"
)

var initOutputPath string

// workflowTemplate init生成的workflow-type定义模板
const workflowTemplate = `# %s workflow-type定义
# 声明steps的type由协调核心逐步派发；
# 删除steps段则由Worker驱动整个workflow体（report-step汇报进度）。
workflow_types:
  - type: %s
    description: TODO
    steps:
      - name: step-1-init
      - name: step-2-process
        dependencies: [step-1-init]
        max_retries: 3
      - name: step-3-finalize
        dependencies: [step-2-process]
`

// initCmd 生成workflow-type定义模板
var initCmd = &cobra.Command{
	Use:   "init <name>",
	Short: "生成workflow-type定义模板",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]
		path := initOutputPath
		if path == "" {
			path = name + ".yaml"
		}

		if _, err := os.Stat(path); err == nil {
			output.Error("文件已存在: %s", path)
			return fmt.Errorf("file exists: %s", path)
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				output.Error("创建目录失败: %v", err)
				return err
			}
		}

		content := fmt.Sprintf(workflowTemplate, name, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			output.Error("写入失败: %v", err)
			return err
		}
		output.Success("已生成workflow定义: %s", path)
		return nil
	},
}

func init() {
	initCmd.Flags().StringVarP(&initOutputPath, "output", "o", "", "输出路径（默认<name>.yaml）")
}
