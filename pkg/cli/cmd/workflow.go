package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/LENAX/aether/pkg/cli/aether"
	"github.com/LENAX/aether/pkg/cli/output"
)

var (
	listType  string
	listState string
)

// workflowCmd workflow子命令
var workflowCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Workflow管理命令",
}

// workflowListCmd 列出workflow
var workflowListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出workflow",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := aether.New(serverURL)
		workflows, err := client.ListWorkflows(listType, listState)
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(workflows)
		}

		if len(workflows) == 0 {
			output.Info("暂无workflow")
			return nil
		}

		table := output.NewTable([]string{"WORKFLOW-ID", "TYPE", "STATE", "CURRENT-STEP", "STARTED"})
		for _, w := range workflows {
			step := "-"
			if w.CurrentStep != "" {
				step = w.CurrentStep
			}
			table.AddRow([]string{
				w.WorkflowID,
				w.WorkflowType,
				w.State,
				step,
				time.Unix(w.StartedAt, 0).Format("2006-01-02 15:04:05"),
			})
		}
		table.Render()
		return nil
	},
}

func init() {
	workflowListCmd.Flags().StringVarP(&listType, "type", "t", "", "按workflow-type过滤")
	workflowListCmd.Flags().StringVar(&listState, "state", "", "按状态过滤: pending|running|completed|failed|cancelled")
	workflowCmd.AddCommand(workflowListCmd)
}
