package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/LENAX/aether/pkg/cli/aether"
	"github.com/LENAX/aether/pkg/cli/output"
)

// statusCmd 查询workflow状态
var statusCmd = &cobra.Command{
	Use:   "status <workflow-id>",
	Short: "查询workflow状态",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := aether.New(serverURL)
		result, err := client.Status(args[0])
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(result)
		}

		output.Plain("Workflow:  %s", result.WorkflowID)
		output.Plain("状态:      %s", result.State)
		if result.CurrentStep != "" {
			output.Plain("当前Step:  %s", result.CurrentStep)
		}
		output.Plain("开始时间:  %s", time.Unix(result.StartedAt, 0).Format("2006-01-02 15:04:05"))
		if result.CompletedAt > 0 {
			output.Plain("结束时间:  %s", time.Unix(result.CompletedAt, 0).Format("2006-01-02 15:04:05"))
		}
		return nil
	},
}
