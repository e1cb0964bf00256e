package cmd

import (
	"github.com/spf13/cobra"

	"github.com/LENAX/aether/pkg/cli/aether"
	"github.com/LENAX/aether/pkg/cli/output"
)

// cancelCmd 取消workflow
var cancelCmd = &cobra.Command{
	Use:   "cancel <workflow-id>",
	Short: "取消workflow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := aether.New(serverURL)
		result, err := client.Cancel(args[0])
		if err != nil {
			output.Error("取消失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(result)
		}

		switch result.Status {
		case "accepted":
			output.Success("已受理取消请求: %s", result.WorkflowID)
		case "already_terminal":
			output.Warn("workflow已处于终态: %s", result.WorkflowID)
		default:
			output.Info("状态: %s", result.Status)
		}
		return nil
	},
}
