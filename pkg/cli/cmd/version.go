package cmd

import (
	"github.com/spf13/cobra"

	"github.com/LENAX/aether/pkg/cli/output"
)

// versionCmd 版本信息
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "显示版本",
	Run: func(cmd *cobra.Command, args []string) {
		output.Plain("aether %s", Version)
	},
}
