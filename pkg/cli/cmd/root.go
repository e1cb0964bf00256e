// Package cmd CLI命令树
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// Version 构建版本（ldflags注入）
var Version = "dev"

var (
	serverURL  string
	outputJSON bool
)

// rootCmd 根命令
var rootCmd = &cobra.Command{
	Use:   "aether",
	Short: "Aether工作流协调引擎",
	Long: `Aether是一个工作流协调引擎：客户端把工作流定义为有序的
命名Step序列，由多语言Worker进程远程执行，状态持久化，
生命周期事件实时推送。`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute CLI入口。传输或协议失败以非零码退出。
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:7233", "协调面地址")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "以JSON输出")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(workflowCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}
