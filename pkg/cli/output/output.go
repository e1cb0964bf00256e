// Package output CLI输出辅助
package output

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	infoColor    = color.New(color.FgCyan)
	warnColor    = color.New(color.FgYellow)
)

// Success 成功消息
func Success(format string, args ...interface{}) {
	successColor.Printf("✅ "+format+"\n", args...)
}

// Error 错误消息（写stderr）
func Error(format string, args ...interface{}) {
	errorColor.Fprintf(os.Stderr, "❌ "+format+"\n", args...)
}

// Info 普通信息
func Info(format string, args ...interface{}) {
	infoColor.Printf(format+"\n", args...)
}

// Warn 警告信息
func Warn(format string, args ...interface{}) {
	warnColor.Printf("⚠️ "+format+"\n", args...)
}

// Plain 无色输出
func Plain(format string, args ...interface{}) {
	fmt.Printf(format+"\n", args...)
}
