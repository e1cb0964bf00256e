package engine

import "errors"

// 错误分类。per-workflow错误返回给发起方并记录在workflow上；
// 横切错误（持久化故障）集中记日志并通过健康端点暴露。
var (
	// ErrNotFound 未知workflow-id/task-id/session-token
	ErrNotFound = errors.New("not found")
	// ErrDuplicate worker-id或workflow-id冲突
	ErrDuplicate = errors.New("duplicate")
	// ErrProtocolViolation 完成消息指向错误Step/终态workflow，或token无效
	ErrProtocolViolation = errors.New("protocol violation")
	// ErrStillRunning await在未到终态时超时返回的可恢复信号，非故障
	ErrStillRunning = errors.New("workflow still running")
	// ErrAlreadyTerminal 取消已终态的workflow
	ErrAlreadyTerminal = errors.New("workflow already terminal")
	// ErrPersistence 持久化I/O失败，调用方可重试
	ErrPersistence = errors.New("persistence failure")
	// ErrTimeout 阻塞API超出时限
	ErrTimeout = errors.New("timeout")
	// ErrCancelled 操作被显式取消中止
	ErrCancelled = errors.New("cancelled")
	// ErrInternal 不变量被破坏（如非法状态转换、空计划）时返回给调用方；workflow状态不会被自动改为Failed
	ErrInternal = errors.New("internal invariant violation")
)
