// Package event 提供生命周期事件定义与进程内事件总线
package event

import (
	"encoding/json"
	"time"
)

// Type 生命周期事件类型
type Type string

const (
	StepStarted       Type = "step:started"
	StepCompleted     Type = "step:completed"
	StepFailed        Type = "step:failed"
	WorkflowStarted   Type = "workflow:started"
	WorkflowCompleted Type = "workflow:completed"
	WorkflowFailed    Type = "workflow:failed"
	WorkflowCancelled Type = "workflow:cancelled"
)

// Payload 事件附加负载，字段按事件类型选择性填充
type Payload struct {
	StepName string `json:"step_name,omitempty"`
	Attempt  int    `json:"attempt,omitempty"`
	Input    []byte `json:"input,omitempty"`
	Output   []byte `json:"output,omitempty"`
	Result   []byte `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Event 不可变的生命周期事件记录。
// 同一workflow-id的事件按持久化提交顺序发出。
type Event struct {
	Type         Type    `json:"event_type"`
	WorkflowID   string  `json:"workflow_id"`
	WorkflowType string  `json:"workflow_type"`
	Timestamp    int64   `json:"timestamp"`
	Payload      Payload `json:"payload"`
}

// New 创建事件（时间戳取当前Unix秒）
func New(eventType Type, workflowID, workflowType string, payload Payload) *Event {
	return &Event{
		Type:         eventType,
		WorkflowID:   workflowID,
		WorkflowType: workflowType,
		Timestamp:    time.Now().Unix(),
		Payload:      payload,
	}
}

// Marshal 序列化为JSON
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal 从JSON解析事件
func Unmarshal(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
