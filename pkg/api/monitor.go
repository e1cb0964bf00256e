package api

import (
	"context"
	"encoding/json"
	"log"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/LENAX/aether/pkg/core/engine"
	"github.com/LENAX/aether/pkg/core/event"
	"github.com/LENAX/aether/pkg/storage"
)

// Monitor通道：双向文本帧。请求为带标签的联合体
// （单元变体是裸字符串，结构变体是单键对象）；
// 生命周期事件在同一连接上推送。

// monitorWorkflowInfo 列表项
type monitorWorkflowInfo struct {
	WorkflowID   string  `json:"workflow_id"`
	WorkflowType string  `json:"workflow_type"`
	State        string  `json:"state"`
	CurrentStep  *string `json:"current_step,omitempty"`
	StartedAt    int64   `json:"started_at"`
	CompletedAt  *int64  `json:"completed_at,omitempty"`
}

// monitorStepInfo 详情里的Step执行项
type monitorStepInfo struct {
	StepName    string `json:"step_name"`
	Status      string `json:"status"`
	Attempt     int    `json:"attempt"`
	StartedAt   *int64 `json:"started_at,omitempty"`
	CompletedAt *int64 `json:"completed_at,omitempty"`
}

// monitorDetail 详情响应体
type monitorDetail struct {
	WorkflowID     string            `json:"workflow_id"`
	WorkflowType   string            `json:"workflow_type"`
	State          string            `json:"state"`
	CurrentStep    *string           `json:"current_step,omitempty"`
	StepExecutions []monitorStepInfo `json:"step_executions"`
	StartedAt      int64             `json:"started_at"`
	CompletedAt    *int64            `json:"completed_at,omitempty"`
}

// monitorHistoryEntry 执行历史项
type monitorHistoryEntry struct {
	StepName   string `json:"step_name"`
	Status     string `json:"status"`
	Timestamp  int64  `json:"timestamp"`
	DurationMs *int64 `json:"duration_ms,omitempty"`
}

// monitorGapMarker 事件丢失标记：订阅方应重读权威状态
type monitorGapMarker struct {
	EventType string `json:"event_type"` // 固定为gap
	Dropped   int    `json:"dropped"`
}

// monitorRequest 请求联合体（结构变体）
type monitorRequest struct {
	GetWorkflow        *monitorWorkflowRef `json:"GetWorkflow,omitempty"`
	GetWorkflowHistory *monitorWorkflowRef `json:"GetWorkflowHistory,omitempty"`
}

type monitorWorkflowRef struct {
	WorkflowID string `json:"workflow_id"`
}

// MonitorHandler Monitor订阅通道
// GET /ws?workflow_id=&workflow_type=
func MonitorHandler(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter := event.Filter{
			WorkflowID:   c.Query("workflow_id"),
			WorkflowType: c.Query("workflow_type"),
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("⚠️ monitor upgrade failed: %v", err)
			return
		}
		handleMonitorSocket(c.Request.Context(), conn, eng, filter)
	}
}

func handleMonitorSocket(ctx context.Context, conn *websocket.Conn, eng *engine.Engine, filter event.Filter) {
	defer conn.Close()
	log.Println("🖥️ monitor client connected")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub := eng.Bus().Subscribe(filter)
	defer sub.Cancel()

	requests := make(chan []byte, 16)
	go func() {
		defer cancel()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			select {
			case requests <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	// 单写者循环：查询响应与事件推送共用连接
	for {
		select {
		case <-ctx.Done():
			log.Println("🖥️ monitor client disconnected")
			return

		case data := <-requests:
			resp := handleMonitorRequest(ctx, eng, data)
			if resp == nil {
				continue
			}
			if err := conn.WriteJSON(resp); err != nil {
				return
			}

		case env, ok := <-sub.C:
			if !ok {
				return
			}
			if env.GapBefore > 0 {
				if err := conn.WriteJSON(monitorGapMarker{EventType: "gap", Dropped: env.GapBefore}); err != nil {
					return
				}
			}
			if err := conn.WriteJSON(env.Event); err != nil {
				return
			}
		}
	}
}

// handleMonitorRequest 解析并处理查询请求。
// 返回带标签的响应对象；无法解析时返回Error响应。
func handleMonitorRequest(ctx context.Context, eng *engine.Engine, data []byte) interface{} {
	// 单元变体：裸字符串
	var unit string
	if err := json.Unmarshal(data, &unit); err == nil {
		switch unit {
		case "ListActiveWorkflows":
			return monitorList(ctx, eng, true)
		case "ListAllWorkflows":
			return monitorList(ctx, eng, false)
		default:
			return monitorError("unknown request: " + unit)
		}
	}

	var req monitorRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return monitorError("malformed request")
	}
	switch {
	case req.GetWorkflow != nil:
		return monitorGet(ctx, eng, req.GetWorkflow.WorkflowID)
	case req.GetWorkflowHistory != nil:
		return monitorHistory(ctx, eng, req.GetWorkflowHistory.WorkflowID)
	default:
		return monitorError("unknown request")
	}
}

func monitorError(msg string) interface{} {
	return map[string]interface{}{
		"Error": map[string]string{"message": msg},
	}
}

func monitorList(ctx context.Context, eng *engine.Engine, activeOnly bool) interface{} {
	summaries, err := eng.ListWorkflows(ctx, storage.Filter{ActiveOnly: activeOnly})
	if err != nil {
		return monitorError(err.Error())
	}
	workflows := make([]monitorWorkflowInfo, 0, len(summaries))
	for _, s := range summaries {
		info := monitorWorkflowInfo{
			WorkflowID:   s.WorkflowID,
			WorkflowType: s.WorkflowType,
			State:        string(s.State),
			StartedAt:    s.StartedAt.Unix(),
		}
		if s.CurrentStep != "" {
			step := s.CurrentStep
			info.CurrentStep = &step
		}
		if s.CompletedAt != nil {
			ts := s.CompletedAt.Unix()
			info.CompletedAt = &ts
		}
		workflows = append(workflows, info)
	}
	return map[string]interface{}{
		"WorkflowList": map[string]interface{}{"workflows": workflows},
	}
}

func monitorGet(ctx context.Context, eng *engine.Engine, workflowID string) interface{} {
	w, err := eng.GetWorkflow(ctx, workflowID)
	if err != nil {
		return monitorError(err.Error())
	}
	detail := monitorDetail{
		WorkflowID:     w.ID,
		WorkflowType:   w.Type,
		State:          string(w.State),
		StartedAt:      w.StartedAt.Unix(),
		StepExecutions: make([]monitorStepInfo, 0, len(w.Steps)),
	}
	if w.CurrentStep != "" {
		step := w.CurrentStep
		detail.CurrentStep = &step
	}
	if w.CompletedAt != nil {
		ts := w.CompletedAt.Unix()
		detail.CompletedAt = &ts
	}
	for _, s := range w.Steps {
		info := monitorStepInfo{
			StepName: s.StepName,
			Status:   string(s.Status),
			Attempt:  s.Attempt,
		}
		if s.StartedAt != nil {
			ts := s.StartedAt.Unix()
			info.StartedAt = &ts
		}
		if s.CompletedAt != nil {
			ts := s.CompletedAt.Unix()
			info.CompletedAt = &ts
		}
		detail.StepExecutions = append(detail.StepExecutions, info)
	}
	return map[string]interface{}{
		"WorkflowDetail": map[string]interface{}{"detail": detail},
	}
}

func monitorHistory(ctx context.Context, eng *engine.Engine, workflowID string) interface{} {
	w, err := eng.GetWorkflow(ctx, workflowID)
	if err != nil {
		return monitorError(err.Error())
	}
	history := make([]monitorHistoryEntry, 0, len(w.Steps))
	for _, s := range w.Steps {
		entry := monitorHistoryEntry{
			StepName: s.StepName,
			Status:   string(s.Status),
		}
		if s.StartedAt != nil {
			entry.Timestamp = s.StartedAt.Unix()
		}
		if d := s.Duration(); d > 0 {
			ms := d.Milliseconds()
			entry.DurationMs = &ms
		}
		history = append(history, entry)
	}
	return map[string]interface{}{
		"WorkflowHistory": map[string]interface{}{"history": history},
	}
}
