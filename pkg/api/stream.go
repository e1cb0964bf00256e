package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/LENAX/aether/pkg/api/dto"
	"github.com/LENAX/aether/pkg/core/engine"
)

// streamPollInterval 流内部的任务拉取间隔（入队通知之外的兜底）
const streamPollInterval = 100 * time.Millisecond

// streamBatchLimit 单次推送的最大任务数
const streamBatchLimit = 10

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// 协调面凭据走session-token，不做Origin限制
	CheckOrigin: func(r *http.Request) bool { return true },
}

// taskMessage 推送给Worker的消息
type taskMessage struct {
	Type    string          `json:"type"` // task / cancel
	Payload dto.TaskPayload `json:"payload,omitempty"`
}

// cancelMessage 取消通知
type cancelMessage struct {
	Type       string `json:"type"` // cancel
	TaskID     string `json:"task_id"`
	WorkflowID string `json:"workflow_id"`
}

// ackMessage Worker回执
type ackMessage struct {
	Type   string `json:"type"`
	TaskID string `json:"task_id"`
}

// WorkerStreamHandler 流式claim：Worker保持长连接，任务可用即推送，
// Worker用完成请求（带task-id）确认。
// GET /workers/:id/tasks?token=<session-token>
func WorkerStreamHandler(eng *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		workerID := c.Param("id")
		token := c.Query("token")

		w, err := eng.Registry().Get(token)
		if err != nil || w.WorkerID != workerID {
			c.JSON(http.StatusBadRequest, dto.NewErrorResponse("protocol-violation", "invalid session token"))
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("⚠️ worker %s stream upgrade failed: %v", workerID, err)
			return
		}
		handleWorkerStream(c.Request.Context(), conn, eng, workerID, token)
	}
}

func handleWorkerStream(ctx context.Context, conn *websocket.Conn, eng *engine.Engine, workerID, token string) {
	defer conn.Close()
	log.Printf("🔗 worker %s task stream connected", workerID)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// gorilla连接要求单写者：发送统一走outgoing
	outgoing := make(chan interface{}, 64)
	acks := make(chan string, 64)

	// 写循环
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-outgoing:
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	// 读循环：处理ack与连接关闭
	go func() {
		defer cancel()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var ack ackMessage
			if err := json.Unmarshal(data, &ack); err != nil {
				continue
			}
			if ack.Type == "ack" && ack.TaskID != "" {
				select {
				case acks <- ack.TaskID:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	notify, unregister := eng.Queue().Notify()
	defer unregister()

	ticker := time.NewTicker(streamPollInterval)
	defer ticker.Stop()

	// 本连接已推送未回执的任务，避免重复推送
	sent := make(map[string]string) // taskID -> workflowID
	// 已发过取消通知的任务
	cancelNotified := make(map[string]bool)

	pump := func() {
		tasks, err := eng.ClaimTasks(ctx, token, streamBatchLimit)
		if err != nil {
			log.Printf("⚠️ worker %s claim failed: %v", workerID, err)
			cancel()
			return
		}
		for _, t := range tasks {
			if _, dup := sent[t.TaskID]; dup {
				continue
			}
			sent[t.TaskID] = t.WorkflowID
			select {
			case outgoing <- taskMessage{Type: "task", Payload: dto.NewTaskPayload(t)}:
			case <-ctx.Done():
				return
			}
		}
		// 在途任务的取消通知
		for taskID, wfID := range sent {
			if cancelNotified[taskID] {
				continue
			}
			if eng.CancelRequestedFor(ctx, wfID) {
				cancelNotified[taskID] = true
				select {
				case outgoing <- cancelMessage{Type: "cancel", TaskID: taskID, WorkflowID: wfID}:
				case <-ctx.Done():
					return
				}
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			log.Printf("🔌 worker %s task stream closed", workerID)
			return
		case taskID := <-acks:
			delete(sent, taskID)
			delete(cancelNotified, taskID)
		case <-notify:
			pump()
		case <-ticker.C:
			pump()
		}
	}
}
