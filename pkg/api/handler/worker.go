package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/aether/pkg/api/dto"
	"github.com/LENAX/aether/pkg/core/engine"
	"github.com/LENAX/aether/pkg/core/task"
)

// WorkerHandler Worker面处理器（注册/心跳/排水/轮询claim）
type WorkerHandler struct {
	engine *engine.Engine
}

// NewWorkerHandler 创建WorkerHandler
func NewWorkerHandler(eng *engine.Engine) *WorkerHandler {
	return &WorkerHandler{engine: eng}
}

// Register 注册Worker
// POST /workers
func (h *WorkerHandler) Register(c *gin.Context) {
	var req dto.RegisterWorkerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("protocol-violation", err.Error()))
		return
	}

	capabilities := make([]task.Capability, 0, len(req.Capabilities))
	for _, cap := range req.Capabilities {
		capabilities = append(capabilities, task.Capability{
			Name: cap.Name,
			Kind: task.ParseCapabilityKind(cap.Kind),
		})
	}

	w, err := h.engine.RegisterWorker(req.WorkerID, req.ServiceName, req.Group, capabilities, req.WorkflowTypes, req.Metadata)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.RegisterWorkerResponse{
		WorkerID:     w.WorkerID,
		SessionToken: w.SessionToken,
	})
}

// Heartbeat 会话心跳
// POST /workers/heartbeat
func (h *WorkerHandler) Heartbeat(c *gin.Context) {
	token := sessionToken(c)
	if token == "" {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("protocol-violation", "session token required"))
		return
	}
	if err := h.engine.HeartbeatSession(token); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.AckResponse{OK: true})
}

// Drain 转入排水：不再接新任务
// POST /workers/drain
func (h *WorkerHandler) Drain(c *gin.Context) {
	token := sessionToken(c)
	if token == "" {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("protocol-violation", "session token required"))
		return
	}
	if err := h.engine.DrainWorker(token); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.AckResponse{OK: true})
}

// Poll 轮询claim（流式派发的降级路径）
// POST /workers/poll
func (h *WorkerHandler) Poll(c *gin.Context) {
	token := sessionToken(c)
	if token == "" {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("protocol-violation", "session token required"))
		return
	}

	var req dto.PollTasksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("protocol-violation", err.Error()))
		return
	}
	if req.Max <= 0 {
		req.Max = 10
	}

	tasks, err := h.engine.ClaimTasks(c.Request.Context(), token, req.Max)
	if err != nil {
		writeError(c, err)
		return
	}

	payloads := make([]dto.TaskPayload, 0, len(tasks))
	for _, t := range tasks {
		payloads = append(payloads, dto.NewTaskPayload(t))
	}
	c.JSON(http.StatusOK, dto.PollTasksResponse{Tasks: payloads})
}
