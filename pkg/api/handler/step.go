package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/aether/pkg/api/dto"
	"github.com/LENAX/aether/pkg/core/engine"
)

// StepHandler Step完成/汇报/任务心跳处理器
type StepHandler struct {
	engine *engine.Engine
}

// NewStepHandler 创建StepHandler
func NewStepHandler(eng *engine.Engine) *StepHandler {
	return &StepHandler{engine: eng}
}

// Complete 按task-id提交完成（幂等）
// POST /steps/:taskId/complete
func (h *StepHandler) Complete(c *gin.Context) {
	taskID := c.Param("taskId")

	var req dto.CompleteStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("protocol-violation", err.Error()))
		return
	}

	err := h.engine.CompleteStep(c.Request.Context(), sessionToken(c), taskID, []byte(req.Result), req.Error, req.Cancelled)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.AckResponse{OK: true})
}

// Report 细粒度进度汇报（workflow体在Worker内执行时使用）
// POST /steps/report
func (h *StepHandler) Report(c *gin.Context) {
	var req dto.ReportStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("protocol-violation", err.Error()))
		return
	}

	err := h.engine.ReportStep(c.Request.Context(), req.WorkflowID, req.StepName, req.Status, []byte(req.Payload), req.Error)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.AckResponse{OK: true})
}

// TaskHeartbeat 任务心跳：刷新claim可见性期限
// POST /steps/:taskId/heartbeat
func (h *StepHandler) TaskHeartbeat(c *gin.Context) {
	if err := h.engine.HeartbeatTask(c.Param("taskId")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.AckResponse{OK: true})
}

// Return 显式退回任务
// POST /steps/:taskId/return
func (h *StepHandler) Return(c *gin.Context) {
	token := sessionToken(c)
	if token == "" {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("protocol-violation", "session token required"))
		return
	}
	if err := h.engine.ReturnTask(token, c.Param("taskId")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.AckResponse{OK: true})
}
