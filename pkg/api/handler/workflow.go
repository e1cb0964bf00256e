package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/aether/pkg/api/dto"
	"github.com/LENAX/aether/pkg/core/engine"
	"github.com/LENAX/aether/pkg/core/workflow"
)

// WorkflowHandler 客户端面处理器
type WorkflowHandler struct {
	engine *engine.Engine
}

// NewWorkflowHandler 创建WorkflowHandler
func NewWorkflowHandler(eng *engine.Engine) *WorkflowHandler {
	return &WorkflowHandler{engine: eng}
}

// Start 启动workflow
// POST /workflows
func (h *WorkflowHandler) Start(c *gin.Context) {
	var req dto.StartWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("protocol-violation", err.Error()))
		return
	}

	id, err := h.engine.StartWorkflow(c.Request.Context(), req.WorkflowType, []byte(req.Input))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.StartWorkflowResponse{WorkflowID: id})
}

// Status 查询workflow状态
// GET /workflows/:id
func (h *WorkflowHandler) Status(c *gin.Context) {
	w, err := h.engine.GetWorkflow(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewWorkflowStatusResponse(w))
}

// Result 阻塞等待结果
// GET /workflows/:id/result?timeout=5s
// timeout=0立即返回；未终态时以202回still_running信号。
func (h *WorkflowHandler) Result(c *gin.Context) {
	id := c.Param("id")

	timeout := time.Duration(0)
	if raw := c.Query("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, dto.NewErrorResponse("protocol-violation", "invalid timeout: "+raw))
			return
		}
		timeout = d
	}

	w, err := h.engine.AwaitResult(c.Request.Context(), id, timeout)
	if err != nil {
		if errors.Is(err, engine.ErrStillRunning) {
			c.JSON(http.StatusAccepted, dto.StillRunningResponse{
				WorkflowID: id,
				Status:     "still_running",
			})
			return
		}
		writeError(c, err)
		return
	}

	resp := dto.WorkflowResultResponse{
		WorkflowID: w.ID,
		State:      string(w.State),
	}
	switch w.State {
	case workflow.StateCompleted:
		resp.Result = json.RawMessage(w.Result)
	case workflow.StateFailed:
		resp.Error = w.ErrorMessage
	}
	c.JSON(http.StatusOK, resp)
}

// Cancel 请求取消
// DELETE /workflows/:id
func (h *WorkflowHandler) Cancel(c *gin.Context) {
	id := c.Param("id")
	accepted, err := h.engine.CancelWorkflow(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	status := "accepted"
	if !accepted {
		status = "already_terminal"
	}
	c.JSON(http.StatusOK, dto.CancelWorkflowResponse{WorkflowID: id, Status: status})
}
