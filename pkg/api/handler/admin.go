package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/aether/pkg/api/dto"
	"github.com/LENAX/aether/pkg/core/engine"
	"github.com/LENAX/aether/pkg/core/registry"
	"github.com/LENAX/aether/pkg/core/workflow"
	"github.com/LENAX/aether/pkg/storage"
)

// AdminHandler Monitor面的只读查询处理器
type AdminHandler struct {
	engine *engine.Engine
}

// NewAdminHandler 创建AdminHandler
func NewAdminHandler(eng *engine.Engine) *AdminHandler {
	return &AdminHandler{engine: eng}
}

// ListWorkflows 列出workflow摘要
// GET /api/v1/workflows?active=true&type=T&state=S&since=<unix>
func (h *AdminHandler) ListWorkflows(c *gin.Context) {
	filter := storage.Filter{
		ActiveOnly: c.Query("active") == "true",
		Type:       c.Query("type"),
		State:      workflow.State(c.Query("state")),
	}
	if raw := c.Query("since"); raw != "" {
		secs, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, dto.NewErrorResponse("protocol-violation", "invalid since: "+raw))
			return
		}
		filter.Since = time.Unix(secs, 0)
	}
	if filter.State != "" && !filter.State.Valid() {
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("protocol-violation", "invalid state: "+string(filter.State)))
		return
	}

	summaries, err := h.engine.ListWorkflows(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]dto.WorkflowSummaryInfo, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, dto.NewWorkflowSummaryInfo(s))
	}
	c.JSON(http.StatusOK, gin.H{"workflows": out})
}

// GetWorkflowDetail 完整记录（含Step执行历史）
// GET /api/v1/workflows/:id
func (h *AdminHandler) GetWorkflowDetail(c *gin.Context) {
	w, err := h.engine.GetWorkflow(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewWorkflowDetailInfo(w))
}

// Stats 核心运行指标的JSON摘要（Prometheus端点之外的快捷视图）
// GET /api/v1/stats
func (h *AdminHandler) Stats(c *gin.Context) {
	summaries, err := h.engine.ListWorkflows(c.Request.Context(), storage.Filter{})
	if err != nil {
		writeError(c, err)
		return
	}
	byState := make(map[string]int)
	for _, s := range summaries {
		byState[string(s.State)]++
	}
	workers := h.engine.Registry().List()
	activeWorkers := 0
	for _, w := range workers {
		if w.State == registry.SessionActive {
			activeWorkers++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"workflows":          len(summaries),
		"workflows_by_state": byState,
		"workers":            len(workers),
		"active_workers":     activeWorkers,
		"claimed_tasks":      h.engine.Queue().ClaimCount(),
		"event_subscribers":  h.engine.Bus().SubscriberCount(),
		"degraded":           h.engine.Degraded(),
	})
}

// ListWorkers Worker注册表
// GET /api/v1/workers
func (h *AdminHandler) ListWorkers(c *gin.Context) {
	workers := h.engine.Registry().List()
	out := make([]dto.WorkerInfo, 0, len(workers))
	for _, w := range workers {
		out = append(out, dto.WorkerInfo{
			WorkerID:        w.WorkerID,
			ServiceName:     w.ServiceName,
			Group:           w.Group,
			State:           string(w.State),
			AdvertisedTypes: w.AdvertisedTypes,
			LastHeartbeatAt: w.LastHeartbeat.Unix(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"workers": out})
}
