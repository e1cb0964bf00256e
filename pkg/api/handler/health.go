package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/aether/pkg/core/engine"
)

// HealthHandler 健康检查
type HealthHandler struct {
	engine  *engine.Engine
	version string
}

// NewHealthHandler 创建HealthHandler
func NewHealthHandler(eng *engine.Engine, version string) *HealthHandler {
	return &HealthHandler{engine: eng, version: version}
}

// Health 存活检查
// GET /health
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": h.version,
	})
}

// Ready 就绪检查：持久化写路径降级时返回503（只读模式）
// GET /ready
func (h *HealthHandler) Ready(c *gin.Context) {
	if h.engine.Degraded() {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "degraded",
			"reason": "persistence unavailable, serving reads only",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
