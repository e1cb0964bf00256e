// Package handler 协调面与Monitor面的HTTP处理器
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LENAX/aether/pkg/api/dto"
	"github.com/LENAX/aether/pkg/core/engine"
)

// sessionTokenHeader Worker面凭据头
const sessionTokenHeader = "X-Session-Token"

// writeError 按错误分类映射HTTP状态码
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		c.JSON(http.StatusNotFound, dto.NewErrorResponse("not-found", err.Error()))
	case errors.Is(err, engine.ErrDuplicate):
		c.JSON(http.StatusConflict, dto.NewErrorResponse("duplicate", err.Error()))
	case errors.Is(err, engine.ErrProtocolViolation):
		c.JSON(http.StatusBadRequest, dto.NewErrorResponse("protocol-violation", err.Error()))
	case errors.Is(err, engine.ErrPersistence):
		c.JSON(http.StatusServiceUnavailable, dto.NewErrorResponse("persistence-failure", err.Error()))
	case errors.Is(err, engine.ErrTimeout):
		c.JSON(http.StatusRequestTimeout, dto.NewErrorResponse("timeout", err.Error()))
	case errors.Is(err, engine.ErrCancelled):
		c.JSON(http.StatusConflict, dto.NewErrorResponse("cancelled", err.Error()))
	default:
		c.JSON(http.StatusInternalServerError, dto.NewErrorResponse("internal", err.Error()))
	}
}

// sessionToken 取请求凭据（header优先，query兜底）
func sessionToken(c *gin.Context) string {
	if token := c.GetHeader(sessionTokenHeader); token != "" {
		return token
	}
	return c.Query("token")
}
