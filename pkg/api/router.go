package api

import (
	"github.com/gin-gonic/gin"

	"github.com/LENAX/aether/pkg/api/handler"
	"github.com/LENAX/aether/pkg/api/middleware"
	"github.com/LENAX/aether/pkg/core/engine"
)

// SetupCoordinatorRouter 协调面路由（客户端面 + Worker面）
func SetupCoordinatorRouter(eng *engine.Engine) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	workflowHandler := handler.NewWorkflowHandler(eng)
	workerHandler := handler.NewWorkerHandler(eng)
	stepHandler := handler.NewStepHandler(eng)
	adminHandler := handler.NewAdminHandler(eng)

	// 客户端面
	workflows := router.Group("/workflows")
	{
		workflows.POST("", workflowHandler.Start)
		workflows.GET("", adminHandler.ListWorkflows)
		workflows.GET("/:id", workflowHandler.Status)
		workflows.GET("/:id/result", workflowHandler.Result)
		workflows.DELETE("/:id", workflowHandler.Cancel)
	}

	// Worker面
	workers := router.Group("/workers")
	{
		workers.POST("", workerHandler.Register)
		workers.POST("/heartbeat", workerHandler.Heartbeat)
		workers.POST("/drain", workerHandler.Drain)
		workers.POST("/poll", workerHandler.Poll)
		workers.GET("/:id/tasks", WorkerStreamHandler(eng))
	}

	steps := router.Group("/steps")
	{
		steps.POST("/report", stepHandler.Report)
		steps.POST("/:taskId/complete", stepHandler.Complete)
		steps.POST("/:taskId/heartbeat", stepHandler.TaskHeartbeat)
		steps.POST("/:taskId/return", stepHandler.Return)
	}

	return router
}

// SetupMonitorRouter Monitor面路由（只读查询 + 事件订阅）
func SetupMonitorRouter(eng *engine.Engine, version string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())
	router.Use(middleware.CORS())

	adminHandler := handler.NewAdminHandler(eng)
	healthHandler := handler.NewHealthHandler(eng, version)

	router.GET("/health", healthHandler.Health)
	router.GET("/ready", healthHandler.Ready)
	router.GET("/ws", MonitorHandler(eng))

	v1 := router.Group("/api/v1")
	{
		v1.GET("/workflows", adminHandler.ListWorkflows)
		v1.GET("/workflows/:id", adminHandler.GetWorkflowDetail)
		v1.GET("/workers", adminHandler.ListWorkers)
		v1.GET("/stats", adminHandler.Stats)
	}

	return router
}
