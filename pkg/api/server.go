// Package api 协调面与Monitor面的HTTP/WebSocket服务
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/LENAX/aether/pkg/core/engine"
)

// ServerConfig API服务器配置
type ServerConfig struct {
	Host            string        // 监听地址
	CoordinatorPort int           // 协调面端口（客户端+Worker面）
	MonitorPort     int           // Monitor面端口
	ReadTimeout     time.Duration // 读取超时
	WriteTimeout    time.Duration // 写入超时
}

// DefaultServerConfig 默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		CoordinatorPort: 7233,
		MonitorPort:     7234,
		ReadTimeout:     30 * time.Second,
		// 协调面带长连接（await/result与任务流），写超时关闭
		WriteTimeout: 0,
	}
}

// Server 双监听API服务器
type Server struct {
	engine      *engine.Engine
	config      ServerConfig
	version     string
	coordinator *http.Server
	monitor     *http.Server
}

// NewServer 创建API服务器
func NewServer(eng *engine.Engine, config ServerConfig, version string) *Server {
	return &Server{
		engine:  eng,
		config:  config,
		version: version,
	}
}

// Start 启动两个监听（各自独立goroutine，错误汇入errCh）
func (s *Server) Start() <-chan error {
	errCh := make(chan error, 2)

	coordinatorAddr := fmt.Sprintf("%s:%d", s.config.Host, s.config.CoordinatorPort)
	s.coordinator = &http.Server{
		Addr:        coordinatorAddr,
		Handler:     SetupCoordinatorRouter(s.engine),
		ReadTimeout: s.config.ReadTimeout,
	}

	monitorAddr := fmt.Sprintf("%s:%d", s.config.Host, s.config.MonitorPort)
	s.monitor = &http.Server{
		Addr:        monitorAddr,
		Handler:     SetupMonitorRouter(s.engine, s.version),
		ReadTimeout: s.config.ReadTimeout,
	}

	go func() {
		log.Printf("🚀 coordinator API listening on %s", coordinatorAddr)
		if err := s.coordinator.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("coordinator listen failed: %w", err)
		}
	}()
	go func() {
		log.Printf("🖥️ monitor API listening on %s", monitorAddr)
		if err := s.monitor.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("monitor listen failed: %w", err)
		}
	}()

	return errCh
}

// Shutdown 优雅关闭两个监听
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("🛑 shutting down API servers...")
	var firstErr error
	if s.coordinator != nil {
		if err := s.coordinator.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if s.monitor != nil {
		if err := s.monitor.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return fmt.Errorf("server shutdown failed: %w", firstErr)
	}
	log.Println("✅ API servers stopped")
	return nil
}
