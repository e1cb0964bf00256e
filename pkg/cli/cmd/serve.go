package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/LENAX/aether/internal/storage"
	"github.com/LENAX/aether/pkg/api"
	"github.com/LENAX/aether/pkg/cli/output"
	"github.com/LENAX/aether/pkg/config"
	"github.com/LENAX/aether/pkg/core/engine"
	"github.com/LENAX/aether/pkg/core/event"
	"github.com/LENAX/aether/pkg/core/queue"
	"github.com/LENAX/aether/pkg/core/registry"
	"github.com/LENAX/aether/pkg/metrics"
)

var (
	serveConfigPath  string
	serveDBPath      string
	serveGRPCPort    int
	serveHTTPPort    int
	servePersistence string
)

// serveCmd 启动协调服务
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动协调服务",
	Long: `启动Aether协调服务（客户端面、Worker面与Monitor面）。

示例：
  # 内存持久化（开发/测试）
  aether serve

  # SQLite快照持久化
  aether serve --persistence snapshot --db ./aether.db

  # 状态+动作日志持久化（最高档）
  aether serve --persistence state-action-log --db ./data`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(serveConfigPath)
		if err != nil {
			output.Error("加载配置失败: %v", err)
			return err
		}

		// 命令行参数覆盖配置文件
		if cmd.Flags().Changed("db") {
			cfg.Server.DBPath = serveDBPath
		}
		if cmd.Flags().Changed("grpc-port") {
			cfg.Server.GRPCPort = serveGRPCPort
		}
		if cmd.Flags().Changed("http-port") {
			cfg.Server.HTTPPort = serveHTTPPort
		}
		if cmd.Flags().Changed("persistence") {
			cfg.Persistence.Mode = servePersistence
		}

		if err := config.Validate(cfg); err != nil {
			output.Error("配置不合法: %v", err)
			return err
		}

		return runServer(cfg)
	},
}

func runServer(cfg *config.Config) error {
	// 持久化层
	store, err := storage.New(storage.Options{
		Mode:             cfg.Persistence.Mode,
		DBType:           cfg.Persistence.DBType,
		DSN:              persistenceDSN(cfg),
		Root:             persistenceRoot(cfg),
		SnapshotInterval: cfg.Persistence.SnapshotIntervalD,
	})
	if err != nil {
		output.Error("初始化持久化层失败: %v", err)
		return err
	}
	defer store.Close()

	// workflow-type定义（声明steps的type走逐步派发）
	plans, err := config.LoadWorkflowTypes(cfg.Workflows.DefinitionsDir)
	if err != nil {
		output.Error("加载workflow定义失败: %v", err)
		return err
	}
	if len(plans) > 0 {
		output.Info("已加载%d个workflow-type定义", len(plans))
	}

	// 核心组件
	bus := event.NewBus()
	defer bus.Close()
	taskQueue := queue.New(cfg.Server.VisibilityTimeoutD)
	workerRegistry := registry.New(cfg.Server.HeartbeatTimeoutD)

	eng := engine.New(store, bus, taskQueue, workerRegistry, engine.Options{
		Plans:          plans,
		CancelDeadline: cfg.Server.CancelDeadlineD,
	})

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		output.Error("启动协调核心失败: %v", err)
		return err
	}
	defer eng.Stop()

	// 保留策略
	retention := engine.NewRetention(eng, engine.RetentionOptions{
		Enabled:   cfg.Retention.Enabled,
		MaxAge:    cfg.Retention.MaxAgeD,
		SweepCron: cfg.Retention.SweepCron,
	})
	if err := retention.Start(); err != nil {
		output.Error("启动保留策略失败: %v", err)
		return err
	}
	defer retention.Stop()

	// 指标端点
	if cfg.Metrics.Enabled {
		go func() {
			log.Printf("📈 metrics listening on :%d", cfg.Metrics.Port)
			if err := metrics.Serve(cfg.Metrics.Port); err != nil {
				log.Printf("⚠️ metrics server error: %v", err)
			}
		}()
	}

	// API服务器
	server := api.NewServer(eng, api.ServerConfig{
		Host:            cfg.Server.Host,
		CoordinatorPort: cfg.Server.GRPCPort,
		MonitorPort:     cfg.Server.HTTPPort,
		ReadTimeout:     api.DefaultServerConfig().ReadTimeout,
	}, Version)
	errCh := server.Start()

	output.Success("Aether server started (coordinator=:%d monitor=:%d persistence=%s)",
		cfg.Server.GRPCPort, cfg.Server.HTTPPort, cfg.Persistence.Mode)

	// 等待中断信号或监听错误
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
		output.Info("正在关闭服务...")
	case err := <-errCh:
		output.Error("服务器错误: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		output.Error("关闭API服务器失败: %v", err)
	}
	output.Success("服务已停止")
	return nil
}

// persistenceDSN snapshot档连接串：显式dsn优先，sqlite回落到--db路径
func persistenceDSN(cfg *config.Config) string {
	if cfg.Persistence.DSN != "" {
		return cfg.Persistence.DSN
	}
	if cfg.Persistence.DBType == "" || cfg.Persistence.DBType == "sqlite" {
		return cfg.Server.DBPath
	}
	return ""
}

// persistenceRoot state-action-log档的数据根目录：--db路径兼作目录
func persistenceRoot(cfg *config.Config) string {
	if cfg.Persistence.DataDir != "" {
		return cfg.Persistence.DataDir
	}
	return cfg.Server.DBPath
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "aether.toml", "配置文件路径")
	serveCmd.Flags().StringVar(&serveDBPath, "db", "aether.db", "数据库路径（snapshot档）或数据目录（state-action-log档）")
	serveCmd.Flags().IntVar(&serveGRPCPort, "grpc-port", 7233, "协调面端口")
	serveCmd.Flags().IntVar(&serveHTTPPort, "http-port", 7234, "Monitor面端口")
	serveCmd.Flags().StringVar(&servePersistence, "persistence", "memory", "持久化档位: memory|snapshot|state-action-log")
}
