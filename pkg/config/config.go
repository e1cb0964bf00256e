// Package config 服务端配置（TOML）与workflow-type定义（YAML）的
// 加载与校验
package config

import "time"

// Config 服务端配置（对外导出）
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Persistence PersistenceConfig `toml:"persistence"`
	Metrics     MetricsConfig     `toml:"metrics"`
	Retention   RetentionConfig   `toml:"retention"`
	Workflows   WorkflowsConfig   `toml:"workflows"`
}

// ServerConfig 监听与协调参数
type ServerConfig struct {
	Host     string `toml:"host"`
	GRPCPort int    `toml:"grpc_port"` // 协调面端口（客户端+Worker面）
	HTTPPort int    `toml:"http_port"` // Monitor面端口
	DBPath   string `toml:"db_path"`

	HeartbeatTimeout  string `toml:"heartbeat_timeout"`
	VisibilityTimeout string `toml:"visibility_timeout"`
	CancelDeadline    string `toml:"cancel_deadline"`

	// 解析后的时长（Normalize填充）
	HeartbeatTimeoutD  time.Duration `toml:"-"`
	VisibilityTimeoutD time.Duration `toml:"-"`
	CancelDeadlineD    time.Duration `toml:"-"`
}

// PersistenceConfig 持久化档位
type PersistenceConfig struct {
	// Mode memory / snapshot / state-action-log
	Mode string `toml:"mode"`
	// DBType snapshot档SQL后端：sqlite / postgres / mysql
	DBType string `toml:"db_type"`
	// DSN 非sqlite后端的连接串
	DSN string `toml:"dsn"`
	// DataDir state-action-log档的数据根目录
	DataDir string `toml:"data_dir"`
	// SnapshotInterval snapshot档落库间隔
	SnapshotInterval string `toml:"snapshot_interval"`

	SnapshotIntervalD time.Duration `toml:"-"`
}

// MetricsConfig 指标端点
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// RetentionConfig 终态workflow保留策略
type RetentionConfig struct {
	Enabled   bool   `toml:"enabled"`
	MaxAge    string `toml:"max_age"`
	SweepCron string `toml:"sweep_cron"`

	MaxAgeD time.Duration `toml:"-"`
}

// WorkflowsConfig workflow-type定义目录
type WorkflowsConfig struct {
	DefinitionsDir string `toml:"definitions_dir"`
}

// Default 默认配置（端口沿用既有Worker生态的默认值）
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			GRPCPort:           7233,
			HTTPPort:           7234,
			DBPath:             "aether.db",
			HeartbeatTimeoutD:  30 * time.Second,
			VisibilityTimeoutD: 60 * time.Second,
			CancelDeadlineD:    30 * time.Second,
		},
		Persistence: PersistenceConfig{
			Mode:              "memory",
			DBType:            "sqlite",
			SnapshotIntervalD: 10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
		Retention: RetentionConfig{
			Enabled: false,
		},
	}
}
