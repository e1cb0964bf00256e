package config

import "fmt"

// Validate 校验配置合法性
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("配置不能为空")
	}

	if cfg.Server.GRPCPort <= 0 || cfg.Server.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port必须在1-65535之间")
	}
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port必须在1-65535之间")
	}
	if cfg.Server.GRPCPort == cfg.Server.HTTPPort {
		return fmt.Errorf("server.grpc_port与server.http_port不能相同")
	}

	validModes := map[string]bool{
		"memory":           true,
		"snapshot":         true,
		"state-action-log": true,
	}
	if !validModes[cfg.Persistence.Mode] {
		return fmt.Errorf("persistence.mode必须是memory/snapshot/state-action-log之一")
	}

	if cfg.Persistence.Mode == "snapshot" {
		validDBTypes := map[string]bool{
			"sqlite":     true,
			"postgres":   true,
			"postgresql": true,
			"mysql":      true,
		}
		if !validDBTypes[cfg.Persistence.DBType] {
			return fmt.Errorf("persistence.db_type必须是sqlite/postgres/mysql之一")
		}
		if cfg.Persistence.DBType != "sqlite" && cfg.Persistence.DSN == "" {
			return fmt.Errorf("persistence.db_type为%s时dsn不能为空", cfg.Persistence.DBType)
		}
	}

	if cfg.Metrics.Enabled {
		if cfg.Metrics.Port <= 0 || cfg.Metrics.Port > 65535 {
			return fmt.Errorf("metrics.port必须在1-65535之间")
		}
	}

	if cfg.Retention.Enabled && cfg.Retention.MaxAgeD <= 0 {
		return fmt.Errorf("retention.enabled时max_age必须大于0")
	}

	return nil
}
