package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Load 加载TOML配置文件。文件不存在时返回默认配置。
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Normalize(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Normalize 解析时长字符串并补默认值
func (c *Config) Normalize() error {
	var err error
	if c.Server.HeartbeatTimeoutD, err = parseDuration(c.Server.HeartbeatTimeout, 30*time.Second); err != nil {
		return fmt.Errorf("server.heartbeat_timeout: %w", err)
	}
	if c.Server.VisibilityTimeoutD, err = parseDuration(c.Server.VisibilityTimeout, 60*time.Second); err != nil {
		return fmt.Errorf("server.visibility_timeout: %w", err)
	}
	if c.Server.CancelDeadlineD, err = parseDuration(c.Server.CancelDeadline, 30*time.Second); err != nil {
		return fmt.Errorf("server.cancel_deadline: %w", err)
	}
	if c.Persistence.SnapshotIntervalD, err = parseDuration(c.Persistence.SnapshotInterval, 10*time.Second); err != nil {
		return fmt.Errorf("persistence.snapshot_interval: %w", err)
	}
	if c.Retention.MaxAgeD, err = parseDuration(c.Retention.MaxAge, 0); err != nil {
		return fmt.Errorf("retention.max_age: %w", err)
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = 9090
	}
	return nil
}

func parseDuration(s string, def time.Duration) (time.Duration, error) {
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return d, nil
}
