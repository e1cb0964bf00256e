package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aether.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)

	assert.Equal(t, 7233, cfg.Server.GRPCPort)
	assert.Equal(t, 7234, cfg.Server.HTTPPort)
	assert.Equal(t, "memory", cfg.Persistence.Mode)
	assert.Equal(t, 30*time.Second, cfg.Server.HeartbeatTimeoutD)
	assert.Equal(t, 60*time.Second, cfg.Server.VisibilityTimeoutD)
	assert.False(t, cfg.Metrics.Enabled)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
[server]
host = "127.0.0.1"
grpc_port = 9233
http_port = 9234
db_path = "/tmp/aether.db"
heartbeat_timeout = "10s"
visibility_timeout = "45s"
cancel_deadline = "5s"

[persistence]
mode = "snapshot"
db_type = "postgres"
dsn = "postgres://localhost/aether"
snapshot_interval = "3s"

[metrics]
enabled = true
port = 9091

[retention]
enabled = true
max_age = "24h"
sweep_cron = "30 * * * *"

[workflows]
definitions_dir = "./defs"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9233, cfg.Server.GRPCPort)
	assert.Equal(t, 9234, cfg.Server.HTTPPort)
	assert.Equal(t, "/tmp/aether.db", cfg.Server.DBPath)
	assert.Equal(t, 10*time.Second, cfg.Server.HeartbeatTimeoutD)
	assert.Equal(t, 45*time.Second, cfg.Server.VisibilityTimeoutD)
	assert.Equal(t, 5*time.Second, cfg.Server.CancelDeadlineD)
	assert.Equal(t, "snapshot", cfg.Persistence.Mode)
	assert.Equal(t, "postgres", cfg.Persistence.DBType)
	assert.Equal(t, 3*time.Second, cfg.Persistence.SnapshotIntervalD)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, 9091, cfg.Metrics.Port)
	assert.True(t, cfg.Retention.Enabled)
	assert.Equal(t, 24*time.Hour, cfg.Retention.MaxAgeD)
	assert.Equal(t, "./defs", cfg.Workflows.DefinitionsDir)

	require.NoError(t, Validate(cfg))
}

func TestLoadInvalidDuration(t *testing.T) {
	path := writeConfig(t, `
[server]
heartbeat_timeout = "not-a-duration"
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMalformedTOML(t *testing.T) {
	path := writeConfig(t, `[server`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad grpc port", func(c *Config) { c.Server.GRPCPort = 0 }},
		{"bad http port", func(c *Config) { c.Server.HTTPPort = 70000 }},
		{"same ports", func(c *Config) { c.Server.HTTPPort = c.Server.GRPCPort }},
		{"bad mode", func(c *Config) { c.Persistence.Mode = "redis" }},
		{"bad db type", func(c *Config) {
			c.Persistence.Mode = "snapshot"
			c.Persistence.DBType = "oracle"
		}},
		{"postgres without dsn", func(c *Config) {
			c.Persistence.Mode = "snapshot"
			c.Persistence.DBType = "postgres"
			c.Persistence.DSN = ""
		}},
		{"retention without max age", func(c *Config) { c.Retention.Enabled = true }},
		{"bad metrics port", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Port = -1
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestLoadWorkflowTypes(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "order.yaml"), []byte(`
workflow_types:
  - type: order-process
    description: test
    steps:
      - name: validate
      - name: charge
        dependencies: [validate]
        max_retries: 5
  - type: body-only
    description: worker-driven
`), 0o644))

	plans, err := LoadWorkflowTypes(dir)
	require.NoError(t, err)
	require.Len(t, plans, 1)

	plan := plans["order-process"]
	require.NotNil(t, plan)
	assert.Equal(t, []string{"validate", "charge"}, plan.Order())

	def, ok := plan.Step("charge")
	require.True(t, ok)
	assert.Equal(t, 5, def.MaxRetries)
}

func TestLoadWorkflowTypesMissingDir(t *testing.T) {
	plans, err := LoadWorkflowTypes(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, plans)
}

func TestLoadWorkflowTypesRejectsCycle(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte(`
workflow_types:
  - type: cyclic
    steps:
      - name: a
        dependencies: [b]
      - name: b
        dependencies: [a]
`), 0o644))

	_, err := LoadWorkflowTypes(dir)
	assert.Error(t, err)
}
