package snapshot

import (
	"fmt"
	"strings"
)

// Dialect SQL方言抽象，屏蔽sqlite/postgres/mysql差异
type Dialect interface {
	// Name 方言名称
	Name() string
	// Driver sqlx驱动名
	Driver() string
	// CreateTableSQL 快照表DDL
	CreateTableSQL() string
	// UpsertSQL 快照行UPSERT语句（命名占位符）
	UpsertSQL(table string, columns []string, conflictColumn string) string
	// ConfigureDB 连接初始化SQL
	ConfigureDB() []string
}

// NewDialect 按类型创建方言
func NewDialect(dbType string) (Dialect, error) {
	switch dbType {
	case "sqlite":
		return &sqliteDialect{}, nil
	case "postgres", "postgresql":
		return &postgresDialect{}, nil
	case "mysql":
		return &mysqlDialect{}, nil
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}

// sqliteDialect SQLite方言
type sqliteDialect struct{}

func (d *sqliteDialect) Name() string   { return "sqlite" }
func (d *sqliteDialect) Driver() string { return "sqlite3" }

func (d *sqliteDialect) CreateTableSQL() string {
	return `
	CREATE TABLE IF NOT EXISTS workflow_snapshot (
		id TEXT PRIMARY KEY,
		workflow_type TEXT NOT NULL,
		state TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		data TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_workflow_snapshot_type ON workflow_snapshot(workflow_type);
	CREATE INDEX IF NOT EXISTS idx_workflow_snapshot_state ON workflow_snapshot(state);
	`
}

func (d *sqliteDialect) UpsertSQL(table string, columns []string, _ string) string {
	return fmt.Sprintf(
		"INSERT OR REPLACE INTO %s (%s) VALUES (%s)",
		table,
		strings.Join(columns, ", "),
		namedPlaceholders(columns),
	)
}

func (d *sqliteDialect) ConfigureDB() []string {
	return []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=30000;",
		"PRAGMA synchronous=NORMAL;",
	}
}

// postgresDialect PostgreSQL方言
type postgresDialect struct{}

func (d *postgresDialect) Name() string   { return "postgres" }
func (d *postgresDialect) Driver() string { return "postgres" }

func (d *postgresDialect) CreateTableSQL() string {
	return `
	CREATE TABLE IF NOT EXISTS workflow_snapshot (
		id TEXT PRIMARY KEY,
		workflow_type TEXT NOT NULL,
		state TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		data TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_workflow_snapshot_type ON workflow_snapshot(workflow_type);
	CREATE INDEX IF NOT EXISTS idx_workflow_snapshot_state ON workflow_snapshot(state);
	`
}

func (d *postgresDialect) UpsertSQL(table string, columns []string, conflictColumn string) string {
	updates := make([]string, 0, len(columns))
	for _, col := range columns {
		if col == conflictColumn {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		table,
		strings.Join(columns, ", "),
		namedPlaceholders(columns),
		conflictColumn,
		strings.Join(updates, ", "),
	)
}

func (d *postgresDialect) ConfigureDB() []string {
	return nil
}

// mysqlDialect MySQL方言
type mysqlDialect struct{}

func (d *mysqlDialect) Name() string   { return "mysql" }
func (d *mysqlDialect) Driver() string { return "mysql" }

func (d *mysqlDialect) CreateTableSQL() string {
	return `
	CREATE TABLE IF NOT EXISTS workflow_snapshot (
		id VARCHAR(64) PRIMARY KEY,
		workflow_type VARCHAR(255) NOT NULL,
		state VARCHAR(32) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		data LONGTEXT NOT NULL,
		INDEX idx_workflow_snapshot_type (workflow_type),
		INDEX idx_workflow_snapshot_state (state)
	);
	`
}

func (d *mysqlDialect) UpsertSQL(table string, columns []string, conflictColumn string) string {
	updates := make([]string, 0, len(columns))
	for _, col := range columns {
		if col == conflictColumn {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = VALUES(%s)", col, col))
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		table,
		strings.Join(columns, ", "),
		namedPlaceholders(columns),
		strings.Join(updates, ", "),
	)
}

func (d *mysqlDialect) ConfigureDB() []string {
	return nil
}

func namedPlaceholders(columns []string) string {
	named := make([]string, len(columns))
	for i, col := range columns {
		named[i] = ":" + col
	}
	return strings.Join(named, ", ")
}
