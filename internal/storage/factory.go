// Package storage 按配置选择持久化档位（内部工厂）
package storage

import (
	"fmt"
	"time"

	pkgstorage "github.com/LENAX/aether/pkg/storage"
	"github.com/LENAX/aether/pkg/storage/actionlog"
	"github.com/LENAX/aether/pkg/storage/memory"
	"github.com/LENAX/aether/pkg/storage/snapshot"
)

// Options 工厂参数
type Options struct {
	// Mode 持久化档位：memory / snapshot / state-action-log
	Mode string
	// DBType snapshot档的SQL后端：sqlite / postgres / mysql
	DBType string
	// DSN snapshot档连接串（sqlite时为文件路径）
	DSN string
	// Root state-action-log档的数据根目录
	Root string
	// SnapshotInterval snapshot档落库间隔
	SnapshotInterval time.Duration
}

// New 创建指定档位的Store
func New(opts Options) (pkgstorage.Store, error) {
	switch opts.Mode {
	case "", "memory":
		return memory.New(), nil
	case "snapshot":
		dbType := opts.DBType
		if dbType == "" {
			dbType = "sqlite"
		}
		if opts.DSN == "" {
			return nil, fmt.Errorf("snapshot persistence requires a database path or DSN")
		}
		return snapshot.Open(dbType, opts.DSN, opts.SnapshotInterval)
	case "state-action-log":
		if opts.Root == "" {
			return nil, fmt.Errorf("state-action-log persistence requires a data directory")
		}
		return actionlog.Open(opts.Root)
	default:
		return nil, fmt.Errorf("unsupported persistence mode: %s", opts.Mode)
	}
}
