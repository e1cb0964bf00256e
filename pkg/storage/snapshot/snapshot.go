// Package snapshot L1持久层：状态驻留内存，按固定间隔把全量
// 快照写入SQL后端，恢复时只回放最近一次快照。
// 数据丢失上界等于快照间隔。
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	// SQL后端驱动
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/LENAX/aether/pkg/core/workflow"
	"github.com/LENAX/aether/pkg/storage"
	"github.com/LENAX/aether/pkg/storage/memory"
)

// DefaultInterval 默认快照间隔
const DefaultInterval = 10 * time.Second

const snapshotTable = "workflow_snapshot"

var snapshotColumns = []string{"id", "workflow_type", "state", "updated_at", "data"}

// snapshotRow 快照表行DAO
type snapshotRow struct {
	ID           string    `db:"id"`
	WorkflowType string    `db:"workflow_type"`
	State        string    `db:"state"`
	UpdatedAt    time.Time `db:"updated_at"`
	Data         string    `db:"data"`
}

// Store L1快照实现。读写路径走内存基座，后台按间隔整体落库。
type Store struct {
	base     *memory.Store
	db       *sqlx.DB
	dialect  Dialect
	interval time.Duration

	mu      sync.Mutex // 序列化Flush
	dirty   bool
	deleted map[string]bool

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// Open 连接后端、建表并恢复最近一次快照
func Open(dbType, dsn string, interval time.Duration) (*Store, error) {
	dialect, err := NewDialect(dbType)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Connect(dialect.Driver(), dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: connect %s: %v", storage.ErrPersistence, dialect.Name(), err)
	}
	for _, stmt := range dialect.ConfigureDB() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: configure %s: %v", storage.ErrPersistence, dialect.Name(), err)
		}
	}
	if _, err := db.Exec(dialect.CreateTableSQL()); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: init schema: %v", storage.ErrPersistence, err)
	}

	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Store{
		base:     memory.New(),
		db:       db,
		dialect:  dialect,
		interval: interval,
		deleted:  make(map[string]bool),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	if err := s.recover(); err != nil {
		db.Close()
		return nil, err
	}
	go s.loop()
	return s, nil
}

// recover 启动时回放最近快照到内存基座
func (s *Store) recover() error {
	var rows []snapshotRow
	if err := s.db.Select(&rows, "SELECT id, workflow_type, state, updated_at, data FROM "+snapshotTable); err != nil {
		return fmt.Errorf("%w: load snapshot: %v", storage.ErrPersistence, err)
	}
	for _, row := range rows {
		var w workflow.Workflow
		if err := json.Unmarshal([]byte(row.Data), &w); err != nil {
			return fmt.Errorf("%w: decode workflow %s: %v", storage.ErrPersistence, row.ID, err)
		}
		s.base.Load(&w)
	}
	if len(rows) > 0 {
		log.Printf("📦 snapshot store recovered %d workflows", len(rows))
	}
	return nil
}

func (s *Store) loop() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.Flush(); err != nil {
				log.Printf("⚠️ snapshot flush failed: %v", err)
			}
		}
	}
}

// Flush 将当前全量状态写入后端
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}

	upsert := s.dialect.UpsertSQL(snapshotTable, snapshotColumns, "id")
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("%w: begin snapshot tx: %v", storage.ErrPersistence, err)
	}
	for _, w := range s.base.All() {
		data, err := json.Marshal(w)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("%w: encode workflow %s: %v", storage.ErrPersistence, w.ID, err)
		}
		row := snapshotRow{
			ID:           w.ID,
			WorkflowType: w.Type,
			State:        string(w.State),
			UpdatedAt:    w.UpdatedAt,
			Data:         string(data),
		}
		if _, err := tx.NamedExec(upsert, row); err != nil {
			tx.Rollback()
			return fmt.Errorf("%w: upsert workflow %s: %v", storage.ErrPersistence, w.ID, err)
		}
	}
	for id := range s.deleted {
		if _, err := tx.Exec(tx.Rebind("DELETE FROM "+snapshotTable+" WHERE id = ?"), id); err != nil {
			tx.Rollback()
			return fmt.Errorf("%w: delete workflow %s: %v", storage.ErrPersistence, id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit snapshot: %v", storage.ErrPersistence, err)
	}
	s.deleted = make(map[string]bool)
	s.dirty = false
	return nil
}

func (s *Store) markDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

// CreateWorkflow 创建记录
func (s *Store) CreateWorkflow(ctx context.Context, w *workflow.Workflow) error {
	if err := s.base.CreateWorkflow(ctx, w); err != nil {
		return err
	}
	s.markDirty()
	return nil
}

// GetWorkflow 读取记录
func (s *Store) GetWorkflow(ctx context.Context, id string) (*workflow.Workflow, error) {
	return s.base.GetWorkflow(ctx, id)
}

// UpdateWorkflow 应用变更
func (s *Store) UpdateWorkflow(ctx context.Context, id string, fn storage.MutationFunc) (*workflow.Workflow, error) {
	w, err := s.base.UpdateWorkflow(ctx, id, fn)
	if err != nil {
		return nil, err
	}
	s.markDirty()
	return w, nil
}

// AppendStepExecution 追加Step执行记录
func (s *Store) AppendStepExecution(ctx context.Context, id string, step *workflow.StepExecution) error {
	if err := s.base.AppendStepExecution(ctx, id, step); err != nil {
		return err
	}
	s.markDirty()
	return nil
}

// ListWorkflows 列表查询
func (s *Store) ListWorkflows(ctx context.Context, filter storage.Filter) ([]*storage.Summary, error) {
	return s.base.ListWorkflows(ctx, filter)
}

// DeleteWorkflow 删除记录
func (s *Store) DeleteWorkflow(ctx context.Context, id string) error {
	if err := s.base.DeleteWorkflow(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	s.deleted[id] = true
	s.dirty = true
	s.mu.Unlock()
	return nil
}

// Close 停止后台循环，落最终快照并关闭连接
func (s *Store) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.done
	flushErr := s.Flush()
	closeErr := s.db.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
