package engine

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/LENAX/aether/pkg/storage"
)

// RetentionOptions 终态workflow的保留策略。默认不启用（无限保留）。
type RetentionOptions struct {
	Enabled bool
	// MaxAge 终态后保留时长
	MaxAge time.Duration
	// SweepCron 清理任务的cron表达式（空用每小时）
	SweepCron string
}

// DefaultSweepCron 默认每小时整点清理
const DefaultSweepCron = "0 * * * *"

// Retention 基于cron的保留清理器
type Retention struct {
	engine *Engine
	opts   RetentionOptions
	cron   *cron.Cron
}

// NewRetention 创建清理器
func NewRetention(e *Engine, opts RetentionOptions) *Retention {
	return &Retention{
		engine: e,
		opts:   opts,
		cron:   cron.New(),
	}
}

// Start 启动定时清理。未启用时是no-op。
func (r *Retention) Start() error {
	if !r.opts.Enabled {
		return nil
	}
	spec := r.opts.SweepCron
	if spec == "" {
		spec = DefaultSweepCron
	}
	if _, err := r.cron.AddFunc(spec, r.Sweep); err != nil {
		return err
	}
	r.cron.Start()
	log.Printf("🧹 retention sweeper enabled (max_age=%s cron=%q)", r.opts.MaxAge, spec)
	return nil
}

// Stop 停止清理器
func (r *Retention) Stop() {
	if r.opts.Enabled {
		r.cron.Stop()
	}
}

// Sweep 删除终态超过MaxAge的workflow
func (r *Retention) Sweep() {
	ctx := context.Background()
	summaries, err := r.engine.ListWorkflows(ctx, storage.Filter{})
	if err != nil {
		log.Printf("⚠️ retention sweep list failed: %v", err)
		return
	}
	cutoff := time.Now().Add(-r.opts.MaxAge)
	removed := 0
	for _, s := range summaries {
		if !s.State.IsTerminal() || s.CompletedAt == nil || s.CompletedAt.After(cutoff) {
			continue
		}
		if err := r.engine.removeWorkflow(ctx, s.WorkflowID); err != nil {
			log.Printf("⚠️ retention remove %s failed: %v", s.WorkflowID, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Printf("🧹 retention sweep removed %d terminal workflows", removed)
	}
}

// removeWorkflow 删除记录并清理进程内附属状态
func (e *Engine) removeWorkflow(ctx context.Context, id string) error {
	mu := e.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	if err := e.store.DeleteWorkflow(ctx, id); err != nil {
		return e.persistErr(err)
	}

	e.doneMu.Lock()
	for taskID, wfID := range e.doneTasks {
		if wfID == id {
			delete(e.doneTasks, taskID)
		}
	}
	e.doneMu.Unlock()

	e.locksMu.Lock()
	delete(e.locks, id)
	e.locksMu.Unlock()
	return nil
}
