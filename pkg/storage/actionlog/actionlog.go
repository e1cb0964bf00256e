// Package actionlog L2持久层：每次变更先追加写入动作日志并落盘，
// 再更新内存索引、再应答调用方（I6）。恢复时读取最近快照并向前
// 回放日志。磁盘布局：<root>/<workflow-id>/snapshot.json + actions.log，
// 日志每行一条带版本前缀的记录。
package actionlog

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/LENAX/aether/pkg/core/workflow"
	"github.com/LENAX/aether/pkg/storage"
)

// recordVersion 日志记录格式版本
const recordVersion = 1

// checkpointEvery 每个workflow积累多少条动作后重写快照并截断日志
const checkpointEvery = 64

const (
	snapshotFile = "snapshot.json"
	logFile      = "actions.log"
)

// snapshotEnvelope 快照文件内容（自描述，带版本与截断点）
type snapshotEnvelope struct {
	Version  int                `json:"v"`
	Seq      uint64             `json:"seq"`
	Workflow *workflow.Workflow `json:"workflow"`
}

// Store L2实现
type Store struct {
	root string

	mu   sync.Mutex
	base map[string]*workflow.Workflow
	seqs map[string]uint64
	logs map[string]*os.File
	// 自上次checkpoint以来的动作数
	pending map[string]int
}

// Open 打开存储根目录并恢复全部workflow
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create root %s: %v", storage.ErrPersistence, root, err)
	}
	s := &Store{
		root:    root,
		base:    make(map[string]*workflow.Workflow),
		seqs:    make(map[string]uint64),
		logs:    make(map[string]*os.File),
		pending: make(map[string]int),
	}
	if err := s.recover(); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// recover 扫描每个workflow目录：读快照，再回放其后的日志记录
func (s *Store) recover() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("%w: scan root: %v", storage.ErrPersistence, err)
	}
	recovered := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id := entry.Name()
		w, seq, err := s.recoverWorkflow(id)
		if err != nil {
			return err
		}
		if w != nil {
			s.base[id] = w
			s.seqs[id] = seq
			recovered++
		}
	}
	if recovered > 0 {
		log.Printf("📦 action log store recovered %d workflows from %s", recovered, s.root)
	}
	return nil
}

func (s *Store) recoverWorkflow(id string) (*workflow.Workflow, uint64, error) {
	dir := filepath.Join(s.root, id)

	var w *workflow.Workflow
	var seq uint64

	snapData, err := os.ReadFile(filepath.Join(dir, snapshotFile))
	switch {
	case err == nil:
		var env snapshotEnvelope
		if err := json.Unmarshal(snapData, &env); err != nil {
			return nil, 0, fmt.Errorf("%w: decode snapshot %s: %v", storage.ErrPersistence, id, err)
		}
		w = env.Workflow
		seq = env.Seq
	case os.IsNotExist(err):
		// 无快照：从日志头开始回放
	default:
		return nil, 0, fmt.Errorf("%w: read snapshot %s: %v", storage.ErrPersistence, id, err)
	}

	f, err := os.Open(filepath.Join(dir, logFile))
	if os.IsNotExist(err) {
		return w, seq, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("%w: open log %s: %v", storage.ErrPersistence, id, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entry, err := decodeRecord(line)
		if err != nil {
			// 尾部半截记录：崩溃时写入未完成，未被应答，丢弃
			log.Printf("⚠️ action log %s: drop trailing record: %v", id, err)
			break
		}
		if entry.Seq <= seq {
			continue
		}
		var after workflow.Workflow
		if err := json.Unmarshal(entry.Payload, &after); err != nil {
			return nil, 0, fmt.Errorf("%w: replay %s seq %d: %v", storage.ErrPersistence, id, entry.Seq, err)
		}
		w = &after
		seq = entry.Seq
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("%w: scan log %s: %v", storage.ErrPersistence, id, err)
	}
	return w, seq, nil
}

// encodeRecord 行格式：v<版本>|<JSON>
func encodeRecord(entry *storage.ActionLogEntry) ([]byte, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	line := fmt.Sprintf("v%d|%s\n", entry.Version, data)
	return []byte(line), nil
}

func decodeRecord(line string) (*storage.ActionLogEntry, error) {
	sep := strings.IndexByte(line, '|')
	if sep < 2 || line[0] != 'v' {
		return nil, fmt.Errorf("malformed record prefix")
	}
	var entry storage.ActionLogEntry
	if err := json.Unmarshal([]byte(line[sep+1:]), &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// appendAction 变更提交路径：写日志、fsync，之后才更新内存。
// 调用方持有s.mu。
func (s *Store) appendAction(id string, kind storage.ActionKind, before, after *workflow.Workflow) error {
	payload, err := json.Marshal(after)
	if err != nil {
		return fmt.Errorf("%w: encode workflow %s: %v", storage.ErrPersistence, id, err)
	}

	seq := s.seqs[id] + 1
	entry := &storage.ActionLogEntry{
		Version:    recordVersion,
		Seq:        seq,
		WorkflowID: id,
		Kind:       kind,
		Before:     summarize(before),
		After:      summarize(after),
		Timestamp:  time.Now(),
		Payload:    payload,
	}
	line, err := encodeRecord(entry)
	if err != nil {
		return fmt.Errorf("%w: encode record %s: %v", storage.ErrPersistence, id, err)
	}

	f, err := s.logHandle(id)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("%w: append %s: %v", storage.ErrPersistence, id, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: sync %s: %v", storage.ErrPersistence, id, err)
	}

	s.seqs[id] = seq
	s.pending[id]++
	if s.pending[id] >= checkpointEvery {
		if err := s.checkpoint(id, after); err != nil {
			// checkpoint失败不影响已提交的日志，下次再试
			log.Printf("⚠️ checkpoint %s failed: %v", id, err)
		}
	}
	return nil
}

// summarize 动作日志中的前后状态摘要
func summarize(w *workflow.Workflow) string {
	if w == nil {
		return ""
	}
	if w.CurrentStep != "" {
		return fmt.Sprintf("%s@%s", w.State, w.CurrentStep)
	}
	return string(w.State)
}

func (s *Store) logHandle(id string) (*os.File, error) {
	if f, ok := s.logs[id]; ok {
		return f, nil
	}
	dir := filepath.Join(s.root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create dir %s: %v", storage.ErrPersistence, id, err)
	}
	f, err := os.OpenFile(filepath.Join(dir, logFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open log %s: %v", storage.ErrPersistence, id, err)
	}
	s.logs[id] = f
	return f, nil
}

// checkpoint 重写快照并截断日志。调用方持有s.mu。
func (s *Store) checkpoint(id string, w *workflow.Workflow) error {
	dir := filepath.Join(s.root, id)
	env := snapshotEnvelope{
		Version:  recordVersion,
		Seq:      s.seqs[id],
		Workflow: w,
	}
	data, err := json.Marshal(&env)
	if err != nil {
		return err
	}
	tmp := filepath.Join(dir, snapshotFile+".tmp")
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, filepath.Join(dir, snapshotFile)); err != nil {
		return err
	}

	if f, ok := s.logs[id]; ok {
		f.Close()
		delete(s.logs, id)
	}
	if err := os.Truncate(filepath.Join(dir, logFile), 0); err != nil {
		return err
	}
	s.pending[id] = 0
	return nil
}

// CreateWorkflow 创建记录
func (s *Store) CreateWorkflow(_ context.Context, w *workflow.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.base[w.ID]; ok {
		return storage.ErrDuplicateID
	}
	cp := w.Clone()
	if err := s.appendAction(w.ID, storage.ActionCreate, nil, cp); err != nil {
		return err
	}
	s.base[w.ID] = cp
	return nil
}

// GetWorkflow 读取记录副本
func (s *Store) GetWorkflow(_ context.Context, id string) (*workflow.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.base[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return w.Clone(), nil
}

// UpdateWorkflow 应用变更：日志先行，再替换内存态
func (s *Store) UpdateWorkflow(_ context.Context, id string, fn storage.MutationFunc) (*workflow.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.base[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	next := w.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	if err := s.appendAction(id, storage.ActionUpdate, w, next); err != nil {
		return nil, err
	}
	s.base[id] = next
	return next.Clone(), nil
}

// AppendStepExecution 追加Step执行记录
func (s *Store) AppendStepExecution(ctx context.Context, id string, step *workflow.StepExecution) error {
	_, err := s.UpdateWorkflow(ctx, id, func(w *workflow.Workflow) error {
		w.Steps = append(w.Steps, step.Clone())
		return nil
	})
	return err
}

// ListWorkflows 列表查询
func (s *Store) ListWorkflows(_ context.Context, filter storage.Filter) ([]*storage.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*storage.Summary, 0, len(s.base))
	for _, w := range s.base {
		if filter.Matches(w) {
			out = append(out, storage.Summarize(w))
		}
	}
	return out, nil
}

// DeleteWorkflow 删除记录与磁盘目录（保留策略）
func (s *Store) DeleteWorkflow(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.base[id]; !ok {
		return storage.ErrNotFound
	}
	if f, ok := s.logs[id]; ok {
		f.Close()
		delete(s.logs, id)
	}
	if err := os.RemoveAll(filepath.Join(s.root, id)); err != nil {
		return fmt.Errorf("%w: remove %s: %v", storage.ErrPersistence, id, err)
	}
	delete(s.base, id)
	delete(s.seqs, id)
	delete(s.pending, id)
	return nil
}

// Close 关闭全部日志句柄
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for id, f := range s.logs {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.logs, id)
	}
	return firstErr
}
