// Package queue 实现按workflow-type分键的FIFO任务队列，
// 支持claim语义与可见性超时。
package queue

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LENAX/aether/pkg/core/task"
)

// DefaultVisibilityTimeout 默认可见性超时
const DefaultVisibilityTimeout = 60 * time.Second

var (
	// ErrUnknownTask task-id未被claim
	ErrUnknownTask = errors.New("unknown task id")
	// ErrClaimMismatch 操作方不是claim持有者
	ErrClaimMismatch = errors.New("task claimed by another session")
)

// ReclaimReason claim被收回的原因
type ReclaimReason string

const (
	ReclaimWorkerLost        ReclaimReason = "worker-lost"
	ReclaimVisibilityExpired ReclaimReason = "visibility-timeout"
	ReclaimReturned          ReclaimReason = "returned"
)

// Claim 派发中的任务占用记录
type Claim struct {
	Task         *task.Task
	WorkerID     string
	SessionToken string
	Deadline     time.Time
}

// ReclaimFunc claim收回回调。状态机据此登记worker-lost并决定重派。
type ReclaimFunc func(t *task.Task, reason ReclaimReason)

// Queue 每workflow-type一条逻辑FIFO。入队幂等，
// 键为(workflow-id, step-name, attempt)。claim期间任务对其他
// Worker不可见；会话死亡、显式退回或可见性超时会收回claim。
type Queue struct {
	mu        sync.Mutex
	queues    map[string]*list.List // workflowType -> *task.Task列表
	keys      map[string]bool       // 幂等键集合（排队中或已claim）
	claims    map[string]*Claim     // taskID -> claim
	notifiers map[string]chan struct{}

	visibility time.Duration
	onReclaim  ReclaimFunc

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New 创建队列
func New(visibility time.Duration) *Queue {
	if visibility <= 0 {
		visibility = DefaultVisibilityTimeout
	}
	return &Queue{
		queues:     make(map[string]*list.List),
		keys:       make(map[string]bool),
		claims:     make(map[string]*Claim),
		notifiers:  make(map[string]chan struct{}),
		visibility: visibility,
		stopCh:     make(chan struct{}),
	}
}

// OnReclaim 设置claim收回回调（启动前设置）
func (q *Queue) OnReclaim(fn ReclaimFunc) {
	q.onReclaim = fn
}

// Enqueue 入队（队尾）。重复键返回false。
func (q *Queue) Enqueue(t *task.Task) bool {
	return q.enqueue(t, false)
}

// EnqueueFront 入队（队头），用于收回后的重派，保持FIFO次序
func (q *Queue) EnqueueFront(t *task.Task) bool {
	return q.enqueue(t, true)
}

func (q *Queue) enqueue(t *task.Task, front bool) bool {
	q.mu.Lock()
	key := t.Key()
	if q.keys[key] {
		q.mu.Unlock()
		return false
	}
	q.keys[key] = true
	l, ok := q.queues[t.WorkflowType]
	if !ok {
		l = list.New()
		q.queues[t.WorkflowType] = l
	}
	if front {
		l.PushFront(t)
	} else {
		l.PushBack(t)
	}
	q.mu.Unlock()

	q.notifyAll()
	return true
}

// Poll 按Worker声明的types批量claim至多max个任务
func (q *Queue) Poll(workerID, sessionToken string, advertisedTypes []string, max int) []*task.Task {
	if max <= 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*task.Task
	deadline := time.Now().Add(q.visibility)
	for _, wt := range advertisedTypes {
		l, ok := q.queues[wt]
		if !ok {
			continue
		}
		for l.Len() > 0 && len(out) < max {
			front := l.Front()
			t := front.Value.(*task.Task)
			l.Remove(front)
			q.claims[t.TaskID] = &Claim{
				Task:         t,
				WorkerID:     workerID,
				SessionToken: sessionToken,
				Deadline:     deadline,
			}
			out = append(out, t)
		}
		if len(out) >= max {
			break
		}
	}
	return out
}

// Ack 完成确认：移除claim与幂等键
func (q *Queue) Ack(taskID string) (*task.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	c, ok := q.claims[taskID]
	if !ok {
		return nil, false
	}
	delete(q.claims, taskID)
	delete(q.keys, c.Task.Key())
	return c.Task, true
}

// ClaimOf 查询taskID的claim
func (q *Queue) ClaimOf(taskID string) (*Claim, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	c, ok := q.claims[taskID]
	if !ok {
		return nil, false
	}
	cp := *c
	return &cp, true
}

// HeartbeatTask 刷新某claim的可见性期限
func (q *Queue) HeartbeatTask(taskID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	c, ok := q.claims[taskID]
	if !ok {
		return ErrUnknownTask
	}
	c.Deadline = time.Now().Add(q.visibility)
	return nil
}

// Return 显式退回claim中的任务
func (q *Queue) Return(taskID, sessionToken string) error {
	q.mu.Lock()
	c, ok := q.claims[taskID]
	if !ok {
		q.mu.Unlock()
		return ErrUnknownTask
	}
	if c.SessionToken != sessionToken {
		q.mu.Unlock()
		return ErrClaimMismatch
	}
	delete(q.claims, taskID)
	delete(q.keys, c.Task.Key())
	q.mu.Unlock()

	q.reclaim(c.Task, ReclaimReturned)
	return nil
}

// ReleaseSession 收回某会话持有的全部claim（会话判死时调用）
func (q *Queue) ReleaseSession(sessionToken string) []*task.Task {
	q.mu.Lock()
	var released []*task.Task
	for id, c := range q.claims {
		if c.SessionToken == sessionToken {
			delete(q.claims, id)
			delete(q.keys, c.Task.Key())
			released = append(released, c.Task)
		}
	}
	q.mu.Unlock()

	for _, t := range released {
		q.reclaim(t, ReclaimWorkerLost)
	}
	return released
}

// DropWorkflow 丢弃某workflow所有排队中的任务（取消路径）
func (q *Queue) DropWorkflow(workflowID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, l := range q.queues {
		for e := l.Front(); e != nil; {
			next := e.Next()
			t := e.Value.(*task.Task)
			if t.WorkflowID == workflowID {
				l.Remove(e)
				delete(q.keys, t.Key())
				n++
			}
			e = next
		}
	}
	return n
}

// Depth 某type当前排队深度
func (q *Queue) Depth(workflowType string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if l, ok := q.queues[workflowType]; ok {
		return l.Len()
	}
	return 0
}

// HasClaimForWorkflow 某workflow是否有claim中的任务
func (q *Queue) HasClaimForWorkflow(workflowID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, c := range q.claims {
		if c.Task.WorkflowID == workflowID {
			return true
		}
	}
	return false
}

// ClaimCount 当前claim数量
func (q *Queue) ClaimCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.claims)
}

// Notify 注册入队通知。返回1缓冲信号通道与注销函数，
// 流式派发循环据此唤醒重拉。
func (q *Queue) Notify() (<-chan struct{}, func()) {
	id := uuid.NewString()
	ch := make(chan struct{}, 1)
	q.mu.Lock()
	q.notifiers[id] = ch
	q.mu.Unlock()
	return ch, func() {
		q.mu.Lock()
		delete(q.notifiers, id)
		q.mu.Unlock()
	}
}

func (q *Queue) notifyAll() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, ch := range q.notifiers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Start 启动可见性超时巡检
func (q *Queue) Start(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-q.stopCh:
				return
			case <-ticker.C:
				q.sweepExpired()
			}
		}
	}()
}

// Stop 停止巡检
func (q *Queue) Stop() {
	q.stopOnce.Do(func() { close(q.stopCh) })
}

func (q *Queue) sweepExpired() {
	now := time.Now()
	q.mu.Lock()
	var expired []*task.Task
	for id, c := range q.claims {
		if c.Deadline.Before(now) {
			delete(q.claims, id)
			delete(q.keys, c.Task.Key())
			expired = append(expired, c.Task)
		}
	}
	q.mu.Unlock()

	for _, t := range expired {
		q.reclaim(t, ReclaimVisibilityExpired)
	}
}

// reclaim 交还状态机处理；未挂回调时直接重回队头
func (q *Queue) reclaim(t *task.Task, reason ReclaimReason) {
	if q.onReclaim != nil {
		q.onReclaim(t, reason)
		return
	}
	q.EnqueueFront(t)
}
