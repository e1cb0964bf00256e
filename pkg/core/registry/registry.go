// Package registry 维护Worker注册表与会话存活状态
package registry

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LENAX/aether/pkg/core/task"
)

// SessionState Worker会话状态
type SessionState string

const (
	SessionActive   SessionState = "active"   // 正常服务
	SessionDraining SessionState = "draining" // 不再派发新任务，允许在途任务完成
	SessionDead     SessionState = "dead"     // 心跳超时或主动下线
)

var (
	// ErrDuplicateWorker 重复注册仍Active的worker-id
	ErrDuplicateWorker = errors.New("worker id already registered")
	// ErrUnknownSession 未知session-token
	ErrUnknownSession = errors.New("unknown session token")
	// ErrSessionDead 会话已失效
	ErrSessionDead = errors.New("session is dead")
)

// DefaultHeartbeatTimeout 默认心跳超时
const DefaultHeartbeatTimeout = 30 * time.Second

// Worker 注册记录
type Worker struct {
	WorkerID        string            `json:"worker_id"`
	ServiceName     string            `json:"service_name"`
	Group           string            `json:"group"`
	Capabilities    []task.Capability `json:"capabilities"`
	AdvertisedTypes []string          `json:"advertised_types"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	SessionToken    string            `json:"-"`
	State           SessionState      `json:"state"`
	RegisteredAt    time.Time         `json:"registered_at"`
	LastHeartbeat   time.Time         `json:"last_heartbeat_at"`
}

// Advertises 是否声明了某workflow-type
func (w *Worker) Advertises(workflowType string) bool {
	for _, t := range w.AdvertisedTypes {
		if t == workflowType {
			return true
		}
	}
	return false
}

func (w *Worker) clone() *Worker {
	cp := *w
	cp.Capabilities = append([]task.Capability(nil), w.Capabilities...)
	cp.AdvertisedTypes = append([]string(nil), w.AdvertisedTypes...)
	if w.Metadata != nil {
		cp.Metadata = make(map[string]string, len(w.Metadata))
		for k, v := range w.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

// DeadFunc Worker判死回调（用于释放其持有的任务claim）
type DeadFunc func(workerID, sessionToken string)

// Registry Worker注册表。session-token是后续所有worker操作的凭据，
// 防止过期Worker继续操作。
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]*Worker
	byToken map[string]*Worker

	heartbeatTimeout time.Duration
	onDead           DeadFunc

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New 创建注册表
func New(heartbeatTimeout time.Duration) *Registry {
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = DefaultHeartbeatTimeout
	}
	return &Registry{
		byID:             make(map[string]*Worker),
		byToken:          make(map[string]*Worker),
		heartbeatTimeout: heartbeatTimeout,
		stopCh:           make(chan struct{}),
	}
}

// OnDead 注册判死回调（启动前设置）
func (r *Registry) OnDead(fn DeadFunc) {
	r.onDead = fn
}

// Register 注册Worker。workerID为空时由服务端分配；
// 与仍Active/Draining的记录撞ID返回ErrDuplicateWorker；
// 撞Dead记录则复活该槽位并签发新token。
func (r *Registry) Register(workerID, serviceName, group string, capabilities []task.Capability, advertisedTypes []string, metadata map[string]string) (*Worker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if workerID == "" {
		workerID = uuid.NewString()
	} else if existing, ok := r.byID[workerID]; ok {
		if existing.State != SessionDead {
			return nil, ErrDuplicateWorker
		}
		// 复活Dead槽位：旧token作废
		delete(r.byToken, existing.SessionToken)
	}

	now := time.Now()
	w := &Worker{
		WorkerID:        workerID,
		ServiceName:     serviceName,
		Group:           group,
		Capabilities:    append([]task.Capability(nil), capabilities...),
		AdvertisedTypes: append([]string(nil), advertisedTypes...),
		Metadata:        metadata,
		SessionToken:    uuid.NewString(),
		State:           SessionActive,
		RegisteredAt:    now,
		LastHeartbeat:   now,
	}
	r.byID[workerID] = w
	r.byToken[w.SessionToken] = w
	return w.clone(), nil
}

// Heartbeat 刷新会话心跳
func (r *Registry) Heartbeat(sessionToken string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.byToken[sessionToken]
	if !ok {
		return ErrUnknownSession
	}
	if w.State == SessionDead {
		return ErrSessionDead
	}
	w.LastHeartbeat = time.Now()
	return nil
}

// Drain 转入Draining：不再派发新任务，在途任务允许完成
func (r *Registry) Drain(sessionToken string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.byToken[sessionToken]
	if !ok {
		return ErrUnknownSession
	}
	if w.State == SessionDead {
		return ErrSessionDead
	}
	w.State = SessionDraining
	return nil
}

// Get 按token取Worker（副本）
func (r *Registry) Get(sessionToken string) (*Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.byToken[sessionToken]
	if !ok {
		return nil, ErrUnknownSession
	}
	return w.clone(), nil
}

// GetByID 按worker-id取Worker（副本）
func (r *Registry) GetByID(workerID string) (*Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.byID[workerID]
	if !ok {
		return nil, false
	}
	return w.clone(), true
}

// LookupFor 返回声明了workflowType的Active Worker会话。
// 路由粒度是workflow-type，step级亲和仅作参考。
func (r *Registry) LookupFor(workflowType string) []*Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Worker
	for _, w := range r.byID {
		if w.State == SessionActive && w.Advertises(workflowType) {
			out = append(out, w.clone())
		}
	}
	return out
}

// List 所有注册记录（副本）
func (r *Registry) List() []*Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Worker, 0, len(r.byID))
	for _, w := range r.byID {
		out = append(out, w.clone())
	}
	return out
}

// TypeMode 查询某workflow-type的派发模式覆盖（注册元数据mode键）。
// 多个Worker冲突时取任意一个Active声明。
func (r *Registry) TypeMode(workflowType string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.byID {
		if w.State != SessionActive || !w.Advertises(workflowType) {
			continue
		}
		if mode, ok := w.Metadata["mode"]; ok && mode != "" {
			return mode, true
		}
	}
	return "", false
}

// Start 启动心跳巡检
func (r *Registry) Start(ctx context.Context) {
	interval := r.heartbeatTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopCh:
				return
			case <-ticker.C:
				r.sweep()
			}
		}
	}()
}

// Stop 停止巡检
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// sweep 将心跳超时的Worker标记为Dead并触发回调
func (r *Registry) sweep() {
	deadline := time.Now().Add(-r.heartbeatTimeout)

	r.mu.Lock()
	var dead []*Worker
	for _, w := range r.byID {
		if w.State != SessionDead && w.LastHeartbeat.Before(deadline) {
			w.State = SessionDead
			dead = append(dead, w.clone())
		}
	}
	r.mu.Unlock()

	for _, w := range dead {
		log.Printf("⚠️ worker %s (%s) heartbeat timeout, marked dead", w.WorkerID, w.ServiceName)
		if r.onDead != nil {
			r.onDead(w.WorkerID, w.SessionToken)
		}
	}
}
