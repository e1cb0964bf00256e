// Package metrics 定义核心的Prometheus指标
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// WorkflowsStarted 已启动workflow总数（按type）
	WorkflowsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aether",
		Name:      "workflows_started_total",
		Help:      "Number of workflows started, by workflow type.",
	}, []string{"workflow_type"})

	// WorkflowsFinished 已到终态workflow总数（按终态）
	WorkflowsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aether",
		Name:      "workflows_finished_total",
		Help:      "Number of workflows reaching a terminal state, by state.",
	}, []string{"state"})

	// StepsDispatched 已派发任务总数
	StepsDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aether",
		Name:      "steps_dispatched_total",
		Help:      "Number of step tasks dispatched to workers.",
	})

	// StepsCompleted Step终态记录总数（按status）
	StepsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aether",
		Name:      "steps_completed_total",
		Help:      "Number of step executions reaching a terminal status.",
	}, []string{"status"})

	// StepRetries 重试次数
	StepRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aether",
		Name:      "step_retries_total",
		Help:      "Number of step retry attempts scheduled.",
	})

	// TasksReclaimed claim收回次数（按原因）
	TasksReclaimed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aether",
		Name:      "tasks_reclaimed_total",
		Help:      "Number of task claims reclaimed, by reason.",
	}, []string{"reason"})

	// EventsEmitted 事件发布总数（按类型）
	EventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "aether",
		Name:      "events_emitted_total",
		Help:      "Number of lifecycle events published, by type.",
	}, []string{"event_type"})

	// PersistenceFailures 持久化失败次数
	PersistenceFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "aether",
		Name:      "persistence_failures_total",
		Help:      "Number of persistence write failures.",
	})

	// ActiveWorkers 当前Active Worker数
	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "aether",
		Name:      "active_workers",
		Help:      "Number of workers with an active session.",
	})

	// QueueClaims 当前claim中的任务数
	QueueClaims = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "aether",
		Name:      "queue_claimed_tasks",
		Help:      "Number of tasks currently claimed by workers.",
	})
)

// Serve 启动指标HTTP端点（阻塞）
func Serve(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
}
