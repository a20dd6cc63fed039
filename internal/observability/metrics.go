package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides a centralized interface for collecting kernel metrics.
//
// The metrics system is built on Prometheus and tracks:
//   - Tool invocation outcomes and latency (Tool Registry & Invoker)
//   - Memory query latency and long-term entry counts (Memory Manager)
//   - Plan production/resumption and step execution (Planner)
//   - Graph node transitions (Graph Executor)
//   - Priority task queue depth and drops (Priority Task Queue)
//   - Scheduled handler runs and overruns (Scheduled Task Manager)
//   - Notifications published (Notification Center)
//   - Contradictions detected (Semantic Integrity Checker)
//
// Usage:
//
//	metrics := observability.NewMetrics()
//	metrics.RecordToolExecution("web_search", "success", elapsed.Seconds())
type Metrics struct {
	ToolExecutionCounter  *prometheus.CounterVec
	ToolExecutionDuration *prometheus.HistogramVec

	MemoryQueryDuration *prometheus.HistogramVec
	MemoryLongEntries   *prometheus.GaugeVec

	PlansStarted      *prometheus.CounterVec
	PlanStepsExecuted *prometheus.CounterVec

	GraphNodeDuration *prometheus.HistogramVec

	QueueDepth   *prometheus.GaugeVec
	QueueDropped *prometheus.CounterVec

	SchedulerRuns     *prometheus.CounterVec
	SchedulerOverruns *prometheus.CounterVec

	NotificationsPublished *prometheus.CounterVec

	ContradictionsDetected prometheus.Counter

	ErrorCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
// This should be called once at application startup.
//
// All metrics are automatically registered with Prometheus's default registry
// and will be available at the /metrics endpoint when using the prometheus HTTP handler.
func NewMetrics() *Metrics {
	return &Metrics{
		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernel_tool_executions_total",
				Help: "Total number of tool executions by tool name and outcome",
			},
			[]string{"tool_name", "outcome"},
		),
		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kernel_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 600},
			},
			[]string{"tool_name"},
		),
		MemoryQueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kernel_memory_query_duration_seconds",
				Help:    "Duration of memory manager queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"tier", "degraded"},
		),
		MemoryLongEntries: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kernel_memory_long_term_entries",
				Help: "Current number of long-term memory rows per tenant",
			},
			[]string{"tenant_id"},
		),
		PlansStarted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernel_plans_started_total",
				Help: "Total number of plans produced or resumed, by outcome",
			},
			[]string{"outcome"},
		),
		PlanStepsExecuted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernel_plan_steps_executed_total",
				Help: "Total number of plan steps executed by kind and status",
			},
			[]string{"kind", "status"},
		),
		GraphNodeDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kernel_graph_node_duration_seconds",
				Help:    "Duration of graph executor node transitions in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"node"},
		),
		QueueDepth: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kernel_queue_depth",
				Help: "Current number of pending tasks per priority class",
			},
			[]string{"priority"},
		),
		QueueDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernel_queue_dropped_total",
				Help: "Total number of tasks dropped due to backpressure, by priority",
			},
			[]string{"priority"},
		),
		SchedulerRuns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernel_scheduler_runs_total",
				Help: "Total number of scheduled handler invocations by handler and outcome",
			},
			[]string{"handler", "outcome"},
		),
		SchedulerOverruns: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernel_scheduler_overruns_total",
				Help: "Total number of invocations skipped because the prior run was still in flight",
			},
			[]string{"handler"},
		),
		NotificationsPublished: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernel_notifications_published_total",
				Help: "Total number of notifications published by priority and channel",
			},
			[]string{"priority", "channel"},
		),
		ContradictionsDetected: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "kernel_contradictions_detected_total",
				Help: "Total number of contradictions reported by the integrity checker",
			},
		),
		ErrorCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kernel_errors_total",
				Help: "Total number of errors by component and error kind",
			},
			[]string{"component", "kind"},
		),
	}
}

// RecordToolExecution records metrics for a tool execution.
func (m *Metrics) RecordToolExecution(toolName, outcome string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, outcome).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordMemoryQuery records latency for a memory manager query.
func (m *Metrics) RecordMemoryQuery(tier string, degraded bool, durationSeconds float64) {
	label := "false"
	if degraded {
		label = "true"
	}
	m.MemoryQueryDuration.WithLabelValues(tier, label).Observe(durationSeconds)
}

// SetLongTermEntries sets the current long-term memory row count for a tenant.
func (m *Metrics) SetLongTermEntries(tenantID string, count int64) {
	m.MemoryLongEntries.WithLabelValues(tenantID).Set(float64(count))
}

// RecordPlanStarted records a plan being freshly produced or resumed.
func (m *Metrics) RecordPlanStarted(outcome string) {
	m.PlansStarted.WithLabelValues(outcome).Inc()
}

// RecordPlanStep records execution of a single plan step.
func (m *Metrics) RecordPlanStep(kind, status string) {
	m.PlanStepsExecuted.WithLabelValues(kind, status).Inc()
}

// RecordGraphNode records the duration of a single graph node transition.
func (m *Metrics) RecordGraphNode(node string, durationSeconds float64) {
	m.GraphNodeDuration.WithLabelValues(node).Observe(durationSeconds)
}

// SetQueueDepth sets the current queue depth for a priority class.
func (m *Metrics) SetQueueDepth(priority string, depth int) {
	m.QueueDepth.WithLabelValues(priority).Set(float64(depth))
}

// RecordQueueDropped records a task dropped due to backpressure.
func (m *Metrics) RecordQueueDropped(priority string) {
	m.QueueDropped.WithLabelValues(priority).Inc()
}

// RecordSchedulerRun records a scheduled handler invocation outcome.
func (m *Metrics) RecordSchedulerRun(handler, outcome string) {
	m.SchedulerRuns.WithLabelValues(handler, outcome).Inc()
}

// RecordSchedulerOverrun records a skipped invocation due to handler overlap.
func (m *Metrics) RecordSchedulerOverrun(handler string) {
	m.SchedulerOverruns.WithLabelValues(handler).Inc()
}

// RecordNotificationPublished records a notification publication.
func (m *Metrics) RecordNotificationPublished(priority, channel string) {
	m.NotificationsPublished.WithLabelValues(priority, channel).Inc()
}

// RecordContradiction records a detected contradiction.
func (m *Metrics) RecordContradiction() {
	m.ContradictionsDetected.Inc()
}

// RecordError increments the error counter for a given component and error kind.
func (m *Metrics) RecordError(component, kind string) {
	m.ErrorCounter.WithLabelValues(component, kind).Inc()
}
