// Package observability provides structured logging and Prometheus
// metrics for the workflow engine, the agent runtime, and the message
// bus.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the central registry of application metrics.
//
// Tracked dimensions:
//   - Workflow and task outcomes, durations, and retries
//   - Tool server invocations and latencies
//   - LLM request performance and token consumption
//   - Message bus flow and per-agent queue depth
//
// Usage:
//
//	metrics := observability.NewMetrics(nil)
//	metrics.RecordTask("etl-pipeline", "success")
type Metrics struct {
	// TaskCounter counts finished tasks.
	// Labels: workflow, status (success|failed|skipped)
	TaskCounter *prometheus.CounterVec

	// TaskRetryCounter counts task retry attempts.
	// Labels: workflow
	TaskRetryCounter *prometheus.CounterVec

	// TaskDuration measures task execution time in seconds.
	// Labels: workflow
	// Buckets: 0.1s, 0.5s, 1s, 5s, 15s, 60s, 300s, 900s
	TaskDuration *prometheus.HistogramVec

	// WorkflowCounter counts finished workflow executions.
	// Labels: workflow, status (success|failed|cancelled)
	WorkflowCounter *prometheus.CounterVec

	// WorkflowDuration measures workflow execution time in seconds.
	// Labels: workflow
	// Buckets: 1s, 5s, 15s, 60s, 300s, 900s, 3600s
	WorkflowDuration *prometheus.HistogramVec

	// ActiveWorkflows is a gauge of currently running executions.
	ActiveWorkflows prometheus.Gauge

	// ToolCallCounter counts tool server invocations.
	// Labels: tool, status (success|error)
	ToolCallCounter *prometheus.CounterVec

	// ToolCallDuration measures tool invocation time in seconds.
	// Labels: tool
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	ToolCallDuration *prometheus.HistogramVec

	// LLMRequestCounter counts LLM requests.
	// Labels: provider (anthropic|openai), model, status (success|error)
	LLMRequestCounter *prometheus.CounterVec

	// LLMRequestDuration measures LLM API call latency in seconds.
	// Labels: provider, model
	// Buckets: 0.1s, 0.5s, 1s, 2s, 5s, 10s, 30s, 60s
	LLMRequestDuration *prometheus.HistogramVec

	// LLMTokensUsed tracks token consumption.
	// Labels: provider, model, type (prompt|completion)
	LLMTokensUsed *prometheus.CounterVec

	// BusMessageCounter counts bus traffic by outcome.
	// Labels: outcome (sent|delivered|failed)
	BusMessageCounter *prometheus.CounterVec

	// QueueDepth is a gauge of pending messages per agent queue.
	// Labels: agent
	QueueDepth *prometheus.GaugeVec
}

// NewMetrics creates and registers all metrics with the given
// registerer. Passing nil uses the Prometheus default registry, which
// is what the serve command exposes at /metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		TaskCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "genflow_tasks_total",
				Help: "Total number of finished tasks by workflow and status",
			},
			[]string{"workflow", "status"},
		),

		TaskRetryCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "genflow_task_retries_total",
				Help: "Total number of task retry attempts by workflow",
			},
			[]string{"workflow"},
		),

		TaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "genflow_task_duration_seconds",
				Help:    "Duration of task executions in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
			},
			[]string{"workflow"},
		),

		WorkflowCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "genflow_workflows_total",
				Help: "Total number of finished workflow executions by status",
			},
			[]string{"workflow", "status"},
		),

		WorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "genflow_workflow_duration_seconds",
				Help:    "Duration of workflow executions in seconds",
				Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
			},
			[]string{"workflow"},
		),

		ActiveWorkflows: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "genflow_active_workflows",
				Help: "Current number of running workflow executions",
			},
		),

		ToolCallCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "genflow_tool_calls_total",
				Help: "Total number of tool server invocations by tool and status",
			},
			[]string{"tool", "status"},
		),

		ToolCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "genflow_tool_call_duration_seconds",
				Help:    "Duration of tool server invocations in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool"},
		),

		LLMRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "genflow_llm_requests_total",
				Help: "Total number of LLM requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),

		LLMRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "genflow_llm_request_duration_seconds",
				Help:    "Duration of LLM API requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),

		LLMTokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "genflow_llm_tokens_total",
				Help: "Total number of tokens used by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),

		BusMessageCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "genflow_bus_messages_total",
				Help: "Total number of bus messages by outcome",
			},
			[]string{"outcome"},
		),

		QueueDepth: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "genflow_bus_queue_depth",
				Help: "Current number of pending messages per agent queue",
			},
			[]string{"agent"},
		),
	}
}

// RecordTask counts a finished task and observes its duration.
func (m *Metrics) RecordTask(workflow, status string, durationSeconds float64) {
	m.TaskCounter.WithLabelValues(workflow, status).Inc()
	m.TaskDuration.WithLabelValues(workflow).Observe(durationSeconds)
}

// RecordTaskRetry counts one retry attempt.
func (m *Metrics) RecordTaskRetry(workflow string) {
	m.TaskRetryCounter.WithLabelValues(workflow).Inc()
}

// RecordWorkflow counts a finished execution and observes its duration.
func (m *Metrics) RecordWorkflow(workflow, status string, durationSeconds float64) {
	m.WorkflowCounter.WithLabelValues(workflow, status).Inc()
	m.WorkflowDuration.WithLabelValues(workflow).Observe(durationSeconds)
}

// WorkflowStarted increments the active executions gauge.
func (m *Metrics) WorkflowStarted() { m.ActiveWorkflows.Inc() }

// WorkflowEnded decrements the active executions gauge.
func (m *Metrics) WorkflowEnded() { m.ActiveWorkflows.Dec() }

// RecordToolCall counts a tool invocation and observes its duration.
func (m *Metrics) RecordToolCall(tool, status string, durationSeconds float64) {
	m.ToolCallCounter.WithLabelValues(tool, status).Inc()
	m.ToolCallDuration.WithLabelValues(tool).Observe(durationSeconds)
}

// RecordLLMRequest records an LLM API call with token counts.
func (m *Metrics) RecordLLMRequest(provider, model, status string, durationSeconds float64, promptTokens, completionTokens int) {
	m.LLMRequestCounter.WithLabelValues(provider, model, status).Inc()
	m.LLMRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
	if promptTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
}

// RecordBusMessage counts one bus message outcome: sent, delivered, or
// failed.
func (m *Metrics) RecordBusMessage(outcome string) {
	m.BusMessageCounter.WithLabelValues(outcome).Inc()
}

// SetQueueDepth reports the pending message count for an agent queue.
func (m *Metrics) SetQueueDepth(agent string, depth int) {
	m.QueueDepth.WithLabelValues(agent).Set(float64(depth))
}

// DeleteQueueDepth drops the gauge series for an unregistered agent.
func (m *Metrics) DeleteQueueDepth(agent string) {
	m.QueueDepth.DeleteLabelValues(agent)
}
