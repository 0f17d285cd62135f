package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "concord"

// Metrics holds all Concord metric instruments.
type Metrics struct {
	TasksStarted   metric.Int64Counter
	TasksCompleted metric.Int64Counter
	TasksFailed    metric.Int64Counter
	AgentCalls     metric.Int64Counter
	TaskDuration   metric.Float64Histogram
	AgentLatency   metric.Float64Histogram
	RoundsPerTask  metric.Int64Histogram
	AgreementScore metric.Float64Histogram
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.TasksStarted, err = meter.Int64Counter("concord.tasks.started",
		metric.WithDescription("Number of tasks started"))
	if err != nil {
		return nil, err
	}

	m.TasksCompleted, err = meter.Int64Counter("concord.tasks.completed",
		metric.WithDescription("Number of tasks completed"))
	if err != nil {
		return nil, err
	}

	m.TasksFailed, err = meter.Int64Counter("concord.tasks.failed",
		metric.WithDescription("Number of tasks failed"))
	if err != nil {
		return nil, err
	}

	m.AgentCalls, err = meter.Int64Counter("concord.agent.calls",
		metric.WithDescription("Number of agent backend calls"))
	if err != nil {
		return nil, err
	}

	m.TaskDuration, err = meter.Float64Histogram("concord.task.duration_seconds",
		metric.WithDescription("Task duration in seconds"))
	if err != nil {
		return nil, err
	}

	m.AgentLatency, err = meter.Float64Histogram("concord.agent.latency_seconds",
		metric.WithDescription("Agent call latency in seconds"))
	if err != nil {
		return nil, err
	}

	m.RoundsPerTask, err = meter.Int64Histogram("concord.task.rounds",
		metric.WithDescription("Consensus rounds per task"))
	if err != nil {
		return nil, err
	}

	m.AgreementScore, err = meter.Float64Histogram("concord.consensus.agreement",
		metric.WithDescription("Final agreement score per task"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
