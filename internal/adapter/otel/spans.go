package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "concord"

// StartTaskSpan starts a span covering a task's whole execution.
func StartTaskSpan(ctx context.Context, taskID string, agents []string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "task",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.StringSlice("task.agents", agents),
		),
	)
}

// StartRoundSpan starts a span for one fan-out/fan-in round.
func StartRoundSpan(ctx context.Context, taskID string, round int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "round",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.Int("round.number", round),
		),
	)
}

// StartAgentCallSpan starts a span for a single agent backend call.
func StartAgentCallSpan(ctx context.Context, taskID, agentName string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "agent_call",
		trace.WithAttributes(
			attribute.String("task.id", taskID),
			attribute.String("agent.name", agentName),
		),
	)
}
