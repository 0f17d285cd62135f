// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Close shuts down the queue connection.
	Close() error
}

// Subject constants for the subjects published by the orchestration core.
const (
	// SubjectTaskEvents carries the task stream events; the task ID is
	// appended as the final token (tasks.events.{id}).
	SubjectTaskEvents = "tasks.events"

	// SubjectAgentHealth carries agent availability changes
	// (agents.health.{name}).
	SubjectAgentHealth = "agents.health"
)

// AgentHealthPayload is the schema for agents.health messages.
type AgentHealthPayload struct {
	Agent     string `json:"agent"`
	Available bool   `json:"available"`
	Failures  int    `json:"consecutive_failures"`
}
