// Package event defines the stream event envelope emitted while a task
// executes.
package event

import (
	"encoding/json"
	"time"

	"github.com/Strob0t/Concord/internal/domain/consensus"
)

// Type identifies the kind of stream event.
type Type string

const (
	TypeTaskStarted    Type = "task_started"
	TypeAgentResponse  Type = "agent_response"
	TypeRoundCompleted Type = "round_completed"
	TypeTaskCompleted  Type = "task_completed"
	TypeTaskFailed     Type = "task_failed"
)

// IsTerminal reports whether the event type ends a task's stream.
func (t Type) IsTerminal() bool {
	return t == TypeTaskCompleted || t == TypeTaskFailed
}

// Event is the envelope for one frame of a task's stream. Events within a
// task are causally ordered: an agent_response for round k never follows
// the round_completed for round k.
type Event struct {
	Type      Type            `json:"type"`
	TaskID    string          `json:"task_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// TaskStartedPayload accompanies task_started.
type TaskStartedPayload struct {
	Prompt         string   `json:"prompt"`
	RequiredAgents []string `json:"required_agents"`
	MaxIterations  int      `json:"max_iterations"`
}

// AgentResponsePayload accompanies agent_response, one per agent response
// as it arrives.
type AgentResponsePayload struct {
	Round    int                `json:"round"`
	Response consensus.Response `json:"response"`
}

// RoundCompletedPayload accompanies round_completed, after each consensus
// evaluation.
type RoundCompletedPayload struct {
	Round          int     `json:"round"`
	AgreementScore float64 `json:"agreement_score"`
	Converged      bool    `json:"converged"`
}

// TaskCompletedPayload accompanies task_completed.
type TaskCompletedPayload struct {
	Result *consensus.Result `json:"result"`
}

// TaskFailedPayload accompanies task_failed.
type TaskFailedPayload struct {
	Reason string `json:"reason"`
}

// New builds an Event with a marshalled payload. Marshal failures of the
// payload types above cannot happen at runtime; the payload is dropped
// rather than failing the stream.
func New(taskID string, typ Type, payload any) Event {
	ev := Event{Type: typ, TaskID: taskID, Timestamp: time.Now().UTC()}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			ev.Payload = data
		}
	}
	return ev
}
