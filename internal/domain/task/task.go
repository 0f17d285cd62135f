// Package task defines the Task domain entity and its status machine.
package task

import (
	"errors"
	"fmt"
	"time"

	"github.com/Strob0t/Concord/internal/domain"
	"github.com/Strob0t/Concord/internal/domain/consensus"
)

// Status represents the current state of a task.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusStreaming Status = "streaming"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// IsTerminal reports whether the status is a terminal state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut:
		return true
	}
	return false
}

// CanTransition reports whether a task may move from s to next.
// The machine moves strictly forward: queued -> running -> (streaming) ->
// exactly one terminal state. A task never re-enters queued.
func (s Status) CanTransition(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	switch s {
	case StatusQueued:
		return next == StatusRunning || next.IsTerminal()
	case StatusRunning:
		return next == StatusStreaming || next.IsTerminal()
	case StatusStreaming:
		return next.IsTerminal()
	}
	return false
}

// Task represents one consensus request moving through the orchestrator.
type Task struct {
	ID             string            `json:"id"`
	Prompt         string            `json:"prompt"`
	Context        string            `json:"context,omitempty"`
	RequiredAgents []string          `json:"required_agents"`
	MaxIterations  int               `json:"max_iterations"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Status         Status            `json:"status"`
	Reason         string            `json:"reason,omitempty"`
	Result         *consensus.Result `json:"result,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	CompletedAt    time.Time         `json:"completed_at,omitzero"`
}

// SubmitRequest holds the fields needed to submit a new task.
type SubmitRequest struct {
	Prompt         string   `json:"prompt"`
	Context        string   `json:"context,omitempty"`
	RequiredAgents []string `json:"required_agents"`
	MaxIterations  int      `json:"max_iterations,omitempty"`
	ConversationID string   `json:"conversation_id,omitempty"`
	Async          bool     `json:"async,omitempty"`
}

// Validate checks a SubmitRequest and fills defaults. maxIterations caps the
// permitted round count; defaultIterations applies when the field is zero.
func (r *SubmitRequest) Validate(defaultIterations, maxIterations int) error {
	if r.Prompt == "" {
		return fmt.Errorf("%w: prompt is required", domain.ErrValidation)
	}
	if len(r.RequiredAgents) == 0 {
		return fmt.Errorf("%w: required_agents must not be empty", domain.ErrValidation)
	}
	seen := make(map[string]bool, len(r.RequiredAgents))
	for _, name := range r.RequiredAgents {
		if name == "" {
			return fmt.Errorf("%w: agent name must not be empty", domain.ErrValidation)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate agent %q", domain.ErrValidation, name)
		}
		seen[name] = true
	}
	if r.MaxIterations == 0 {
		r.MaxIterations = defaultIterations
	}
	if r.MaxIterations < 1 {
		return fmt.Errorf("%w: max_iterations must be >= 1", domain.ErrValidation)
	}
	if maxIterations > 0 && r.MaxIterations > maxIterations {
		return fmt.Errorf("%w: max_iterations must be <= %d", domain.ErrValidation, maxIterations)
	}
	return nil
}

// ReasonFor maps a task-level failure to its wire reason code.
func ReasonFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrAgentUnavailable):
		return "agent_unavailable"
	case errors.Is(err, domain.ErrAllAgentsFailed):
		return "all_agents_failed"
	case errors.Is(err, domain.ErrCapacityExceeded):
		return "capacity_exceeded"
	case errors.Is(err, domain.ErrTaskTimeout):
		return "task_timeout"
	case errors.Is(err, domain.ErrCancelled):
		return "cancelled"
	}
	return "internal_error"
}
