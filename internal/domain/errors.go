// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrValidation indicates a request failed input validation.
var ErrValidation = errors.New("validation failed")

// ErrAgentUnavailable indicates a required agent is missing or unhealthy
// at submission time. No dispatch is attempted.
var ErrAgentUnavailable = errors.New("agent_unavailable")

// ErrAllAgentsFailed indicates a round produced zero successful responses.
var ErrAllAgentsFailed = errors.New("all_agents_failed")

// ErrCapacityExceeded indicates the task registry is at its concurrency bound.
var ErrCapacityExceeded = errors.New("capacity_exceeded")

// ErrTaskTimeout indicates the overall task deadline was exceeded.
var ErrTaskTimeout = errors.New("task_timeout")

// ErrCancelled indicates the task was cancelled by the client.
var ErrCancelled = errors.New("cancelled")
