// Package agentbackend defines the agent backend port (interface) and its
// provider error taxonomy.
package agentbackend

import (
	"context"
	"errors"
	"fmt"
)

// Request is the uniform input for a single completion call. Context carries
// conversation memory and, on re-prompt rounds, the peer responses from the
// previous round.
type Request struct {
	Prompt  string
	Context string
}

// Completion is the uniform output of a single completion call.
type Completion struct {
	Content string
	// Confidence is the provider's self-reported confidence in [0,1];
	// nil when the provider does not report one.
	Confidence *float64
	TokensIn   int
	TokensOut  int
}

// Backend is the port interface wrapping one external model provider.
// Implementations are stateless with respect to task execution and must
// honor context cancellation by aborting the underlying network call.
type Backend interface {
	// Name returns the unique identifier for this backend's provider
	// family (e.g. "openai", "anthropic").
	Name() string

	// Complete sends one prompt to the provider and returns its answer.
	// The caller bounds the call with a context deadline.
	Complete(ctx context.Context, req Request) (*Completion, error)

	// HealthCheck probes the provider endpoint.
	HealthCheck(ctx context.Context) error
}

// ErrorKind classifies provider failures for retry and health decisions.
type ErrorKind string

const (
	KindTimeout        ErrorKind = "timeout"
	KindRateLimit      ErrorKind = "rate_limit"
	KindAuth           ErrorKind = "auth"
	KindInvalidRequest ErrorKind = "invalid_request"
	KindTransport      ErrorKind = "transport_error"
)

// ProviderError wraps a provider failure with its classification.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Message  string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
}

// Retryable reports whether the failure may succeed on a later attempt.
// Auth and invalid-request failures are surfaced immediately.
func (e *ProviderError) Retryable() bool {
	switch e.Kind {
	case KindTimeout, KindRateLimit, KindTransport:
		return true
	}
	return false
}

// KindOf extracts the error classification, defaulting to transport for
// unclassified errors and timeout for context deadline expiry.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindTransport
}
