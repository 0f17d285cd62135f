// Package openai implements the agent backend port for OpenAI-compatible
// chat completion APIs. Gateways speaking the same wire format (LiteLLM,
// Ollama, vLLM) are reachable through the base_url setting.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/Strob0t/Concord/internal/port/agentbackend"
	"github.com/Strob0t/Concord/internal/resilience"
)

const defaultBaseURL = "https://api.openai.com"

func init() {
	agentbackend.Register("openai", func(cfg agentbackend.Config) (agentbackend.Backend, error) {
		return New(cfg)
	})
}

// Client talks to one OpenAI-compatible chat completions endpoint.
type Client struct {
	name       string
	model      string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// New creates a backend for the given agent config.
func New(cfg agentbackend.Config) (*Client, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("openai backend %q: model is required", cfg.Name)
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		name:    cfg.Name,
		model:   cfg.Model,
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		// No client-level timeout: each call is bounded by its context
		// deadline, set by the orchestrator per agent.
		httpClient: &http.Client{},
	}, nil
}

// Name returns the agent name this backend serves.
func (c *Client) Name() string { return c.name }

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) { c.breaker = b }

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete sends one prompt to the chat completions endpoint.
func (c *Client) Complete(ctx context.Context, req agentbackend.Request) (*agentbackend.Completion, error) {
	if req.Prompt == "" {
		return nil, &agentbackend.ProviderError{
			Provider: c.name, Kind: agentbackend.KindInvalidRequest, Message: "empty prompt",
		}
	}

	messages := make([]chatMessage, 0, 2)
	if req.Context != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.Context})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	body, err := json.Marshal(chatRequest{Model: c.model, Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	data, err := c.doRequest(ctx, http.MethodPost, "/v1/chat/completions", body)
	if err != nil {
		return nil, err
	}

	var resp chatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &agentbackend.ProviderError{
			Provider: c.name, Kind: agentbackend.KindTransport,
			Message: fmt.Sprintf("unmarshal response: %v", err),
		}
	}
	if len(resp.Choices) == 0 {
		return nil, &agentbackend.ProviderError{
			Provider: c.name, Kind: agentbackend.KindTransport, Message: "response contains no choices",
		}
	}

	return &agentbackend.Completion{
		Content:   resp.Choices[0].Message.Content,
		TokensIn:  resp.Usage.PromptTokens,
		TokensOut: resp.Usage.CompletionTokens,
	}, nil
}

// HealthCheck probes the models endpoint.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.doRequest(ctx, http.MethodGet, "/v1/models", nil)
	return err
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return c.classifyTransport(err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return c.classifyTransport(err)
		}

		if resp.StatusCode >= 400 {
			return c.classifyStatus(resp.StatusCode, data)
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			if errors.Is(err, resilience.ErrCircuitOpen) {
				return nil, &agentbackend.ProviderError{
					Provider: c.name, Kind: agentbackend.KindTransport, Message: err.Error(),
				}
			}
			return nil, err
		}
		return result, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) classifyTransport(err error) error {
	kind := agentbackend.KindTransport
	if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
		kind = agentbackend.KindTimeout
	}
	return &agentbackend.ProviderError{Provider: c.name, Kind: kind, Message: err.Error()}
}

func (c *Client) classifyStatus(status int, body []byte) error {
	var kind agentbackend.ErrorKind
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = agentbackend.KindAuth
	case status == http.StatusTooManyRequests:
		kind = agentbackend.KindRateLimit
	case status >= 400 && status < 500:
		kind = agentbackend.KindInvalidRequest
	default:
		kind = agentbackend.KindTransport
	}
	return &agentbackend.ProviderError{
		Provider: c.name, Kind: kind,
		Message: fmt.Sprintf("API error %d: %s", status, truncate(body, 256)),
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
