// Package anthropic implements the agent backend port for the Anthropic
// Messages API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/Strob0t/Concord/internal/port/agentbackend"
	"github.com/Strob0t/Concord/internal/resilience"
)

const (
	defaultBaseURL = "https://api.anthropic.com"
	apiVersion     = "2023-06-01"
	maxTokens      = 4096
)

func init() {
	agentbackend.Register("anthropic", func(cfg agentbackend.Config) (agentbackend.Backend, error) {
		return New(cfg)
	})
}

// Client talks to the Anthropic Messages API.
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
		return nil, fmt.Errorf("anthropic backend %q: model is required", cfg.Name)
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		name:       cfg.Name,
		model:      cfg.Model,
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{},
	}, nil
}

// Name returns the agent name this backend serves.
func (c *Client) Name() string { return c.name }

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) { c.breaker = b }

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Complete sends one prompt to the messages endpoint.
func (c *Client) Complete(ctx context.Context, req agentbackend.Request) (*agentbackend.Completion, error) {
	if req.Prompt == "" {
		return nil, &agentbackend.ProviderError{
			Provider: c.name, Kind: agentbackend.KindInvalidRequest, Message: "empty prompt",
		}
	}

	body, err := json.Marshal(messagesRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    req.Context,
		Messages:  []message{{Role: "user", Content: req.Prompt}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal messages request: %w", err)
	}

	data, err := c.doRequest(ctx, http.MethodPost, "/v1/messages", body)
	if err != nil {
		return nil, err
	}

	var resp messagesResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &agentbackend.ProviderError{
			Provider: c.name, Kind: agentbackend.KindTransport,
			Message: fmt.Sprintf("unmarshal response: %v", err),
		}
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return nil, &agentbackend.ProviderError{
			Provider: c.name, Kind: agentbackend.KindTransport, Message: "response contains no text blocks",
		}
	}

	return &agentbackend.Completion{
		Content:   sb.String(),
		TokensIn:  resp.Usage.InputTokens,
		TokensOut: resp.Usage.OutputTokens,
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
		req.Header.Set("anthropic-version", apiVersion)
		if c.apiKey != "" {
			req.Header.Set("x-api-key", c.apiKey)
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
	msg := string(body)
	if len(msg) > 256 {
		msg = msg[:256] + "..."
	}
	return &agentbackend.ProviderError{
		Provider: c.name, Kind: kind,
		Message: fmt.Sprintf("API error %d: %s", status, msg),
	}
}
