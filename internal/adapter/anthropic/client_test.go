package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Strob0t/Concord/internal/port/agentbackend"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(agentbackend.Config{
		Name:    "claude",
		Model:   "claude-sonnet",
		BaseURL: srv.URL,
		APIKey:  "sk-ant-test",
	})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestComplete(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "sk-ant-test" {
			t.Errorf("x-api-key = %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got == "" {
			t.Error("anthropic-version header missing")
		}

		var req messagesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.System != "be brief" {
			t.Errorf("system = %q", req.System)
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("messages = %+v", req.Messages)
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{
				{"type": "text", "text": "hello "},
				{"type": "text", "text": "world"},
			},
			"usage": map[string]int{"input_tokens": 12, "output_tokens": 4},
		})
	})

	comp, err := c.Complete(context.Background(), agentbackend.Request{
		Prompt:  "say hi",
		Context: "be brief",
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if comp.Content != "hello world" {
		t.Errorf("content = %q, text blocks must be concatenated", comp.Content)
	}
	if comp.TokensIn != 12 || comp.TokensOut != 4 {
		t.Errorf("tokens = %d/%d", comp.TokensIn, comp.TokensOut)
	}
}

func TestCompleteNoTextBlocks(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"content":[]}`))
	})

	_, err := c.Complete(context.Background(), agentbackend.Request{Prompt: "hi"})
	var pe *agentbackend.ProviderError
	if !errors.As(err, &pe) || pe.Kind != agentbackend.KindTransport {
		t.Fatalf("got %v, want transport provider error", err)
	}
}

func TestCompleteRateLimited(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	})

	_, err := c.Complete(context.Background(), agentbackend.Request{Prompt: "hi"})
	var pe *agentbackend.ProviderError
	if !errors.As(err, &pe) || pe.Kind != agentbackend.KindRateLimit {
		t.Fatalf("got %v, want rate_limit", err)
	}
	if !pe.Retryable() {
		t.Error("rate limit errors must be retryable")
	}
}
