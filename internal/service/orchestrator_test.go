package service

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Strob0t/Concord/internal/adapter/memstore"
	"github.com/Strob0t/Concord/internal/config"
	"github.com/Strob0t/Concord/internal/domain"
	"github.com/Strob0t/Concord/internal/domain/agent"
	"github.com/Strob0t/Concord/internal/domain/event"
	"github.com/Strob0t/Concord/internal/domain/memory"
	"github.com/Strob0t/Concord/internal/domain/task"
	"github.com/Strob0t/Concord/internal/port/agentbackend"
)

func answer(content string, confidence float64) func(context.Context, agentbackend.Request) (*agentbackend.Completion, error) {
	return func(context.Context, agentbackend.Request) (*agentbackend.Completion, error) {
		return &agentbackend.Completion{Content: content, Confidence: &confidence}, nil
	}
}

func blockUntilDone(ctx context.Context, _ agentbackend.Request) (*agentbackend.Completion, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type testHarness struct {
	orch     *Orchestrator
	registry *TaskRegistry
	health   *HealthRegistry
	store    *memstore.Store
}

func newHarness(t *testing.T, backends map[string]*mockBackend, mutate func(*config.Orchestrator)) *testHarness {
	t.Helper()

	cfg := config.Defaults().Orchestrator
	cfg.AgentTimeout = 500 * time.Millisecond
	cfg.TaskTimeout = 5 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}

	health := newTestHealth(10)
	for name, b := range backends {
		b.name = name
		if err := health.Register(agent.Descriptor{Name: name, Weight: 1}, b); err != nil {
			t.Fatal(err)
		}
	}

	store := memstore.New()
	registry := NewTaskRegistry(cfg)
	orch := NewOrchestrator(cfg, health, registry, NewMemoryService(store, nil, time.Minute), nil, nil, nil)
	return &testHarness{orch: orch, registry: registry, health: health, store: store}
}

func (h *testHarness) runTask(t *testing.T, req *task.SubmitRequest) task.Task {
	t.Helper()

	submitted, err := h.orch.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := h.orch.Start(submitted.ID); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	final, err := h.orch.Wait(ctx, submitted.ID)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	return final
}

func TestOrchestratorAllAgentsAgree(t *testing.T) {
	h := newHarness(t, map[string]*mockBackend{
		"gpt":    {complete: answer("paris is the capital", 0.9)},
		"claude": {complete: answer("paris is the capital", 0.8)},
	}, nil)

	final := h.runTask(t, &task.SubmitRequest{
		Prompt:         "capital of france?",
		RequiredAgents: []string{"gpt", "claude"},
	})

	if final.Status != task.StatusCompleted {
		t.Fatalf("status = %s (%s), want completed", final.Status, final.Reason)
	}
	if final.Result == nil {
		t.Fatal("completed task must carry a result")
	}
	if final.Result.FinalAnswer != "paris is the capital" {
		t.Errorf("final answer = %q", final.Result.FinalAnswer)
	}
	if final.Result.Rounds != 1 {
		t.Errorf("rounds = %d, want 1", final.Result.Rounds)
	}
	if len(final.Result.Contributions) != 2 {
		t.Errorf("contributions = %v, want both agents", final.Result.Contributions)
	}
	if final.Result.AgreementScore != 1.0 {
		t.Errorf("agreement = %v, want 1.0", final.Result.AgreementScore)
	}
}

func TestOrchestratorRejectsUnknownAgent(t *testing.T) {
	h := newHarness(t, map[string]*mockBackend{"gpt": {}}, nil)

	_, err := h.orch.Submit(context.Background(), &task.SubmitRequest{
		Prompt:         "hi",
		RequiredAgents: []string{"gpt", "ghost"},
	})
	if !errors.Is(err, domain.ErrAgentUnavailable) {
		t.Fatalf("got %v, want ErrAgentUnavailable", err)
	}
}

func TestOrchestratorRejectsUnavailableAgent(t *testing.T) {
	h := newHarness(t, map[string]*mockBackend{"gpt": {}}, nil)

	for i := 0; i < 10; i++ {
		h.health.ReportFailure(context.Background(), "gpt")
	}
	_, err := h.orch.Submit(context.Background(), &task.SubmitRequest{
		Prompt:         "hi",
		RequiredAgents: []string{"gpt"},
	})
	if !errors.Is(err, domain.ErrAgentUnavailable) {
		t.Fatalf("got %v, want ErrAgentUnavailable", err)
	}
}

func TestOrchestratorCapacityExceeded(t *testing.T) {
	h := newHarness(t, map[string]*mockBackend{"gpt": {complete: answer("ok", 0.9)}},
		func(cfg *config.Orchestrator) { cfg.MaxConcurrentTasks = 1 })

	req := &task.SubmitRequest{Prompt: "hi", RequiredAgents: []string{"gpt"}}
	first, err := h.orch.Submit(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := h.orch.Submit(context.Background(), &task.SubmitRequest{Prompt: "hi", RequiredAgents: []string{"gpt"}}); !errors.Is(err, domain.ErrCapacityExceeded) {
		t.Fatalf("got %v, want ErrCapacityExceeded", err)
	}

	// Finishing the first task frees the slot.
	if err := h.orch.Start(first.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := h.orch.Wait(context.Background(), first.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := h.orch.Submit(context.Background(), &task.SubmitRequest{Prompt: "hi", RequiredAgents: []string{"gpt"}}); err != nil {
		t.Fatalf("slot should be free after completion: %v", err)
	}
}

func TestOrchestratorPartialFailureCompletes(t *testing.T) {
	h := newHarness(t, map[string]*mockBackend{
		"good": {complete: answer("the answer", 0.9)},
		"bad": {complete: func(context.Context, agentbackend.Request) (*agentbackend.Completion, error) {
			return nil, &agentbackend.ProviderError{Provider: "bad", Kind: agentbackend.KindTransport, Message: "conn refused"}
		}},
	}, nil)

	final := h.runTask(t, &task.SubmitRequest{
		Prompt:         "q",
		RequiredAgents: []string{"good", "bad"},
	})

	if final.Status != task.StatusCompleted {
		t.Fatalf("status = %s, want completed despite one failure", final.Status)
	}
	if final.Result.FinalAnswer != "the answer" {
		t.Errorf("final answer = %q", final.Result.FinalAnswer)
	}
	if _, ok := final.Result.Contributions["bad"]; ok {
		t.Error("failed agent must not contribute")
	}
}

func TestOrchestratorAllAgentsFailed(t *testing.T) {
	fail := func(context.Context, agentbackend.Request) (*agentbackend.Completion, error) {
		return nil, &agentbackend.ProviderError{Provider: "x", Kind: agentbackend.KindTransport, Message: "down"}
	}
	h := newHarness(t, map[string]*mockBackend{
		"a": {complete: fail},
		"b": {complete: fail},
	}, nil)

	final := h.runTask(t, &task.SubmitRequest{
		Prompt:         "q",
		RequiredAgents: []string{"a", "b"},
		MaxIterations:  3,
	})

	if final.Status != task.StatusFailed {
		t.Fatalf("status = %s, want failed", final.Status)
	}
	if final.Reason != "all_agents_failed" {
		t.Errorf("reason = %q, want all_agents_failed", final.Reason)
	}
}

func TestOrchestratorAgentTimeoutBounded(t *testing.T) {
	h := newHarness(t, map[string]*mockBackend{
		"slow": {complete: blockUntilDone},
		"fast": {complete: answer("quick answer", 0.9)},
	}, func(cfg *config.Orchestrator) { cfg.AgentTimeout = 100 * time.Millisecond })

	start := time.Now()
	final := h.runTask(t, &task.SubmitRequest{
		Prompt:         "q",
		RequiredAgents: []string{"slow", "fast"},
	})
	elapsed := time.Since(start)

	if final.Status != task.StatusCompleted {
		t.Fatalf("status = %s, want completed", final.Status)
	}
	if final.Result.FinalAnswer != "quick answer" {
		t.Errorf("final answer = %q", final.Result.FinalAnswer)
	}
	if elapsed > 2*time.Second {
		t.Errorf("round not bounded by agent timeout: took %v", elapsed)
	}
}

func TestOrchestratorTaskTimeout(t *testing.T) {
	h := newHarness(t, map[string]*mockBackend{
		"slow": {complete: blockUntilDone},
	}, func(cfg *config.Orchestrator) {
		cfg.AgentTimeout = 5 * time.Second
		cfg.TaskTimeout = 100 * time.Millisecond
	})

	final := h.runTask(t, &task.SubmitRequest{Prompt: "q", RequiredAgents: []string{"slow"}})

	if final.Status != task.StatusTimedOut {
		t.Fatalf("status = %s, want timed_out", final.Status)
	}
	if final.Reason != "task_timeout" {
		t.Errorf("reason = %q, want task_timeout", final.Reason)
	}
}

func TestOrchestratorCancel(t *testing.T) {
	h := newHarness(t, map[string]*mockBackend{
		"slow": {complete: blockUntilDone},
	}, nil)

	submitted, err := h.orch.Submit(context.Background(), &task.SubmitRequest{Prompt: "q", RequiredAgents: []string{"slow"}})
	if err != nil {
		t.Fatal(err)
	}
	if err := h.orch.Start(submitted.ID); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := h.orch.Cancel(submitted.ID); err != nil {
		t.Fatal(err)
	}

	final, err := h.orch.Wait(context.Background(), submitted.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != task.StatusFailed || final.Reason != "cancelled" {
		t.Fatalf("status = %s reason = %q, want failed/cancelled", final.Status, final.Reason)
	}

	// Cancelling a finished task is a no-op.
	if err := h.orch.Cancel(submitted.ID); err != nil {
		t.Errorf("cancel after terminal: %v", err)
	}
}

func TestOrchestratorRepromptConverges(t *testing.T) {
	var claudeCalls atomic.Int32
	h := newHarness(t, map[string]*mockBackend{
		"gpt": {complete: answer("cats are the best pets", 0.8)},
		"claude": {complete: func(_ context.Context, req agentbackend.Request) (*agentbackend.Completion, error) {
			conf := 0.8
			if claudeCalls.Add(1) == 1 {
				return &agentbackend.Completion{Content: "dogs beat every other option", Confidence: &conf}, nil
			}
			// Re-prompt rounds include peer answers in the context.
			if !strings.Contains(req.Context, "cats are the best pets") {
				return nil, errors.New("re-prompt context missing peer answer")
			}
			return &agentbackend.Completion{Content: "cats are the best pets", Confidence: &conf}, nil
		}},
	}, nil)

	submitted, err := h.orch.Submit(context.Background(), &task.SubmitRequest{
		Prompt:         "best pet?",
		RequiredAgents: []string{"gpt", "claude"},
		MaxIterations:  3,
	})
	if err != nil {
		t.Fatal(err)
	}
	events, unsubscribe, err := h.orch.Subscribe(submitted.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer unsubscribe()

	if err := h.orch.Start(submitted.ID); err != nil {
		t.Fatal(err)
	}

	var got []event.Type
	for ev := range events {
		got = append(got, ev.Type)
	}

	final, err := h.orch.Wait(context.Background(), submitted.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != task.StatusCompleted {
		t.Fatalf("status = %s (%s), want completed", final.Status, final.Reason)
	}
	if final.Result.Rounds != 2 {
		t.Errorf("rounds = %d, want 2", final.Result.Rounds)
	}
	if final.Result.FinalAnswer != "cats are the best pets" {
		t.Errorf("final answer = %q", final.Result.FinalAnswer)
	}
	if final.Result.AgreementScore < 0.75 {
		t.Errorf("agreement = %v, want >= threshold", final.Result.AgreementScore)
	}

	// Two agents over two rounds: every second-round response must come
	// after the first round_completed event.
	want := []event.Type{
		event.TypeTaskStarted,
		event.TypeAgentResponse,
		event.TypeAgentResponse,
		event.TypeRoundCompleted,
		event.TypeAgentResponse,
		event.TypeAgentResponse,
		event.TypeRoundCompleted,
		event.TypeTaskCompleted,
	}
	if len(got) != len(want) {
		t.Fatalf("event sequence %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event[%d] = %s, want %s (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestOrchestratorStopsAtMaxIterations(t *testing.T) {
	h := newHarness(t, map[string]*mockBackend{
		"gpt":    {complete: answer("alpha bravo charlie", 0.9)},
		"claude": {complete: answer("delta echo foxtrot", 0.4)},
	}, nil)

	final := h.runTask(t, &task.SubmitRequest{
		Prompt:         "q",
		RequiredAgents: []string{"gpt", "claude"},
		MaxIterations:  2,
	})

	if final.Status != task.StatusCompleted {
		t.Fatalf("status = %s, want completed with best-effort answer", final.Status)
	}
	if final.Result.Rounds != 2 {
		t.Errorf("rounds = %d, want the full 2", final.Result.Rounds)
	}
	if final.Result.FinalAnswer != "alpha bravo charlie" {
		t.Errorf("final answer = %q, want the highest contribution", final.Result.FinalAnswer)
	}
}

func TestOrchestratorEventOrder(t *testing.T) {
	h := newHarness(t, map[string]*mockBackend{
		"a": {complete: answer("same answer", 0.9)},
		"b": {complete: answer("same answer", 0.9)},
	}, nil)

	submitted, err := h.orch.Submit(context.Background(), &task.SubmitRequest{
		Prompt:         "q",
		RequiredAgents: []string{"a", "b"},
	})
	if err != nil {
		t.Fatal(err)
	}
	events, unsubscribe, err := h.orch.Subscribe(submitted.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer unsubscribe()

	if err := h.orch.Start(submitted.ID); err != nil {
		t.Fatal(err)
	}

	var got []event.Type
	for ev := range events {
		if ev.TaskID != submitted.ID {
			t.Errorf("event for wrong task: %s", ev.TaskID)
		}
		got = append(got, ev.Type)
	}

	want := []event.Type{
		event.TypeTaskStarted,
		event.TypeAgentResponse,
		event.TypeAgentResponse,
		event.TypeRoundCompleted,
		event.TypeTaskCompleted,
	}
	if len(got) != len(want) {
		t.Fatalf("event sequence %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event[%d] = %s, want %s (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestOrchestratorPersistsConversation(t *testing.T) {
	h := newHarness(t, map[string]*mockBackend{
		"gpt": {complete: answer("blue", 0.9)},
	}, nil)

	final := h.runTask(t, &task.SubmitRequest{
		Prompt:         "favorite color?",
		RequiredAgents: []string{"gpt"},
		ConversationID: "conv-1",
	})
	if final.Status != task.StatusCompleted {
		t.Fatal("task should complete")
	}

	entries, err := h.store.Query(context.Background(), "conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want prompt + consensus", len(entries))
	}
	if entries[0].Role != memory.RoleTask || entries[0].Content != "favorite color?" {
		t.Errorf("first entry = %+v", entries[0])
	}
	if entries[1].Role != memory.RoleConsensus || entries[1].Content != "blue" {
		t.Errorf("second entry = %+v", entries[1])
	}
}

func TestOrchestratorLoadsConversationContext(t *testing.T) {
	var sawContext atomic.Bool
	h := newHarness(t, map[string]*mockBackend{
		"gpt": {complete: func(_ context.Context, req agentbackend.Request) (*agentbackend.Completion, error) {
			if strings.Contains(req.Context, "the sky is blue") {
				sawContext.Store(true)
			}
			conf := 0.9
			return &agentbackend.Completion{Content: "noted", Confidence: &conf}, nil
		}},
	}, nil)

	seed := &memory.Entry{ConversationID: "conv-2", Role: memory.RoleConsensus, Content: "the sky is blue"}
	if err := h.store.Append(context.Background(), seed); err != nil {
		t.Fatal(err)
	}

	final := h.runTask(t, &task.SubmitRequest{
		Prompt:         "what did we establish?",
		RequiredAgents: []string{"gpt"},
		ConversationID: "conv-2",
	})
	if final.Status != task.StatusCompleted {
		t.Fatal("task should complete")
	}
	if !sawContext.Load() {
		t.Error("agent prompt must include prior conversation memory")
	}
}
