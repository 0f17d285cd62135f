package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	otelx "github.com/Strob0t/Concord/internal/adapter/otel"
	"github.com/Strob0t/Concord/internal/config"
	"github.com/Strob0t/Concord/internal/domain"
	"github.com/Strob0t/Concord/internal/domain/agent"
	"github.com/Strob0t/Concord/internal/domain/consensus"
	"github.com/Strob0t/Concord/internal/domain/event"
	"github.com/Strob0t/Concord/internal/domain/memory"
	"github.com/Strob0t/Concord/internal/domain/task"
	"github.com/Strob0t/Concord/internal/port/agentbackend"
	"github.com/Strob0t/Concord/internal/port/broadcast"
	"github.com/Strob0t/Concord/internal/port/messagequeue"
)

const subscriberBuffer = 64

// taskRun is the in-flight state of one task: its subscribers, completion
// signal, and the handles needed to cancel or release it.
type taskRun struct {
	mu          sync.Mutex
	subscribers map[int]chan event.Event
	nextSub     int
	closed      bool

	done    chan struct{}
	cancel  context.CancelCauseFunc
	release func()
}

// Orchestrator drives a task through validation, admission, the fan-out/
// fan-in rounds, consensus, and completion. Terminal persistence is
// best-effort; the in-memory task registry is the source of truth for
// status queries.
type Orchestrator struct {
	cfg      config.Orchestrator
	health   *HealthRegistry
	registry *TaskRegistry
	memory   *MemoryService

	hub     broadcast.Broadcaster // may be nil
	queue   messagequeue.Queue    // may be nil
	metrics *otelx.Metrics        // may be nil

	mu   sync.Mutex
	runs map[string]*taskRun
}

// NewOrchestrator wires the orchestrator. hub, queue and metrics are
// optional and disabled when nil.
func NewOrchestrator(
	cfg config.Orchestrator,
	health *HealthRegistry,
	registry *TaskRegistry,
	mem *MemoryService,
	hub broadcast.Broadcaster,
	queue messagequeue.Queue,
	metrics *otelx.Metrics,
) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		health:   health,
		registry: registry,
		memory:   mem,
		hub:      hub,
		queue:    queue,
		metrics:  metrics,
		runs:     make(map[string]*taskRun),
	}
}

// Submit validates a request, admits it against the concurrency bound, and
// registers the task in queued state. Execution does not begin until Start
// is called, which lets stream consumers subscribe before the first event.
//
// Validation fails fast: an unknown or unavailable required agent rejects
// the submission before a slot is claimed.
func (o *Orchestrator) Submit(ctx context.Context, req *task.SubmitRequest) (task.Task, error) {
	if err := req.Validate(o.cfg.DefaultIterations, o.cfg.MaxIterations); err != nil {
		return task.Task{}, err
	}
	for _, name := range req.RequiredAgents {
		if !o.health.Available(name) {
			return task.Task{}, fmt.Errorf("agent %q: %w", name, domain.ErrAgentUnavailable)
		}
	}

	release, err := o.registry.Reserve()
	if err != nil {
		return task.Task{}, err
	}

	t := &task.Task{
		ID:             uuid.NewString(),
		Prompt:         req.Prompt,
		Context:        req.Context,
		RequiredAgents: req.RequiredAgents,
		MaxIterations:  req.MaxIterations,
		ConversationID: req.ConversationID,
		Status:         task.StatusQueued,
		CreatedAt:      time.Now().UTC(),
	}
	o.registry.Create(t)

	o.mu.Lock()
	o.runs[t.ID] = &taskRun{
		subscribers: make(map[int]chan event.Event),
		done:        make(chan struct{}),
		release:     release,
	}
	o.mu.Unlock()

	slog.Info("task submitted",
		"task_id", t.ID,
		"agents", t.RequiredAgents,
		"max_iterations", t.MaxIterations,
	)
	return *t, nil
}

// Start launches execution of a previously submitted task. The run is
// bounded by the configured task timeout and detached from the submitting
// request's context so that async submissions survive the HTTP request.
func (o *Orchestrator) Start(taskID string) error {
	o.mu.Lock()
	run, ok := o.runs[taskID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}

	baseCtx, cancel := context.WithCancelCause(context.Background())
	run.mu.Lock()
	run.cancel = cancel
	run.mu.Unlock()

	go func() {
		runCtx, cancelTimeout := context.WithTimeout(baseCtx, o.cfg.TaskTimeout)
		defer cancelTimeout()
		defer cancel(nil)
		o.execute(runCtx, taskID, run)

		// The registry keeps the terminal record; the run state is no
		// longer needed once the terminal event went out.
		o.mu.Lock()
		delete(o.runs, taskID)
		o.mu.Unlock()
	}()
	return nil
}

// Cancel aborts an in-flight task. Cancelling a task that already reached
// a terminal state is a no-op.
func (o *Orchestrator) Cancel(taskID string) error {
	t, err := o.registry.Get(taskID)
	if err != nil {
		return err
	}
	if t.Status.IsTerminal() {
		return nil
	}

	o.mu.Lock()
	run, ok := o.runs[taskID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}

	run.mu.Lock()
	cancel := run.cancel
	run.mu.Unlock()
	if cancel != nil {
		cancel(domain.ErrCancelled)
	}
	return nil
}

// Wait blocks until the task reaches a terminal state or ctx expires, then
// returns the final task record.
func (o *Orchestrator) Wait(ctx context.Context, taskID string) (task.Task, error) {
	o.mu.Lock()
	run, ok := o.runs[taskID]
	o.mu.Unlock()
	if !ok {
		// Already executed and cleaned up, or never submitted.
		return o.registry.Get(taskID)
	}

	select {
	case <-ctx.Done():
		return task.Task{}, ctx.Err()
	case <-run.done:
		return o.registry.Get(taskID)
	}
}

// Subscribe attaches a stream consumer to a task. Events arrive in the
// order they were emitted; the channel is closed after the terminal event.
// The returned cancel detaches the consumer.
func (o *Orchestrator) Subscribe(taskID string) (<-chan event.Event, func(), error) {
	o.mu.Lock()
	run, ok := o.runs[taskID]
	o.mu.Unlock()
	if !ok {
		return nil, nil, fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}

	ch := make(chan event.Event, subscriberBuffer)

	run.mu.Lock()
	if run.closed {
		run.mu.Unlock()
		close(ch)
		return ch, func() {}, nil
	}
	id := run.nextSub
	run.nextSub++
	run.subscribers[id] = ch
	run.mu.Unlock()

	cancel := func() {
		run.mu.Lock()
		defer run.mu.Unlock()
		if _, live := run.subscribers[id]; live {
			delete(run.subscribers, id)
			close(ch)
		}
	}
	return ch, cancel, nil
}

// execute runs the round loop for one task. It owns every status
// transition after queued.
func (o *Orchestrator) execute(ctx context.Context, taskID string, run *taskRun) {
	defer run.release()

	t, err := o.registry.Get(taskID)
	if err != nil {
		return
	}
	start := time.Now()

	ctx, taskSpan := otelx.StartTaskSpan(ctx, taskID, t.RequiredAgents)
	defer taskSpan.End()

	if err := o.registry.Transition(taskID, task.StatusRunning); err != nil {
		o.finish(ctx, run, taskID, task.StatusFailed, "internal_error", start, 0)
		return
	}
	run.mu.Lock()
	hasSubscribers := len(run.subscribers) > 0
	run.mu.Unlock()
	if hasSubscribers {
		_ = o.registry.Transition(taskID, task.StatusStreaming)
	}

	if o.metrics != nil {
		o.metrics.TasksStarted.Add(ctx, 1)
	}
	o.emit(ctx, run, event.New(taskID, event.TypeTaskStarted, event.TaskStartedPayload{
		Prompt:         t.Prompt,
		RequiredAgents: t.RequiredAgents,
		MaxIterations:  t.MaxIterations,
	}))

	baseContext := o.assembleContext(ctx, &t)
	roundContext := baseContext

	var result *consensus.Result
	for round := 1; round <= t.MaxIterations; round++ {
		roundCtx, roundSpan := otelx.StartRoundSpan(ctx, taskID, round)
		responses := o.fanOut(roundCtx, run, &t, roundContext, round)
		roundSpan.End()

		if ctx.Err() != nil {
			status, reason := abortStateFor(ctx)
			o.finish(ctx, run, taskID, status, reason, start, round)
			return
		}

		roundResult, err := consensus.Reconcile(responses, o.descriptorsFor(t.RequiredAgents), o.cfg.DefaultConfidence)
		if err != nil {
			// No usable responses this round. Remaining iterations cannot
			// help: every agent just failed against the same prompt.
			o.finish(ctx, run, taskID, task.StatusFailed, task.ReasonFor(domain.ErrAllAgentsFailed), start, round)
			return
		}
		roundResult.Rounds = round

		converged := roundResult.AgreementScore >= o.cfg.ConvergenceThreshold
		o.emit(ctx, run, event.New(taskID, event.TypeRoundCompleted, event.RoundCompletedPayload{
			Round:          round,
			AgreementScore: roundResult.AgreementScore,
			Converged:      converged,
		}))

		result = roundResult
		if converged {
			break
		}
		if round < t.MaxIterations {
			roundContext = rePromptContext(baseContext, responses)
		}
	}

	o.persistOutcome(&t, result)

	if err := o.registry.Complete(taskID, result); err != nil {
		slog.Error("failed to record task completion", "task_id", taskID, "error", err)
		return
	}
	if o.metrics != nil {
		o.metrics.TasksCompleted.Add(ctx, 1)
		o.metrics.TaskDuration.Record(ctx, time.Since(start).Seconds())
		o.metrics.RoundsPerTask.Record(ctx, int64(result.Rounds))
		o.metrics.AgreementScore.Record(ctx, result.AgreementScore)
	}
	slog.Info("task completed",
		"task_id", taskID,
		"rounds", result.Rounds,
		"agreement", result.AgreementScore,
		"duration", time.Since(start),
	)
	o.emit(ctx, run, event.New(taskID, event.TypeTaskCompleted, event.TaskCompletedPayload{Result: result}))
}

// fanOut dispatches one round to every required agent concurrently and
// collects the responses in arrival order, emitting an agent_response event
// per arrival. It always returns one response per agent.
func (o *Orchestrator) fanOut(ctx context.Context, run *taskRun, t *task.Task, roundContext string, round int) []consensus.Response {
	results := make(chan consensus.Response, len(t.RequiredAgents))
	for _, name := range t.RequiredAgents {
		go func(name string) {
			results <- o.callAgent(ctx, t, name, roundContext)
		}(name)
	}

	responses := make([]consensus.Response, 0, len(t.RequiredAgents))
	for range t.RequiredAgents {
		r := <-results
		responses = append(responses, r)
		o.emit(ctx, run, event.New(t.ID, event.TypeAgentResponse, event.AgentResponsePayload{
			Round:    round,
			Response: r,
		}))
	}
	return responses
}

// callAgent performs one bounded backend call and reports its outcome to
// the health registry.
func (o *Orchestrator) callAgent(ctx context.Context, t *task.Task, name, roundContext string) consensus.Response {
	backend, ok := o.health.Backend(name)
	if !ok || !o.health.Available(name) {
		// Validated at submit time but dropped out mid-task.
		return consensus.Response{AgentName: name, Status: consensus.StatusSkipped, Error: "agent unavailable"}
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.AgentTimeout)
	defer cancel()
	callCtx, span := otelx.StartAgentCallSpan(callCtx, t.ID, name)
	defer span.End()

	start := time.Now()
	comp, err := backend.Complete(callCtx, agentbackend.Request{Prompt: t.Prompt, Context: roundContext})
	latency := time.Since(start)

	if o.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = string(agentbackend.KindOf(err))
		}
		o.metrics.AgentCalls.Add(ctx, 1, metric.WithAttributes(
			attribute.String("agent", name),
			attribute.String("outcome", outcome),
		))
		o.metrics.AgentLatency.Record(ctx, latency.Seconds(), metric.WithAttributes(
			attribute.String("agent", name),
		))
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.health.ReportFailure(ctx, name)

		status := consensus.StatusError
		if agentbackend.KindOf(err) == agentbackend.KindTimeout {
			status = consensus.StatusTimeout
		}
		slog.Warn("agent call failed", "task_id", t.ID, "agent", name, "error", err, "latency", latency)
		return consensus.Response{
			AgentName: name,
			Latency:   latency,
			Status:    status,
			Error:     err.Error(),
		}
	}

	o.health.ReportSuccess(ctx, name)
	return consensus.Response{
		AgentName:  name,
		Content:    comp.Content,
		Confidence: comp.Confidence,
		Latency:    latency,
		Status:     consensus.StatusOK,
	}
}

// finish records a terminal failure and emits the task_failed event.
func (o *Orchestrator) finish(ctx context.Context, run *taskRun, taskID string, status task.Status, reason string, start time.Time, rounds int) {
	if err := o.registry.Finish(taskID, status, reason); err != nil {
		slog.Error("failed to record task failure", "task_id", taskID, "error", err)
	}
	if o.metrics != nil {
		o.metrics.TasksFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
		o.metrics.TaskDuration.Record(ctx, time.Since(start).Seconds())
		if rounds > 0 {
			o.metrics.RoundsPerTask.Record(ctx, int64(rounds))
		}
	}
	slog.Warn("task failed", "task_id", taskID, "status", status, "reason", reason)
	o.emit(ctx, run, event.New(taskID, event.TypeTaskFailed, event.TaskFailedPayload{Reason: reason}))
}

// abortStateFor maps a dead run context to the terminal status and reason:
// client cancellation fails the task, deadline expiry times it out.
func abortStateFor(ctx context.Context) (task.Status, string) {
	if errors.Is(context.Cause(ctx), domain.ErrCancelled) {
		return task.StatusFailed, task.ReasonFor(domain.ErrCancelled)
	}
	return task.StatusTimedOut, task.ReasonFor(domain.ErrTaskTimeout)
}

// assembleContext joins the conversation transcript with the caller's
// ad-hoc context. Memory read failures degrade to running without history.
func (o *Orchestrator) assembleContext(ctx context.Context, t *task.Task) string {
	var parts []string
	if t.ConversationID != "" {
		transcript, err := o.memory.Context(ctx, t.ConversationID)
		if err != nil {
			slog.Warn("failed to load conversation memory", "task_id", t.ID, "conversation_id", t.ConversationID, "error", err)
		} else if transcript != "" {
			parts = append(parts, "Conversation so far:\n"+transcript)
		}
	}
	if t.Context != "" {
		parts = append(parts, t.Context)
	}
	return strings.Join(parts, "\n\n")
}

// rePromptContext extends the base context with the previous round's peer
// answers so agents can revise toward each other.
func rePromptContext(baseContext string, responses []consensus.Response) string {
	var sb strings.Builder
	if baseContext != "" {
		sb.WriteString(baseContext)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Other agents answered the same prompt as follows. Reconsider your answer; keep it if you still believe it is right.\n")
	for _, r := range responses {
		if r.Status != consensus.StatusOK {
			continue
		}
		fmt.Fprintf(&sb, "\n[%s]\n%s\n", r.AgentName, r.Content)
	}
	return sb.String()
}

// persistOutcome appends the task prompt and the final answer to the
// conversation. Persistence failures are logged, not fatal: the result has
// already been computed and will be returned from the registry.
func (o *Orchestrator) persistOutcome(t *task.Task, result *consensus.Result) {
	if t.ConversationID == "" || result == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	entries := []*memory.Entry{
		{ConversationID: t.ConversationID, Role: memory.RoleTask, Content: t.Prompt},
		{ConversationID: t.ConversationID, Role: memory.RoleConsensus, Content: result.FinalAnswer},
	}
	for _, e := range entries {
		if err := o.memory.Append(ctx, e); err != nil {
			slog.Error("failed to persist task memory", "task_id", t.ID, "error", err)
			return
		}
	}
}

// emit delivers one event to the task's subscribers, the websocket hub, and
// the message queue. A slow subscriber is dropped rather than stalling the
// task. The terminal event closes every subscriber channel.
func (o *Orchestrator) emit(ctx context.Context, run *taskRun, ev event.Event) {
	run.mu.Lock()
	for id, ch := range run.subscribers {
		select {
		case ch <- ev:
		default:
			slog.Warn("dropping slow stream subscriber", "task_id", ev.TaskID, "subscriber", id)
			delete(run.subscribers, id)
			close(ch)
		}
	}
	if ev.Type.IsTerminal() {
		for _, ch := range run.subscribers {
			close(ch)
		}
		run.subscribers = make(map[int]chan event.Event)
		run.closed = true
	}
	run.mu.Unlock()

	if ev.Type.IsTerminal() {
		close(run.done)
	}

	// Terminal events on timeout and cancel paths arrive with a dead run
	// context; delivery still has to happen.
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}

	if o.hub != nil {
		o.hub.BroadcastEvent(ctx, ev)
	}
	if o.queue != nil {
		if data, err := json.Marshal(ev); err == nil {
			subject := messagequeue.SubjectTaskEvents + "." + ev.TaskID
			if err := o.queue.Publish(ctx, subject, data); err != nil {
				slog.Warn("failed to publish task event", "task_id", ev.TaskID, "type", ev.Type, "error", err)
			}
		}
	}
}

// descriptorsFor collects the current descriptors of the named agents.
func (o *Orchestrator) descriptorsFor(names []string) map[string]agent.Descriptor {
	out := make(map[string]agent.Descriptor, len(names))
	for _, name := range names {
		if d, ok := o.health.Descriptor(name); ok {
			out[name] = d
		}
	}
	return out
}
