package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Strob0t/Concord/internal/config"
	"github.com/Strob0t/Concord/internal/domain"
	"github.com/Strob0t/Concord/internal/domain/consensus"
	"github.com/Strob0t/Concord/internal/domain/task"
)

// TaskRegistry tracks every task by ID and bounds the number of concurrently
// executing tasks with a weighted semaphore. Acquisition never blocks: when
// no slot is free the submission is rejected immediately.
type TaskRegistry struct {
	sem *semaphore.Weighted

	mu    sync.RWMutex
	tasks map[string]*task.Task

	ttl        time.Duration
	gcInterval time.Duration

	now func() time.Time
}

// NewTaskRegistry creates a registry bounded by cfg.MaxConcurrentTasks.
func NewTaskRegistry(cfg config.Orchestrator) *TaskRegistry {
	return &TaskRegistry{
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrentTasks)),
		tasks:      make(map[string]*task.Task),
		ttl:        cfg.TaskTTL,
		gcInterval: cfg.GCInterval,
		now:        time.Now,
	}
}

// Reserve claims an execution slot. It fails fast with
// domain.ErrCapacityExceeded when all slots are taken. The returned release
// function is safe to call more than once.
func (r *TaskRegistry) Reserve() (func(), error) {
	if !r.sem.TryAcquire(1) {
		return nil, domain.ErrCapacityExceeded
	}
	var once sync.Once
	return func() { once.Do(func() { r.sem.Release(1) }) }, nil
}

// Create stores a new task record.
func (r *TaskRegistry) Create(t *task.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tasks[t.ID] = t
}

// Get returns a copy of the task with the given ID.
func (r *TaskRegistry) Get(id string) (task.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok {
		return task.Task{}, fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	return *t, nil
}

// List returns all known tasks, newest first.
func (r *TaskRegistry) List() []task.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]task.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Transition moves a task to the next status. Transitions only go forward;
// transitioning an already-terminal task to any terminal status is an
// idempotent no-op, any other backward move is rejected.
func (r *TaskRegistry) Transition(id string, next task.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return fmt.Errorf("task %s: %w", id, domain.ErrNotFound)
	}
	if t.Status == next {
		return nil
	}
	if t.Status.IsTerminal() && next.IsTerminal() {
		// A task settles exactly once; later terminal reports are retries.
		return nil
	}
	if !t.Status.CanTransition(next) {
		return fmt.Errorf("transition %s -> %s: %w", t.Status, next, domain.ErrValidation)
	}
	t.Status = next
	if next.IsTerminal() {
		t.CompletedAt = r.now().UTC()
	}
	return nil
}

// Complete marks a task completed and attaches the consensus result.
func (r *TaskRegistry) Complete(id string, result *consensus.Result) error {
	if err := r.Transition(id, task.StatusCompleted); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[id]; ok && t.Status == task.StatusCompleted && t.Result == nil {
		t.Result = result
	}
	return nil
}

// Finish marks a task with a terminal failure status and its reason code.
func (r *TaskRegistry) Finish(id string, status task.Status, reason string) error {
	if err := r.Transition(id, status); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[id]; ok && t.Status == status && t.Reason == "" {
		t.Reason = reason
	}
	return nil
}

// StartGC launches the background sweep that evicts terminal tasks older
// than the configured TTL. The loop stops when ctx is cancelled.
func (r *TaskRegistry) StartGC(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.gcInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := r.sweep(); n > 0 {
					slog.Debug("task registry swept", "evicted", n)
				}
			}
		}
	}()
}

func (r *TaskRegistry) sweep() int {
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	defer r.mu.Unlock()

	evicted := 0
	for id, t := range r.tasks {
		if t.Status.IsTerminal() && !t.CompletedAt.IsZero() && t.CompletedAt.Before(cutoff) {
			delete(r.tasks, id)
			evicted++
		}
	}
	return evicted
}
