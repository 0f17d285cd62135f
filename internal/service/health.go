package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Strob0t/Concord/internal/config"
	"github.com/Strob0t/Concord/internal/domain/agent"
	"github.com/Strob0t/Concord/internal/port/agentbackend"
	"github.com/Strob0t/Concord/internal/port/messagequeue"
)

// agentState tracks a registered agent and its health counters.
type agentState struct {
	descriptor agent.Descriptor
	backend    agentbackend.Backend
	available  bool
	failures   int
}

// HealthRegistry holds every configured agent, tracks consecutive failures,
// and flips availability when the threshold is crossed. A background probe
// loop periodically re-checks unavailable agents and restores them on a
// successful health check.
type HealthRegistry struct {
	mu     sync.RWMutex
	agents map[string]*agentState

	threshold     int
	probeInterval time.Duration
	probeTimeout  time.Duration

	queue messagequeue.Queue // may be nil
}

// NewHealthRegistry creates an empty registry with the given health policy.
func NewHealthRegistry(cfg config.Health, queue messagequeue.Queue) *HealthRegistry {
	return &HealthRegistry{
		agents:        make(map[string]*agentState),
		threshold:     cfg.FailureThreshold,
		probeInterval: cfg.ProbeInterval,
		probeTimeout:  10 * time.Second,
		queue:         queue,
	}
}

// Register adds an agent to the registry. Agents start available.
func (r *HealthRegistry) Register(desc agent.Descriptor, backend agentbackend.Backend) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[desc.Name]; ok {
		return fmt.Errorf("agent %q already registered", desc.Name)
	}
	desc.Status = agent.Available
	r.agents[desc.Name] = &agentState{descriptor: desc, backend: backend, available: true}
	return nil
}

// Backend returns the backend of a registered agent.
func (r *HealthRegistry) Backend(name string) (agentbackend.Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.agents[name]
	if !ok {
		return nil, false
	}
	return st.backend, true
}

// Descriptor returns the descriptor of a registered agent with its current
// availability filled in.
func (r *HealthRegistry) Descriptor(name string) (agent.Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.agents[name]
	if !ok {
		return agent.Descriptor{}, false
	}
	return st.currentDescriptor(), true
}

// Descriptors returns all registered agents sorted by name.
func (r *HealthRegistry) Descriptors() []agent.Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]agent.Descriptor, 0, len(r.agents))
	for _, st := range r.agents {
		out = append(out, st.currentDescriptor())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (st *agentState) currentDescriptor() agent.Descriptor {
	d := st.descriptor
	if st.available {
		d.Status = agent.Available
	} else {
		d.Status = agent.Unavailable
	}
	return d
}

// Available reports whether the named agent is registered and healthy.
func (r *HealthRegistry) Available(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st, ok := r.agents[name]
	return ok && st.available
}

// Snapshot returns the availability of every registered agent.
func (r *HealthRegistry) Snapshot() map[string]agent.Availability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]agent.Availability, len(r.agents))
	for name, st := range r.agents {
		if st.available {
			out[name] = agent.Available
		} else {
			out[name] = agent.Unavailable
		}
	}
	return out
}

// ReportSuccess resets the failure counter and restores availability.
func (r *HealthRegistry) ReportSuccess(ctx context.Context, name string) {
	r.mu.Lock()
	st, ok := r.agents[name]
	if !ok {
		r.mu.Unlock()
		return
	}
	st.failures = 0
	changed := !st.available
	st.available = true
	r.mu.Unlock()

	if changed {
		slog.Info("agent restored", "agent", name)
		r.publishHealth(ctx, name, true, 0)
	}
}

// ReportFailure bumps the consecutive failure counter and marks the agent
// unavailable once the threshold is reached.
func (r *HealthRegistry) ReportFailure(ctx context.Context, name string) {
	r.mu.Lock()
	st, ok := r.agents[name]
	if !ok {
		r.mu.Unlock()
		return
	}
	st.failures++
	failures := st.failures
	changed := st.available && failures >= r.threshold
	if changed {
		st.available = false
	}
	r.mu.Unlock()

	if changed {
		slog.Warn("agent marked unavailable", "agent", name, "consecutive_failures", failures)
		r.publishHealth(ctx, name, false, failures)
	}
}

// StartProbe launches the recovery probe loop. It returns immediately; the
// loop stops when ctx is cancelled.
func (r *HealthRegistry) StartProbe(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.probeInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.probeUnavailable(ctx)
			}
		}
	}()
}

func (r *HealthRegistry) probeUnavailable(ctx context.Context) {
	r.mu.RLock()
	var candidates []*agentState
	for _, st := range r.agents {
		if !st.available {
			candidates = append(candidates, st)
		}
	}
	r.mu.RUnlock()

	for _, st := range candidates {
		name := st.descriptor.Name
		probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
		err := st.backend.HealthCheck(probeCtx)
		cancel()

		if err != nil {
			slog.Debug("recovery probe failed", "agent", name, "error", err)
			continue
		}
		r.ReportSuccess(ctx, name)
	}
}

func (r *HealthRegistry) publishHealth(ctx context.Context, name string, available bool, failures int) {
	if r.queue == nil {
		return
	}
	payload, err := json.Marshal(messagequeue.AgentHealthPayload{
		Agent:     name,
		Available: available,
		Failures:  failures,
	})
	if err != nil {
		return
	}
	if err := r.queue.Publish(ctx, messagequeue.SubjectAgentHealth+"."+name, payload); err != nil {
		slog.Warn("failed to publish agent health", "agent", name, "error", err)
	}
}
