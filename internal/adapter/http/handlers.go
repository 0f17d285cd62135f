package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/Concord/internal/domain/agent"
	"github.com/Strob0t/Concord/internal/domain/consensus"
	"github.com/Strob0t/Concord/internal/domain/task"
)

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status      string            `json:"status"`
	Agents      map[string]string `json:"agents"`
	ActiveTasks int               `json:"active_tasks"`
	Timestamp   time.Time         `json:"timestamp"`
}

// executeResponse is the body of POST /execute. The embedded result
// flattens final_answer, confidence, agreement_score and
// per_agent_contributions into the envelope on success and contributes
// nothing on failure.
type executeResponse struct {
	TaskID string      `json:"task_id"`
	Status task.Status `json:"status"`
	Reason string      `json:"reason,omitempty"`
	*consensus.Result
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snapshot := s.health.Snapshot()

	agents := make(map[string]string, len(snapshot))
	degraded := false
	for name, availability := range snapshot {
		state := "unhealthy"
		if availability == agent.Available {
			state = "healthy"
		}
		agents[name] = state
		if availability != agent.Available {
			degraded = true
		}
	}

	active := 0
	for _, t := range s.registry.List() {
		if !t.Status.IsTerminal() {
			active++
		}
	}

	status := "ok"
	if degraded {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:      status,
		Agents:      agents,
		ActiveTasks: active,
		Timestamp:   time.Now().UTC(),
	})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	descriptors := s.health.Descriptors()
	writeJSON(w, http.StatusOK, map[string]any{
		"models": descriptors,
		"total":  len(descriptors),
	})
}

// handleExecute submits a consensus task. By default the call blocks until
// the task reaches a terminal state and returns the full record. With
// "async": true it returns 202 immediately; the caller polls the task
// endpoint or subscribes over NATS or the websocket feed.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req task.SubmitRequest
	if err := readJSON(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	t, err := s.orch.Submit(r.Context(), &req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := s.orch.Start(t.ID); err != nil {
		writeDomainError(w, err)
		return
	}

	if req.Async {
		writeJSON(w, http.StatusAccepted, executeResponse{TaskID: t.ID, Status: task.StatusRunning})
		return
	}

	final, err := s.orch.Wait(r.Context(), t.ID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Client went away; the task keeps running to completion.
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, executeResponse{
		TaskID: final.ID,
		Status: final.Status,
		Reason: final.Reason,
		Result: final.Result,
	})
}

// handleStream submits a task and streams its events as SSE frames until
// the terminal event. A client disconnect detaches the stream without
// aborting the task.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var req task.SubmitRequest
	if err := readJSON(r, &req); err != nil {
		writeDomainError(w, err)
		return
	}

	t, err := s.orch.Submit(r.Context(), &req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	// Subscribe before Start so the task_started frame cannot be missed.
	events, unsubscribe, err := s.orch.Subscribe(t.ID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	defer unsubscribe()

	if err := s.orch.Start(t.ID); err != nil {
		writeDomainError(w, err)
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := sse.WriteEvent(ev); err != nil {
				slog.Debug("stream client write failed", "task_id", t.ID, "error", err)
				return
			}
		}
	}
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.orch.Cancel(id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id, "status": "cancelling"})
}
