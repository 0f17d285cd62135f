// Package service contains the orchestration core: memory, health registry,
// task registry, and the orchestrator itself.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/Concord/internal/domain/memory"
	"github.com/Strob0t/Concord/internal/port/cache"
	"github.com/Strob0t/Concord/internal/port/memorystore"
)

// MemoryService manages append-only conversation memory. Reads of the
// assembled context go through an L1 cache invalidated on every append.
type MemoryService struct {
	store memorystore.Store
	cache cache.Cache // may be nil
	ttl   time.Duration
}

// NewMemoryService creates a MemoryService. The cache is optional.
func NewMemoryService(store memorystore.Store, c cache.Cache, ttl time.Duration) *MemoryService {
	return &MemoryService{store: store, cache: c, ttl: ttl}
}

// Append validates and persists a new entry, then invalidates the cached
// context of its conversation.
func (s *MemoryService) Append(ctx context.Context, e *memory.Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if err := e.Validate(); err != nil {
		return fmt.Errorf("validate memory entry: %w", err)
	}

	if err := s.store.Append(ctx, e); err != nil {
		return fmt.Errorf("append memory entry: %w", err)
	}

	if s.cache != nil {
		_ = s.cache.Delete(ctx, contextKey(e.ConversationID))
	}

	slog.Debug("memory entry appended", "conversation_id", e.ConversationID, "role", e.Role)
	return nil
}

// History returns all entries of a conversation in append order.
func (s *MemoryService) History(ctx context.Context, conversationID string) ([]memory.Entry, error) {
	return s.store.Query(ctx, conversationID)
}

// Context returns the conversation transcript formatted for prepending to
// an agent prompt. Empty conversation IDs yield an empty context.
func (s *MemoryService) Context(ctx context.Context, conversationID string) (string, error) {
	if conversationID == "" {
		return "", nil
	}

	key := contextKey(conversationID)
	if s.cache != nil {
		if cached, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			return cached, nil
		}
	}

	entries, err := s.store.Query(ctx, conversationID)
	if err != nil {
		return "", fmt.Errorf("query conversation %s: %w", conversationID, err)
	}
	transcript := FormatTranscript(entries)

	if s.cache != nil && transcript != "" {
		_ = s.cache.Set(ctx, key, transcript, s.ttl)
	}
	return transcript, nil
}

// FormatTranscript renders memory entries as a plain-text transcript.
func FormatTranscript(entries []memory.Entry) string {
	if len(entries) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, e := range entries {
		label := string(e.Role)
		if e.Role == memory.RoleAgent && e.AgentName != "" {
			label = "agent " + e.AgentName
		}
		fmt.Fprintf(&sb, "[%s] %s\n", label, e.Content)
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

func contextKey(conversationID string) string {
	return "convctx:" + conversationID
}
