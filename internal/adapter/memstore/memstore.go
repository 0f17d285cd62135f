// Package memstore implements the memorystore port in process memory, for
// single-process deployments and tests.
package memstore

import (
	"context"
	"sync"

	"github.com/Strob0t/Concord/internal/domain/memory"
)

// Store is an append-only in-memory conversation store.
type Store struct {
	mu      sync.RWMutex
	entries map[string][]memory.Entry // conversation_id -> entries in append order
}

// New creates an empty Store.
func New() *Store {
	return &Store{entries: make(map[string][]memory.Entry)}
}

// Append adds an entry to its conversation.
func (s *Store) Append(_ context.Context, e *memory.Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.ConversationID] = append(s.entries[e.ConversationID], *e)
	return nil
}

// Query returns a copy of a conversation's entries in append order.
func (s *Store) Query(_ context.Context, conversationID string) ([]memory.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.entries[conversationID]
	if len(stored) == 0 {
		return nil, nil
	}
	result := make([]memory.Entry, len(stored))
	copy(result, stored)
	return result, nil
}
