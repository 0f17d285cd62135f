// Package memorystore defines the port for the append-only conversation
// memory store.
package memorystore

import (
	"context"

	"github.com/Strob0t/Concord/internal/domain/memory"
)

// Store persists conversation memory entries. Entries are append-only;
// Query returns them in creation order.
type Store interface {
	Append(ctx context.Context, entry *memory.Entry) error
	Query(ctx context.Context, conversationID string) ([]memory.Entry, error)
}
