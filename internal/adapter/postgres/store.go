package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/Concord/internal/domain/memory"
)

// Store implements the memorystore port backed by PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store using the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Append inserts a new memory entry. Entries are never updated or deleted
// by the core.
func (s *Store) Append(ctx context.Context, e *memory.Entry) error {
	const q = `
		INSERT INTO memory_entries (id, conversation_id, role, agent_name, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := s.pool.Exec(ctx, q,
		e.ID, e.ConversationID, string(e.Role), e.AgentName, e.Content, e.CreatedAt,
	); err != nil {
		return fmt.Errorf("append memory entry: %w", err)
	}
	return nil
}

// Query returns all entries of a conversation in creation order.
func (s *Store) Query(ctx context.Context, conversationID string) ([]memory.Entry, error) {
	const q = `
		SELECT id, conversation_id, role, agent_name, content, created_at
		FROM memory_entries
		WHERE conversation_id = $1
		ORDER BY created_at`

	rows, err := s.pool.Query(ctx, q, conversationID)
	if err != nil {
		return nil, fmt.Errorf("query memory entries: %w", err)
	}
	defer rows.Close()

	var result []memory.Entry
	for rows.Next() {
		var e memory.Entry
		var role string
		if err := rows.Scan(&e.ID, &e.ConversationID, &role, &e.AgentName, &e.Content, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory entry: %w", err)
		}
		e.Role = memory.Role(role)
		result = append(result, e)
	}
	return result, rows.Err()
}
