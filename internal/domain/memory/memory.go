// Package memory provides the append-only conversation memory model.
// Entries are never mutated or deleted by the core; retention is an
// external concern.
package memory

import (
	"fmt"
	"slices"
	"time"

	"github.com/Strob0t/Concord/internal/domain"
)

// Role categorizes who produced a memory entry.
type Role string

const (
	RoleTask      Role = "task"
	RoleAgent     Role = "agent"
	RoleConsensus Role = "consensus"
)

// ValidRoles lists all valid entry roles.
var ValidRoles = []Role{RoleTask, RoleAgent, RoleConsensus}

// Entry is a single record in a conversation's history.
type Entry struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	AgentName      string    `json:"agent_name,omitempty"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"created_at"`
}

// Validate checks that an Entry has all required fields.
func (e *Entry) Validate() error {
	if e.ConversationID == "" {
		return fmt.Errorf("%w: conversation_id is required", domain.ErrValidation)
	}
	if e.Content == "" {
		return fmt.Errorf("%w: content is required", domain.ErrValidation)
	}
	if !slices.Contains(ValidRoles, e.Role) {
		return fmt.Errorf("%w: invalid role %q", domain.ErrValidation, e.Role)
	}
	return nil
}
