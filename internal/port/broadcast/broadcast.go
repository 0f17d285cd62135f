// Package broadcast defines the port for broadcasting real-time events to
// connected clients.
package broadcast

import (
	"context"

	"github.com/Strob0t/Concord/internal/domain/event"
)

// Broadcaster sends stream events to all connected clients.
type Broadcaster interface {
	// BroadcastEvent sends a task stream event to all connected clients.
	BroadcastEvent(ctx context.Context, ev event.Event)
}
