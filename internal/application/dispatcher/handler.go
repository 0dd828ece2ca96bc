package dispatcher

import (
	"context"

	"github.com/garyjia/execution-gate/internal/domain/event"
)

// Handler processes domain events
type Handler func(ctx context.Context, evt *event.Event) error

// HandlerInfo contains handler metadata for debugging
type HandlerInfo struct {
	Name      string
	EventType event.Type
	Handler   Handler
}

// AnyType subscribes a handler to every event type. Audit sinks and
// notifiers use it instead of registering once per type.
const AnyType event.Type = "*"
