package ports

import (
	"context"

	"github.com/frak-labs/framesession/core"
)

// Emitter delivers lifecycle events to the other side of the frame boundary
type Emitter interface {
	Emit(ctx context.Context, event core.Event) error
}

// EventPublisher publishes backend events to notify other instances
type EventPublisher interface {
	PublishLogout(ctx context.Context, address string, tokenID string) error
	PublishInteractions(ctx context.Context, wallet string, interactions []core.PendingInteraction) ([]string, error)
}
