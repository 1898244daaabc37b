package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/frak-labs/framesession/core"
	"github.com/frak-labs/framesession/ports"
)

const (
	TopicLogout       = "framesession.logout"
	TopicInteractions = "framesession.interactions"
)

// LogoutEvent represents a logout event
type LogoutEvent struct {
	Address string `json:"address"`
	TokenID string `json:"token_id"`
}

// InteractionEvent is one interaction accepted for a wallet
type InteractionEvent struct {
	Wallet      string                  `json:"wallet"`
	Interaction core.PendingInteraction `json:"interaction"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{publisher: publisher}
}

// PublishLogout publishes a logout event
func (p *WatermillPublisher) PublishLogout(ctx context.Context, address string, tokenID string) error {
	payload, err := json.Marshal(LogoutEvent{
		Address: address,
		TokenID: tokenID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(tokenID, payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(TopicLogout, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// PublishInteractions publishes one message per interaction and returns their ids
func (p *WatermillPublisher) PublishInteractions(ctx context.Context, wallet string, interactions []core.PendingInteraction) ([]string, error) {
	msgs := make([]*message.Message, 0, len(interactions))
	ids := make([]string, 0, len(interactions))

	for _, interaction := range interactions {
		payload, err := json.Marshal(InteractionEvent{
			Wallet:      wallet,
			Interaction: interaction,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal interaction: %w", err)
		}

		msg := message.NewMessage(watermill.NewUUID(), payload)
		msg.SetContext(ctx)
		msgs = append(msgs, msg)
		ids = append(ids, msg.UUID)
	}

	if len(msgs) == 0 {
		return ids, nil
	}

	if err := p.publisher.Publish(TopicInteractions, msgs...); err != nil {
		return nil, fmt.Errorf("failed to publish interactions: %w", err)
	}

	return ids, nil
}
