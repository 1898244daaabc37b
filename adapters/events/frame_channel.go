package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/frak-labs/framesession/core"
)

// MetadataOrigin carries the origin of the frame that emitted an event
const MetadataOrigin = "origin"

// FrameChannel carries lifecycle events across the frame boundary over a
// watermill topic. One side emits on a topic the other side listens to.
type FrameChannel struct {
	publisher message.Publisher
	topic     string
	origin    string
}

// NewFrameChannel creates an emitter publishing to topic. origin is attached
// to every message so the receiver can check where it came from.
func NewFrameChannel(publisher message.Publisher, topic, origin string) *FrameChannel {
	return &FrameChannel{
		publisher: publisher,
		topic:     topic,
		origin:    origin,
	}
}

// Emit publishes one lifecycle event
func (c *FrameChannel) Emit(ctx context.Context, event core.Event) error {
	payload, err := core.EncodeEvent(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetadataOrigin, c.origin)
	msg.SetContext(ctx)

	if err := c.publisher.Publish(c.topic, msg); err != nil {
		return fmt.Errorf("failed to publish lifecycle event: %w", err)
	}

	return nil
}

// Listen subscribes to topic and decodes every message into a core.Message.
// Malformed envelopes are acked and dropped. The returned channel is closed
// once the subscription ends.
func Listen(ctx context.Context, subscriber message.Subscriber, topic string, logger *slog.Logger) (<-chan core.Message, error) {
	if logger == nil {
		logger = slog.Default()
	}

	msgs, err := subscriber.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	out := make(chan core.Message)
	go func() {
		defer close(out)
		for msg := range msgs {
			event, err := core.DecodeEvent(msg.Payload)
			if err != nil {
				logger.Warn("dropping lifecycle message", "topic", topic, "uuid", msg.UUID, "error", err)
				msg.Ack()
				continue
			}

			select {
			case out <- core.Message{Origin: msg.Metadata.Get(MetadataOrigin), Event: event}:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()

	return out, nil
}
