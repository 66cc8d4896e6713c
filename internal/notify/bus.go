// SPDX-License-Identifier: Apache-2.0

// Package notify fans lifecycle messages out to in-process subscribers and
// outbound webhooks.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/adiadia/approval-workflow/internal/domain"
)

const (
	Topic = "workflow.lifecycle"

	eventTypeMetadataKey = "event_type"
	instanceMetadataKey  = "instance_id"
)

// Handler consumes one lifecycle message.
type Handler func(ctx context.Context, msg domain.LifecycleMessage) error

// Bus is an in-memory lifecycle message bus backed by a watermill GoChannel.
type Bus struct {
	pubSub *gochannel.GoChannel
	logger *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}

	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer: 256,
		},
		watermill.NewSlogLogger(logger),
	)

	return &Bus{
		pubSub: pubSub,
		logger: logger,
	}
}

func (b *Bus) Publish(ctx context.Context, msg domain.LifecycleMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal lifecycle message: %w", err)
	}

	wm := message.NewMessage(watermill.NewUUID(), payload)
	wm.Metadata.Set(eventTypeMetadataKey, string(msg.Type))
	wm.Metadata.Set(instanceMetadataKey, msg.InstanceID.String())
	wm.SetContext(ctx)

	return b.pubSub.Publish(Topic, wm)
}

// Consume subscribes to the lifecycle topic and calls handler for every
// message until ctx is cancelled. Handler errors are logged and the message
// is acknowledged; delivery retries belong to the handler.
func (b *Bus) Consume(ctx context.Context, handler Handler) error {
	messages, err := b.pubSub.Subscribe(ctx, Topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", Topic, err)
	}

	for wm := range messages {
		var msg domain.LifecycleMessage
		if err := json.Unmarshal(wm.Payload, &msg); err != nil {
			b.logger.Error("decode lifecycle message failed",
				"message_id", wm.UUID,
				"error", err,
			)
			wm.Ack()
			continue
		}

		if err := handler(ctx, msg); err != nil {
			b.logger.Error("lifecycle handler failed",
				"message_id", wm.UUID,
				"instance_id", msg.InstanceID,
				"type", msg.Type,
				"error", err,
			)
		}
		wm.Ack()
	}

	return ctx.Err()
}

func (b *Bus) Close() error {
	return b.pubSub.Close()
}
