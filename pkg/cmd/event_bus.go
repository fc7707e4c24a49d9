package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/flowlane/flowlane/pkg/channels/gochannel"
	"github.com/flowlane/flowlane/pkg/channels/kafka"
	"github.com/flowlane/flowlane/pkg/eventbus"
)

// NewEventBus creates the event bus for the given provider. The gochannel
// provider is in-process only and meant for development.
func NewEventBus(provider, serviceName string, logger *slog.Logger) (eventbus.EventBus, error) {
	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), serviceName)
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil
	case "gochannel", "":
		pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create GoChannel pub/sub: %w", err)
		}

		return eventbus.NewWatermillEventBus(pub, sub), nil
	default:
		return nil, fmt.Errorf("unsupported event bus provider: %s", provider)
	}
}
