package eventbus

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/flowlane/flowlane/pkg/events"
)

type WatermillEventBus struct {
	publisher     message.Publisher
	subscriber    message.Subscriber
	subscriptions map[events.EventType]EventHandler
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber) EventBus {
	return &WatermillEventBus{
		publisher:     pub,
		subscriber:    sub,
		subscriptions: make(map[events.EventType]EventHandler),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	return eb.publisher.Publish(topicFor(event.GetType()), msg)
}

// topicFor routes enrollment lifecycle events to their own topic so
// downstream consumers can follow journeys without reading raw activity.
func topicFor(eventType events.EventType) string {
	switch eventType {
	case events.EnrollmentCreatedEvent,
		events.EnrollmentCompletedEvent,
		events.EnrollmentExitedEvent,
		events.EnrollmentFailedEvent:
		return events.EnrollmentTopic
	default:
		return events.ContactActivityTopic
	}
}

func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	messages, err := eb.subscriber.Subscribe(ctx, events.ContactActivityTopic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			var event any

			eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

			handler, exists := eb.subscriptions[eventType]
			if !exists {
				msg.Ack()

				continue
			}

			switch eventType {
			case events.ListSubscribedEvent:
				event = &events.ListSubscribed{}
			case events.ListUnsubscribedEvent:
				event = &events.ListUnsubscribed{}
			case events.TagAddedEvent:
				event = &events.TagAdded{}
			case events.TagRemovedEvent:
				event = &events.TagRemoved{}
			case events.EmailOpenedEvent:
				event = &events.EmailOpened{}
			case events.LinkClickedEvent:
				event = &events.LinkClicked{}
			case events.WebhookReceivedEvent:
				event = &events.WebhookReceived{}
			case events.DateFieldDueEvent:
				event = &events.DateFieldDue{}
			case events.InactivityEvent:
				event = &events.Inactivity{}
			case events.EnrollmentCreatedEvent:
				event = &events.EnrollmentCreated{}
			case events.EnrollmentCompletedEvent:
				event = &events.EnrollmentCompleted{}
			case events.EnrollmentExitedEvent:
				event = &events.EnrollmentExited{}
			case events.EnrollmentFailedEvent:
				event = &events.EnrollmentFailed{}
			default:
				msg.Nack()

				continue
			}

			err := json.Unmarshal(msg.Payload, event)
			if err != nil {
				msg.Nack()

				continue
			}

			err = handler(ctx, event)
			if err != nil {
				msg.Nack()

				continue
			}

			msg.Ack()
		}
	}()

	return nil
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.subscriptions[eventType] = handler

	return nil
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}
