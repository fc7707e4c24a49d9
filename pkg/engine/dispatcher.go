package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/flowlane/flowlane/pkg/eventbus"
	"github.com/flowlane/flowlane/pkg/events"
	"github.com/flowlane/flowlane/pkg/models"
	"github.com/flowlane/flowlane/pkg/persistence"
)

// Dispatcher turns contact activity events into enrollments. It is a pure
// bus subscriber: it knows trigger matching and admission, nothing about
// how events are delivered. Duplicate delivery is absorbed by admission.
type Dispatcher struct {
	persistence persistence.Persistence
	admission   *Admission
	logger      *slog.Logger
}

func NewDispatcher(p persistence.Persistence, admission *Admission, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		persistence: p,
		admission:   admission,
		logger:      logger.With("module", "dispatcher"),
	}
}

// RegisterHandlers subscribes the dispatcher to every trigger-bearing
// event type on the bus.
func (d *Dispatcher) RegisterHandlers(bus eventbus.EventSubscriber) error {
	types := []events.EventType{
		events.ListSubscribedEvent,
		events.TagAddedEvent,
		events.TagRemovedEvent,
		events.EmailOpenedEvent,
		events.LinkClickedEvent,
		events.WebhookReceivedEvent,
		events.DateFieldDueEvent,
		events.InactivityEvent,
	}

	for _, eventType := range types {
		err := bus.Handle(eventType, func(ctx context.Context, event interface{}) error {
			_, err := d.Dispatch(ctx, event)

			return err
		})
		if err != nil {
			return fmt.Errorf("failed to register handler for %s: %w", eventType, err)
		}
	}

	return nil
}

// Dispatch enrolls the event's contact into every active automation whose
// trigger matches. Returns the count of enrollments created.
func (d *Dispatcher) Dispatch(ctx context.Context, event any) (int, error) {
	triggerType, contactID, match := d.classify(event)
	if triggerType == "" {
		d.logger.WarnContext(ctx, "Ignoring unrecognized event", "event", fmt.Sprintf("%T", event))

		return 0, nil
	}

	if contactID == "" {
		return 0, nil
	}

	candidates, err := d.persistence.Automations().ActiveByTriggerType(ctx, triggerType)
	if err != nil {
		return 0, fmt.Errorf("failed to load candidate automations: %w", err)
	}

	created := 0

	for _, automation := range candidates {
		if !match(automation) {
			continue
		}

		_, err := d.admission.Enroll(ctx, automation, contactID, eventMetadata(event))
		if err != nil {
			if errors.Is(err, ErrNotAdmitted) {
				continue
			}

			d.logger.ErrorContext(ctx, "Failed to enroll contact",
				"automation_id", automation.ID,
				"contact_id", contactID,
				"error", err)

			continue
		}

		created++
	}

	return created, nil
}

// classify maps an event to its trigger type, contact and a per-automation
// trigger_config matcher. Matching is exact equality per trigger kind.
func (d *Dispatcher) classify(event any) (models.TriggerType, string, func(*models.Automation) bool) {
	switch e := asValue(event).(type) {
	case events.ListSubscribed:
		return models.TriggerListSubscription, e.ContactID, func(a *models.Automation) bool {
			listID, ok := configInt64(a.TriggerConfig, "list_id")

			return ok && listID == e.ListID
		}
	case events.TagAdded:
		return models.TriggerTagAdded, e.ContactID, func(a *models.Automation) bool {
			return configString(a.TriggerConfig, "tag") == e.Tag
		}
	case events.TagRemoved:
		return models.TriggerTagRemoved, e.ContactID, func(a *models.Automation) bool {
			return configString(a.TriggerConfig, "tag") == e.Tag
		}
	case events.EmailOpened:
		return models.TriggerEmailOpened, e.ContactID, func(a *models.Automation) bool {
			campaign := configString(a.TriggerConfig, "campaign_id")

			return campaign == "" || campaign == e.CampaignID
		}
	case events.LinkClicked:
		return models.TriggerLinkClicked, e.ContactID, func(a *models.Automation) bool {
			campaign := configString(a.TriggerConfig, "campaign_id")
			if campaign != "" && campaign != e.CampaignID {
				return false
			}

			url := configString(a.TriggerConfig, "url")

			return url == "" || url == e.URL
		}
	case events.WebhookReceived:
		return models.TriggerWebhook, e.ContactID, func(a *models.Automation) bool {
			return a.ID == e.AutomationID
		}
	case events.DateFieldDue:
		return models.TriggerDateField, e.ContactID, func(a *models.Automation) bool {
			return configString(a.TriggerConfig, "field") == e.Field
		}
	case events.Inactivity:
		return models.TriggerInactivity, e.ContactID, func(a *models.Automation) bool {
			days, ok := configInt64(a.TriggerConfig, "days")

			return ok && days == int64(e.Days)
		}
	default:
		return "", "", nil
	}
}

// asValue normalizes pointer events from the bus decoder to values.
func asValue(event any) any {
	switch e := event.(type) {
	case *events.ListSubscribed:
		return *e
	case *events.TagAdded:
		return *e
	case *events.TagRemoved:
		return *e
	case *events.EmailOpened:
		return *e
	case *events.LinkClicked:
		return *e
	case *events.WebhookReceived:
		return *e
	case *events.DateFieldDue:
		return *e
	case *events.Inactivity:
		return *e
	default:
		return event
	}
}

// eventMetadata is stored on the enrollment so templates can reference the
// triggering context.
func eventMetadata(event any) map[string]any {
	switch e := asValue(event).(type) {
	case events.ListSubscribed:
		return map[string]any{"trigger": "list_subscription", "list_id": e.ListID}
	case events.TagAdded:
		return map[string]any{"trigger": "tag_added", "tag": e.Tag}
	case events.TagRemoved:
		return map[string]any{"trigger": "tag_removed", "tag": e.Tag}
	case events.EmailOpened:
		return map[string]any{"trigger": "email_opened", "campaign_id": e.CampaignID}
	case events.LinkClicked:
		return map[string]any{"trigger": "link_clicked", "campaign_id": e.CampaignID, "url": e.URL}
	case events.WebhookReceived:
		return map[string]any{"trigger": "webhook", "payload": e.Payload}
	case events.DateFieldDue:
		return map[string]any{"trigger": "date_field", "field": e.Field, "value": e.Value}
	case events.Inactivity:
		return map[string]any{"trigger": "inactivity", "days": e.Days}
	default:
		return nil
	}
}
