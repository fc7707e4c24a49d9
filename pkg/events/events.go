// Package events defines the contact activity and enrollment lifecycle
// events exchanged over the event bus.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Kafka topics.
const ContactActivityTopic = "flowlane.contact.activity" // Topic for contact activity events
const EnrollmentTopic = "flowlane.enrollments"           // Topic for enrollment lifecycle events

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Contact activity events. These can start or advance automations.
	ListSubscribedEvent   EventType = "contact.list.subscribed"
	ListUnsubscribedEvent EventType = "contact.list.unsubscribed"
	TagAddedEvent         EventType = "contact.tag.added"
	TagRemovedEvent       EventType = "contact.tag.removed"
	EmailOpenedEvent      EventType = "contact.email.opened"
	LinkClickedEvent      EventType = "contact.link.clicked"
	WebhookReceivedEvent  EventType = "contact.webhook.received"
	DateFieldDueEvent     EventType = "contact.date_field.due"
	InactivityEvent       EventType = "contact.inactivity"

	// Enrollment lifecycle events.
	EnrollmentCreatedEvent   EventType = "enrollment.created"
	EnrollmentCompletedEvent EventType = "enrollment.completed"
	EnrollmentExitedEvent    EventType = "enrollment.exited"
	EnrollmentFailedEvent    EventType = "enrollment.failed"
)

type BaseEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	ContactID string         `json:"contact_id"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Contact activity events

type ListSubscribed struct {
	BaseEvent

	ListID int64 `json:"list_id"`
}

func (e ListSubscribed) GetType() EventType {
	return ListSubscribedEvent
}

type ListUnsubscribed struct {
	BaseEvent

	ListID int64 `json:"list_id"`
}

func (e ListUnsubscribed) GetType() EventType {
	return ListUnsubscribedEvent
}

type TagAdded struct {
	BaseEvent

	Tag string `json:"tag"`
}

func (e TagAdded) GetType() EventType {
	return TagAddedEvent
}

type TagRemoved struct {
	BaseEvent

	Tag string `json:"tag"`
}

func (e TagRemoved) GetType() EventType {
	return TagRemovedEvent
}

type EmailOpened struct {
	BaseEvent

	CampaignID string `json:"campaign_id,omitempty"`
	MessageRef string `json:"message_ref,omitempty"`
}

func (e EmailOpened) GetType() EventType {
	return EmailOpenedEvent
}

type LinkClicked struct {
	BaseEvent

	CampaignID string `json:"campaign_id,omitempty"`
	MessageRef string `json:"message_ref,omitempty"`
	URL        string `json:"url,omitempty"`
}

func (e LinkClicked) GetType() EventType {
	return LinkClickedEvent
}

// WebhookReceived carries an inbound webhook payload targeted at one
// automation. AutomationID narrows dispatch to that automation only.
type WebhookReceived struct {
	BaseEvent

	AutomationID string         `json:"automation_id"`
	Payload      map[string]any `json:"payload,omitempty"`
}

func (e WebhookReceived) GetType() EventType {
	return WebhookReceivedEvent
}

// DateFieldDue is emitted by the date scanner when a contact date field
// matches an anniversary window (e.g. birthday automations).
type DateFieldDue struct {
	BaseEvent

	Field string `json:"field"`
	Value string `json:"value"`
}

func (e DateFieldDue) GetType() EventType {
	return DateFieldDueEvent
}

// Inactivity is emitted by the inactivity scanner when a contact has
// shown no tracked activity for the configured number of days.
type Inactivity struct {
	BaseEvent

	Days         int       `json:"days"`
	LastActivity time.Time `json:"last_activity"`
}

func (e Inactivity) GetType() EventType {
	return InactivityEvent
}

// Enrollment lifecycle events

type EnrollmentCreated struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	AutomationID string `json:"automation_id"`
}

func (e EnrollmentCreated) GetType() EventType {
	return EnrollmentCreatedEvent
}

type EnrollmentCompleted struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	AutomationID string `json:"automation_id"`
	DurationMs   int64  `json:"duration_ms"`
}

func (e EnrollmentCompleted) GetType() EventType {
	return EnrollmentCompletedEvent
}

type EnrollmentExited struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	AutomationID string `json:"automation_id"`
	ExitReason   string `json:"exit_reason"`
}

func (e EnrollmentExited) GetType() EventType {
	return EnrollmentExitedEvent
}

type EnrollmentFailed struct {
	BaseEvent

	EnrollmentID string `json:"enrollment_id"`
	AutomationID string `json:"automation_id"`
	Error        string `json:"error"`
}

func (e EnrollmentFailed) GetType() EventType {
	return EnrollmentFailedEvent
}

func NewBaseEvent(eventType EventType, contactID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		ContactID: contactID,
		Metadata:  make(map[string]any),
	}
}
