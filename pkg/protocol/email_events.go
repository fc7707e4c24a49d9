package protocol

import "context"

// EmailEventKind distinguishes the historical email events the condition
// evaluator can ask about.
type EmailEventKind string

const (
	EmailEventOpened  EmailEventKind = "opened"
	EmailEventClicked EmailEventKind = "clicked"
)

// EmailEventIndex looks up whether a contact produced an engagement event
// for the message a specific prior step sent. The engine runs without one
// wired; email_opened and link_clicked conditions then evaluate to false,
// matching the behavior before a historical-events store exists.
type EmailEventIndex interface {
	Seen(ctx context.Context, contactID, stepID string, kind EmailEventKind) (bool, error)
}
