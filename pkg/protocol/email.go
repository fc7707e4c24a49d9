// Package protocol defines the collaborator interfaces the engine consumes:
// email sending, webhook delivery and the historical email-event index.
// Implementations beyond the dev defaults live outside this repository.
package protocol

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// EmailMessage is a fully rendered message ready for dispatch.
type EmailMessage struct {
	ContactID string            `json:"contact_id"`
	To        string            `json:"to"`
	Subject   string            `json:"subject"`
	Body      string            `json:"body"`
	Headers   map[string]string `json:"headers,omitempty"`
}

// EmailSender dispatches a rendered message and returns a provider-side
// message reference for audit linkage.
type EmailSender interface {
	Send(ctx context.Context, message EmailMessage) (string, error)
}

// SlogSender logs messages instead of dispatching them. Dev and test default.
type SlogSender struct {
	logger *slog.Logger
}

// NewSlogSender creates a logging email sender.
func NewSlogSender(logger *slog.Logger) *SlogSender {
	return &SlogSender{logger: logger.With("module", "email_sender")}
}

// Send logs the message and returns a generated reference.
func (s *SlogSender) Send(ctx context.Context, message EmailMessage) (string, error) {
	ref := "msg-" + uuid.New().String()

	s.logger.InfoContext(ctx, "Email dispatched",
		"to", message.To,
		"subject", message.Subject,
		"contact_id", message.ContactID,
		"message_ref", ref)

	return ref, nil
}
