// Package mail forwards feedback messages and newsletter sign-ups to an
// email provider.
package mail

import (
	"context"
	"fmt"
	"strings"

	"formrelay/internal/config"
	"formrelay/pkg/api"

	"github.com/rs/zerolog"
)

// Message is an outgoing email.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

// Sender delivers transactional email.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Subscriber adds an address to the mailing list.
type Subscriber interface {
	Subscribe(ctx context.Context, email string) error
}

// FeedbackMessage builds the email sent for a feedback form submission.
func FeedbackMessage(to string, req api.FeedbackRequest) Message {
	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		subject = "Feedback"
	}
	return Message{
		To:      to,
		Subject: subject,
		Text:    fmt.Sprintf("Contact: %s\n\n%s\n", req.Contact, req.Message),
	}
}

// New returns the Sender and Subscriber for cfg.Driver.
func New(cfg config.MailConfig, logger zerolog.Logger) (Sender, Subscriber, error) {
	switch cfg.Driver {
	case "resend":
		return NewResendSender(cfg.APIKey, cfg.From), NewResendAudience(cfg.APIKey, cfg.AudienceID), nil
	case "log", "":
		return NewLogSender(logger), NewLogSubscriber(logger), nil
	default:
		return nil, nil, fmt.Errorf("mail: unknown driver %q", cfg.Driver)
	}
}
