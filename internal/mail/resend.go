package mail

import (
	"context"
	"errors"

	"formrelay/pkg/api"

	"github.com/resend/resend-go/v2"
)

// ResendSender sends emails using the Resend API.
type ResendSender struct {
	client *resend.Client
	from   string
}

// NewResendSender creates a new Resend email sender.
func NewResendSender(apiKey, from string) *ResendSender {
	return &ResendSender{
		client: resend.NewClient(apiKey),
		from:   from,
	}
}

// Send sends an email using the Resend API.
func (s *ResendSender) Send(ctx context.Context, msg Message) error {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
	}

	if _, err := s.client.Emails.SendWithContext(ctx, params); err != nil {
		return &api.TransportError{Service: "resend", Op: "send email", Err: err}
	}
	return nil
}

// ResendAudience adds contacts to a Resend audience.
type ResendAudience struct {
	client     *resend.Client
	audienceID string
}

// NewResendAudience creates a subscriber for the given audience.
func NewResendAudience(apiKey, audienceID string) *ResendAudience {
	return &ResendAudience{
		client:     resend.NewClient(apiKey),
		audienceID: audienceID,
	}
}

// Subscribe creates a contact in the audience.
func (a *ResendAudience) Subscribe(ctx context.Context, email string) error {
	if a.audienceID == "" {
		return &api.TransportError{Service: "resend", Op: "create contact", Err: errors.New("audience id not configured")}
	}

	params := &resend.CreateContactRequest{
		Email:        email,
		AudienceId:   a.audienceID,
		Unsubscribed: false,
	}
	if _, err := a.client.Contacts.CreateWithContext(ctx, params); err != nil {
		return &api.TransportError{Service: "resend", Op: "create contact", Err: err}
	}
	return nil
}
