// Package send implements the feedback and subscribe commands.
package send

import (
	"context"
	"errors"
	"fmt"
	"io"

	"formrelay/internal/client"
	"formrelay/pkg/api"
)

// FeedbackFlags are the feedback command's flags.
type FeedbackFlags struct {
	Contact string
	Subject string
	Message string
	Remote  string
}

// Feedback validates the form and posts it to the server at flags.Remote.
func Feedback(ctx context.Context, flags FeedbackFlags, out io.Writer) error {
	form := api.FeedbackRequest{Contact: flags.Contact, Subject: flags.Subject, Message: flags.Message}
	if err := form.Validate(); err != nil {
		return err
	}
	c, err := remote(flags.Remote)
	if err != nil {
		return err
	}
	if err := c.Feedback(ctx, form); err != nil {
		return err
	}
	fmt.Fprintln(out, "Feedback sent.")
	return nil
}

// Subscribe posts email to the newsletter endpoint of the server at remoteURL.
func Subscribe(ctx context.Context, remoteURL, email string, out io.Writer) error {
	if err := (api.NewsletterRequest{Email: email}).Validate(); err != nil {
		return err
	}
	c, err := remote(remoteURL)
	if err != nil {
		return err
	}
	if err := c.Subscribe(ctx, email); err != nil {
		return err
	}
	fmt.Fprintf(out, "Subscribed %s.\n", email)
	return nil
}

func remote(url string) (*client.Client, error) {
	if url == "" {
		return nil, errors.New("--remote is required")
	}
	return client.New(url)
}
