package client

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"formrelay/pkg/api"
)

// Feedback posts a feedback form.
func (c *Client) Feedback(ctx context.Context, form api.FeedbackRequest) error {
	return c.postJSON(ctx, "/api/feedback", form)
}

// Subscribe posts a newsletter sign-up.
func (c *Client) Subscribe(ctx context.Context, email string) error {
	return c.postJSON(ctx, "/api/newsletter", api.NewsletterRequest{Email: email})
}

func (c *Client) postJSON(ctx context.Context, route string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+route, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	var result api.ResultResponse
	return c.do(req, &result)
}
