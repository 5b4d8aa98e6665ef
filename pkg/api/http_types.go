package api

import (
	"net/mail"
	"strings"
)

// Endpoint: /api/upload
type UploadResponse struct {
	Message string `json:"message"`
	Key     string `json:"key,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Endpoint: /api/feedback
type FeedbackRequest struct {
	Contact string `json:"contact"`
	Subject string `json:"subject"`
	Message string `json:"message"`
}

// Endpoint: /api/newsletter
type NewsletterRequest struct {
	Email string `json:"email"`
}

// Endpoint: /api/feedback, /api/newsletter
type ResultResponse struct {
	Result string `json:"result"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

const (
	UploadedMessage = "File uploaded"
	SuccessResult   = "great success"
)

// Validate checks the fields a feedback email cannot be sent without.
func (r FeedbackRequest) Validate() error {
	if strings.TrimSpace(r.Contact) == "" {
		return &ValidationError{Field: "contact", Reason: "required"}
	}
	if strings.TrimSpace(r.Message) == "" {
		return &ValidationError{Field: "message", Reason: "required"}
	}
	return nil
}

// Validate checks the address is present and parseable.
func (r NewsletterRequest) Validate() error {
	email := strings.TrimSpace(r.Email)
	if email == "" {
		return &ValidationError{Field: "email", Reason: "required"}
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return &ValidationError{Field: "email", Reason: "invalid address"}
	}
	return nil
}
