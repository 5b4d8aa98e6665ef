package mail

import (
	"context"

	"github.com/rs/zerolog"
)

// LogSender logs emails instead of sending them. Used in development.
type LogSender struct {
	log zerolog.Logger
}

// NewLogSender creates a log-based email sender.
func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{log: logger}
}

// Send logs msg and always succeeds.
func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.log.Info().
		Str("to", msg.To).
		Str("subject", msg.Subject).
		Str("text", msg.Text).
		Msg("email (dev mode, not sent)")
	return nil
}

// LogSubscriber logs newsletter sign-ups.
type LogSubscriber struct {
	log zerolog.Logger
}

// NewLogSubscriber creates a log-based subscriber.
func NewLogSubscriber(logger zerolog.Logger) *LogSubscriber {
	return &LogSubscriber{log: logger}
}

// Subscribe logs email and always succeeds.
func (s *LogSubscriber) Subscribe(_ context.Context, email string) error {
	s.log.Info().Str("email", email).Msg("newsletter subscription (dev mode, not sent)")
	return nil
}
