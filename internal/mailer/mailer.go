// Package mailer defines the outbound mail collaborator. Real delivery is
// out of scope; the log mailer stands in during development, where magic
// links are written to the server log instead.
package mailer

import (
	"context"
	"log/slog"
)

// Mailer sends one message. Implementations must be safe for concurrent use.
type Mailer interface {
	Send(ctx context.Context, to, subject, bodyText string) error
}

// LogMailer writes messages to the log instead of delivering them.
type LogMailer struct {
	Log *slog.Logger
}

// Send logs the message and reports success.
func (m *LogMailer) Send(_ context.Context, to, subject, bodyText string) error {
	log := m.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("mail (log delivery)", "to", to, "subject", subject, "body", bodyText)
	return nil
}
