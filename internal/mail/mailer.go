// Package mail is the boundary to outbound email delivery, which is an
// external collaborator of the token authority.
package mail

import (
	"context"
	"log/slog"
)

// Mailer dispatches password-reset codes to an email address.
type Mailer interface {
	SendResetCode(ctx context.Context, email, code string) error
}

// LogMailer logs codes instead of sending mail. Used in development and
// tests; production wires a real delivery implementation here.
type LogMailer struct {
	Logger *slog.Logger
}

// SendResetCode logs the code at debug level so local flows can complete
// without an SMTP relay.
func (m *LogMailer) SendResetCode(ctx context.Context, email, code string) error {
	m.Logger.Debug("password reset code issued", "email", email, "code", code)
	return nil
}
