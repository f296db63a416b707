// Package mail delivers assignment emails through Resend.
package mail

import (
	"context"
	"errors"
	"fmt"

	"github.com/resend/resend-go/v2"

	"github.com/linnemanlabs/go-core/log"
)

// emailSender is the slice of the Resend client used here.
type emailSender interface {
	SendWithContext(ctx context.Context, params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// Mailer implements notify.Mailer on Resend.
type Mailer struct {
	emails emailSender
	from   string
}

// New creates a Resend mailer sending as from.
func New(apiKey, from string) *Mailer {
	return &Mailer{emails: resend.NewClient(apiKey).Emails, from: from}
}

// Send delivers one email.
func (m *Mailer) Send(ctx context.Context, to, subject, text, html string) error {
	if to == "" {
		return errors.New("mail: empty recipient")
	}
	resp, err := m.emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    m.from,
		To:      []string{to},
		Subject: subject,
		Text:    text,
		Html:    html,
	})
	if err != nil {
		return fmt.Errorf("mail: resend send: %w", err)
	}
	if resp == nil || resp.Id == "" {
		return errors.New("mail: resend returned no message id")
	}
	return nil
}

// LogMailer writes emails to the log instead of sending them. Used when no
// Resend key is configured.
type LogMailer struct {
	Logger log.Logger
}

// Send logs the recipient and subject.
func (m LogMailer) Send(ctx context.Context, to, subject, text, _ string) error {
	L := m.Logger
	if L == nil {
		L = log.FromContext(ctx)
	}
	L.Info(ctx, "email not sent, no mail transport configured",
		"to", to,
		"subject", subject,
		"text_bytes", len(text),
	)
	return nil
}
