// Package notify tells the assignee about a newly triaged ticket. Delivery is
// best effort: failures are logged and reported in the Delivery, never
// returned.
package notify

import (
	"context"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/ticketflow/internal/analysis"
	"github.com/linnemanlabs/ticketflow/internal/ticket"
)

// Subject is the email subject for assignment notices.
const Subject = "New Ticket Assigned"

// DefaultTimeout bounds each delivery when none is configured.
const DefaultTimeout = 15 * time.Second

// Assignment is everything a notice needs.
type Assignment struct {
	Assignee *ticket.User
	Ticket   *ticket.Ticket
	Analysis analysis.Result
}

// Delivery reports what was sent. It is stored as the notify step result.
type Delivery struct {
	Emailed bool     `json:"emailed"`
	Posted  bool     `json:"posted"`
	To      string   `json:"to,omitempty"`
	Skipped string   `json:"skipped,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// Mailer sends one email. Implementations return transport errors as is.
type Mailer interface {
	Send(ctx context.Context, to, subject, text, html string) error
}

// Channel posts an assignment to a team channel.
type Channel interface {
	Post(ctx context.Context, a Assignment) error
}

// Notifier fans an assignment out to the mailer and the optional channel.
type Notifier struct {
	mailer  Mailer
	channel Channel
	timeout time.Duration
	logger  log.Logger
}

// New creates a Notifier. mailer and channel may each be nil.
func New(mailer Mailer, channel Channel, timeout time.Duration, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Notifier{mailer: mailer, channel: channel, timeout: timeout, logger: logger}
}

// Notify delivers the assignment. With no assignee it does nothing.
func (n *Notifier) Notify(ctx context.Context, a Assignment) Delivery {
	if a.Assignee == nil {
		return Delivery{Skipped: "no assignee"}
	}
	if a.Ticket == nil {
		return Delivery{Skipped: "no ticket"}
	}

	L := n.logger.With("ticket_id", a.Ticket.ID, "assignee_id", a.Assignee.ID)
	d := Delivery{To: a.Assignee.Email}

	if n.mailer != nil && a.Assignee.Email != "" {
		if err := n.email(ctx, a); err != nil {
			L.Error(ctx, err, "assignment email failed")
			d.Errors = append(d.Errors, "email: "+err.Error())
		} else {
			d.Emailed = true
		}
	}

	if n.channel != nil {
		cctx, cancel := context.WithTimeout(ctx, n.timeout)
		err := n.channel.Post(cctx, a)
		cancel()
		if err != nil {
			L.Error(ctx, err, "assignment channel post failed")
			d.Errors = append(d.Errors, "channel: "+err.Error())
		} else {
			d.Posted = true
		}
	}

	if !d.Emailed && !d.Posted && len(d.Errors) == 0 {
		d.Skipped = "no transport"
	}
	L.Info(ctx, "assignment notified", "emailed", d.Emailed, "posted", d.Posted)
	return d
}

func (n *Notifier) email(ctx context.Context, a Assignment) error {
	msg, err := Render(a)
	if err != nil {
		return err
	}
	mctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()
	return n.mailer.Send(mctx, a.Assignee.Email, Subject, msg.Text, msg.HTML)
}
