// Package eventsub is the NATS trigger surface: it consumes ticket-created
// events from a queue group and submits them to the workflow service.
package eventsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/linnemanlabs/ticketflow/internal/workflow"
)

// Defaults for the subject and queue group.
const (
	DefaultSubject = "ticket.created"
	DefaultQueue   = "ticketflow"
)

// submitTimeout bounds the synchronous part of a submit.
const submitTimeout = 10 * time.Second

// Submitter is the workflow operation the subscriber needs.
type Submitter interface {
	Submit(ctx context.Context, ev workflow.Event) (*workflow.SubmitResult, error)
}

// Subscriber consumes events from one subject.
type Subscriber struct {
	svc    Submitter
	logger log.Logger
	sub    *nats.Subscription
}

// Connect dials the NATS server with reconnects enabled.
func Connect(url string, logger log.Logger) (*nats.Conn, error) {
	if logger == nil {
		logger = log.Nop()
	}
	ctx := context.Background()
	nc, err := nats.Connect(url,
		nats.Name("ticketflow"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn(ctx, "nats disconnected", "err", err.Error())
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info(ctx, "nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	return nc, nil
}

// New creates a Subscriber. Call Subscribe to start consuming.
func New(svc Submitter, logger log.Logger) *Subscriber {
	if svc == nil {
		panic(xerrors.New("event submitter is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Subscriber{svc: svc, logger: logger}
}

// Subscribe joins queue on subject. Each message is handled by one member
// of the queue group.
func (s *Subscriber) Subscribe(nc *nats.Conn, subject, queue string) error {
	sub, err := nc.QueueSubscribe(subject, queue, s.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	s.sub = sub
	s.logger.Info(context.Background(), "subscribed to ticket events", "subject", subject, "queue", queue)
	return nil
}

// Drain stops delivery and waits for handlers in progress.
func (s *Subscriber) Drain() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Drain()
}

func (s *Subscriber) handle(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
	defer cancel()

	ev, err := decodeEvent(msg)
	if err != nil {
		s.logger.Warn(ctx, "dropping malformed ticket event", "subject", msg.Subject, "err", err.Error())
		s.reply(ctx, msg, map[string]string{"error": err.Error()})
		return
	}

	res, err := s.svc.Submit(ctx, ev)
	if err != nil {
		s.logger.Error(ctx, err, "submit ticket event", "event_id", ev.EventID, "ticket_id", ev.TicketID)
		s.reply(ctx, msg, map[string]string{"error": err.Error()})
		return
	}
	if res.Skipped {
		s.logger.Info(ctx, "ticket event skipped", "event_id", ev.EventID, "reason", res.Reason)
	}
	s.reply(ctx, msg, res)
}

// reply answers request-style publishes. Plain publishes have no reply
// subject and get nothing.
func (s *Subscriber) reply(ctx context.Context, msg *nats.Msg, v any) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error(ctx, err, "encode reply")
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn(ctx, "reply to ticket event failed", "err", err.Error())
	}
}

// decodeEvent reads the event body. The Nats-Msg-Id header stands in for
// a missing eventId so publisher dedup IDs carry through.
func decodeEvent(msg *nats.Msg) (workflow.Event, error) {
	var ev workflow.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		return ev, fmt.Errorf("decode event: %w", err)
	}
	if strings.TrimSpace(ev.EventID) == "" && msg.Header != nil {
		ev.EventID = msg.Header.Get(nats.MsgIdHdr)
	}
	if err := ev.Validate(); err != nil {
		return ev, errors.Join(workflow.ErrInvalidEvent, err)
	}
	return ev, nil
}
