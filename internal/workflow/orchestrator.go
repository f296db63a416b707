package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/linnemanlabs/ticketflow/internal/analysis"
	"github.com/linnemanlabs/ticketflow/internal/assign"
	"github.com/linnemanlabs/ticketflow/internal/notify"
	"github.com/linnemanlabs/ticketflow/internal/ticket"
)

// Analyzer produces a normalized analysis. It must not fail.
type Analyzer interface {
	Analyze(ctx context.Context, t *ticket.Ticket) analysis.Result
}

// AssigneeResolver picks an owner for the given skills.
type AssigneeResolver interface {
	Resolve(ctx context.Context, skills []string) (*ticket.User, assign.Match, error)
}

// Notifier delivers the assignment notice. It must not fail.
type Notifier interface {
	Notify(ctx context.Context, a notify.Assignment) notify.Delivery
}

// Deps are the collaborators of an Orchestrator. All are required.
type Deps struct {
	Tickets  ticket.Store
	Analyzer Analyzer
	Resolver AssigneeResolver
	Notifier Notifier
	Log      StepLog
}

// Config holds the step retry policy.
type Config struct {
	StepMaxAttempts int
	StepBaseDelay   time.Duration
	StepMaxDelay    time.Duration
	// StoreTimeout bounds every ticket and user store call. Zero disables.
	StoreTimeout time.Duration
}

// DefaultConfig is used for unset fields.
var DefaultConfig = Config{
	StepMaxAttempts: 3,
	StepBaseDelay:   500 * time.Millisecond,
	StepMaxDelay:    10 * time.Second,
	StoreTimeout:    5 * time.Second,
}

// Hooks receives run and step events. Nil fields are skipped.
type Hooks struct {
	OnStep func(step, outcome string, attempts int, duration float64)
	OnRun  func(success bool, duration float64)
}

func (h Hooks) step(name, outcome string, attempts int, d time.Duration) {
	if h.OnStep != nil {
		h.OnStep(name, outcome, attempts, d.Seconds())
	}
}

// Orchestrator runs the triage sequence for one event at a time per call.
// Separate calls are independent and may run concurrently.
type Orchestrator struct {
	tickets  ticket.Store
	analyzer Analyzer
	resolver AssigneeResolver
	notifier Notifier
	log      StepLog
	cfg      Config
	logger   log.Logger
	hooks    Hooks
}

// NewOrchestrator wires an Orchestrator. It panics on missing deps.
func NewOrchestrator(d Deps, cfg Config, logger log.Logger, hooks Hooks) *Orchestrator {
	switch {
	case d.Tickets == nil:
		panic(xerrors.New("workflow: ticket store is required"))
	case d.Analyzer == nil:
		panic(xerrors.New("workflow: analyzer is required"))
	case d.Resolver == nil:
		panic(xerrors.New("workflow: resolver is required"))
	case d.Notifier == nil:
		panic(xerrors.New("workflow: notifier is required"))
	case d.Log == nil:
		panic(xerrors.New("workflow: step log is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	if cfg.StepMaxAttempts < 1 {
		cfg.StepMaxAttempts = DefaultConfig.StepMaxAttempts
	}
	if cfg.StepBaseDelay <= 0 {
		cfg.StepBaseDelay = DefaultConfig.StepBaseDelay
	}
	if cfg.StepMaxDelay < cfg.StepBaseDelay {
		cfg.StepMaxDelay = cfg.StepBaseDelay
	}
	return &Orchestrator{
		tickets:  d.Tickets,
		analyzer: d.Analyzer,
		resolver: d.Resolver,
		notifier: d.Notifier,
		log:      d.Log,
		cfg:      cfg,
		logger:   logger,
		hooks:    hooks,
	}
}

type markResult struct {
	Status  ticket.Status `json:"status"`
	Written bool          `json:"written"`
}

type assignResult struct {
	Assignee *ticket.User `json:"assignee,omitempty"`
	Match    assign.Match `json:"match"`
}

// Run drives ev through every step and never panics outward.
func (o *Orchestrator) Run(ctx context.Context, ev Event) (out Outcome) {
	start := time.Now()
	L := o.logger.With("event_id", ev.EventID, "ticket_id", ev.TicketID)

	defer func() {
		if r := recover(); r != nil {
			L.Error(ctx, fmt.Errorf("panic: %v", r), "workflow run panicked")
			out = Outcome{Success: false, Error: "internal error"}
		}
		if o.hooks.OnRun != nil {
			o.hooks.OnRun(out.Success, time.Since(start).Seconds())
		}
	}()

	if err := ev.Validate(); err != nil {
		return Outcome{Error: err.Error()}
	}

	ctx, span := tracer.Start(ctx, "workflow.Run", trace.WithAttributes(
		attribute.String("ticketflow.event.id", ev.EventID),
		attribute.String("ticketflow.ticket.id", ev.TicketID),
	))
	defer span.End()
	ctx = log.WithContext(ctx, L)

	out = o.run(ctx, ev)
	if !out.Success {
		span.SetStatus(codes.Error, out.Error)
		L.Warn(ctx, "workflow run failed", "err", out.Error, "duration", time.Since(start).Seconds())
	} else {
		L.Info(ctx, "workflow run complete", "duration", time.Since(start).Seconds())
	}
	return out
}

func (o *Orchestrator) run(ctx context.Context, ev Event) Outcome {
	t, err := runStep(ctx, o, ev, step[*ticket.Ticket]{
		name: StepFetchTicket,
		body: func(ctx context.Context) (*ticket.Ticket, error) {
			return o.get(ctx, ev.TicketID)
		},
	})
	if err != nil {
		return failed(err)
	}

	if _, err := runStep(ctx, o, ev, step[markResult]{
		name: StepMarkInProgress,
		body: func(ctx context.Context) (markResult, error) {
			open, inProgress := ticket.StatusOpen, ticket.StatusInProgress
			updated, err := o.update(ctx, t.ID, ticket.Patch{Status: &inProgress, StatusIf: &open})
			if err != nil {
				return markResult{}, err
			}
			return markResult{Status: updated.Status, Written: updated.Status == inProgress}, nil
		},
		fallback: func(context.Context, error) markResult {
			return markResult{Status: t.Status}
		},
	}); err != nil {
		return failed(err)
	}

	// analysis is lazy: a replayed persist step never calls the cascade
	var analyzed *analysis.Result
	analyze := func(ctx context.Context) analysis.Result {
		if analyzed == nil {
			r := o.analyzer.Analyze(ctx, t).Normalized()
			analyzed = &r
		}
		return *analyzed
	}

	res, err := runStep(ctx, o, ev, step[analysis.Result]{
		name: StepPersistAnalysis,
		body: func(ctx context.Context) (analysis.Result, error) {
			r := analyze(ctx)
			if ctx.Err() != nil {
				return r, ctx.Err()
			}
			if _, err := o.update(ctx, t.ID, analysisPatch(r)); err != nil {
				return r, &PersistenceError{TicketID: t.ID, Err: err}
			}
			return r, nil
		},
		fallback: func(ctx context.Context, cause error) analysis.Result {
			return o.persistReduced(ctx, t, analyze(ctx), cause)
		},
	})
	if err != nil {
		return failed(err)
	}

	who, err := runStep(ctx, o, ev, step[assignResult]{
		name: StepResolveAssign,
		body: func(ctx context.Context) (assignResult, error) {
			u, match, err := o.resolve(ctx, res.RelatedSkills)
			if err != nil {
				return assignResult{}, err
			}
			if u == nil {
				log.FromContext(ctx).Warn(ctx, "no assignee available")
				return assignResult{Match: assign.MatchNone}, nil
			}
			if _, err := o.update(ctx, t.ID, ticket.Patch{AssignedTo: &u.ID}); err != nil {
				return assignResult{}, err
			}
			return assignResult{Assignee: u, Match: match}, nil
		},
		fallback: func(context.Context, error) assignResult {
			return assignResult{Match: assign.MatchNone}
		},
	})
	if err != nil {
		return failed(err)
	}

	if _, err := runStep(ctx, o, ev, step[notify.Delivery]{
		name: StepNotify,
		body: func(ctx context.Context) (notify.Delivery, error) {
			return o.notifier.Notify(ctx, notify.Assignment{
				Assignee: who.Assignee,
				Ticket:   t,
				Analysis: res,
			}), nil
		},
	}); err != nil {
		return failed(err)
	}

	return Outcome{Success: true}
}

// persistReduced is the analysis-write fallback: a smaller write that keeps
// the priority and skills invariants. When that fails too the run continues
// with default skills and nothing written.
func (o *Orchestrator) persistReduced(ctx context.Context, t *ticket.Ticket, r analysis.Result, cause error) analysis.Result {
	L := log.FromContext(ctx)
	r.RelatedSkills = []string{analysis.DefaultSkill}
	r.Deadline = nil

	open, inProgress := ticket.StatusOpen, ticket.StatusInProgress
	_, err := o.update(ctx, t.ID, ticket.Patch{
		Status:        &open,
		StatusIf:      &inProgress,
		Summary:       &r.Summary,
		Priority:      &r.Priority,
		RelatedSkills: r.RelatedSkills,
	})
	if err != nil {
		// mark-in-progress moved an open ticket forward and nothing moves it back
		if t.Status == open || t.Status == inProgress {
			L.Error(ctx, err, "reduced analysis write failed, ticket left in-progress",
				"cause", cause.Error(),
				"ticket_status", inProgress,
			)
			return r
		}
		L.Error(ctx, err, "reduced analysis write failed, continuing with default skills",
			"cause", cause.Error(),
		)
		return r
	}
	L.Warn(ctx, "analysis persisted with reduced fields", "cause", cause.Error())
	return r
}

func analysisPatch(r analysis.Result) ticket.Patch {
	open, inProgress := ticket.StatusOpen, ticket.StatusInProgress
	p := ticket.Patch{
		Status:        &open,
		StatusIf:      &inProgress,
		Summary:       &r.Summary,
		Priority:      &r.Priority,
		HelpfulNotes:  &r.HelpfulNotes,
		RelatedSkills: r.RelatedSkills,
		Deadline:      ticket.Null[string](),
	}
	if r.Deadline != nil {
		p.Deadline = ticket.Value(*r.Deadline)
	}
	return p
}

func (o *Orchestrator) get(ctx context.Context, id string) (*ticket.Ticket, error) {
	ctx, cancel := o.storeContext(ctx)
	defer cancel()
	return o.tickets.Get(ctx, id)
}

func (o *Orchestrator) update(ctx context.Context, id string, p ticket.Patch) (*ticket.Ticket, error) {
	ctx, cancel := o.storeContext(ctx)
	defer cancel()
	return o.tickets.Update(ctx, id, p)
}

func (o *Orchestrator) resolve(ctx context.Context, skills []string) (*ticket.User, assign.Match, error) {
	ctx, cancel := o.storeContext(ctx)
	defer cancel()
	return o.resolver.Resolve(ctx, skills)
}

func (o *Orchestrator) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.cfg.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.cfg.StoreTimeout)
}

func (o *Orchestrator) backOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.cfg.StepBaseDelay
	bo.MaxInterval = o.cfg.StepMaxDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	return bo
}

// record writes rec with v as its result. A write failure is logged and the
// run proceeds. It reports whether another delivery recorded the step first.
func (o *Orchestrator) record(ctx context.Context, L log.Logger, rec *StepRecord, v any) bool {
	if v != nil {
		raw, err := json.Marshal(v)
		if err != nil {
			L.Error(ctx, err, "encode step result")
		} else {
			rec.Result = raw
		}
	}
	rec.RecordedAt = time.Now().UTC()

	err := o.log.Put(ctx, rec)
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrRecordExists):
		return true
	default:
		L.Error(ctx, err, "write step record", "status", rec.Status)
		return false
	}
}

func failed(err error) Outcome {
	return Outcome{Error: err.Error()}
}
