package workflow

import (
	"context"
	"errors"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/ticketflow/internal/postgres"
)

// ErrShuttingDown is returned by Submit after Shutdown started.
var ErrShuttingDown = errors.New("workflow service is shutting down")

// ErrInvalidEvent wraps Event.Validate failures from Submit.
var ErrInvalidEvent = errors.New("invalid event")

// SubmitResult is the outcome of submitting an event.
type SubmitResult struct {
	EventID string `json:"eventId"`
	RunID   string `json:"runId,omitempty"`
	Skipped bool   `json:"skipped"`
	Reason  string `json:"reason,omitempty"`
}

// Service is the async boundary in front of the Orchestrator.
type Service struct {
	orch     *Orchestrator
	steps    StepLog
	logger   log.Logger
	onSubmit func(result string)

	mu       sync.Mutex
	inflight map[string]string // eventID -> runID
	closed   bool
	wg       sync.WaitGroup

	runCtx    context.Context
	cancelRun context.CancelFunc
}

// NewService creates a Service. onSubmit may be nil.
func NewService(orch *Orchestrator, steps StepLog, logger log.Logger, onSubmit func(result string)) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	runCtx, cancel := context.WithCancel(context.Background())
	return &Service{
		orch:      orch,
		steps:     steps,
		logger:    logger,
		onSubmit:  onSubmit,
		inflight:  make(map[string]string),
		runCtx:    runCtx,
		cancelRun: cancel,
	}
}

// Submit validates ev and starts a run in the background. An event already
// running in this process, or one whose notify step is recorded, is skipped.
func (s *Service) Submit(ctx context.Context, ev Event) (*SubmitResult, error) {
	if err := ev.Validate(); err != nil {
		s.submitted("invalid")
		return nil, errors.Join(ErrInvalidEvent, err)
	}

	if _, done, err := s.steps.Get(ctx, ev.EventID, StepNotify); err != nil {
		s.submitted("error")
		return nil, err
	} else if done {
		s.submitted("completed")
		return &SubmitResult{EventID: ev.EventID, Skipped: true, Reason: "already processed"}, nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.submitted("shutdown")
		return nil, ErrShuttingDown
	}
	if runID, ok := s.inflight[ev.EventID]; ok {
		s.mu.Unlock()
		s.submitted("in_flight")
		return &SubmitResult{EventID: ev.EventID, RunID: runID, Skipped: true, Reason: "in flight"}, nil
	}
	runID := ulid.Make().String()
	s.inflight[ev.EventID] = runID
	s.wg.Add(1)
	s.mu.Unlock()

	// detached from the request; Shutdown cancels stragglers
	runCtx := mergeValues(s.runCtx, ctx)
	go s.run(runCtx, runID, ev)

	s.submitted("accepted")
	return &SubmitResult{EventID: ev.EventID, RunID: runID}, nil
}

// Steps returns the recorded steps for eventID.
func (s *Service) Steps(ctx context.Context, eventID string) ([]StepRecord, error) {
	return s.steps.List(ctx, eventID)
}

// InFlight reports the number of running events.
func (s *Service) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// Shutdown stops accepting events and waits for running ones. When ctx
// expires first the runs are canceled; canceled steps are not recorded, so
// a redelivery resumes them.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancelRun()
		return nil
	case <-ctx.Done():
		s.cancelRun()
		<-done
		return ctx.Err()
	}
}

func (s *Service) run(ctx context.Context, runID string, ev Event) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.inflight, ev.EventID)
		s.mu.Unlock()
	}()

	L := s.logger.With("run_id", runID, "event_id", ev.EventID, "ticket_id", ev.TicketID)
	ctx = log.WithContext(ctx, L)
	ctx, stats := postgres.NewRunDBStatsContext(ctx)

	out := s.orch.Run(ctx, ev)
	queries, dbTime, dbErrs := stats.Snapshot()
	if !out.Success {
		L.Warn(ctx, "event run unsuccessful", "err", out.Error,
			"db_queries", queries, "db_time", dbTime.Seconds(), "db_errors", dbErrs)
		return
	}
	L.Info(ctx, "event run succeeded",
		"db_queries", queries, "db_time", dbTime.Seconds(), "db_errors", dbErrs)
}

func (s *Service) submitted(result string) {
	if s.onSubmit != nil {
		s.onSubmit(result)
	}
}

// valuesCtx carries values from one context and cancellation from another,
// so request-scoped values such as trace spans survive the handoff.
type valuesCtx struct {
	context.Context
	values context.Context
}

func (c valuesCtx) Value(key any) any { return c.values.Value(key) }

func mergeValues(cancel, values context.Context) context.Context {
	return valuesCtx{Context: cancel, values: values}
}
