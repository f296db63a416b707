package workflow_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/ticketflow/internal/ticket"
	"github.com/linnemanlabs/ticketflow/internal/workflow"
)

func TestService_SubmitRunsInBackground(t *testing.T) {
	t.Parallel()
	f := newFixture(ticket.StatusOpen)

	var results []string
	svc := workflow.NewService(f.orchestrator(nil), f.log, log.Nop(), func(r string) { results = append(results, r) })

	res, err := svc.Submit(context.Background(), ev)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Skipped || res.RunID == "" || res.EventID != ev.EventID {
		t.Fatalf("Submit = %+v, want accepted with run ID", res)
	}
	if err := svc.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if n := len(f.notifier.Sent()); n != 1 {
		t.Fatalf("notifications = %d, want 1", n)
	}

	steps, err := svc.Steps(context.Background(), ev.EventID)
	if err != nil || len(steps) != len(workflow.Steps) {
		t.Errorf("Steps = %d records, err %v", len(steps), err)
	}
	if len(results) != 1 || results[0] != "accepted" {
		t.Errorf("submit results = %v", results)
	}
}

func TestService_SkipsProcessedEvent(t *testing.T) {
	t.Parallel()
	f := newFixture(ticket.StatusOpen)
	if out := f.orchestrator(nil).Run(context.Background(), ev); !out.Success {
		t.Fatalf("Run = %+v", out)
	}

	svc := workflow.NewService(f.orchestrator(nil), f.log, log.Nop(), nil)
	res, err := svc.Submit(context.Background(), ev)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Skipped || res.Reason != "already processed" {
		t.Errorf("Submit = %+v, want skipped", res)
	}
	_ = svc.Shutdown(context.Background())
	if n := len(f.notifier.Sent()); n != 1 {
		t.Errorf("notifications = %d, want 1", n)
	}
}

func TestService_InFlightDedup(t *testing.T) {
	t.Parallel()
	f := newFixture(ticket.StatusOpen)
	release := make(chan struct{})
	f.analyzer.before = func(int) { <-release }

	svc := workflow.NewService(f.orchestrator(nil), f.log, log.Nop(), nil)
	first, err := svc.Submit(context.Background(), ev)
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.Submit(context.Background(), ev)
	if err != nil {
		t.Fatal(err)
	}
	if !second.Skipped || second.Reason != "in flight" || second.RunID != first.RunID {
		t.Errorf("second Submit = %+v, want in flight with run %s", second, first.RunID)
	}
	if svc.InFlight() != 1 {
		t.Errorf("InFlight = %d, want 1", svc.InFlight())
	}

	close(release)
	if err := svc.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.analyzer.Calls() != 1 {
		t.Errorf("analyzer calls = %d, want 1", f.analyzer.Calls())
	}
}

func TestService_SubmitDetachedFromRequest(t *testing.T) {
	t.Parallel()
	f := newFixture(ticket.StatusOpen)
	svc := workflow.NewService(f.orchestrator(nil), f.log, log.Nop(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := svc.Submit(ctx, ev); err != nil {
		t.Fatal(err)
	}
	cancel()

	if err := svc.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(f.notifier.Sent()); n != 1 {
		t.Errorf("notifications = %d, want 1 after request cancel", n)
	}
}

func TestService_ShutdownTimeoutCancelsRuns(t *testing.T) {
	t.Parallel()
	f := newFixture(ticket.StatusOpen)
	block := make(chan struct{})
	defer close(block)
	f.analyzer.before = func(int) {
		select {
		case <-block:
		case <-time.After(50 * time.Millisecond):
		}
	}

	svc := workflow.NewService(f.orchestrator(nil), f.log, log.Nop(), nil)
	if _, err := svc.Submit(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if err := svc.Shutdown(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown err = %v, want deadline exceeded", err)
	}
	if _, found, _ := f.log.Get(context.Background(), ev.EventID, workflow.StepPersistAnalysis); found {
		t.Error("canceled persist step was recorded")
	}

	if _, err := svc.Submit(context.Background(), ev); !errors.Is(err, workflow.ErrShuttingDown) {
		t.Errorf("Submit after Shutdown err = %v, want ErrShuttingDown", err)
	}
}

func TestService_RejectsInvalidEvent(t *testing.T) {
	t.Parallel()
	f := newFixture(ticket.StatusOpen)
	svc := workflow.NewService(f.orchestrator(nil), f.log, log.Nop(), nil)

	if _, err := svc.Submit(context.Background(), workflow.Event{TicketID: "t1"}); !errors.Is(err, workflow.ErrInvalidEvent) {
		t.Errorf("err = %v, want ErrInvalidEvent", err)
	}
}
