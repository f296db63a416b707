package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/ticketflow/internal/postgres"
)

var tracer = otel.Tracer("github.com/linnemanlabs/ticketflow/internal/workflow")

// Step outcomes reported to Hooks.OnStep.
const (
	StepCompleted = "completed"
	StepDegraded  = "degraded"
	StepFailed    = "failed"
	StepReplayed  = "replayed"
	StepCanceled  = "canceled"
)

// step describes one memoized unit of work producing T.
type step[T any] struct {
	name string
	body func(ctx context.Context) (T, error)
	// fallback, when set, replaces the result after retries are exhausted
	// or on a permanent failure. It must not fail.
	fallback func(ctx context.Context, cause error) T
}

// runStep executes s for ev at most once across replays. A completed record
// short-circuits the body; a failed record replays the terminal failure.
//
// The returned error is a *StepError when the run must abort, or the
// context error when the caller canceled.
func runStep[T any](ctx context.Context, o *Orchestrator, ev Event, s step[T]) (T, error) {
	var zero T
	L := log.FromContext(ctx).With("step", s.name)

	rec, found, err := o.log.Get(ctx, ev.EventID, s.name)
	if err != nil {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, &StepError{Step: s.name, Err: fmt.Errorf("read step log: %w", err)}
	}
	if found {
		return replay[T](ctx, o, s.name, rec)
	}

	ctx, span := tracer.Start(ctx, "workflow."+s.name, trace.WithAttributes(
		attribute.String("ticketflow.event.id", ev.EventID),
		attribute.String("ticketflow.ticket.id", ev.TicketID),
		attribute.String("ticketflow.step", s.name),
	))
	defer span.End()
	ctx = postgres.WithStep(ctx, s.name)

	start := time.Now()
	attempts := 0
	v, err := backoff.Retry(ctx, func() (T, error) {
		attempts++
		v, err := s.body(ctx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil || Classify(err) != Retriable {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(o.backOff()),
		backoff.WithMaxTries(uint(o.cfg.StepMaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			L.Warn(ctx, "step attempt failed, retrying",
				"attempt", attempts,
				"max_attempts", o.cfg.StepMaxAttempts,
				"retry_in", next.String(),
				"err", err.Error(),
			)
		}),
	)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	span.SetAttributes(attribute.Int("ticketflow.step.attempts", attempts))

	switch {
	case err == nil:
		conflict := o.record(ctx, L, &StepRecord{EventID: ev.EventID, Step: s.name, Status: RecordCompleted, Attempts: attempts}, v)
		o.hooks.step(s.name, StepCompleted, attempts, time.Since(start))
		if conflict {
			return adopt(ctx, o, L, ev, s.name, v)
		}
		return v, nil

	case ctx.Err() != nil:
		// nothing recorded; a redelivery retries this step
		span.SetStatus(codes.Error, "canceled")
		o.hooks.step(s.name, StepCanceled, attempts, time.Since(start))
		return zero, ctx.Err()

	case s.fallback != nil && Classify(err) != Terminal:
		L.Warn(ctx, "step degraded to fallback",
			"attempts", attempts,
			"class", Classify(err).String(),
			"err", err.Error(),
		)
		span.SetAttributes(attribute.Bool("ticketflow.step.degraded", true))
		fv := s.fallback(ctx, err)
		if ctx.Err() != nil {
			o.hooks.step(s.name, StepCanceled, attempts, time.Since(start))
			return zero, ctx.Err()
		}
		conflict := o.record(ctx, L, &StepRecord{
			EventID:  ev.EventID,
			Step:     s.name,
			Status:   RecordCompleted,
			Error:    err.Error(),
			Degraded: true,
			Attempts: attempts,
		}, fv)
		o.hooks.step(s.name, StepDegraded, attempts, time.Since(start))
		if conflict {
			return adopt(ctx, o, L, ev, s.name, fv)
		}
		return fv, nil

	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		class := Classify(err)
		L.Error(ctx, err, "step failed", "attempts", attempts, "class", class.String())
		// only terminal failures are memoized; anything else stays open so
		// a redelivery can try again
		if class == Terminal {
			o.record(ctx, L, &StepRecord{
				EventID:  ev.EventID,
				Step:     s.name,
				Status:   RecordFailed,
				Error:    err.Error(),
				Attempts: attempts,
			}, nil)
		}
		o.hooks.step(s.name, StepFailed, attempts, time.Since(start))
		return zero, &StepError{Step: s.name, Err: err}
	}
}

func replay[T any](ctx context.Context, o *Orchestrator, name string, rec *StepRecord) (T, error) {
	var v T
	if rec.Status == RecordFailed {
		o.hooks.step(name, StepReplayed, 0, 0)
		return v, &StepError{Step: name, Err: &errRecordedFailure{msg: rec.Error}}
	}
	if len(rec.Result) > 0 {
		if err := json.Unmarshal(rec.Result, &v); err != nil {
			return v, &StepError{Step: name, Err: fmt.Errorf("decode recorded result: %w", err)}
		}
	}
	log.FromContext(ctx).Info(ctx, "step replayed from log", "step", name, "degraded", rec.Degraded)
	o.hooks.step(name, StepReplayed, 0, 0)
	return v, nil
}

// adopt is called when a concurrent delivery recorded the step first. That
// record's result wins so both deliveries continue with the same data.
func adopt[T any](ctx context.Context, o *Orchestrator, L log.Logger, ev Event, name string, v T) (T, error) {
	rec, found, err := o.log.Get(ctx, ev.EventID, name)
	if err != nil || !found {
		return v, nil
	}
	L.Warn(ctx, "step recorded by a concurrent delivery, adopting its result")
	return replay[T](ctx, o, name, rec)
}
