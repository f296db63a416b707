// Package eventapi is the HTTP trigger surface: it accepts ticket-created
// events and exposes the recorded steps of each event.
package eventapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
	"github.com/linnemanlabs/ticketflow/internal/workflow"
)

// maxBodyBytes bounds an event payload.
const maxBodyBytes = 64 << 10

// EventService defines the workflow operations the API needs.
type EventService interface {
	Submit(ctx context.Context, ev workflow.Event) (*workflow.SubmitResult, error)
	Steps(ctx context.Context, eventID string) ([]workflow.StepRecord, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    EventService
}

// New creates an API handler.
func New(logger log.Logger, svc EventService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("event service is required"))
	}
	return &API{logger: logger, svc: svc}
}

// RegisterRoutes attaches API endpoints to the router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/events", func(r chi.Router) {
		r.Post("/", a.handleSubmit)
		r.Get("/{eventId}/steps", a.handleSteps)
	})
}

func (a *API) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var ev workflow.Event
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("ticketflow.event.id", ev.EventID),
		attribute.String("ticketflow.ticket.id", ev.TicketID),
	)

	res, err := a.svc.Submit(r.Context(), ev)
	switch {
	case errors.Is(err, workflow.ErrInvalidEvent):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, workflow.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	case err != nil:
		a.logger.Error(r.Context(), err, "failed to submit event", "event_id", ev.EventID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	span.SetAttributes(attribute.Bool("ticketflow.event.skipped", res.Skipped))
	writeJSON(w, http.StatusAccepted, res)
}

func (a *API) handleSteps(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("ticketflow.event.id", eventID))

	steps, err := a.svc.Steps(r.Context(), eventID)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list steps", "event_id", eventID)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if len(steps) == 0 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"eventId": eventID,
		"steps":   steps,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
