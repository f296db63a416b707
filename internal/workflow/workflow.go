// Package workflow drives a ticket-created event through the fixed triage
// sequence: fetch, mark in progress, analyze and persist, assign, notify.
//
// Every step is memoized in a StepLog keyed by (eventId, step). Replaying an
// event returns recorded results without re-running completed steps, so a
// redelivered event does not re-analyze, re-assign or re-notify.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Step names, in execution order.
const (
	StepFetchTicket     = "fetch-ticket"
	StepMarkInProgress  = "mark-in-progress"
	StepPersistAnalysis = "persist-analysis"
	StepResolveAssign   = "resolve-assign"
	StepNotify          = "notify"
)

// Steps lists every recorded step in execution order.
var Steps = []string{
	StepFetchTicket,
	StepMarkInProgress,
	StepPersistAnalysis,
	StepResolveAssign,
	StepNotify,
}

// Event is the ticket-created trigger.
type Event struct {
	TicketID string `json:"ticketId"`
	EventID  string `json:"eventId"`
}

// Validate checks both identifiers are present.
func (e Event) Validate() error {
	switch {
	case strings.TrimSpace(e.TicketID) == "":
		return errors.New("ticketId is required")
	case strings.TrimSpace(e.EventID) == "":
		return errors.New("eventId is required")
	}
	return nil
}

// Outcome is what a run resolves to. Runs never return errors.
type Outcome struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// RecordStatus is the state of a memoized step.
type RecordStatus string

const (
	RecordCompleted RecordStatus = "completed"
	RecordFailed    RecordStatus = "failed"
)

// StepRecord is the memo for one step of one event.
type StepRecord struct {
	EventID    string          `json:"eventId"`
	Step       string          `json:"step"`
	Status     RecordStatus    `json:"status"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	Degraded   bool            `json:"degraded"`
	Attempts   int             `json:"attempts"`
	RecordedAt time.Time       `json:"recordedAt"`
}

// ErrRecordExists is returned by StepLog.Put when the step already has a
// record. The first write wins.
var ErrRecordExists = errors.New("step record already exists")

// StepLog persists step records.
type StepLog interface {
	// Get returns the record for (eventID, step). found is false when none
	// exists.
	Get(ctx context.Context, eventID, step string) (rec *StepRecord, found bool, err error)
	// Put stores rec unless a record for the same key exists, in which case
	// it returns ErrRecordExists.
	Put(ctx context.Context, rec *StepRecord) error
	// List returns every record for eventID ordered by RecordedAt.
	List(ctx context.Context, eventID string) ([]StepRecord, error)
}
