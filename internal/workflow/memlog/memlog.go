// Package memlog provides an in-memory implementation of workflow.StepLog.
package memlog

import (
	"context"
	"slices"
	"sync"

	"github.com/linnemanlabs/ticketflow/internal/workflow"
)

type key struct{ event, step string }

// Log holds step records in memory. Suitable for dev/testing; records do
// not survive a restart.
type Log struct {
	mu      sync.RWMutex
	records map[key]workflow.StepRecord
	order   map[string][]string // event ID -> steps in write order
}

// New initializes an empty Log.
func New() *Log {
	return &Log{
		records: make(map[key]workflow.StepRecord),
		order:   make(map[string][]string),
	}
}

// Get returns a copy of the record for (eventID, step).
func (l *Log) Get(_ context.Context, eventID, step string) (*workflow.StepRecord, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[key{eventID, step}]
	if !ok {
		return nil, false, nil
	}
	cp := clone(rec)
	return &cp, true, nil
}

// Put stores a copy of rec. The first write for a key wins.
func (l *Log) Put(_ context.Context, rec *workflow.StepRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := key{rec.EventID, rec.Step}
	if _, ok := l.records[k]; ok {
		return workflow.ErrRecordExists
	}
	l.records[k] = clone(*rec)
	l.order[rec.EventID] = append(l.order[rec.EventID], rec.Step)
	return nil
}

// List returns copies of every record for eventID in write order.
func (l *Log) List(_ context.Context, eventID string) ([]workflow.StepRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	steps := l.order[eventID]
	out := make([]workflow.StepRecord, 0, len(steps))
	for _, s := range steps {
		out = append(out, clone(l.records[key{eventID, s}]))
	}
	return out, nil
}

func clone(r workflow.StepRecord) workflow.StepRecord {
	r.Result = slices.Clone(r.Result)
	return r
}
