package pglog_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/ticketflow/internal/postgres"
	"github.com/linnemanlabs/ticketflow/internal/workflow"
	"github.com/linnemanlabs/ticketflow/internal/workflow/pglog"
)

func openLog(t *testing.T) *pglog.Log {
	t.Helper()
	dsn := os.Getenv("TICKETFLOW_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TICKETFLOW_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := postgres.Migrate(ctx, pool); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return pglog.New(pool)
}

func TestPutGetList(t *testing.T) {
	l := openLog(t)
	ctx := context.Background()
	eventID := "test-" + ulid.Make().String()
	now := time.Now().Truncate(time.Microsecond).UTC()

	if _, found, err := l.Get(ctx, eventID, workflow.StepFetchTicket); err != nil || found {
		t.Fatalf("Get before Put = found %v, err %v", found, err)
	}

	first := &workflow.StepRecord{
		EventID: eventID, Step: workflow.StepFetchTicket, Status: workflow.RecordCompleted,
		Result: []byte(`{"id":"t1"}`), Attempts: 1, RecordedAt: now,
	}
	second := &workflow.StepRecord{
		EventID: eventID, Step: workflow.StepPersistAnalysis, Status: workflow.RecordCompleted,
		Error: "invalid", Degraded: true, Attempts: 2, RecordedAt: now.Add(time.Second),
	}
	for _, r := range []*workflow.StepRecord{first, second} {
		if err := l.Put(ctx, r); err != nil {
			t.Fatalf("Put %s: %v", r.Step, err)
		}
	}

	got, found, err := l.Get(ctx, eventID, workflow.StepFetchTicket)
	if err != nil || !found {
		t.Fatalf("Get = found %v, err %v", found, err)
	}
	if got.Status != workflow.RecordCompleted || got.Attempts != 1 || !got.RecordedAt.Equal(now) {
		t.Errorf("Get = %+v", got)
	}
	if string(got.Result) != `{"id": "t1"}` && string(got.Result) != `{"id":"t1"}` {
		t.Errorf("Result = %s", got.Result)
	}

	dup := *first
	dup.Status = workflow.RecordFailed
	if err := l.Put(ctx, &dup); !errors.Is(err, workflow.ErrRecordExists) {
		t.Errorf("duplicate Put err = %v, want ErrRecordExists", err)
	}

	recs, err := l.List(ctx, eventID)
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 || recs[0].Step != workflow.StepFetchTicket || !recs[1].Degraded || recs[1].Result != nil {
		t.Errorf("List = %+v", recs)
	}
}
