package redislog

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/ticketflow/internal/workflow"
)

func TestKeys(t *testing.T) {
	t.Parallel()
	if got := recordKey("evt-1", workflow.StepNotify); got != "ticketflow:step:evt-1:notify" {
		t.Errorf("recordKey = %q", got)
	}
	if got := indexKey("evt-1"); got != "ticketflow:step:evt-1" {
		t.Errorf("indexKey = %q", got)
	}
}

func openLog(t *testing.T) *Log {
	t.Helper()
	url := os.Getenv("TICKETFLOW_TEST_REDIS_URL")
	if url == "" {
		t.Skip("TICKETFLOW_TEST_REDIS_URL not set, skipping integration test")
	}
	client, err := Dial(context.Background(), url)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return New(client, time.Minute)
}

func TestPutGetList(t *testing.T) {
	l := openLog(t)
	ctx := context.Background()
	eventID := "test-" + ulid.Make().String()
	now := time.Now().UTC()

	recs := []*workflow.StepRecord{
		{EventID: eventID, Step: workflow.StepFetchTicket, Status: workflow.RecordCompleted, Result: []byte(`{"id":"t1"}`), Attempts: 1, RecordedAt: now},
		{EventID: eventID, Step: workflow.StepMarkInProgress, Status: workflow.RecordCompleted, Attempts: 1, RecordedAt: now.Add(time.Millisecond)},
	}
	for _, r := range recs {
		if err := l.Put(ctx, r); err != nil {
			t.Fatalf("Put %s: %v", r.Step, err)
		}
	}
	if err := l.Put(ctx, recs[0]); !errors.Is(err, workflow.ErrRecordExists) {
		t.Errorf("duplicate Put err = %v, want ErrRecordExists", err)
	}

	got, found, err := l.Get(ctx, eventID, workflow.StepFetchTicket)
	if err != nil || !found || string(got.Result) != `{"id":"t1"}` {
		t.Fatalf("Get = %+v found %v err %v", got, found, err)
	}
	if _, found, _ := l.Get(ctx, eventID, workflow.StepNotify); found {
		t.Error("Get found an unwritten step")
	}

	list, err := l.List(ctx, eventID)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || list[0].Step != workflow.StepFetchTicket || list[1].Step != workflow.StepMarkInProgress {
		t.Errorf("List = %+v", list)
	}
}
