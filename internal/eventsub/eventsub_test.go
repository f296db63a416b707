package eventsub

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nats-io/nats.go"

	"github.com/linnemanlabs/ticketflow/internal/workflow"
)

type recordingSubmitter struct {
	mu  sync.Mutex
	evs []workflow.Event
	err error
}

func (r *recordingSubmitter) Submit(_ context.Context, ev workflow.Event) (*workflow.SubmitResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.evs = append(r.evs, ev)
	return &workflow.SubmitResult{EventID: ev.EventID, RunID: "r"}, nil
}

func TestDecodeEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		data    string
		msgID   string
		want    workflow.Event
		wantErr bool
	}{
		{"body ids", `{"ticketId":"t1","eventId":"e1"}`, "", workflow.Event{TicketID: "t1", EventID: "e1"}, false},
		{"header fills event id", `{"ticketId":"t1"}`, "hdr-1", workflow.Event{TicketID: "t1", EventID: "hdr-1"}, false},
		{"body wins over header", `{"ticketId":"t1","eventId":"e1"}`, "hdr-1", workflow.Event{TicketID: "t1", EventID: "e1"}, false},
		{"no event id anywhere", `{"ticketId":"t1"}`, "", workflow.Event{}, true},
		{"no ticket id", `{"eventId":"e1"}`, "", workflow.Event{}, true},
		{"not json", `ticket t1`, "", workflow.Event{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			msg := &nats.Msg{Subject: DefaultSubject, Data: []byte(tt.data), Header: nats.Header{}}
			if tt.msgID != "" {
				msg.Header.Set(nats.MsgIdHdr, tt.msgID)
			}
			got, err := decodeEvent(msg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("decodeEvent = %+v, want error", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("decodeEvent = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestHandle(t *testing.T) {
	t.Parallel()

	svc := &recordingSubmitter{}
	s := New(svc, nil)

	s.handle(&nats.Msg{Subject: DefaultSubject, Data: []byte(`{"ticketId":"t1","eventId":"e1"}`)})
	s.handle(&nats.Msg{Subject: DefaultSubject, Data: []byte(`garbage`)})

	if len(svc.evs) != 1 || svc.evs[0].EventID != "e1" {
		t.Errorf("submitted = %+v, want one event", svc.evs)
	}
}

func TestHandle_SubmitErrorIsContained(t *testing.T) {
	t.Parallel()

	s := New(&recordingSubmitter{err: errors.New("shutting down")}, nil)
	// must not panic without a reply subject
	s.handle(&nats.Msg{Subject: DefaultSubject, Data: []byte(`{"ticketId":"t1","eventId":"e1"}`)})
}

func TestDrain_NotSubscribed(t *testing.T) {
	t.Parallel()
	if err := New(&recordingSubmitter{}, nil).Drain(); err != nil {
		t.Errorf("Drain = %v", err)
	}
}
