package postgres

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
)

func TestShortenFuncName(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"full path", "github.com/linnemanlabs/ticketflow/internal/ticket/pgstore.(*Store).Get", "(*Store).Get"},
		{"already short", "(*Store).Get", "Get"},
		{"empty string", "", ""},
		{"no dots", "main", "main"},
		{"no slashes", "pglog.(*Log).Put", "(*Log).Put"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := shortenFuncName(tt.in); got != tt.want {
				t.Errorf("shortenFuncName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRunDBStats(t *testing.T) {
	t.Parallel()

	ctx, s := NewRunDBStatsContext(context.Background())
	s.AddQuery(10*time.Millisecond, nil)
	s.AddQuery(20*time.Millisecond, errors.New("timeout"))

	got, ok := RunDBStatsFromContext(ctx)
	if !ok || got != s {
		t.Fatal("RunDBStatsFromContext did not return the attached stats")
	}
	count, total, errs := got.Snapshot()
	if count != 2 || total != 30*time.Millisecond || errs != 1 {
		t.Errorf("Snapshot = %d, %v, %d; want 2, 30ms, 1", count, total, errs)
	}

	if _, ok := RunDBStatsFromContext(context.Background()); ok {
		t.Error("expected ok=false for plain context")
	}
}

func TestQuerySource(t *testing.T) {
	t.Parallel()

	if got := querySource(context.Background()); got != "unknown" {
		t.Errorf("plain ctx source = %q, want unknown", got)
	}
	if got := querySource(WithStep(context.Background(), "persist-analysis")); got != "persist-analysis" {
		t.Errorf("step source = %q", got)
	}
	if got := querySource(WithStep(context.Background(), "")); got != "unknown" {
		t.Errorf("empty step source = %q, want unknown", got)
	}

	var routed string
	r := chi.NewRouter()
	r.Get("/api/v1/events/{eventId}/steps", func(_ http.ResponseWriter, req *http.Request) {
		routed = querySource(req.Context())
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/events/e1/steps", nil))
	if routed != "/api/v1/events/{eventId}/steps" {
		t.Errorf("route source = %q", routed)
	}
}

func TestQueryOutcome(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{fmt.Errorf("get: %w", context.DeadlineExceeded), "timeout"},
		{pgx.ErrNoRows, "no_rows"},
		{errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		if got := queryOutcome(tt.err); got != tt.want {
			t.Errorf("queryOutcome(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestSetQueryObserver(t *testing.T) {
	// mutates package state; not parallel
	defer SetQueryObserver(nil)

	var gotSource string
	SetQueryObserver(QueryObserverFunc(func(_ context.Context, source, _ string, _ time.Duration) {
		gotSource = source
	}))
	obs := getQueryObserver()
	if obs == nil {
		t.Fatal("expected observer after Set")
	}
	obs.ObserveQuery(context.Background(), "notify", "ok", time.Millisecond)
	if gotSource != "notify" {
		t.Errorf("source = %q, want notify", gotSource)
	}

	SetQueryObserver(nil)
	if getQueryObserver() != nil {
		t.Error("expected nil observer after Set(nil)")
	}
}
