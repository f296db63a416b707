package assign

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/linnemanlabs/ticketflow/internal/ticket"
	"github.com/linnemanlabs/ticketflow/internal/ticket/memstore"
)

func seeded(users ...ticket.User) *memstore.Store {
	s := memstore.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range users {
		u := users[i]
		if u.CreatedAt.IsZero() {
			u.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		}
		s.PutUser(&u)
	}
	return s
}

func TestResolve(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		users     []ticket.User
		skills    []string
		wantID    string
		wantMatch Match
	}{
		{
			name: "skilled moderator over earlier moderator",
			users: []ticket.User{
				{ID: "m2", Role: ticket.RoleModerator, Skills: []string{"Billing"}},
				{ID: "m1", Role: ticket.RoleModerator, Skills: []string{"networking"}},
			},
			skills:    []string{"Networking"},
			wantID:    "m1",
			wantMatch: MatchSkill,
		},
		{
			name: "substring match case-insensitive",
			users: []ticket.User{
				{ID: "m1", Role: ticket.RoleModerator, Skills: []string{"Single Sign-On (SSO)"}},
			},
			skills:    []string{"sso"},
			wantID:    "m1",
			wantMatch: MatchSkill,
		},
		{
			name: "no skill match falls to first moderator",
			users: []ticket.User{
				{ID: "a1", Role: ticket.RoleAdmin},
				{ID: "m1", Role: ticket.RoleModerator, Skills: []string{"Billing"}},
				{ID: "m2", Role: ticket.RoleModerator},
			},
			skills:    []string{"Kubernetes"},
			wantID:    "m1",
			wantMatch: MatchModerator,
		},
		{
			name:      "blank terms skip skill rule",
			users:     []ticket.User{{ID: "m1", Role: ticket.RoleModerator, Skills: []string{"anything"}}},
			skills:    []string{"", "  "},
			wantID:    "m1",
			wantMatch: MatchModerator,
		},
		{
			name:      "admin when no moderators",
			users:     []ticket.User{{ID: "u1", Role: ticket.RoleUser, Skills: []string{"Auth"}}, {ID: "a1", Role: ticket.RoleAdmin}},
			skills:    []string{"Auth"},
			wantID:    "a1",
			wantMatch: MatchAdmin,
		},
		{
			name:      "nobody",
			users:     []ticket.User{{ID: "u1", Role: ticket.RoleUser}},
			skills:    []string{"Auth"},
			wantMatch: MatchNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			u, match, err := New(seeded(tt.users...)).Resolve(context.Background(), tt.skills)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if match != tt.wantMatch {
				t.Errorf("match = %q, want %q", match, tt.wantMatch)
			}
			gotID := ""
			if u != nil {
				gotID = u.ID
			}
			if gotID != tt.wantID {
				t.Errorf("user = %q, want %q", gotID, tt.wantID)
			}
		})
	}
}

type failingUsers struct{ err error }

func (f failingUsers) FindModerator(context.Context, []string) (*ticket.User, bool, error) {
	return nil, false, f.err
}
func (f failingUsers) FindAnyModerator(context.Context) (*ticket.User, bool, error) {
	return nil, false, f.err
}
func (f failingUsers) FindAnyAdmin(context.Context) (*ticket.User, bool, error) {
	return nil, false, f.err
}

func TestResolve_StoreError(t *testing.T) {
	t.Parallel()

	boom := errors.New("db down")
	_, match, err := New(failingUsers{err: boom}).Resolve(context.Background(), []string{"Auth"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped db down", err)
	}
	if match != MatchNone {
		t.Errorf("match = %q, want none", match)
	}
}
