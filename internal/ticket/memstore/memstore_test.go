package memstore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/ticketflow/internal/ticket"
)

func TestStore_GetMissing(t *testing.T) {
	t.Parallel()

	s := New()
	_, err := s.Get(context.Background(), "nope")
	if !errors.Is(err, ticket.ErrNotFound) {
		t.Fatalf("Get err = %v, want ErrNotFound", err)
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	t.Parallel()

	s := New()
	s.PutTicket(&ticket.Ticket{ID: "t-1", Title: "Cannot login", Status: ticket.StatusOpen})

	got, err := s.Get(context.Background(), "t-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got.Title = "mutated"

	again, _ := s.Get(context.Background(), "t-1")
	if again.Title != "Cannot login" {
		t.Errorf("Title = %q, store leaked its internal pointer", again.Title)
	}
}

func TestStore_UpdatePartial(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	s.PutTicket(&ticket.Ticket{ID: "t-2", Title: "VPN drops", Description: "every hour", Status: ticket.StatusOpen})

	inProgress := ticket.StatusInProgress
	got, err := s.Update(ctx, "t-2", ticket.Patch{Status: &inProgress})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if got.Status != ticket.StatusInProgress {
		t.Errorf("Status = %q, want in-progress", got.Status)
	}
	if got.Description != "every hour" {
		t.Errorf("Description = %q, partial update clobbered other fields", got.Description)
	}
}

func TestStore_UpdateMissingAndInvalid(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	open := ticket.StatusOpen
	if _, err := s.Update(ctx, "missing", ticket.Patch{Status: &open}); !errors.Is(err, ticket.ErrNotFound) {
		t.Errorf("Update missing err = %v, want ErrNotFound", err)
	}

	s.PutTicket(&ticket.Ticket{ID: "t-3", Status: ticket.StatusOpen})
	high := ticket.PriorityHigh
	if _, err := s.Update(ctx, "t-3", ticket.Patch{Priority: &high}); !errors.Is(err, ticket.ErrInvalid) {
		t.Errorf("Update invalid err = %v, want ErrInvalid", err)
	}
}

func TestStore_FindModeratorPrefersSkillMatch(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	s.PutUser(&ticket.User{ID: "m2", Role: ticket.RoleModerator, Skills: []string{"Billing"}, CreatedAt: base})
	s.PutUser(&ticket.User{ID: "m1", Role: ticket.RoleModerator, Skills: []string{"networking"}, CreatedAt: base.Add(time.Hour)})
	s.PutUser(&ticket.User{ID: "a1", Role: ticket.RoleAdmin, CreatedAt: base.Add(-time.Hour)})

	u, ok, err := s.FindModerator(ctx, []string{"Networking"})
	if err != nil || !ok {
		t.Fatalf("FindModerator = %v, %v, %v", u, ok, err)
	}
	if u.ID != "m1" {
		t.Errorf("FindModerator ID = %q, want m1", u.ID)
	}

	first, ok, _ := s.FindAnyModerator(ctx)
	if !ok || first.ID != "m2" {
		t.Errorf("FindAnyModerator = %v, want earliest moderator m2", first)
	}

	admin, ok, _ := s.FindAnyAdmin(ctx)
	if !ok || admin.ID != "a1" {
		t.Errorf("FindAnyAdmin = %v, want a1", admin)
	}
}

func TestStore_FindModeratorBlankTerms(t *testing.T) {
	t.Parallel()

	s := New()
	s.PutUser(&ticket.User{ID: "m1", Role: ticket.RoleModerator, Skills: []string{"anything"}})

	_, ok, err := s.FindModerator(context.Background(), []string{" ", ""})
	if err != nil {
		t.Fatalf("FindModerator: %v", err)
	}
	if ok {
		t.Error("blank terms must not match every moderator")
	}
}

func TestStore_LoadSeed(t *testing.T) {
	t.Parallel()

	doc := `
users:
  - id: u-admin
    email: admin@example.com
    role: admin
  - email: mod@example.com
    role: moderator
    skills: [Auth, SSO]
tickets:
  - id: t-seed
    title: Cannot login
    description: Password reset loop
`
	s := New()
	seed, err := s.LoadSeed(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}
	if len(seed.Users) != 2 || len(seed.Tickets) != 1 {
		t.Fatalf("seed = %d users, %d tickets; want 2, 1", len(seed.Users), len(seed.Tickets))
	}
	if seed.Users[1].ID == "" {
		t.Error("expected generated ID for user without one")
	}

	tk, err := s.Get(context.Background(), "t-seed")
	if err != nil {
		t.Fatalf("Get seeded ticket: %v", err)
	}
	if tk.Status != ticket.StatusOpen {
		t.Errorf("Status = %q, want default open", tk.Status)
	}

	mod, ok, _ := s.FindModerator(context.Background(), []string{"sso"})
	if !ok || mod.Email != "mod@example.com" {
		t.Errorf("FindModerator(sso) = %v, want seeded moderator", mod)
	}
}

func TestStore_LoadSeedRejectsBadRole(t *testing.T) {
	t.Parallel()

	_, err := New().LoadSeed(strings.NewReader("users:\n  - id: x\n    role: wizard\n"))
	if err == nil {
		t.Fatal("expected error for invalid role")
	}
}
