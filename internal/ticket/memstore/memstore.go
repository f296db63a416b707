// Package memstore provides an in-memory implementation of ticket.Store and
// ticket.UserStore.
package memstore

import (
	"context"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/linnemanlabs/ticketflow/internal/ticket"
)

// Store holds tickets and users in memory. Suitable for dev/testing.
type Store struct {
	mu      sync.RWMutex
	tickets map[string]*ticket.Ticket
	users   []*ticket.User // ordered by CreatedAt, then insertion
	now     func() time.Time
}

// New initializes an empty Store.
func New() *Store {
	return &Store{
		tickets: make(map[string]*ticket.Ticket),
		now:     time.Now,
	}
}

// PutTicket stores a copy of t, replacing any ticket with the same ID.
func (s *Store) PutTicket(t *ticket.Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[t.ID] = t.Clone()
}

// DeleteTicket removes a ticket. Used to simulate external deletes.
func (s *Store) DeleteTicket(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tickets, id)
}

// PutUser stores a copy of u. Users keep creation order for the finders.
func (s *Store) PutUser(u *ticket.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := u.Clone()
	for i, existing := range s.users {
		if existing.ID == u.ID {
			s.users[i] = cp
			return
		}
	}
	s.users = append(s.users, cp)
	sort.SliceStable(s.users, func(i, j int) bool {
		return s.users[i].CreatedAt.Before(s.users[j].CreatedAt)
	})
}

// Get retrieves a ticket by ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*ticket.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, ticket.ErrNotFound
	}
	return t.Clone(), nil
}

// Update applies a partial update and returns a copy of the result.
func (s *Store) Update(_ context.Context, id string, patch ticket.Patch) (*ticket.Ticket, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, ticket.ErrNotFound
	}
	patch.Apply(t, s.now())
	return t.Clone(), nil
}

// FindModerator returns the earliest-created moderator with a skill
// matching any of skillTerms.
func (s *Store) FindModerator(_ context.Context, skillTerms []string) (*ticket.User, bool, error) {
	pattern, ok := ticket.SkillPattern(skillTerms)
	if !ok {
		return nil, false, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, false, err
	}
	return s.first(func(u *ticket.User) bool {
		return u.Role == ticket.RoleModerator && ticket.HasSkill(re, u.Skills)
	})
}

// FindAnyModerator returns the earliest-created moderator.
func (s *Store) FindAnyModerator(_ context.Context) (*ticket.User, bool, error) {
	return s.first(func(u *ticket.User) bool { return u.Role == ticket.RoleModerator })
}

// FindAnyAdmin returns the earliest-created admin.
func (s *Store) FindAnyAdmin(_ context.Context) (*ticket.User, bool, error) {
	return s.first(func(u *ticket.User) bool { return u.Role == ticket.RoleAdmin })
}

func (s *Store) first(match func(*ticket.User) bool) (*ticket.User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if match(u) {
			return u.Clone(), true, nil
		}
	}
	return nil, false, nil
}
