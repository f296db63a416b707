// Package assign picks the owner for an analyzed ticket.
package assign

import (
	"context"
	"fmt"

	"github.com/linnemanlabs/ticketflow/internal/ticket"
)

// Match reports which rule selected the assignee.
type Match string

const (
	MatchSkill     Match = "skill"
	MatchModerator Match = "moderator"
	MatchAdmin     Match = "admin"
	MatchNone      Match = "none"
)

// Resolver selects an assignee from a UserStore. It never writes.
type Resolver struct {
	users ticket.UserStore
}

// New creates a Resolver over users.
func New(users ticket.UserStore) *Resolver {
	return &Resolver{users: users}
}

// Resolve returns the first user matching, in order: a moderator with a
// skill matching any of skills, any moderator, any admin. A nil user with a
// nil error means nobody qualifies.
func (r *Resolver) Resolve(ctx context.Context, skills []string) (*ticket.User, Match, error) {
	if terms := ticket.SkillTerms(skills); len(terms) > 0 {
		u, ok, err := r.users.FindModerator(ctx, terms)
		if err != nil {
			return nil, MatchNone, fmt.Errorf("find skilled moderator: %w", err)
		}
		if ok {
			return u, MatchSkill, nil
		}
	}

	u, ok, err := r.users.FindAnyModerator(ctx)
	if err != nil {
		return nil, MatchNone, fmt.Errorf("find moderator: %w", err)
	}
	if ok {
		return u, MatchModerator, nil
	}

	u, ok, err = r.users.FindAnyAdmin(ctx)
	if err != nil {
		return nil, MatchNone, fmt.Errorf("find admin: %w", err)
	}
	if ok {
		return u, MatchAdmin, nil
	}
	return nil, MatchNone, nil
}
