package ticket

import (
	"context"
	"regexp"
	"strings"
)

// Store is the persistence interface for tickets. Both methods return
// ErrNotFound for a missing ticket.
type Store interface {
	Get(ctx context.Context, id string) (*Ticket, error)
	Update(ctx context.Context, id string, patch Patch) (*Ticket, error)
}

// UserStore is the read-only view of users the assignment resolver needs.
// Each finder returns the earliest-created match.
type UserStore interface {
	FindModerator(ctx context.Context, skillTerms []string) (*User, bool, error)
	FindAnyModerator(ctx context.Context) (*User, bool, error)
	FindAnyAdmin(ctx context.Context) (*User, bool, error)
}

// SkillTerms trims terms and drops blanks.
func SkillTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// SkillPattern returns the case-insensitive alternation of the quoted
// terms, e.g. (?i)(Auth|SSO). A skill matches when the pattern matches
// anywhere inside it. The second result is false when no usable term
// remains.
func SkillPattern(terms []string) (string, bool) {
	terms = SkillTerms(terms)
	if len(terms) == 0 {
		return "", false
	}
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = regexp.QuoteMeta(t)
	}
	return "(?i)(" + strings.Join(quoted, "|") + ")", true
}

// HasSkill reports whether any of skills matches re.
func HasSkill(re *regexp.Regexp, skills []string) bool {
	for _, s := range skills {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
