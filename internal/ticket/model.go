// Package ticket defines the support ticket and user records the triage
// workflow reads and writes, the partial-update Patch, and the store
// contracts both persistence backends implement.
package ticket

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status tracks where a ticket is in its lifecycle.
type Status string

const (
	// StatusOpen is the intake state and the state after analysis.
	StatusOpen Status = "open"

	// StatusInProgress means the triage workflow is working on the ticket.
	StatusInProgress Status = "in-progress"

	// StatusClosed is set by humans only.
	StatusClosed Status = "closed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusClosed:
		return true
	}
	return false
}

// Priority is the urgency assigned by analysis.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is one of low, medium or high.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// ParsePriority lower-cases and trims s and reports whether the result is valid.
func ParsePriority(s string) (Priority, bool) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	return p, p.Valid()
}

// Role is a user's permission level.
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleModerator, RoleAdmin:
		return true
	}
	return false
}

var (
	// ErrNotFound is returned when a ticket does not exist, including one
	// deleted while a workflow was running.
	ErrNotFound = errors.New("ticket not found")

	// ErrInvalid is returned when a store refuses a write because a field
	// value is unacceptable.
	ErrInvalid = errors.New("invalid ticket field")
)

// Ticket is a support request.
type Ticket struct {
	ID            string    `json:"id" yaml:"id"`
	Title         string    `json:"title" yaml:"title"`
	Description   string    `json:"description" yaml:"description"`
	Status        Status    `json:"status" yaml:"status"`
	CreatedBy     string    `json:"createdBy" yaml:"createdBy"`
	AssignedTo    *string   `json:"assignedTo" yaml:"assignedTo"`
	Summary       *string   `json:"summary" yaml:"summary"`
	Priority      *Priority `json:"priority" yaml:"priority"`
	HelpfulNotes  *string   `json:"helpfulNotes" yaml:"helpfulNotes"`
	RelatedSkills []string  `json:"relatedSkills" yaml:"relatedSkills"`
	Deadline      *string   `json:"deadline" yaml:"deadline"`
	CreatedAt     time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// User is a person tickets can be assigned to.
type User struct {
	ID        string    `json:"id" yaml:"id"`
	Email     string    `json:"email" yaml:"email"`
	Role      Role      `json:"role" yaml:"role"`
	Skills    []string  `json:"skills" yaml:"skills"`
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
}

// Nullable is a patch value for a nullable column. Set marks the field
// for writing; a nil Value writes NULL.
type Nullable[T any] struct {
	Set   bool
	Value *T
}

// Null returns a Nullable that writes NULL.
func Null[T any]() Nullable[T] {
	return Nullable[T]{Set: true}
}

// Value returns a Nullable that writes v.
func Value[T any](v T) Nullable[T] {
	return Nullable[T]{Set: true, Value: &v}
}

// Patch is a partial update. Unset fields are left untouched so that
// concurrent human edits to other fields survive.
type Patch struct {
	Status *Status
	// StatusIf guards Status: the status is written only when the stored
	// status equals StatusIf. Other fields are written regardless.
	StatusIf      *Status
	AssignedTo    *string
	Summary       *string
	Priority      *Priority
	HelpfulNotes  *string
	RelatedSkills []string
	Deadline      Nullable[string]
}

// Empty reports whether the patch writes nothing.
func (p Patch) Empty() bool {
	return p.Status == nil && p.AssignedTo == nil && p.Summary == nil && p.Priority == nil &&
		p.HelpfulNotes == nil && p.RelatedSkills == nil && !p.Deadline.Set
}

// Validate rejects patches that would break the ticket invariants.
func (p Patch) Validate() error {
	if p.Status != nil && !p.Status.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalid, *p.Status)
	}
	if p.StatusIf != nil && p.Status == nil {
		return fmt.Errorf("%w: status guard without status", ErrInvalid)
	}
	if p.Priority != nil && !p.Priority.Valid() {
		return fmt.Errorf("%w: priority %q", ErrInvalid, *p.Priority)
	}
	if (p.Priority == nil) != (p.RelatedSkills == nil) {
		return fmt.Errorf("%w: priority and related skills must be written together", ErrInvalid)
	}
	if p.RelatedSkills != nil && len(p.RelatedSkills) == 0 {
		return fmt.Errorf("%w: related skills must not be empty", ErrInvalid)
	}
	return nil
}

// Apply writes the patch onto t in place. Callers validate first.
func (p Patch) Apply(t *Ticket, now time.Time) {
	if p.Status != nil && (p.StatusIf == nil || t.Status == *p.StatusIf) {
		t.Status = *p.Status
	}
	if p.AssignedTo != nil {
		t.AssignedTo = ptr(*p.AssignedTo)
	}
	if p.Summary != nil {
		t.Summary = ptr(*p.Summary)
	}
	if p.Priority != nil {
		t.Priority = ptr(*p.Priority)
	}
	if p.HelpfulNotes != nil {
		t.HelpfulNotes = ptr(*p.HelpfulNotes)
	}
	if p.RelatedSkills != nil {
		t.RelatedSkills = append([]string(nil), p.RelatedSkills...)
	}
	if p.Deadline.Set {
		if p.Deadline.Value == nil {
			t.Deadline = nil
		} else {
			t.Deadline = ptr(*p.Deadline.Value)
		}
	}
	t.UpdatedAt = now
}

// Clone returns a deep copy of t.
func (t *Ticket) Clone() *Ticket {
	cp := *t
	cp.AssignedTo = clonePtr(t.AssignedTo)
	cp.Summary = clonePtr(t.Summary)
	cp.Priority = clonePtr(t.Priority)
	cp.HelpfulNotes = clonePtr(t.HelpfulNotes)
	cp.Deadline = clonePtr(t.Deadline)
	if t.RelatedSkills != nil {
		cp.RelatedSkills = append([]string(nil), t.RelatedSkills...)
	}
	return &cp
}

// Clone returns a deep copy of u.
func (u *User) Clone() *User {
	cp := *u
	if u.Skills != nil {
		cp.Skills = append([]string(nil), u.Skills...)
	}
	return &cp
}

func ptr[T any](v T) *T { return &v }

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
