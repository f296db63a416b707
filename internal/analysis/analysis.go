// Package analysis turns a ticket into a normalized AI analysis by walking an
// ordered cascade of provider adapters. The cascade is total: when every
// adapter fails, or none is configured, it returns a fixed fallback so the
// workflow always has valid values to persist.
package analysis

import (
	"context"
	"fmt"
	"strings"

	"github.com/linnemanlabs/ticketflow/internal/ticket"
)

const (
	DefaultSummary = "AI analysis completed"
	DefaultNotes   = "No additional notes provided"
	DefaultSkill   = "General Support"
	FallbackNotes  = "AI analysis unavailable"

	// FallbackProvider marks a Result that no adapter produced.
	FallbackProvider = "fallback"
)

// Adapter wraps one AI backend. Invoke returns the raw completion text.
// Implementations mark rate-limit responses with Transient.
type Adapter interface {
	Name() string
	Invoke(ctx context.Context, prompt, system string) (string, error)
}

// Result is a fully normalized analysis. It is never persisted on its own.
type Result struct {
	Summary       string          `json:"summary"`
	Priority      ticket.Priority `json:"priority"`
	HelpfulNotes  string          `json:"helpfulNotes"`
	RelatedSkills []string        `json:"relatedSkills"`
	Deadline      *string         `json:"deadline"`
	Provider      string          `json:"provider,omitempty"`
}

// Fallback is the fixed result used when no adapter produced a usable answer.
func Fallback(title string) Result {
	return Result{
		Summary:       fmt.Sprintf("manual review required for %s", title),
		Priority:      ticket.PriorityMedium,
		HelpfulNotes:  FallbackNotes,
		RelatedSkills: []string{DefaultSkill},
		Provider:      FallbackProvider,
	}
}

// Normalized returns a copy of r with every field forced into its valid
// range. Results that already passed Normalize are unchanged.
func (r Result) Normalized() Result {
	out := Result{
		Summary:      strings.TrimSpace(r.Summary),
		HelpfulNotes: strings.TrimSpace(r.HelpfulNotes),
		Provider:     r.Provider,
	}
	if out.Summary == "" {
		out.Summary = DefaultSummary
	}
	if out.HelpfulNotes == "" {
		out.HelpfulNotes = DefaultNotes
	}
	if p, ok := ticket.ParsePriority(string(r.Priority)); ok {
		out.Priority = p
	} else {
		out.Priority = ticket.PriorityMedium
	}
	out.RelatedSkills = cleanSkills(r.RelatedSkills)
	if r.Deadline != nil {
		out.Deadline = cleanDeadline(*r.Deadline)
	}
	return out
}

// Degraded reports whether r came from the fixed fallback.
func (r Result) Degraded() bool { return r.Provider == FallbackProvider }

func cleanSkills(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return []string{DefaultSkill}
	}
	return out
}

func cleanDeadline(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return nil
	}
	return &s
}
