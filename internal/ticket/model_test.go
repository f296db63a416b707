package ticket

import (
	"errors"
	"regexp"
	"testing"
	"time"
)

func TestPatchValidate(t *testing.T) {
	t.Parallel()

	high := PriorityHigh
	bogus := Priority("urgent")
	inProgress := StatusInProgress
	badStatus := Status("done")

	tests := []struct {
		name    string
		patch   Patch
		wantErr bool
	}{
		{"empty", Patch{}, false},
		{"status only", Patch{Status: &inProgress}, false},
		{"guard without status", Patch{StatusIf: &inProgress}, true},
		{"bad status", Patch{Status: &badStatus}, true},
		{"priority with skills", Patch{Priority: &high, RelatedSkills: []string{"Auth"}}, false},
		{"priority without skills", Patch{Priority: &high}, true},
		{"skills without priority", Patch{RelatedSkills: []string{"Auth"}}, true},
		{"empty skills", Patch{Priority: &high, RelatedSkills: []string{}}, true},
		{"bad priority", Patch{Priority: &bogus, RelatedSkills: []string{"Auth"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.patch.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalid) {
				t.Errorf("error %v does not wrap ErrInvalid", err)
			}
		})
	}
}

func TestPatchApply_StatusGuard(t *testing.T) {
	t.Parallel()

	open := StatusOpen
	inProgress := StatusInProgress
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tk := &Ticket{ID: "t-1", Status: StatusClosed}
	summary := "closed by a human"
	Patch{Status: &open, StatusIf: &inProgress, Summary: &summary}.Apply(tk, now)

	if tk.Status != StatusClosed {
		t.Errorf("status = %q, want closed (guard should skip the write)", tk.Status)
	}
	if tk.Summary == nil || *tk.Summary != summary {
		t.Errorf("summary = %v, want %q", tk.Summary, summary)
	}
	if !tk.UpdatedAt.Equal(now) {
		t.Errorf("UpdatedAt = %v, want %v", tk.UpdatedAt, now)
	}

	tk.Status = StatusInProgress
	Patch{Status: &open, StatusIf: &inProgress}.Apply(tk, now)
	if tk.Status != StatusOpen {
		t.Errorf("status = %q, want open", tk.Status)
	}
}

func TestPatchApply_Deadline(t *testing.T) {
	t.Parallel()

	tk := &Ticket{ID: "t-2"}
	Patch{Deadline: Value("2024-01-02")}.Apply(tk, time.Now())
	if tk.Deadline == nil || *tk.Deadline != "2024-01-02" {
		t.Fatalf("deadline = %v, want 2024-01-02", tk.Deadline)
	}

	Patch{}.Apply(tk, time.Now())
	if tk.Deadline == nil {
		t.Fatal("unset Deadline must leave the field untouched")
	}

	Patch{Deadline: Null[string]()}.Apply(tk, time.Now())
	if tk.Deadline != nil {
		t.Errorf("deadline = %v, want nil", *tk.Deadline)
	}
}

func TestTicketClone_IsDeep(t *testing.T) {
	t.Parallel()

	s := "summary"
	orig := &Ticket{ID: "t-3", Summary: &s, RelatedSkills: []string{"Auth"}}
	cp := orig.Clone()
	*cp.Summary = "changed"
	cp.RelatedSkills[0] = "changed"

	if *orig.Summary != "summary" {
		t.Errorf("clone shares Summary pointer")
	}
	if orig.RelatedSkills[0] != "Auth" {
		t.Errorf("clone shares RelatedSkills backing array")
	}
}

func TestParsePriority(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in     string
		want   Priority
		wantOK bool
	}{
		{"HIGH", PriorityHigh, true},
		{" low ", PriorityLow, true},
		{"Medium", PriorityMedium, true},
		{"critical", Priority("critical"), false},
		{"", Priority(""), false},
	}
	for _, tt := range tests {
		got, ok := ParsePriority(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParsePriority(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestSkillPattern(t *testing.T) {
	t.Parallel()

	pattern, ok := SkillPattern([]string{"Networking", " ", "C++"})
	if !ok {
		t.Fatal("expected usable pattern")
	}
	re := regexp.MustCompile(pattern)

	tests := []struct {
		skills []string
		want   bool
	}{
		{[]string{"networking"}, true},
		{[]string{"Cloud Networking"}, true},
		{[]string{"c++ development"}, true},
		{[]string{"cxx"}, false},
		{[]string{"Billing", "SQL"}, false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := HasSkill(re, tt.skills); got != tt.want {
			t.Errorf("HasSkill(%v) = %v, want %v", tt.skills, got, tt.want)
		}
	}

	if _, ok := SkillPattern([]string{"", "  "}); ok {
		t.Error("blank terms should not produce a pattern")
	}
}
