package analysis

import (
	"errors"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/jsonc"

	"github.com/linnemanlabs/ticketflow/internal/ticket"
)

var fenceRE = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)\\s*```")

var (
	errNoObject  = errors.New("no JSON object in output")
	errUnclosed  = errors.New("unbalanced JSON object")
	errNotObject = errors.New("output is not a JSON object")
)

// Extract pulls the first JSON object out of raw model output. A fenced
// block wins when present; otherwise the first balanced {...} is taken.
// Comments and trailing commas are removed before validation.
func Extract(raw string) ([]byte, error) {
	text := strings.TrimSpace(raw)
	if m := fenceRE.FindStringSubmatch(text); m != nil {
		text = m[1]
	}

	obj, err := firstObject(text)
	if err != nil {
		return nil, err
	}

	doc := jsonc.ToJSON([]byte(obj))
	if !gjson.ValidBytes(doc) {
		return nil, errors.New("invalid JSON object")
	}
	if !gjson.ParseBytes(doc).IsObject() {
		return nil, errNotObject
	}
	return doc, nil
}

// firstObject returns the first top-level balanced brace span, ignoring
// braces inside string literals.
func firstObject(s string) (string, error) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", errNoObject
	}

	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], nil
			}
		}
	}
	return "", errUnclosed
}

// Normalize reads an extracted object leniently and forces every field into
// its valid range.
func Normalize(doc []byte, provider string) Result {
	r := Result{Provider: provider}

	if v := gjson.GetBytes(doc, "summary"); v.Type == gjson.String {
		r.Summary = v.String()
	}
	if v := gjson.GetBytes(doc, "helpfulNotes"); v.Type == gjson.String {
		r.HelpfulNotes = v.String()
	}
	if v := gjson.GetBytes(doc, "priority"); v.Type == gjson.String {
		r.Priority = ticket.Priority(v.String())
	}
	if v := gjson.GetBytes(doc, "relatedSkills"); v.IsArray() {
		for _, s := range v.Array() {
			if s.Type == gjson.String {
				r.RelatedSkills = append(r.RelatedSkills, s.String())
			}
		}
	}
	if v := gjson.GetBytes(doc, "deadline"); v.Type == gjson.String {
		d := v.String()
		r.Deadline = &d
	}
	return r.Normalized()
}
