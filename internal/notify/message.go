package notify

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
)

// Message is a rendered assignment email.
type Message struct {
	Text string
	HTML string
}

type view struct {
	Title        string
	Description  string
	Summary      string
	Priority     string
	HelpfulNotes string
	Skills       string
	Deadline     string
}

const textBody = `Hi,

A ticket has been assigned to you.

Title: {{.Title}}
Description: {{.Description}}
Summary: {{.Summary}}
Priority: {{.Priority}}
Helpful notes: {{.HelpfulNotes}}
Related skills: {{.Skills}}
Deadline: {{.Deadline}}
`

const htmlBody = `<h2>New ticket assigned</h2>
<p><strong>Title:</strong> {{.Title}}</p>
<p><strong>Description:</strong> {{.Description}}</p>
<p><strong>Summary:</strong> {{.Summary}}</p>
<p><strong>Priority:</strong> {{.Priority}}</p>
<p><strong>Helpful notes:</strong> {{.HelpfulNotes}}</p>
<p><strong>Related skills:</strong> {{.Skills}}</p>
<p><strong>Deadline:</strong> {{.Deadline}}</p>
`

var (
	textTmpl = texttemplate.Must(texttemplate.New("text").Parse(textBody))
	htmlTmpl = htmltemplate.Must(htmltemplate.New("html").Parse(htmlBody))
)

// Render builds the plain text and HTML bodies. Ticket fields are escaped in
// the HTML body.
func Render(a Assignment) (Message, error) {
	v := view{
		Title:        a.Ticket.Title,
		Description:  a.Ticket.Description,
		Summary:      a.Analysis.Summary,
		Priority:     string(a.Analysis.Priority),
		HelpfulNotes: a.Analysis.HelpfulNotes,
		Skills:       strings.Join(a.Analysis.RelatedSkills, ", "),
		Deadline:     "none",
	}
	if a.Analysis.Deadline != nil {
		v.Deadline = *a.Analysis.Deadline
	}

	var text, html bytes.Buffer
	if err := textTmpl.Execute(&text, v); err != nil {
		return Message{}, fmt.Errorf("render text body: %w", err)
	}
	if err := htmlTmpl.Execute(&html, v); err != nil {
		return Message{}, fmt.Errorf("render html body: %w", err)
	}
	return Message{Text: text.String(), HTML: html.String()}, nil
}
