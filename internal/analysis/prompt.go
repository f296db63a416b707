package analysis

import (
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/ticketflow/internal/ticket"
)

// Prompt builds the system instructions and the user prompt for t. The output
// depends only on t and the calendar date of now.
func Prompt(t *ticket.Ticket, now time.Time) (system, user string) {
	today := now.UTC().Format(time.DateOnly)

	system = fmt.Sprintf(`You are a support ticket triage assistant.
Analyze the ticket and respond with ONLY a valid JSON object containing:
- summary: brief summary of the issue
- priority: one of "low", "medium" or "high"
- helpfulNotes: suggestions and resource links that help a human resolve it
- relatedSkills: array of skills relevant to resolving it
- deadline: date in YYYY-MM-DD format, in the future, based on priority

Today is %s. Deadline guidance:
- high priority: 1 to 3 days from today
- medium priority: 2 to 7 days from today
- low priority: 5 to 14 days from today

Do not include code. Respond ONLY with the JSON object, no explanations and no markdown.`, today)

	var b strings.Builder
	b.WriteString("Analyze this support ticket and respond with ONLY a JSON object.\n\n")
	b.WriteString("Ticket details:\n")
	fmt.Fprintf(&b, "- ID: %s\n", t.ID)
	fmt.Fprintf(&b, "- Title: %s\n", t.Title)
	fmt.Fprintf(&b, "- Description: %s\n\n", t.Description)
	b.WriteString(`Required JSON format:
{
  "summary": "Brief summary of the issue",
  "priority": "low|medium|high",
  "helpfulNotes": "Helpful suggestions for resolution",
  "relatedSkills": ["skill1", "skill2"],
  "deadline": "YYYY-MM-DD"
}`)
	return system, b.String()
}
