package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/jkaninda/ruhusa/internal/domain"
)

// Identity is the authenticated caller of a turn, as known to the HR records.
type Identity struct {
	EmployeeID string
	Name       string
	Tier       domain.Tier
	Department string
}

const basePrompt = `You are Ruhusa, an HR assistant. You help employees check and request paid time off (PTO), submit expense reimbursements and answer questions about the employee handbook.`

const protocolPrompt = `## How to respond
To use a tool, reply with a single fenced JSON block and nothing after it:
` + "```json" + `
{"thought": "why this tool", "action": "<tool name>", "action_input": {<parameters>}}
` + "```" + `
The tool result comes back in a message that starts with "Observation:". Call one tool per reply.

When you can answer the employee, reply with:
` + "```json" + `
{"thought": "...", "action": "final_answer", "action_input": "<your answer to the employee>"}
` + "```" + `

Rules:
- The employee's identity is attached to every tool call automatically. Never ask for or pass an employee ID.
- Dates are YYYY-MM-DD. Expense amounts are in dollars.
- Never invent balances, limits, dates or request IDs. Take them from tool results.
- Validate a request before submitting it, and tell the employee the outcome (approved, pending manager review or denied, with the reasons).
- If a submission needs confirmation, ask the employee and stop. Set force=true only after they clearly confirm.
- If a tool reports an error, fix the parameters or explain the problem to the employee.`

// buildSystemPrompt renders the prompt for one turn.
func buildSystemPrompt(id Identity, today time.Time, catalog string) string {
	var b strings.Builder
	b.WriteString(basePrompt)

	b.WriteString("\n\n## Current user\n")
	fmt.Fprintf(&b, "- Employee ID: %s\n", id.EmployeeID)
	if id.Name != "" {
		fmt.Fprintf(&b, "- Name: %s\n", id.Name)
	}
	if id.Tier != "" {
		fmt.Fprintf(&b, "- Tier: %s\n", id.Tier)
	}
	if id.Department != "" {
		fmt.Fprintf(&b, "- Department: %s\n", id.Department)
	}
	fmt.Fprintf(&b, "\nToday is %s (%s).\n", domain.FormatDate(today), today.Weekday())

	if catalog != "" {
		b.WriteString("\n## Tools\n")
		b.WriteString(catalog)
	}

	b.WriteString("\n")
	b.WriteString(protocolPrompt)
	return b.String()
}
