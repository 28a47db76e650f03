package classifier

import (
	"fmt"
	"strings"
	"time"

	"github.com/podoskin/agent-core/pkg/models"
)

const systemPromptTemplate = `You are an intent classifier for a podiatry clinic management assistant.
Users write in Spanish or English. Analyze the user's message and produce a
single JSON object, nothing else.

## Valid intents
- read_aggregate: counting, summing or averaging records ("how many patients")
- read_detail: viewing or listing specific records ("show Juan's appointments")
- search_fuzzy: finding records by an approximate name or text
- create_request: creating a record ("book an appointment")
- update_request: changing fields of an existing record
- status_change_request: cancelling, confirming or rescheduling
- out_of_scope: unrelated to the clinic
- clarification_needed: too ambiguous to act on

## Valid resources
%s

## Output format
{
  "intent": "read_detail",
  "confidence": 0.93,
  "resource": "patients",
  "entities": {
    "patient_name": {"values": ["Juan Pérez"], "provenance": "verbatim"},
    "day": {"values": ["2026-08-27"], "provenance": "inferred"}
  },
  "reasoning": "one short sentence"
}

Rules:
- confidence is your calibrated probability in [0,1].
- provenance is "verbatim" when the value is quoted from the message,
  "inferred" when you derived it (resolved dates, implied defaults).
- Resolve relative dates (today, tomorrow) to YYYY-MM-DD using the current
  time given below. Timestamps use RFC 3339.
- Entity slot names you may use: patient_name, patient_id, appointment_id,
  day, starts_at, from_date, to_date, phone, notes, term, limit.
- Never invent names or ids that the user did not reference.`

const userPromptTemplate = `User message: %q

Context:
- User role: %s
- Current time: %s
%s
Classify the message and extract the relevant entities.`

// SystemPrompt renders the classifier system prompt over the catalog's
// resource list.
func SystemPrompt(resources []string) string {
	var b strings.Builder
	for _, r := range resources {
		fmt.Fprintf(&b, "- %s\n", r)
	}
	return fmt.Sprintf(systemPromptTemplate, strings.TrimRight(b.String(), "\n"))
}

// HistoryEntry is one prior exchange included for context.
type HistoryEntry struct {
	UserText     string
	ResponseText string
}

// UserPrompt renders the per-turn prompt: message, role, clock, bounded
// history and any recalled memory snippets. Memory is context only; the
// model is told not to treat it as data.
func UserPrompt(text string, role models.Role, now time.Time, history []HistoryEntry, memory []string) string {
	var extra strings.Builder

	if len(history) > 0 {
		extra.WriteString("- Recent conversation:\n")
		for _, h := range history {
			fmt.Fprintf(&extra, "  user: %s\n  assistant: %s\n", h.UserText, h.ResponseText)
		}
	}
	if len(memory) > 0 {
		extra.WriteString("- Possibly related past context (background only, not authoritative data):\n")
		for _, m := range memory {
			fmt.Fprintf(&extra, "  - %s\n", m)
		}
	}

	return fmt.Sprintf(userPromptTemplate, text, role, now.Format("2006-01-02 15:04 MST"), extra.String())
}
