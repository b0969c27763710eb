package agent

import (
	"strings"
	"unicode"

	"github.com/jkaninda/ruhusa/internal/llm"
	"github.com/jkaninda/ruhusa/internal/tools"
)

var affirmativePhrases = map[string]bool{
	"y": true, "yes": true, "yep": true, "yeah": true, "yup": true, "sure": true,
	"ok": true, "okay": true, "confirm": true, "confirmed": true, "i confirm": true,
	"proceed": true, "go ahead": true, "do it": true, "please do": true,
	"submit it": true, "submit anyway": true, "yes please": true, "please proceed": true,
}

var affirmativeLeads = map[string]bool{
	"yes": true, "yep": true, "yeah": true, "confirm": true, "confirmed": true, "proceed": true,
}

var negations = map[string]bool{
	"no": true, "not": true, "dont": true, "don't": true, "cancel": true, "wait": true, "stop": true, "never": true,
}

// IsAffirmative reports whether a user message is a plain agreement such as
// "yes", "go ahead" or "Yes, submit it anyway.".
func IsAffirmative(message string) bool {
	words := strings.FieldsFunc(strings.ToLower(message), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
	if len(words) == 0 {
		return false
	}
	for _, w := range words {
		if negations[w] {
			return false
		}
	}
	if affirmativePhrases[strings.Join(words, " ")] {
		return true
	}
	return affirmativeLeads[words[0]] && len(words) <= 8
}

// requestsConfirmation reports whether a tool result asks the user to confirm
// an override before the request is resubmitted.
func requestsConfirmation(result *tools.Result) bool {
	if result == nil || result.Success {
		return false
	}
	data, ok := result.Data.(map[string]any)
	if !ok {
		return false
	}
	required, _ := data["confirmation_required"].(bool)
	return required
}

// confirmationGiven derives the turn's confirmation signal: an explicit flag
// from the client, or an affirmative reply to the assistant answer that
// relayed a confirmation request from a tool.
func confirmationGiven(input *Input, history []llm.Message) bool {
	if input.Confirmed {
		return true
	}
	if !IsAffirmative(input.Message) {
		return false
	}
	for i := len(history) - 1; i >= 0; i-- {
		m := history[i]
		if m.Trace {
			continue
		}
		if m.Role == llm.RoleAssistant {
			return m.AwaitsConfirmation
		}
	}
	return false
}
