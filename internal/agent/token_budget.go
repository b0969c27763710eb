package agent

import (
	"github.com/jkaninda/ruhusa/internal/llm"
)

// DefaultInputTokenBudget bounds the estimated prompt size of one model call.
const DefaultInputTokenBudget = 12000

// minHistoryTokens is kept for history even when the prompt alone is large.
const minHistoryTokens = 2000

func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

func estimateMessageTokens(msg llm.Message) int {
	return estimateTokens(string(msg.Role)) + 4 + estimateTokens(msg.Content)
}

// trimHistoryToTokenBudget drops the oldest messages until the rest fit in
// maxTokens minus fixedTokens. The result never opens with an assistant turn.
func trimHistoryToTokenBudget(history []llm.Message, fixedTokens, maxTokens int) []llm.Message {
	budget := maxTokens - fixedTokens
	if budget < minHistoryTokens {
		budget = minHistoryTokens
	}

	total := 0
	for _, m := range history {
		total += estimateMessageTokens(m)
	}

	for len(history) > 0 && total > budget {
		total -= estimateMessageTokens(history[0])
		history = history[1:]
	}

	for len(history) > 0 && history[0].Role == llm.RoleAssistant {
		history = history[1:]
	}
	return history
}
