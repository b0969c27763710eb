package agent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Encoding identifies how an action was written.
type Encoding string

const (
	// EncodingFenced is a ```json block (or a bare object) carrying
	// {"thought", "action", "action_input"}.
	EncodingFenced Encoding = "fenced"
	// EncodingSentinel is a "TOOL_CALL: <name>" line followed by "PARAMETERS: <json>".
	EncodingSentinel Encoding = "sentinel"
	// EncodingFinalLine is a "Final Answer:" line.
	EncodingFinalLine Encoding = "final_line"
	// EncodingPlain is prose with no action marker, taken as the answer.
	EncodingPlain Encoding = "plain"
)

// FinalAnswer is the action name that ends a turn.
const FinalAnswer = "final_answer"

// Action is the structured intent extracted from one model turn.
type Action struct {
	Thought  string
	Name     string
	Input    map[string]any
	Answer   string // Set when Final reports true.
	Encoding Encoding
}

// Final reports whether the action ends the turn.
func (a *Action) Final() bool { return isFinalName(a.Name) }

func isFinalName(name string) bool {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case FinalAnswer, "final answer", "finalanswer", "finish":
		return true
	}
	return false
}

var (
	toolCallLine   = regexp.MustCompile(`(?m)^[ \t]*TOOL_CALL:[ \t]*([A-Za-z0-9_.\-]+)`)
	parametersLine = regexp.MustCompile(`(?m)^[ \t]*PARAMETERS:[ \t]*`)
	finalLine      = regexp.MustCompile(`(?mi)^[ \t]*Final Answer:[ \t]*`)
)

// ParseAction extracts the first action from model output. Only one action
// is returned even if the text contains several.
//
// Prose with no action marker yields an EncodingPlain final answer. Text
// that carries a marker but no recoverable action, or no text at all,
// yields a *ParseError.
func ParseAction(text string) (*Action, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &ParseError{Reason: "empty model output", Raw: text}
	}

	type candidate struct {
		pos    int
		action *Action
		err    error
	}
	var cands []candidate

	if pos, a, err := parseFenced(text); pos >= 0 {
		cands = append(cands, candidate{pos, a, err})
	}
	if pos, a, err := parseSentinel(text); pos >= 0 {
		cands = append(cands, candidate{pos, a, err})
	}
	if loc := finalLine.FindStringIndex(text); loc != nil {
		cands = append(cands, candidate{pos: loc[0], action: &Action{
			Name:     FinalAnswer,
			Answer:   strings.TrimSpace(text[loc[1]:]),
			Encoding: EncodingFinalLine,
		}})
	}

	if len(cands) > 0 {
		first := cands[0]
		for _, c := range cands[1:] {
			if c.pos < first.pos {
				first = c
			}
		}
		return first.action, first.err
	}

	if looksLikeAction(text) {
		return nil, &ParseError{Reason: "output mentions an action but none could be extracted", Raw: text}
	}
	return &Action{Name: FinalAnswer, Answer: strings.TrimSpace(text), Encoding: EncodingPlain}, nil
}

// looksLikeAction reports fragments of either encoding.
func looksLikeAction(text string) bool {
	for _, marker := range []string{"```", "TOOL_CALL", "PARAMETERS:", `"action"`, `"action_input"`} {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

// parseFenced returns the position of the first fenced (or bare) action
// object, or -1 when there is none.
func parseFenced(text string) (int, *Action, error) {
	rest, offset := text, 0
	for {
		open := strings.Index(rest, "```")
		if open < 0 {
			break
		}
		body := rest[open+3:]
		// Skip the info string (e.g. "json").
		if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.Contains(body[:nl], "{") {
			body = body[nl+1:]
		}
		closing := strings.Index(body, "```")
		block := body
		if closing >= 0 {
			block = body[:closing]
		}
		pos := offset + open
		if strings.Contains(block, `"action"`) {
			a, err := decodeActionObject(block)
			return pos, a, err
		}
		if closing < 0 {
			break
		}
		consumed := len(rest) - len(body) + closing + 3
		rest, offset = rest[consumed:], offset+consumed
	}

	// A bare object without a fence.
	trimmed := strings.TrimLeft(text, " \t\r\n")
	if strings.HasPrefix(trimmed, "{") && strings.Contains(trimmed, `"action"`) {
		a, err := decodeActionObject(trimmed)
		return len(text) - len(trimmed), a, err
	}
	return -1, nil, nil
}

// decodeActionObject repairs and decodes {"thought", "action", "action_input"}.
func decodeActionObject(block string) (*Action, error) {
	start := strings.IndexByte(block, '{')
	if start < 0 {
		return nil, &ParseError{Reason: "action block has no JSON object", Raw: block}
	}
	obj, _ := balancedObject(block, start)

	var raw map[string]any
	if err := json.Unmarshal([]byte(RepairJSON(obj)), &raw); err != nil {
		return nil, &ParseError{Reason: fmt.Sprintf("action block is not valid JSON: %v", err), Raw: block}
	}

	name, _ := raw["action"].(string)
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &ParseError{Reason: `action block has no "action" name`, Raw: block}
	}
	thought, _ := raw["thought"].(string)
	a := &Action{Thought: strings.TrimSpace(thought), Name: name, Encoding: EncodingFenced}
	if err := setInput(a, raw["action_input"]); err != nil {
		return nil, &ParseError{Reason: err.Error(), Raw: block}
	}
	return a, nil
}

// parseSentinel returns the position of the first TOOL_CALL line, or -1.
func parseSentinel(text string) (int, *Action, error) {
	loc := toolCallLine.FindStringSubmatchIndex(text)
	if loc == nil {
		return -1, nil, nil
	}
	a := &Action{Name: text[loc[2]:loc[3]], Encoding: EncodingSentinel}
	after := text[loc[1]:]

	// PARAMETERS must follow before any further TOOL_CALL.
	if next := toolCallLine.FindStringIndex(after); next != nil {
		after = after[:next[0]]
	}
	p := parametersLine.FindStringIndex(after)
	if p == nil {
		a.Input = map[string]any{}
		return loc[0], a, nil
	}
	params := strings.TrimSpace(after[p[1]:])
	if !strings.HasPrefix(params, "{") {
		if a.Final() {
			a.Answer = params
		}
		a.Input = map[string]any{}
		return loc[0], a, nil
	}

	obj, _ := balancedObject(params, 0)
	var input any
	if err := json.Unmarshal([]byte(RepairJSON(obj)), &input); err != nil {
		return loc[0], nil, &ParseError{Reason: fmt.Sprintf("PARAMETERS is not valid JSON: %v", err), Raw: params}
	}
	if err := setInput(a, input); err != nil {
		return loc[0], nil, &ParseError{Reason: err.Error(), Raw: params}
	}
	return loc[0], a, nil
}

// setInput stores action_input on a, accepting an object, a JSON-encoded
// object string, or (for final answers) plain text.
func setInput(a *Action, v any) error {
	switch in := v.(type) {
	case nil:
		a.Input = map[string]any{}
	case map[string]any:
		a.Input = in
	case string:
		if a.Final() {
			a.Input = map[string]any{}
			a.Answer = strings.TrimSpace(in)
			return nil
		}
		s := strings.TrimSpace(in)
		if s == "" {
			a.Input = map[string]any{}
			return nil
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(RepairJSON(s)), &obj); err != nil {
			return fmt.Errorf("action_input for %s must be a JSON object", a.Name)
		}
		a.Input = obj
	default:
		return fmt.Errorf("action_input for %s must be a JSON object, got %T", a.Name, v)
	}
	if a.Final() && a.Answer == "" {
		a.Answer = answerFromInput(a.Input)
	}
	return nil
}

func answerFromInput(in map[string]any) string {
	for _, key := range []string{"answer", "text", "response", "message", "final_answer"} {
		if s, ok := in[key].(string); ok {
			return strings.TrimSpace(s)
		}
	}
	if len(in) == 0 {
		return ""
	}
	b, _ := json.Marshal(in)
	return string(b)
}

// balancedObject returns the object starting at s[start] through its
// matching brace. When the input ends first (truncated output) it returns
// the remainder and false.
func balancedObject(s string, start int) (string, bool) {
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
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return s[start:], false
}
