package agent

import (
	"strings"
	"unicode/utf8"
)

// EventType names a streamed progress event.
type EventType string

const (
	EventTextDelta  EventType = "text_delta"
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	// EventFinal carries the authoritative answer. Clients replace any
	// text accumulated from deltas with it.
	EventFinal EventType = "final"
	EventError EventType = "error"
)

// Event is one streamed progress update.
type Event struct {
	Type      EventType `json:"type"`
	Text      string    `json:"text,omitempty"`
	Call      *ToolCall `json:"tool_call,omitempty"`
	Response  *Response `json:"response,omitempty"`
	Error     string    `json:"error,omitempty"`
	Iteration int       `json:"iteration,omitempty"`
}

// EventSink receives events in order. It is called from the goroutine running
// the turn and must not block for long.
type EventSink func(Event)

func (s EventSink) emit(ev Event) {
	if s != nil {
		s(ev)
	}
}

// actionMarkers start text that is protocol, not prose for the user.
var actionMarkers = []string{"```", "TOOL_CALL:", "PARAMETERS:", "Thought:", "Final Answer:", `{"thought"`, `{"action"`}

// holdback is how many trailing bytes stay buffered in case they begin a marker.
var holdback = func() int {
	n := 0
	for _, m := range actionMarkers {
		if len(m) > n {
			n = len(m)
		}
	}
	return n - 1
}()

// deltaGate forwards model text to the client until the first action marker,
// after which the rest of that model output is protocol and is withheld.
type deltaGate struct {
	emit   func(string)
	buf    strings.Builder
	sent   int
	closed bool
}

func newDeltaGate(emit func(string)) *deltaGate {
	return &deltaGate{emit: emit}
}

func (g *deltaGate) Write(delta string) {
	if g.closed || g.emit == nil {
		return
	}
	g.buf.WriteString(delta)
	text := g.buf.String()

	if idx := markerIndex(text); idx >= 0 {
		g.closed = true
		if idx > g.sent {
			g.emit(text[g.sent:idx])
			g.sent = idx
		}
		return
	}

	safe := len(text) - holdback
	for safe > g.sent && !utf8.RuneStart(text[safe]) {
		safe--
	}
	if safe > g.sent {
		g.emit(text[g.sent:safe])
		g.sent = safe
	}
}

// Flush releases held-back text when the output ended without a marker.
func (g *deltaGate) Flush() {
	if g.closed || g.emit == nil {
		return
	}
	text := g.buf.String()
	if g.sent < len(text) {
		g.emit(text[g.sent:])
		g.sent = len(text)
	}
	g.closed = true
}

// markerIndex returns the offset of the first action marker in text, or -1.
// Output whose first non-space byte is '{' is treated as a bare action object.
func markerIndex(text string) int {
	if strings.HasPrefix(strings.TrimLeft(text, " \t\r\n"), "{") {
		return 0
	}
	idx := -1
	for _, m := range actionMarkers {
		if i := strings.Index(text, m); i >= 0 && (idx < 0 || i < idx) {
			idx = i
		}
	}
	return idx
}
