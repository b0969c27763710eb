package agent

import (
	"strings"
)

// frame is one open container seen by RepairJSON.
type frame struct {
	object    bool
	expectKey bool // Object only: the next string is a key.
	afterKey  bool // Object only: a key was read but not its colon.
}

// RepairJSON applies deterministic fixes for the malformations models
// commonly produce, in one pass:
//   - a trailing or doubled comma before a closing bracket is dropped;
//   - a colon followed by ',', '}', ']' or the end of input gets a null value;
//   - raw newlines and tabs inside strings are escaped;
//   - Python literals True, False and None become JSON literals;
//   - at the end of input an unterminated string is closed, a dangling key
//     gets a null value and every unclosed container is closed.
//
// Input that is already valid JSON is returned unchanged apart from
// surrounding whitespace.
func RepairJSON(s string) string {
	s = strings.TrimSpace(strings.TrimPrefix(s, "\ufeff"))
	var (
		out      strings.Builder
		stack    []frame
		inString bool
		escaped  bool
		isKey    bool
	)
	out.Grow(len(s) + 8)

	top := func() *frame {
		if len(stack) == 0 {
			return nil
		}
		return &stack[len(stack)-1]
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
				out.WriteByte(c)
			case c == '\\':
				escaped = true
				out.WriteByte(c)
			case c == '"':
				inString = false
				out.WriteByte(c)
				if isKey {
					if f := top(); f != nil {
						f.afterKey = true
					}
				}
			case c == '\n':
				out.WriteString(`\n`)
			case c == '\r':
				out.WriteString(`\r`)
			case c == '\t':
				out.WriteString(`\t`)
			default:
				out.WriteByte(c)
			}
			continue
		}

		switch c {
		case '"':
			inString = true
			f := top()
			isKey = f != nil && f.object && f.expectKey
			if isKey {
				f.expectKey = false
			}
			out.WriteByte(c)
		case '{':
			stack = append(stack, frame{object: true, expectKey: true})
			out.WriteByte(c)
		case '[':
			stack = append(stack, frame{})
			out.WriteByte(c)
		case '}', ']':
			f := top()
			if f == nil || f.object != (c == '}') {
				continue
			}
			if f.afterKey {
				out.WriteString(":null")
			}
			stack = stack[:len(stack)-1]
			out.WriteByte(c)
		case ',':
			next := nextSignificant(s, i+1)
			if next == '}' || next == ']' || next == ',' || next == 0 {
				continue
			}
			if f := top(); f != nil && f.object {
				if f.afterKey {
					out.WriteString(":null")
					f.afterKey = false
				}
				f.expectKey = true
			}
			out.WriteByte(c)
		case ':':
			if f := top(); f != nil {
				f.afterKey = false
			}
			out.WriteByte(c)
			next := nextSignificant(s, i+1)
			if next == ',' || next == '}' || next == ']' || next == 0 {
				out.WriteString("null")
			}
		default:
			if isIdentStart(c) {
				j := i
				for j < len(s) && isIdentPart(s[j]) {
					j++
				}
				out.WriteString(literal(s[i:j]))
				i = j - 1
				continue
			}
			out.WriteByte(c)
		}
	}

	if inString {
		repaired := out.String()
		if escaped {
			repaired = repaired[:len(repaired)-1]
		}
		out.Reset()
		out.WriteString(repaired)
		out.WriteByte('"')
		if isKey {
			if f := top(); f != nil {
				f.afterKey = true
			}
		}
	}

	repaired := strings.TrimRight(out.String(), " \t\r\n")
	if f := top(); f != nil && f.afterKey {
		repaired += ":null"
		f.afterKey = false
	}
	switch {
	case strings.HasSuffix(repaired, ":"):
		repaired += "null"
	case strings.HasSuffix(repaired, ","):
		repaired = repaired[:len(repaired)-1]
	}

	var b strings.Builder
	b.WriteString(repaired)
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i].object {
			b.WriteByte('}')
		} else {
			b.WriteByte(']')
		}
	}
	return b.String()
}

// nextSignificant returns the next non-whitespace byte at or after i, or 0.
func nextSignificant(s string, i int) byte {
	for ; i < len(s); i++ {
		switch s[i] {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return s[i]
	}
	return 0
}

func isIdentStart(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c == '_'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || c >= '0' && c <= '9'
}

func literal(word string) string {
	switch word {
	case "True":
		return "true"
	case "False":
		return "false"
	case "None", "undefined", "NaN":
		return "null"
	}
	return word
}
