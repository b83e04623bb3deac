package rag

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseLenientJSON decodes JSON produced by an LLM. It strips code fences,
// extracts the first object or array, drops trailing commas, escapes control
// characters inside strings and closes brackets left open by truncation.
func ParseLenientJSON(raw string, v any) error {
	if err := json.Unmarshal([]byte(raw), v); err == nil {
		return nil
	}
	cleaned := SanitizeJSON(raw)
	if cleaned == "" {
		return fmt.Errorf("no JSON value found")
	}
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return fmt.Errorf("parse lenient json: %w", err)
	}
	return nil
}

// SanitizeJSON returns the repaired first JSON object or array in raw, or "".
func SanitizeJSON(raw string) string {
	s := stripCodeFence(raw)
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}

	var (
		sb       strings.Builder
		stack    []byte
		inString bool
		escaped  bool
	)
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
			case c == '\n':
				sb.WriteString(`\n`)
				continue
			case c == '\r':
				continue
			case c == '\t':
				sb.WriteString(`\t`)
				continue
			case c < 0x20:
				continue
			}
			sb.WriteByte(c)
			continue
		}

		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			trimTrailingComma(&sb)
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			sb.WriteByte(c)
			if len(stack) == 0 {
				return sb.String()
			}
			continue
		default:
			if c < 0x20 && c != '\n' && c != '\r' && c != '\t' {
				continue
			}
		}
		sb.WriteByte(c)
	}

	// truncated output: close what is still open
	if inString {
		if escaped {
			out := sb.String()
			sb.Reset()
			sb.WriteString(out[:len(out)-1])
		}
		sb.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		trimTrailingComma(&sb)
		sb.WriteByte(stack[i])
	}
	return sb.String()
}

func trimTrailingComma(sb *strings.Builder) {
	out := strings.TrimRight(sb.String(), " \t\r\n")
	if strings.HasSuffix(out, ",") {
		out = strings.TrimSuffix(out, ",")
		sb.Reset()
		sb.WriteString(out)
	}
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "```"); i >= 0 {
		rest := s[i+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if j := strings.Index(rest, "```"); j >= 0 {
			rest = rest[:j]
		}
		return strings.TrimSpace(rest)
	}
	return s
}
