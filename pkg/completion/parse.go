package completion

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON unmarshals the first JSON object found in an LLM response into
// dest. Models frequently wrap their JSON in markdown code fences or prose,
// so we locate the outermost object rather than unmarshalling the raw text.
func ExtractJSON(content string, dest any) error {
	cleaned := stripCodeFences(content)

	start := strings.Index(cleaned, "{")
	if start < 0 {
		return fmt.Errorf("no JSON object in response")
	}

	end := matchBrace(cleaned, start)
	if end < 0 {
		return fmt.Errorf("unterminated JSON object in response")
	}

	if err := json.Unmarshal([]byte(cleaned[start:end+1]), dest); err != nil {
		return fmt.Errorf("unmarshal response JSON: %w", err)
	}
	return nil
}

func stripCodeFences(content string) string {
	s := strings.TrimSpace(content)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	s = strings.TrimPrefix(s, "```")
	// Drop an optional language tag like "json" on the fence line
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

// matchBrace returns the index of the brace closing the object opened at
// start, honoring strings and escapes. Returns -1 if unbalanced.
func matchBrace(s string, start int) int {
	depth := 0
	inString := false
	escaped := false

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
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
