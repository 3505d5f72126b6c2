package utils

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON pulls the first JSON object or array out of model output,
// tolerating markdown code fences and prose around it.
func ExtractJSON(text string) (string, error) {
	trimmed := strings.TrimSpace(text)

	// Strip a ```json ... ``` fence if present.
	if idx := strings.Index(trimmed, "```"); idx != -1 {
		rest := trimmed[idx+3:]
		if nl := strings.IndexByte(rest, '\n'); nl != -1 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end != -1 {
			trimmed = strings.TrimSpace(rest[:end])
		}
	}

	start := strings.IndexAny(trimmed, "{[")
	if start == -1 {
		return "", fmt.Errorf("no JSON found in response")
	}
	open := trimmed[start]
	var closeCh byte = '}'
	if open == '[' {
		closeCh = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(trimmed); i++ {
		ch := trimmed[i]
		switch {
		case escaped:
			escaped = false
		case ch == '\\' && inString:
			escaped = true
		case ch == '"':
			inString = !inString
		case inString:
		case ch == open:
			depth++
		case ch == closeCh:
			depth--
			if depth == 0 {
				return trimmed[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unterminated JSON in response")
}

// DecodeJSON extracts and unmarshals JSON from model output into target.
// Callers treat failure as a soft error (fall back to a prior draft).
func DecodeJSON(text string, target any) error {
	raw, err := ExtractJSON(text)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), target); err != nil {
		return fmt.Errorf("failed to parse JSON from response: %w", err)
	}
	return nil
}
