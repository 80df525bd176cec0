package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
)

// ParseError is a JSON response that could not be decoded even after
// repair. Snippet holds the text around the failure for diagnosis.
type ParseError struct {
	Offset  int64
	Msg     string
	Snippet string
}

func (e *ParseError) Error() string {
	if e.Snippet == "" {
		return fmt.Sprintf("invalid JSON: %s", e.Msg)
	}
	return fmt.Sprintf("invalid JSON at offset %d: %s (near %q)", e.Offset, e.Msg, e.Snippet)
}

// StripFences removes a markdown code fence wrapper, if present.
func StripFences(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	return strings.TrimSpace(text)
}

// DecodeJSON decodes an LLM response into v. Markdown code fences are
// stripped first; on a syntax error the common comma and truncation
// mistakes are repaired before giving up.
func DecodeJSON(raw string, v any) error {
	text := StripFences(raw)
	if text == "" {
		return fmt.Errorf("empty LLM response")
	}

	err := json.Unmarshal([]byte(text), v)
	if err == nil {
		return nil
	}

	var serr *json.SyntaxError
	if !errors.As(err, &serr) {
		return fmt.Errorf("parsing LLM response: %w", err)
	}

	if repaired, rule, ok := repair(text, serr); ok {
		if rerr := json.Unmarshal([]byte(repaired), v); rerr == nil {
			log.Printf("auto-repaired JSON (%s) at offset %d", rule, serr.Offset)
			return nil
		}
	}

	perr := newParseError(text, serr)
	log.Printf("JSON parse error: %s", perr.Msg)
	log.Printf("Full response: %s", text)
	return perr
}

// newParseError extracts up to 150 bytes either side of the failure.
func newParseError(text string, serr *json.SyntaxError) *ParseError {
	off := int(serr.Offset)
	if off < 0 {
		off = 0
	}
	if off > len(text) {
		off = len(text)
	}
	start := off - 150
	if start < 0 {
		start = 0
	}
	end := off + 150
	if end > len(text) {
		end = len(text)
	}
	return &ParseError{
		Offset:  serr.Offset,
		Msg:     serr.Error(),
		Snippet: text[start:end],
	}
}
