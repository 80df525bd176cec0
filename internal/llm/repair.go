package llm

import (
	"encoding/json"
	"strings"
)

// repairRule is one recoverable JSON defect seen in LLM output. applies
// inspects the byte at the decoder's failure position; fix returns the
// repaired text.
type repairRule struct {
	name    string
	applies func(text string, pos int, msg string) bool
	fix     func(text string, pos int) string
}

// repairRules are tried in order; the first match wins.
var repairRules = []repairRule{
	{
		// `}"key"` and `]"key"` are missing the comma between values.
		name: "missing-comma",
		applies: func(text string, pos int, _ string) bool {
			if pos <= 0 || pos >= len(text) || text[pos] != '"' {
				return false
			}
			return text[pos-1] == '}' || text[pos-1] == ']'
		},
		fix: func(text string, pos int) string {
			return text[:pos] + "," + text[pos:]
		},
	},
	{
		// A comma directly before `}` or `]`, ignoring whitespace.
		name: "trailing-comma",
		applies: func(text string, pos int, _ string) bool {
			if pos < 0 || pos >= len(text) || (text[pos] != '}' && text[pos] != ']') {
				return false
			}
			prev := lastNonSpace(text, pos)
			return prev >= 0 && text[prev] == ','
		},
		fix: func(text string, pos int) string {
			prev := lastNonSpace(text, pos)
			return text[:prev] + text[prev+1:]
		},
	},
	{
		// Output truncated before the closing brackets, usually a
		// max_tokens cutoff.
		name: "unclosed-brackets",
		applies: func(text string, pos int, msg string) bool {
			return pos >= len(text)-5 || strings.Contains(msg, "unexpected end of JSON input")
		},
		fix: closeBrackets,
	},
}

// repair tries each rule against the syntax error position. The decoder
// reports the count of bytes read when it failed, so the offending byte
// sits just before the offset.
func repair(text string, serr *json.SyntaxError) (repaired, rule string, ok bool) {
	pos := int(serr.Offset) - 1
	if pos < -1 || pos > len(text) {
		return "", "", false
	}
	for _, r := range repairRules {
		if r.applies(text, pos, serr.Error()) {
			return r.fix(text, pos), r.name, true
		}
	}
	return "", "", false
}

// closeBrackets appends the missing `]` and `}` runs. Brackets inside
// string literals do not count toward the deficit.
func closeBrackets(text string, _ int) string {
	var braces, brackets int
	inString := false
	escaped := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			braces++
		case c == '}':
			braces--
		case c == '[':
			brackets++
		case c == ']':
			brackets--
		}
	}

	var missing strings.Builder
	for i := 0; i < brackets; i++ {
		missing.WriteByte(']')
	}
	for i := 0; i < braces; i++ {
		missing.WriteByte('}')
	}
	return text + missing.String()
}

// lastNonSpace returns the index of the last non-whitespace byte before
// from, or -1.
func lastNonSpace(text string, from int) int {
	for i := from - 1; i >= 0; i-- {
		c := text[i]
		if c != ' ' && c != '\t' && c != '\n' && c != '\r' {
			return i
		}
	}
	return -1
}
