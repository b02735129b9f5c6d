package nl2sql

import (
	"regexp"
	"strings"
)

const fence = "```"

// fenceTags are the language tags a model puts after an opening fence.
var fenceTags = map[string]struct{}{
	"":           {},
	"sql":        {},
	"sqlite":     {},
	"sqlite3":    {},
	"duckdb":     {},
	"postgres":   {},
	"postgresql": {},
	"psql":       {},
	"mysql":      {},
	"plsql":      {},
	"tsql":       {},
	"text":       {},
	"plaintext":  {},
}

// strayKeyword matches a leading "SQL" label such as "SQL: " or "sql\n".
var strayKeyword = regexp.MustCompile(`^(?i:sql)(?:\s*:\s*|\s+)`)

// Sanitize strips wrapping artifacts from model output: surrounding
// whitespace, code fences with an optional language tag and a leading "SQL"
// label. It repeats until nothing changes, so Sanitize(Sanitize(s)) ==
// Sanitize(s). The statement itself is never rewritten.
func Sanitize(raw string) string {
	text := strings.TrimSpace(raw)
	for {
		next := stripArtifacts(text)
		if next == text {
			return text
		}
		text = next
	}
}

// SanitizeQuery is Sanitize plus a check that something executable remains.
func SanitizeQuery(raw string) (string, error) {
	text := Sanitize(raw)
	if text == "" {
		return "", ErrEmptyQuery
	}
	return text, nil
}

func stripArtifacts(text string) string {
	text = strings.TrimSpace(text)
	if rest, ok := strings.CutPrefix(text, fence); ok {
		text = dropFenceTag(rest)
	}
	text = strings.TrimSpace(text)
	if rest, ok := strings.CutSuffix(text, fence); ok {
		text = rest
	}
	text = strings.TrimSpace(text)
	if strings.EqualFold(text, "sql") {
		return ""
	}
	if loc := strayKeyword.FindStringIndex(text); loc != nil {
		text = text[loc[1]:]
	}
	return strings.TrimSpace(text)
}

func dropFenceTag(rest string) string {
	line, remainder, found := strings.Cut(rest, "\n")
	if _, ok := fenceTags[strings.ToLower(strings.TrimSpace(line))]; !ok {
		return rest
	}
	if !found {
		return ""
	}
	return remainder
}
