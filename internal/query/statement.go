package query

import "strings"

// SingleStatement reports whether sqlText holds at most one statement.
// Semicolons inside string literals, quoted identifiers and comments are
// ignored, and trailing semicolons are allowed.
func SingleStatement(sqlText string) bool {
	ended := false
	for i := 0; i < len(sqlText); i++ {
		c := sqlText[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			if ended {
				return false
			}
			i = skipQuoted(sqlText, i, c)
		case c == '-' && strings.HasPrefix(sqlText[i:], "--"):
			if end := strings.IndexByte(sqlText[i:], '\n'); end >= 0 {
				i += end
			} else {
				i = len(sqlText)
			}
		case c == '/' && strings.HasPrefix(sqlText[i:], "/*"):
			if end := strings.Index(sqlText[i+2:], "*/"); end >= 0 {
				i += end + 3
			} else {
				i = len(sqlText)
			}
		case c == ';':
			ended = true
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
		default:
			if ended {
				return false
			}
		}
	}
	return true
}

// skipQuoted returns the index of the quote closing the literal opened at
// start. A doubled quote is an escaped quote.
func skipQuoted(sqlText string, start int, quote byte) int {
	for i := start + 1; i < len(sqlText); i++ {
		if sqlText[i] != quote {
			continue
		}
		if i+1 < len(sqlText) && sqlText[i+1] == quote {
			i++
			continue
		}
		return i
	}
	return len(sqlText)
}
