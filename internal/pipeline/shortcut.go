package pipeline

import (
	"regexp"
	"strings"
)

var allRecordsPhrases = map[string]struct{}{
	"show all":         {},
	"show all records": {},
	"all records":      {},
	"list all":         {},
	"select all":       {},
	"show everything":  {},
}

var plainIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// shortcutQuery returns the fixed statement for questions that ask for every
// record of the table.
func shortcutQuery(question, table string) (string, bool) {
	normalized := strings.ToLower(strings.Join(strings.Fields(question), " "))
	normalized = strings.TrimRight(normalized, ".!?;, ")
	if _, ok := allRecordsPhrases[normalized]; !ok {
		return "", false
	}
	return "SELECT * FROM " + quoteTable(table) + ";", true
}

func quoteTable(table string) string {
	if plainIdentifier.MatchString(table) {
		return table
	}
	return `"` + strings.ReplaceAll(table, `"`, `""`) + `"`
}
