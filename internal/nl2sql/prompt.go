package nl2sql

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"go.yaml.in/yaml/v3"
)

//go:embed examples.yaml
var examplesYAML []byte

const tablePlaceholder = "{table}"

// RequiredCategories are the query shapes the example library must cover.
var RequiredCategories = []string{
	"aggregate",
	"filter",
	"grouping",
	"ordering",
	"subquery",
	"null_handling",
	"pattern_matching",
	"date_range",
	"derived_column",
}

type Example struct {
	Category string `yaml:"category"`
	Question string `yaml:"question"`
	SQL      string `yaml:"sql"`
}

type ExampleLibrary struct {
	Version  int       `yaml:"version"`
	Examples []Example `yaml:"examples"`
}

// Instruction is the system prompt sent with every question about one table.
type Instruction struct {
	Table   string   `json:"table"`
	Columns []string `json:"columns"`
	Text    string   `json:"text"`
}

var (
	defaultLibraryOnce sync.Once
	defaultLibrary     ExampleLibrary
	defaultLibraryErr  error
)

// DefaultExamples returns the embedded example library.
func DefaultExamples() (ExampleLibrary, error) {
	defaultLibraryOnce.Do(func() {
		defaultLibrary, defaultLibraryErr = ParseExamples(examplesYAML)
	})
	return defaultLibrary, defaultLibraryErr
}

func ParseExamples(data []byte) (ExampleLibrary, error) {
	var library ExampleLibrary
	if err := yaml.Unmarshal(data, &library); err != nil {
		return ExampleLibrary{}, fmt.Errorf("parse example library: %w", err)
	}
	if library.Version <= 0 {
		return ExampleLibrary{}, fmt.Errorf("example library version is required")
	}
	seen := map[string]bool{}
	for i, example := range library.Examples {
		if strings.TrimSpace(example.Question) == "" || strings.TrimSpace(example.SQL) == "" {
			return ExampleLibrary{}, fmt.Errorf("example %d: question and sql are required", i)
		}
		if !strings.Contains(example.SQL, tablePlaceholder) {
			return ExampleLibrary{}, fmt.Errorf("example %d: sql must reference %s", i, tablePlaceholder)
		}
		seen[example.Category] = true
	}
	for _, category := range RequiredCategories {
		if !seen[category] {
			return ExampleLibrary{}, fmt.Errorf("example library is missing category %q", category)
		}
	}
	return library, nil
}

// BuildInstruction renders the prompt for table using the embedded example
// library.
func BuildInstruction(table string, columns []string) Instruction {
	library, err := DefaultExamples()
	if err != nil {
		panic(fmt.Sprintf("embedded example library: %v", err))
	}
	return BuildInstructionWith(library, table, columns)
}

func BuildInstructionWith(library ExampleLibrary, table string, columns []string) Instruction {
	var b strings.Builder
	b.WriteString("You are an expert in converting English questions to SQL queries.\n")
	fmt.Fprintf(&b, "The database has the table '%s' with the following columns: %s.\n", table, strings.Join(columns, ", "))
	fmt.Fprintf(&b, "Query only the table '%s' and refer to columns exactly as listed.\n", table)
	b.WriteString("The examples below show the expected style. Their column names are illustrative; use only the columns listed above.\n")
	for i, example := range library.Examples {
		fmt.Fprintf(&b, "\nExample %d (%s) - %s\n", i+1, strings.ReplaceAll(example.Category, "_", " "), example.Question)
		fmt.Fprintf(&b, "The SQL command will be something like this: %s\n", strings.ReplaceAll(example.SQL, tablePlaceholder, table))
	}
	b.WriteString("\nRespond with the query string only. Do not wrap it in ``` fences, do not include the word SQL and do not restate the word query or add any explanation in the output.\n")

	return Instruction{
		Table:   table,
		Columns: append([]string(nil), columns...),
		Text:    b.String(),
	}
}
