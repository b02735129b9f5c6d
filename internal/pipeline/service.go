package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/querylens/querylens/internal/dataset"
	"github.com/querylens/querylens/internal/nl2sql"
	"github.com/querylens/querylens/internal/observability"
	"github.com/querylens/querylens/internal/query"
	"github.com/querylens/querylens/internal/schema"
)

type DatasetResolver interface {
	Get(name string) (dataset.Dataset, error)
}

type SchemaReader interface {
	ListTables(ctx context.Context, ds dataset.Dataset) ([]string, error)
	ListColumns(ctx context.Context, ds dataset.Dataset, table string) ([]string, error)
}

var _ SchemaReader = (*schema.Introspector)(nil)

type Config struct {
	// MinWords is the smallest accepted question length. Zero disables the
	// check.
	MinWords int
	RowLimit int
}

type Service struct {
	Datasets   DatasetResolver
	Schema     SchemaReader
	Translator nl2sql.Translator
	Engine     query.Engine
	Config     Config
	Logger     *slog.Logger
}

type AskRequest struct {
	Dataset  string
	Table    string
	Question string
}

type Answer struct {
	Dataset  string
	Table    string
	Question string
	SQL      string
	Shortcut bool
	Provider string
	Model    string
	Result   query.Table
	Warnings []string
	Duration time.Duration
}

const noDataWarning = "No data found for the query."

// Ask answers one question about one table. The steps run strictly in order
// and the first failure ends the request.
func (s *Service) Ask(ctx context.Context, req AskRequest) (answer Answer, err error) {
	start := time.Now()
	logger := observability.RequestLogger(ctx, s.Logger).With(
		slog.String("dataset", req.Dataset),
		slog.String("table", req.Table),
	)
	defer func() {
		kind := KindOf(err)
		observability.ObserveAsk(string(kind))
		if err != nil {
			logger.WarnContext(ctx, "ask_failed", slog.String("kind", string(kind)), slog.Any("error", err))
			return
		}
		logger.InfoContext(ctx, "ask_completed",
			slog.Bool("shortcut", answer.Shortcut),
			slog.Int("rows", len(answer.Result.Rows)),
			slog.String("duration", answer.Duration.String()),
		)
	}()

	question := strings.TrimSpace(req.Question)
	if question == "" {
		return Answer{}, ErrQuestionRequired
	}
	table := strings.TrimSpace(req.Table)
	if table == "" {
		return Answer{}, ErrTableRequired
	}
	if s.Datasets == nil || s.Schema == nil || s.Engine == nil {
		return Answer{}, fmt.Errorf("pipeline is not fully configured")
	}

	ds, err := s.Datasets.Get(req.Dataset)
	if err != nil {
		return Answer{}, err
	}
	answer = Answer{Dataset: ds.Name, Table: table, Question: question}

	if sqlText, ok := shortcutQuery(question, table); ok {
		observability.IncrementShortcutQueries()
		answer.SQL = sqlText
		answer.Shortcut = true
	} else {
		if words := len(strings.Fields(question)); s.Config.MinWords > 0 && words < s.Config.MinWords {
			return Answer{}, &QuestionTooShortError{Words: words, Min: s.Config.MinWords}
		}
		if s.Translator == nil {
			return Answer{}, fmt.Errorf("query translator is not configured")
		}
		canonical, columns, err := s.columns(ctx, ds, table)
		if err != nil {
			return Answer{}, err
		}
		answer.Table = canonical

		instruction := nl2sql.BuildInstruction(canonical, columns)
		translateStart := time.Now()
		translated, err := s.Translator.Translate(ctx, nl2sql.Request{Question: question, Instruction: instruction})
		observability.ObserveTranslation(time.Since(translateStart))
		if err != nil {
			return Answer{}, err
		}
		logger.DebugContext(ctx, "translation_received", slog.String("raw", translated.Text))

		sqlText, err := nl2sql.SanitizeQuery(translated.Text)
		if err != nil {
			return Answer{}, err
		}
		answer.SQL = sqlText
		answer.Provider = translated.Provider
		answer.Model = translated.Model
	}
	logger.InfoContext(ctx, "generated_query", slog.String("sql", answer.SQL), slog.Bool("shortcut", answer.Shortcut))

	result, err := s.Engine.Execute(ctx, query.Request{Dataset: ds, SQL: answer.SQL, RowLimit: s.Config.RowLimit})
	if err != nil {
		return Answer{}, err
	}
	observability.ObserveQueryExecution(result.Duration)

	answer.Result = query.Format(result)
	if answer.Result.NoData {
		answer.Warnings = append(answer.Warnings, noDataWarning)
	}
	if result.Truncated {
		answer.Warnings = append(answer.Warnings, fmt.Sprintf("Result truncated to %d rows.", s.Config.RowLimit))
	}
	answer.Duration = time.Since(start)
	return answer, nil
}

// columns resolves table case-insensitively against the dataset and reads
// its live column list. The returned name is the table as stored.
func (s *Service) columns(ctx context.Context, ds dataset.Dataset, table string) (string, []string, error) {
	tables, err := s.Schema.ListTables(ctx, ds)
	if err != nil {
		return "", nil, err
	}
	canonical, ok := matchTable(tables, table)
	if !ok {
		return "", nil, &dataset.AccessError{Dataset: ds.Name, Op: "describe table", Err: fmt.Errorf("table %q: %w", table, dataset.ErrNotFound)}
	}
	columns, err := s.Schema.ListColumns(ctx, ds, canonical)
	if err != nil {
		return "", nil, err
	}
	return canonical, columns, nil
}

// matchTable prefers an exact match and falls back to a case-insensitive one.
func matchTable(tables []string, table string) (string, bool) {
	if slices.Contains(tables, table) {
		return table, true
	}
	for _, candidate := range tables {
		if strings.EqualFold(candidate, table) {
			return candidate, true
		}
	}
	return "", false
}
