package sqldb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/querylens/querylens/internal/dataset"
	"github.com/querylens/querylens/internal/query"
)

// Engine runs statements against DuckDB or SQLite dataset stores. A new
// connection is opened for every Execute call and closed before it returns.
type Engine struct {
	Open dataset.OpenOptions
}

func NewEngine(opts dataset.OpenOptions) *Engine {
	return &Engine{Open: opts}
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (result query.Result, err error) {
	sqlText := stripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}
	// One extra row tells a truncated result from one that fits exactly. The
	// newline keeps a trailing line comment from swallowing the parenthesis.
	if request.RowLimit > 0 {
		sqlText = fmt.Sprintf("SELECT * FROM (%s\n) AS q LIMIT %d", sqlText, request.RowLimit+1)
	}

	opts := e.Open
	if request.ReadOnly {
		opts.ReadOnly = true
	}

	start := time.Now()
	db, err := request.Dataset.Open(ctx, opts)
	if err != nil {
		return query.Result{}, err
	}
	defer func() { _ = db.Close() }()

	defer func() {
		if recovered := recover(); recovered != nil {
			result = query.Result{}
			err = &query.ExecutionError{SQL: request.SQL, Err: fmt.Errorf("driver panic: %v", recovered)}
		}
	}()

	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, &query.ExecutionError{SQL: request.SQL, Err: err}
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, &query.ExecutionError{SQL: request.SQL, Err: fmt.Errorf("query columns: %w", err)}
	}

	resultRows := make([][]query.Cell, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Result{}, &query.ExecutionError{SQL: request.SQL, Err: fmt.Errorf("scan row: %w", err)}
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, &query.ExecutionError{SQL: request.SQL, Err: fmt.Errorf("iterate rows: %w", err)}
	}

	truncated := false
	if request.RowLimit > 0 && len(resultRows) > request.RowLimit {
		resultRows = resultRows[:request.RowLimit]
		truncated = true
	}

	return query.Result{
		Columns:   columns,
		Rows:      resultRows,
		Truncated: truncated,
		Duration:  time.Since(start),
	}, nil
}

func normalizeValues(values []any) []query.Cell {
	normalized := make([]query.Cell, len(values))
	for i, value := range values {
		normalized[i] = query.CellFromValue(value)
	}
	return normalized
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
