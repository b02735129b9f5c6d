package query

import (
	"context"
	"fmt"
	"time"

	"github.com/querylens/querylens/internal/dataset"
)

type Request struct {
	Dataset  dataset.Dataset
	SQL      string
	RowLimit int
	// ReadOnly opens the store read-only for this request regardless of the
	// engine default.
	ReadOnly bool
}

type Result struct {
	Columns []string
	Rows    [][]Cell
	// Truncated is set when the statement produced more than RowLimit rows.
	Truncated bool
	Duration  time.Duration
}

type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
}

// ExecutionError carries the engine's message for a statement that failed to
// prepare, run or scan.
type ExecutionError struct {
	SQL string
	Err error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute query: %v", e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
