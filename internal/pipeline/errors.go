package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/querylens/querylens/internal/dataset"
	"github.com/querylens/querylens/internal/nl2sql"
	"github.com/querylens/querylens/internal/query"
)

var (
	ErrQuestionRequired = errors.New("question is required")
	ErrTableRequired    = errors.New("table is required")
)

// QuestionTooShortError rejects questions with fewer words than the
// configured minimum before any external call is made.
type QuestionTooShortError struct {
	Words int
	Min   int
}

func (e *QuestionTooShortError) Error() string {
	return fmt.Sprintf("question has %d word(s), at least %d required", e.Words, e.Min)
}

type Kind string

const (
	KindOK             Kind = "ok"
	KindInvalidInput   Kind = "invalid_input"
	KindDatasetAccess  Kind = "dataset_access"
	KindTranslation    Kind = "translation"
	KindEmptyQuery     Kind = "empty_query"
	KindQueryExecution Kind = "query_execution"
	KindCanceled       Kind = "canceled"
	KindInternal       Kind = "internal"
)

// KindOf classifies an error returned by Ask.
func KindOf(err error) Kind {
	if err == nil {
		return KindOK
	}
	var (
		tooShort       *QuestionTooShortError
		accessErr      *dataset.AccessError
		translationErr *nl2sql.TranslationError
		executionErr   *query.ExecutionError
	)
	switch {
	case errors.Is(err, ErrQuestionRequired), errors.Is(err, ErrTableRequired), errors.As(err, &tooShort):
		return KindInvalidInput
	case errors.As(err, &accessErr):
		return KindDatasetAccess
	case errors.As(err, &translationErr):
		return KindTranslation
	case errors.Is(err, nl2sql.ErrEmptyQuery):
		return KindEmptyQuery
	case errors.As(err, &executionErr):
		return KindQueryExecution
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindInternal
	}
}
