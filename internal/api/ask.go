package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/querylens/querylens/internal/auth"
	"github.com/querylens/querylens/internal/config"
	"github.com/querylens/querylens/internal/dataset"
	"github.com/querylens/querylens/internal/nl2sql"
	"github.com/querylens/querylens/internal/pipeline"
	"github.com/querylens/querylens/internal/query"
)

type askRequest struct {
	Table    string `json:"table"`
	Question string `json:"question"`
}

type tablePayload struct {
	Columns []string       `json:"columns"`
	Rows    [][]query.Cell `json:"rows"`
	Display [][]string     `json:"display"`
	NoData  bool           `json:"no_data"`
}

func newTablePayload(table query.Table) tablePayload {
	display := make([][]string, len(table.Rows))
	for i, row := range table.Rows {
		display[i] = make([]string, len(row))
		for col := range row {
			display[i][col] = table.Text(i, col)
		}
	}
	rows := table.Rows
	if rows == nil {
		rows = [][]query.Cell{}
	}
	return tablePayload{Columns: table.Columns, Rows: rows, Display: display, NoData: table.NoData}
}

func handleAsk(_ config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Asker == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "question answering is not configured", false, nil)
		return
	}
	if err := requireRole(r, auth.RoleQueryReader); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}
	name := r.PathValue("dataset")
	if err := dataset.ValidateName(name); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_DATASET_NAME", err.Error(), false, nil)
		return
	}

	var req askRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}

	answer, err := deps.Asker.Ask(r.Context(), pipeline.AskRequest{Dataset: name, Table: req.Table, Question: req.Question})
	if err != nil {
		writeAskError(w, r, err)
		return
	}

	warnings := answer.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dataset":  answer.Dataset,
		"table":    answer.Table,
		"question": answer.Question,
		"sql":      answer.SQL,
		"shortcut": answer.Shortcut,
		"provider": answer.Provider,
		"model":    answer.Model,
		"result":   newTablePayload(answer.Result),
		"warnings": warnings,
		"stats": map[string]any{
			"duration_ms": answer.Duration.Milliseconds(),
		},
	})
}

// writeAskError maps the pipeline's error kinds onto HTTP statuses. Each
// kind keeps a distinct error_code so clients can tell them apart.
func writeAskError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch pipeline.KindOf(err) {
	case pipeline.KindInvalidInput:
		code := "INVALID_INPUT"
		var tooShort *pipeline.QuestionTooShortError
		switch {
		case errors.Is(err, pipeline.ErrQuestionRequired):
			code = "QUESTION_REQUIRED"
		case errors.Is(err, pipeline.ErrTableRequired):
			code = "TABLE_REQUIRED"
		case errors.As(err, &tooShort):
			writeError(ctx, w, http.StatusBadRequest, "QUESTION_TOO_SHORT", err.Error(), false, map[string]any{"words": tooShort.Words, "min_words": tooShort.Min})
			return
		}
		writeError(ctx, w, http.StatusBadRequest, code, err.Error(), false, nil)
	case pipeline.KindDatasetAccess:
		writeDatasetError(w, r, err)
	case pipeline.KindTranslation:
		var translationErr *nl2sql.TranslationError
		_ = errors.As(err, &translationErr)
		status := http.StatusBadGateway
		if translationErr.Unavailable {
			status = http.StatusServiceUnavailable
		}
		writeError(ctx, w, status, "TRANSLATION_FAILED", "query generation failed", translationErr.Retryable(), map[string]any{
			"provider":        translationErr.Provider,
			"upstream_status": translationErr.StatusCode,
			"details":         translationErr.Message,
		})
	case pipeline.KindEmptyQuery:
		writeError(ctx, w, http.StatusUnprocessableEntity, "EMPTY_QUERY", "generation returned no executable query", true, nil)
	case pipeline.KindQueryExecution:
		var executionErr *query.ExecutionError
		_ = errors.As(err, &executionErr)
		writeError(ctx, w, http.StatusBadRequest, "QUERY_EXECUTION_FAILED", "query execution failed", false, map[string]any{
			"sql":     executionErr.SQL,
			"details": err.Error(),
		})
	case pipeline.KindCanceled:
		writeError(ctx, w, http.StatusGatewayTimeout, "REQUEST_CANCELED", err.Error(), true, nil)
	default:
		writeError(ctx, w, http.StatusInternalServerError, "INTERNAL", "internal error", false, map[string]any{"details": err.Error()})
	}
}
